package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trueque-app/trueque/internal/testutil"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	mustExec := func(query string, args ...interface{}) {
		t.Helper()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}

	mustExec(`INSERT INTO users (id, username, email, password_hash) VALUES
		('usr_ana', 'ana', 'ana@example.com', 'x'),
		('usr_bruno', 'bruno', 'bruno@example.com', 'x')`)
	mustExec(`INSERT INTO listings (id, owner_id, title, category) VALUES
		('lst_bike', 'usr_ana', 'Mountain bike', 'sports'),
		('lst_guitar', 'usr_bruno', 'Acoustic guitar', 'music')`)

	now := time.Now().UTC().Truncate(time.Microsecond)
	n := &Negotiation{
		ID:                 "neg_1",
		InitiatorID:        "usr_ana",
		CounterpartyID:     "usr_bruno",
		OfferedListingID:   "lst_bike",
		RequestedListingID: "lst_guitar",
		Status:             StatusPending,
		InitialMessage:     "trade for your guitar?",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "neg_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending || got.InitialMessage != "trade for your guitar?" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Meeting != nil {
		t.Errorf("expected no meeting details, got %+v", got.Meeting)
	}

	// Accept with meeting details and timestamps.
	when := now.Add(48 * time.Hour)
	got.Status = StatusAccepted
	got.AcceptedAt = &now
	got.RespondedAt = &now
	got.Meeting = &MeetingDetails{When: &when, Where: "Parque Central", Notes: "bring a case"}
	got.UpdatedAt = now
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err = store.Get(ctx, "neg_1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("status = %q, want accepted", got.Status)
	}
	if got.Meeting == nil || got.Meeting.Where != "Parque Central" || got.Meeting.When == nil {
		t.Errorf("meeting not persisted: %+v", got.Meeting)
	}
	if got.AcceptedAt == nil || !got.AcceptedAt.Equal(now) {
		t.Errorf("acceptedAt = %v, want %v", got.AcceptedAt, now)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	if _, err := store.Get(context.Background(), "neg_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound kind", err)
	}
	if err := store.Update(context.Background(), &Negotiation{ID: "neg_missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound kind", err)
	}
}

func TestPostgresStore_MessagesAndCounts(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	mustExec := func(query string, args ...interface{}) {
		t.Helper()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}

	mustExec(`INSERT INTO users (id, username, email, password_hash) VALUES
		('usr_ana', 'ana', 'ana@example.com', 'x'),
		('usr_bruno', 'bruno', 'bruno@example.com', 'x')`)
	mustExec(`INSERT INTO listings (id, owner_id, title, category) VALUES
		('lst_bike', 'usr_ana', 'Mountain bike', 'sports'),
		('lst_guitar', 'usr_bruno', 'Acoustic guitar', 'music')`)

	now := time.Now().UTC().Truncate(time.Microsecond)
	n := &Negotiation{
		ID: "neg_1", InitiatorID: "usr_ana", CounterpartyID: "usr_bruno",
		OfferedListingID: "lst_bike", RequestedListingID: "lst_guitar",
		Status: StatusAccepted, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i, m := range []Message{
		{ID: "msg_1", SenderID: "usr_ana", Body: "still on for saturday?", SentAt: now},
		{ID: "msg_2", SenderID: "usr_bruno", Body: "yes, see you there", SentAt: now.Add(time.Minute)},
	} {
		m := m
		if err := store.AppendMessage(ctx, "neg_1", &m); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	got, err := store.Get(ctx, "neg_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[0].ID != "msg_1" {
		t.Fatalf("messages = %+v, want 2 in sent order", got.Messages)
	}

	// Bruno has one unread message from ana.
	count, err := store.CountUnreadMessages(ctx, "usr_bruno")
	if err != nil {
		t.Fatalf("CountUnreadMessages: %v", err)
	}
	if count != 1 {
		t.Errorf("unread for bruno = %d, want 1", count)
	}

	marked, err := store.MarkMessagesRead(ctx, "neg_1", "usr_bruno")
	if err != nil {
		t.Fatalf("MarkMessagesRead: %v", err)
	}
	if marked != 1 {
		t.Errorf("marked = %d, want 1", marked)
	}
	count, err = store.CountUnreadMessages(ctx, "usr_bruno")
	if err != nil {
		t.Fatalf("CountUnreadMessages: %v", err)
	}
	if count != 0 {
		t.Errorf("unread after mark = %d, want 0", count)
	}

	// Ana's unread message stops counting once the negotiation closes.
	count, err = store.CountUnreadMessages(ctx, "usr_ana")
	if err != nil {
		t.Fatalf("CountUnreadMessages: %v", err)
	}
	if count != 1 {
		t.Fatalf("unread for ana = %d, want 1", count)
	}
	got.Status = StatusCancelled
	got.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	count, err = store.CountUnreadMessages(ctx, "usr_ana")
	if err != nil {
		t.Fatalf("CountUnreadMessages: %v", err)
	}
	if count != 0 {
		t.Errorf("unread on cancelled negotiation = %d, want 0", count)
	}
}

func TestPostgresStore_PendingQueries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	mustExec := func(query string, args ...interface{}) {
		t.Helper()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}

	mustExec(`INSERT INTO users (id, username, email, password_hash) VALUES
		('usr_ana', 'ana', 'ana@example.com', 'x'),
		('usr_bruno', 'bruno', 'bruno@example.com', 'x'),
		('usr_carla', 'carla', 'carla@example.com', 'x')`)
	mustExec(`INSERT INTO listings (id, owner_id, title, category) VALUES
		('lst_bike', 'usr_ana', 'Mountain bike', 'sports'),
		('lst_guitar', 'usr_bruno', 'Acoustic guitar', 'music'),
		('lst_lamp', 'usr_carla', 'Desk lamp', 'home')`)

	base := time.Now().UTC().Truncate(time.Microsecond)
	rows := []*Negotiation{
		{ID: "neg_a", InitiatorID: "usr_ana", CounterpartyID: "usr_bruno",
			OfferedListingID: "lst_bike", RequestedListingID: "lst_guitar",
			Status: StatusPending, CreatedAt: base, UpdatedAt: base},
		{ID: "neg_b", InitiatorID: "usr_carla", CounterpartyID: "usr_bruno",
			OfferedListingID: "lst_lamp", RequestedListingID: "lst_guitar",
			Status: StatusPending, CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)},
		{ID: "neg_c", InitiatorID: "usr_ana", CounterpartyID: "usr_carla",
			OfferedListingID: "lst_bike", RequestedListingID: "lst_lamp",
			Status: StatusRejected, CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(2 * time.Second)},
	}
	for _, n := range rows {
		if err := store.Create(ctx, n); err != nil {
			t.Fatalf("Create %s: %v", n.ID, err)
		}
	}

	pending, err := store.ListPendingByListing(ctx, "lst_guitar")
	if err != nil {
		t.Fatalf("ListPendingByListing: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending on guitar = %d, want 2", len(pending))
	}

	n, err := store.GetPendingByTriple(ctx, "usr_carla", "lst_lamp", "lst_guitar")
	if err != nil {
		t.Fatalf("GetPendingByTriple: %v", err)
	}
	if n.ID != "neg_b" {
		t.Errorf("triple lookup = %s, want neg_b", n.ID)
	}
	if _, err := store.GetPendingByTriple(ctx, "usr_ana", "lst_bike", "lst_lamp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rejected row found by triple lookup: %v", err)
	}

	sent, err := store.ListByActor(ctx, "usr_ana", RoleSent, "", 10)
	if err != nil {
		t.Fatalf("ListByActor sent: %v", err)
	}
	if len(sent) != 2 || sent[0].ID != "neg_c" {
		t.Fatalf("sent for ana = %+v, want neg_c then neg_a", ids(sent))
	}

	received, err := store.ListByActor(ctx, "usr_bruno", RoleReceived, StatusPending, 1)
	if err != nil {
		t.Fatalf("ListByActor received: %v", err)
	}
	if len(received) != 1 || received[0].ID != "neg_b" {
		t.Fatalf("received for bruno = %+v, want just neg_b", ids(received))
	}

	count, err := store.CountPendingReceived(ctx, "usr_bruno")
	if err != nil {
		t.Fatalf("CountPendingReceived: %v", err)
	}
	if count != 2 {
		t.Errorf("pending received for bruno = %d, want 2", count)
	}
}

func ids(ns []*Negotiation) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
