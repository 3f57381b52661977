package negotiation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists negotiations in the negotiations and
// negotiation_messages tables.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const negotiationColumns = `id, initiator_id, counterparty_id, offered_listing_id, requested_listing_id,
	status, initial_message, rejection_reason,
	meeting_when, meeting_where, meeting_notes,
	initiator_confirmed, initiator_confirmed_at, counterparty_confirmed, counterparty_confirmed_at,
	responded_at, accepted_at, completed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNegotiation(row scanner) (*Negotiation, error) {
	var n Negotiation
	var rejectionReason, meetingWhere, meetingNotes sql.NullString
	var meetingWhen, initiatorAt, counterpartyAt sql.NullTime
	var respondedAt, acceptedAt, completedAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.InitiatorID, &n.CounterpartyID, &n.OfferedListingID, &n.RequestedListingID,
		&n.Status, &n.InitialMessage, &rejectionReason,
		&meetingWhen, &meetingWhere, &meetingNotes,
		&n.Completion.InitiatorConfirmed, &initiatorAt, &n.Completion.CounterpartyConfirmed, &counterpartyAt,
		&respondedAt, &acceptedAt, &completedAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.RejectionReason = rejectionReason.String
	if meetingWhen.Valid || meetingWhere.String != "" || meetingNotes.String != "" {
		n.Meeting = &MeetingDetails{
			Where: meetingWhere.String,
			Notes: meetingNotes.String,
		}
		if meetingWhen.Valid {
			t := meetingWhen.Time
			n.Meeting.When = &t
		}
	}
	n.Completion.InitiatorConfirmedAt = nullTimePtr(initiatorAt)
	n.Completion.CounterpartyConfirmedAt = nullTimePtr(counterpartyAt)
	n.RespondedAt = nullTimePtr(respondedAt)
	n.AcceptedAt = nullTimePtr(acceptedAt)
	n.CompletedAt = nullTimePtr(completedAt)
	return &n, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStore) Create(ctx context.Context, n *Negotiation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO negotiations (id, initiator_id, counterparty_id, offered_listing_id, requested_listing_id,
			status, initial_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.InitiatorID, n.CounterpartyID, n.OfferedListingID, n.RequestedListingID,
		n.Status, n.InitialMessage, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert negotiation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Negotiation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+negotiationColumns+` FROM negotiations WHERE id = $1`, id)
	n, err := scanNegotiation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNegotiationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get negotiation: %w", err)
	}
	if err := s.loadMessages(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) loadMessages(ctx context.Context, n *Negotiation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, body, sent_at, read
		FROM negotiation_messages
		WHERE negotiation_id = $1
		ORDER BY sent_at, id`, n.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Body, &m.SentAt, &m.Read); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		n.Messages = append(n.Messages, m)
	}
	return rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, n *Negotiation) error {
	var when sql.NullTime
	var where, notes sql.NullString
	if n.Meeting != nil {
		when = nullTime(n.Meeting.When)
		where = nullStr(n.Meeting.Where)
		notes = nullStr(n.Meeting.Notes)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE negotiations SET
			status = $2, rejection_reason = $3,
			meeting_when = $4, meeting_where = $5, meeting_notes = $6,
			initiator_confirmed = $7, initiator_confirmed_at = $8,
			counterparty_confirmed = $9, counterparty_confirmed_at = $10,
			responded_at = $11, accepted_at = $12, completed_at = $13, updated_at = $14
		WHERE id = $1`,
		n.ID, n.Status, nullStr(n.RejectionReason),
		when, where, notes,
		n.Completion.InitiatorConfirmed, nullTime(n.Completion.InitiatorConfirmedAt),
		n.Completion.CounterpartyConfirmed, nullTime(n.Completion.CounterpartyConfirmedAt),
		nullTime(n.RespondedAt), nullTime(n.AcceptedAt), nullTime(n.CompletedAt), n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update negotiation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update negotiation: %w", err)
	}
	if affected == 0 {
		return ErrNegotiationNotFound
	}
	return nil
}

func (s *PostgresStore) ListByActor(ctx context.Context, userID string, role Role, status Status, limit int) ([]*Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE `
	args := []interface{}{userID}

	switch role {
	case RoleSent:
		query += `initiator_id = $1`
	case RoleReceived:
		query += `counterparty_id = $1`
	default:
		query += `(initiator_id = $1 OR counterparty_id = $1)`
	}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	return s.queryNegotiations(ctx, query, args...)
}

func (s *PostgresStore) ListPendingByListing(ctx context.Context, listingID string) ([]*Negotiation, error) {
	return s.queryNegotiations(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE status = 'pending' AND (offered_listing_id = $1 OR requested_listing_id = $1)`,
		listingID)
}

func (s *PostgresStore) GetPendingByTriple(ctx context.Context, initiatorID, offeredID, requestedID string) (*Negotiation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE status = 'pending' AND initiator_id = $1
			AND offered_listing_id = $2 AND requested_listing_id = $3`,
		initiatorID, offeredID, requestedID)
	n, err := scanNegotiation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNegotiationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending negotiation: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryNegotiations(ctx context.Context, query string, args ...interface{}) ([]*Negotiation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query negotiations: %w", err)
	}
	defer rows.Close()

	var out []*Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan negotiation: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, negotiationID string, msg *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO negotiation_messages (id, negotiation_id, sender_id, body, sent_at, read)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, negotiationID, msg.SenderID, msg.Body, msg.SentAt, msg.Read,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE negotiations SET updated_at = NOW() WHERE id = $1`, negotiationID)
	if err != nil {
		return fmt.Errorf("touch negotiation: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkMessagesRead(ctx context.Context, negotiationID, readerID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE negotiation_messages SET read = TRUE
		WHERE negotiation_id = $1 AND sender_id != $2 AND read = FALSE`,
		negotiationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) CountPendingReceived(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM negotiations WHERE status = 'pending' AND counterparty_id = $1`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountUnreadMessages(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM negotiation_messages m
		JOIN negotiations n ON n.id = m.negotiation_id
		WHERE m.read = FALSE AND m.sender_id != $1
			AND (n.initiator_id = $1 OR n.counterparty_id = $1)
			AND n.status IN ('accepted', 'completed')`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
