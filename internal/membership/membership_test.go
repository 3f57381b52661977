package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newService(t *testing.T, enforce bool) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), enforce)
}

func TestPlanQuotas(t *testing.T) {
	cases := []struct {
		plan Plan
		want int
	}{
		{PlanBasic, 3},
		{PlanStandard, 12},
		{PlanPremium, 30},
		{Plan("gold"), -1},
	}
	for _, tc := range cases {
		if got := tc.plan.Quota(); got != tc.want {
			t.Errorf("Quota(%q) = %d, want %d", tc.plan, got, tc.want)
		}
	}
}

func TestFirstTouchCreatesBasic(t *testing.T) {
	svc := newService(t, true)

	m, err := svc.Get(context.Background(), "usr_alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Plan != PlanBasic {
		t.Errorf("plan = %q, want basic", m.Plan)
	}
	if m.Used != 0 || m.Remaining() != 3 {
		t.Errorf("used = %d remaining = %d", m.Used, m.Remaining())
	}
}

func TestConsumeEnforcesQuota(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Consume(ctx, "usr_alice"); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}

	err := svc.Consume(ctx, "usr_alice")
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("over-quota consume: got %v", err)
	}

	m, _ := svc.Get(ctx, "usr_alice")
	if m.Used != 3 {
		t.Errorf("used = %d, want 3", m.Used)
	}
}

func TestConsumeWithoutEnforcementLogsAndAllows(t *testing.T) {
	svc := newService(t, false)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := svc.Consume(ctx, "usr_alice"); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}
}

func TestQuotaResetsOnMonthRollover(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if err := svc.Consume(ctx, "usr_alice"); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Consume(ctx, "usr_alice"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	now = time.Date(2026, 9, 1, 0, 0, 1, 0, time.UTC)

	if err := svc.Consume(ctx, "usr_alice"); err != nil {
		t.Fatalf("consume after rollover: %v", err)
	}
	m, _ := svc.Get(ctx, "usr_alice")
	if m.Period != "2026-09" {
		t.Errorf("period = %q, want 2026-09", m.Period)
	}
	if m.Used != 1 {
		t.Errorf("used = %d, want 1", m.Used)
	}
}

func TestConcurrentConsumeNeverOversubscribes(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Consume(ctx, "usr_alice")
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, err := range errs {
		if err == nil {
			granted++
		}
	}
	if granted != 3 {
		t.Fatalf("granted = %d, want 3", granted)
	}
}

// flakyStore fails GetMembership a set number of times before delegating.
type flakyStore struct {
	Store
	failures int
}

func (s *flakyStore) GetMembership(ctx context.Context, userID string) (*Membership, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection reset")
	}
	return s.Store.GetMembership(ctx, userID)
}

func TestConsumeStoreErrorLeavesMembershipIntact(t *testing.T) {
	mem := NewMemoryStore()
	flaky := &flakyStore{Store: mem}
	svc := NewService(flaky, true)
	ctx := context.Background()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if err := mem.UpsertMembership(ctx, &Membership{
		UserID: "usr_alice", Plan: PlanPremium, Period: PeriodKey(now), Used: 10,
	}); err != nil {
		t.Fatal(err)
	}

	// A read failure must propagate, not masquerade as a fresh basic
	// membership that then gets written back.
	flaky.failures = 1
	if err := svc.Consume(ctx, "usr_alice"); err == nil {
		t.Fatal("expected store error from Consume, got nil")
	}

	m, err := svc.Get(ctx, "usr_alice")
	if err != nil {
		t.Fatalf("get after failure: %v", err)
	}
	if m.Plan != PlanPremium || m.Used != 10 {
		t.Fatalf("membership clobbered: plan=%s used=%d, want premium/10", m.Plan, m.Used)
	}

	if err := svc.Consume(ctx, "usr_alice"); err != nil {
		t.Fatalf("consume after recovery: %v", err)
	}
	m, _ = svc.Get(ctx, "usr_alice")
	if m.Used != 11 {
		t.Errorf("used = %d, want 11", m.Used)
	}
}

func TestProofWorkflow(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()

	if _, err := svc.SubmitProof(ctx, "usr_alice", ProofRequest{Plan: "gold", Reference: "tx-1"}); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("invalid plan: got %v", err)
	}
	if _, err := svc.SubmitProof(ctx, "usr_alice", ProofRequest{Plan: PlanPremium, Reference: "   "}); !errors.Is(err, ErrEmptyReference) {
		t.Errorf("blank reference: got %v", err)
	}

	p, err := svc.SubmitProof(ctx, "usr_alice", ProofRequest{
		Plan: PlanPremium, Reference: " tx-99 ", Note: "bank transfer",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.Status != ProofPending {
		t.Errorf("status = %q, want pending", p.Status)
	}
	if p.Reference != "tx-99" {
		t.Errorf("reference not trimmed: %q", p.Reference)
	}

	pending, err := svc.PendingProofs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	approved, err := svc.ApproveProof(ctx, p.ID, "usr_admin")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != ProofApproved || approved.ReviewedBy != "usr_admin" {
		t.Errorf("approved = %+v", approved)
	}

	m, _ := svc.Get(ctx, "usr_alice")
	if m.Plan != PlanPremium {
		t.Errorf("plan = %q, want premium", m.Plan)
	}
	if m.Remaining() != 30 {
		t.Errorf("remaining = %d, want 30", m.Remaining())
	}

	// A resolved proof cannot be reviewed twice.
	if _, err := svc.ApproveProof(ctx, p.ID, "usr_admin"); !errors.Is(err, ErrProofResolved) {
		t.Errorf("double approve: got %v", err)
	}
	if _, err := svc.RejectProof(ctx, p.ID, "usr_admin", "no"); !errors.Is(err, ErrProofResolved) {
		t.Errorf("reject after approve: got %v", err)
	}
}

func TestRejectProofKeepsPlan(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()

	p, err := svc.SubmitProof(ctx, "usr_alice", ProofRequest{Plan: PlanStandard, Reference: "tx-2"})
	if err != nil {
		t.Fatal(err)
	}

	rejected, err := svc.RejectProof(ctx, p.ID, "usr_admin", "unreadable receipt")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != ProofRejected || rejected.ReviewNote != "unreadable receipt" {
		t.Errorf("rejected = %+v", rejected)
	}

	m, _ := svc.Get(ctx, "usr_alice")
	if m.Plan != PlanBasic {
		t.Errorf("plan = %q, want basic", m.Plan)
	}

	mine, _ := svc.MyProofs(ctx, "usr_alice")
	if len(mine) != 1 || mine[0].Status != ProofRejected {
		t.Errorf("my proofs = %+v", mine)
	}
}

func TestUpgradeKeepsUsage(t *testing.T) {
	svc := newService(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Consume(ctx, "usr_alice"); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Consume(ctx, "usr_alice"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	p, err := svc.SubmitProof(ctx, "usr_alice", ProofRequest{Plan: PlanStandard, Reference: "tx-3"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApproveProof(ctx, p.ID, "usr_admin"); err != nil {
		t.Fatal(err)
	}

	// The upgrade raises the ceiling mid-period without resetting usage.
	m, _ := svc.Get(ctx, "usr_alice")
	if m.Used != 3 || m.Remaining() != 9 {
		t.Errorf("used = %d remaining = %d, want 3/9", m.Used, m.Remaining())
	}
	if err := svc.Consume(ctx, "usr_alice"); err != nil {
		t.Errorf("consume after upgrade: %v", err)
	}
}
