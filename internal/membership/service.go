package membership

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/trueque-app/trueque/internal/idgen"
	"github.com/trueque-app/trueque/internal/logging"
	"github.com/trueque-app/trueque/internal/metrics"
	"github.com/trueque-app/trueque/internal/syncutil"
	"github.com/trueque-app/trueque/internal/validation"
)

// Service manages plans, quota consumption and the upgrade workflow.
type Service struct {
	store   Store
	enforce bool
	now     func() time.Time
	locks   syncutil.ShardedMutex // per-user quota locks
}

// NewService creates a membership service. When enforce is false, quota
// checks log overruns but never block a proposal.
func NewService(store Store, enforce bool) *Service {
	return &Service{
		store:   store,
		enforce: enforce,
		now:     time.Now,
	}
}

func (s *Service) userLock(userID string) func() {
	return s.locks.Lock(userID)
}

// current returns the user's membership for the current period, creating a
// basic membership on first touch and resetting usage on month rollover.
// Must be called under the user lock.
func (s *Service) current(ctx context.Context, userID string) (*Membership, error) {
	period := PeriodKey(s.now())

	m, err := s.store.GetMembership(ctx, userID)
	if errors.Is(err, ErrMembershipNotFound) {
		m = &Membership{
			UserID: userID,
			Plan:   PlanBasic,
			Period: period,
		}
	} else if err != nil {
		return nil, err
	}
	if m.Period != period {
		m.Period = period
		m.Used = 0
	}
	return m, nil
}

// Get returns the user's membership for the current period.
func (s *Service) Get(ctx context.Context, userID string) (*Membership, error) {
	unlock := s.userLock(userID)
	defer unlock()
	return s.current(ctx, userID)
}

// Consume spends one exchange from the user's monthly quota. It satisfies
// the negotiation engine's quota gate.
func (s *Service) Consume(ctx context.Context, userID string) error {
	unlock := s.userLock(userID)
	defer unlock()

	m, err := s.current(ctx, userID)
	if err != nil {
		return err
	}

	if m.Used >= m.Plan.Quota() {
		if s.enforce {
			return ErrQuotaExhausted
		}
		logging.L(ctx).Warn("quota exceeded but enforcement disabled",
			"user", userID, "plan", m.Plan, "used", m.Used)
	}

	m.Used++
	m.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertMembership(ctx, m); err != nil {
		return err
	}

	metrics.ExchangesConsumedTotal.WithLabelValues(string(m.Plan)).Inc()
	return nil
}

// ProofRequest contains the parameters for an upgrade request.
type ProofRequest struct {
	Plan      Plan   `json:"plan" binding:"required"`
	Reference string `json:"reference" binding:"required"`
	Note      string `json:"note"`
}

// SubmitProof records an upgrade request for admin review.
func (s *Service) SubmitProof(ctx context.Context, userID string, req ProofRequest) (*PaymentProof, error) {
	if !req.Plan.Valid() {
		return nil, ErrInvalidPlan
	}
	ref := validation.SanitizeString(req.Reference, validation.MaxTitleLength)
	if ref == "" {
		return nil, ErrEmptyReference
	}

	p := &PaymentProof{
		ID:        idgen.WithPrefix("prf_"),
		UserID:    userID,
		Plan:      req.Plan,
		Reference: ref,
		Note:      validation.SanitizeString(req.Note, validation.MaxDescriptionLength),
		Status:    ProofPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateProof(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// MyProofs lists the user's own upgrade requests.
func (s *Service) MyProofs(ctx context.Context, userID string) ([]*PaymentProof, error) {
	return s.store.ListProofsByUser(ctx, userID)
}

// PendingProofs lists unreviewed upgrade requests for the admin queue.
func (s *Service) PendingProofs(ctx context.Context, limit int) ([]*PaymentProof, error) {
	return s.store.ListProofsByStatus(ctx, ProofPending, limit)
}

// ApproveProof upgrades the user to the requested plan.
func (s *Service) ApproveProof(ctx context.Context, proofID, reviewerID string) (*PaymentProof, error) {
	p, err := s.resolveProof(ctx, proofID, reviewerID, ProofApproved, "")
	if err != nil {
		return nil, err
	}

	unlock := s.userLock(p.UserID)
	defer unlock()

	m, err := s.current(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	m.Plan = p.Plan
	m.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertMembership(ctx, m); err != nil {
		return nil, err
	}
	return p, nil
}

// RejectProof declines an upgrade request.
func (s *Service) RejectProof(ctx context.Context, proofID, reviewerID, note string) (*PaymentProof, error) {
	return s.resolveProof(ctx, proofID, reviewerID, ProofRejected, strings.TrimSpace(note))
}

func (s *Service) resolveProof(ctx context.Context, proofID, reviewerID string, status ProofStatus, note string) (*PaymentProof, error) {
	p, err := s.store.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if p.Status != ProofPending {
		return nil, ErrProofResolved
	}

	now := s.now().UTC()
	p.Status = status
	p.ReviewedBy = reviewerID
	p.ReviewNote = note
	p.ReviewedAt = &now
	if err := s.store.UpdateProof(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
