// Package membership tracks subscription plans and monthly exchange quotas.
//
// Every user starts on the basic plan. Upgrades are requested by submitting
// a payment proof which an admin reviews. Quota usage is counted per
// calendar month and resets automatically on rollover.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)

var (
	ErrMembershipNotFound = fmt.Errorf("%w: membership does not exist", ErrNotFound)
	ErrProofNotFound      = fmt.Errorf("%w: payment proof does not exist", ErrNotFound)
	ErrInvalidPlan        = fmt.Errorf("%w: unknown plan", ErrValidation)
	ErrEmptyReference     = fmt.Errorf("%w: payment reference is required", ErrValidation)
	ErrProofResolved      = fmt.Errorf("%w: payment proof already reviewed", ErrInvalidState)
	ErrQuotaExhausted     = fmt.Errorf("%w: monthly exchange quota exhausted", ErrForbidden)
)

// Plan is a subscription tier.
type Plan string

const (
	PlanBasic    Plan = "basic"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// Quota returns the monthly exchange allowance for the plan, or -1 for an
// unknown plan.
func (p Plan) Quota() int {
	switch p {
	case PlanBasic:
		return 3
	case PlanStandard:
		return 12
	case PlanPremium:
		return 30
	default:
		return -1
	}
}

// Valid reports whether p names a known plan.
func (p Plan) Valid() bool {
	return p.Quota() >= 0
}

// Membership is a user's current plan and usage for one billing period.
type Membership struct {
	UserID    string    `json:"userId"`
	Plan      Plan      `json:"plan"`
	Period    string    `json:"period"` // calendar month, e.g. "2026-08"
	Used      int       `json:"used"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Remaining returns how many exchanges are left this period.
func (m *Membership) Remaining() int {
	left := m.Plan.Quota() - m.Used
	if left < 0 {
		return 0
	}
	return left
}

// PeriodKey returns the billing period containing t.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ProofStatus is the review state of a payment proof.
type ProofStatus string

const (
	ProofPending  ProofStatus = "pending"
	ProofApproved ProofStatus = "approved"
	ProofRejected ProofStatus = "rejected"
)

// PaymentProof is an upgrade request backed by an out-of-band payment.
type PaymentProof struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId"`
	Plan       Plan        `json:"plan"`
	Reference  string      `json:"reference"`
	Note       string      `json:"note,omitempty"`
	Status     ProofStatus `json:"status"`
	ReviewedBy string      `json:"reviewedBy,omitempty"`
	ReviewNote string      `json:"reviewNote,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	ReviewedAt *time.Time  `json:"reviewedAt,omitempty"`
}

// Store persists memberships and payment proofs.
type Store interface {
	GetMembership(ctx context.Context, userID string) (*Membership, error)
	UpsertMembership(ctx context.Context, m *Membership) error

	CreateProof(ctx context.Context, p *PaymentProof) error
	GetProof(ctx context.Context, id string) (*PaymentProof, error)
	UpdateProof(ctx context.Context, p *PaymentProof) error
	ListProofsByUser(ctx context.Context, userID string) ([]*PaymentProof, error)
	ListProofsByStatus(ctx context.Context, status ProofStatus, limit int) ([]*PaymentProof, error)
}
