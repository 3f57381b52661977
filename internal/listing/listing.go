// Package listing provides listing management and the listing status ledger.
//
// Listings carry a lifecycle status (open, reserved, consumed, paused,
// withdrawn). Owner-driven transitions (pause, withdraw, reopen) go through
// the Service; reservation transitions (open->reserved, reserved->open,
// reserved->consumed) are driven only by the negotiation engine through the
// conditional UpdateStatusIf primitive.
package listing

import (
	"context"
	"errors"
	"time"

	"github.com/trueque-app/trueque/internal/pagination"
)

var (
	ErrNotFound          = errors.New("listing not found")
	ErrNotOwner          = errors.New("caller does not own this listing")
	ErrInvalidInput      = errors.New("invalid listing input")
	ErrInvalidTransition = errors.New("listing status does not permit this operation")
	ErrListingHeld       = errors.New("listing is held by an active negotiation")
)

// Status represents the lifecycle state of a listing.
type Status string

const (
	StatusOpen      Status = "open"
	StatusReserved  Status = "reserved"
	StatusConsumed  Status = "consumed"
	StatusPaused    Status = "paused"
	StatusWithdrawn Status = "withdrawn"
)

// Listing represents an offer of goods or services available for exchange.
type Listing struct {
	ID                    string    `json:"id"`
	OwnerID               string    `json:"ownerId"`
	Title                 string    `json:"title"`
	Description           string    `json:"description,omitempty"`
	Category              string    `json:"category"`
	SeekingCategory       string    `json:"seekingCategory,omitempty"`
	SeekingNote           string    `json:"seekingNote,omitempty"`
	Location              string    `json:"location,omitempty"`
	IsVirtual             bool      `json:"isVirtual"`
	Status                Status    `json:"status"`
	AcceptedNegotiationID string    `json:"acceptedNegotiationId,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Held reports whether the listing is exclusively held by a negotiation.
func (l *Listing) Held() bool {
	return l.Status == StatusReserved || l.Status == StatusConsumed
}

// BrowseFilter narrows the public listing feed.
type BrowseFilter struct {
	Category string
	Cursor   *pagination.Cursor
	Limit    int
}

// Store persists listings.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	Delete(ctx context.Context, id string) error

	// UpdateStatusIf atomically sets the listing status to `to` only if the
	// current status equals `from`. Returns whether the update applied.
	// All reservation transitions must go through this primitive.
	UpdateStatusIf(ctx context.Context, id string, from, to Status) (bool, error)

	// SetAcceptedNegotiation records (or clears, with "") which negotiation
	// holds the listing. Does not touch status.
	SetAcceptedNegotiation(ctx context.Context, id, negotiationID string) error

	// ListOpen returns open listings for browsing, newest first,
	// optionally filtered by category and paged by cursor.
	ListOpen(ctx context.Context, f BrowseFilter) ([]*Listing, error)

	// ListByOwner returns all listings owned by a user, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error)
}
