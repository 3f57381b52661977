// Package negotiation implements the pairwise exchange engine.
//
// Flow:
//  1. Initiator proposes: one of their open listings for someone else's
//  2. Counterparty accepts (reserving both listings) or rejects
//  3. While accepted the parties chat and arrange a meeting
//  4. Both parties confirm completion, consuming the listings
//
// Accepting one negotiation auto-rejects every other pending negotiation
// that touches either listing. Listing reservation goes exclusively through
// the listing ledger's compare-and-set primitive, so two concurrent accepts
// sharing a listing can never both succeed.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error kinds. Concrete errors wrap exactly one of these so handlers can
// classify with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)

var (
	ErrNegotiationNotFound = fmt.Errorf("%w: negotiation does not exist", ErrNotFound)
	ErrListingNotFound     = fmt.Errorf("%w: listing does not exist", ErrNotFound)
	ErrNotParticipant      = fmt.Errorf("%w: caller is not a participant", ErrForbidden)
	ErrNotCounterparty     = fmt.Errorf("%w: only the counterparty may respond", ErrForbidden)
	ErrNotInitiator        = fmt.Errorf("%w: only the initiator may cancel a pending negotiation", ErrForbidden)
	ErrNotListingOwner     = fmt.Errorf("%w: offered listing does not belong to the caller", ErrForbidden)
	ErrSelfNegotiation     = fmt.Errorf("%w: cannot open a negotiation with yourself", ErrValidation)
	ErrSameListing         = fmt.Errorf("%w: offered and requested listings must differ", ErrValidation)
	ErrEmptyMessage        = fmt.Errorf("%w: message body is empty", ErrValidation)
	ErrMessageTooLong      = fmt.Errorf("%w: message body exceeds 1000 characters", ErrValidation)
	ErrNotPending          = fmt.Errorf("%w: negotiation is not pending", ErrInvalidState)
	ErrNotAccepted         = fmt.Errorf("%w: negotiation is not accepted", ErrInvalidState)
	ErrNotCancellable      = fmt.Errorf("%w: only pending or accepted negotiations can be cancelled", ErrInvalidState)
	ErrMessagingClosed     = fmt.Errorf("%w: messaging requires an accepted or completed negotiation", ErrInvalidState)
	ErrListingUnavailable  = fmt.Errorf("%w: listing is no longer available", ErrConflict)
	ErrDuplicatePending    = fmt.Errorf("%w: a pending negotiation already exists for this listing pair", ErrConflict)
	ErrQuotaExhausted      = fmt.Errorf("%w: monthly exchange quota exhausted", ErrForbidden)
)

// ConflictRejectionReason is the system-generated reason applied to pending
// negotiations swept aside when a competing negotiation is accepted.
const ConflictRejectionReason = "listing no longer available"

// MaxMessageLength is the chat message body limit in characters.
const MaxMessageLength = 1000

// Status represents the state of a negotiation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Message is one entry in a negotiation's chat log.
type Message struct {
	ID       string    `json:"id"`
	SenderID string    `json:"senderId"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sentAt"`
	Read     bool      `json:"read"`
}

// MeetingDetails records where and when the parties plan to exchange.
type MeetingDetails struct {
	When  *time.Time `json:"when,omitempty"`
	Where string     `json:"where,omitempty"`
	Notes string     `json:"notes,omitempty"`
}

// Completion tracks the bilateral completion acknowledgment.
type Completion struct {
	InitiatorConfirmed      bool       `json:"initiatorConfirmed"`
	InitiatorConfirmedAt    *time.Time `json:"initiatorConfirmedAt,omitempty"`
	CounterpartyConfirmed   bool       `json:"counterpartyConfirmed"`
	CounterpartyConfirmedAt *time.Time `json:"counterpartyConfirmedAt,omitempty"`
}

// Both returns true when both parties have confirmed.
func (c Completion) Both() bool {
	return c.InitiatorConfirmed && c.CounterpartyConfirmed
}

// Negotiation is the pairwise proposal-to-completion record between two
// listings and their owners.
type Negotiation struct {
	ID                 string          `json:"id"`
	InitiatorID        string          `json:"initiatorId"`
	CounterpartyID     string          `json:"counterpartyId"`
	OfferedListingID   string          `json:"offeredListingId"`
	RequestedListingID string          `json:"requestedListingId"`
	Status             Status          `json:"status"`
	InitialMessage     string          `json:"initialMessage,omitempty"`
	Messages           []Message       `json:"messages"`
	Meeting            *MeetingDetails `json:"meeting,omitempty"`
	Completion         Completion      `json:"completion"`
	RejectionReason    string          `json:"rejectionReason,omitempty"`
	RespondedAt        *time.Time      `json:"respondedAt,omitempty"`
	AcceptedAt         *time.Time      `json:"acceptedAt,omitempty"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// IsParticipant reports whether the user is one of the two parties.
func (n *Negotiation) IsParticipant(userID string) bool {
	return userID == n.InitiatorID || userID == n.CounterpartyID
}

// OtherParty returns the counterpart of the given participant.
func (n *Negotiation) OtherParty(userID string) string {
	if userID == n.InitiatorID {
		return n.CounterpartyID
	}
	return n.InitiatorID
}

// References reports whether the negotiation touches the given listing.
func (n *Negotiation) References(listingID string) bool {
	return n.OfferedListingID == listingID || n.RequestedListingID == listingID
}

// NotificationCounts is the per-user read model of things needing attention.
type NotificationCounts struct {
	PendingReceived int `json:"pendingReceived"`
	UnreadMessages  int `json:"unreadMessages"`
	Total           int `json:"total"`
}

// Role selects which side of a negotiation a listing query refers to.
type Role string

const (
	RoleSent     Role = "sent"
	RoleReceived Role = "received"
)

// Store persists negotiations.
type Store interface {
	Create(ctx context.Context, n *Negotiation) error
	Get(ctx context.Context, id string) (*Negotiation, error)
	Update(ctx context.Context, n *Negotiation) error

	// ListByActor returns negotiations where the user is the initiator
	// (RoleSent) or counterparty (RoleReceived), newest first. An empty
	// status matches all statuses.
	ListByActor(ctx context.Context, userID string, role Role, status Status, limit int) ([]*Negotiation, error)

	// ListPendingByListing returns all pending negotiations whose offered
	// or requested listing equals the given ID.
	ListPendingByListing(ctx context.Context, listingID string) ([]*Negotiation, error)

	// GetPendingByTriple returns the pending negotiation matching
	// (initiator, offered, requested), if one exists.
	GetPendingByTriple(ctx context.Context, initiatorID, offeredID, requestedID string) (*Negotiation, error)

	// AppendMessage adds a message to a negotiation's chat log.
	AppendMessage(ctx context.Context, negotiationID string, msg *Message) error

	// MarkMessagesRead marks all messages in the negotiation not sent by
	// readerID as read. Returns the number of messages affected.
	MarkMessagesRead(ctx context.Context, negotiationID, readerID string) (int, error)

	// CountPendingReceived counts pending negotiations where the user is
	// the counterparty.
	CountPendingReceived(ctx context.Context, userID string) (int, error)

	// CountUnreadMessages counts unread inbound messages across the user's
	// accepted and completed negotiations.
	CountUnreadMessages(ctx context.Context, userID string) (int, error)
}

// QuotaGate authorizes a user to open a new negotiation. Implemented by the
// membership collaborator; its failures are not engine error kinds.
type QuotaGate interface {
	Consume(ctx context.Context, userID string) error
}

// EventPublisher pushes negotiation events to connected clients.
// Delivery is best-effort; clients re-fetch counts on reconnect.
type EventPublisher interface {
	Publish(userID, event string, payload interface{})
}
