package listing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trueque-app/trueque/internal/idgen"
	"github.com/trueque-app/trueque/internal/metrics"
	"github.com/trueque-app/trueque/internal/validation"
)

// Service implements listing management business logic.
type Service struct {
	store Store
}

// NewService creates a new listing service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying ledger for the negotiation engine.
func (s *Service) Store() Store {
	return s.store
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	Category        string `json:"category" binding:"required"`
	SeekingCategory string `json:"seekingCategory"`
	SeekingNote     string `json:"seekingNote"`
	Location        string `json:"location"`
	IsVirtual       bool   `json:"isVirtual"`
}

// UpdateRequest contains the editable listing fields. Nil pointers are
// left unchanged.
type UpdateRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Category        *string `json:"category"`
	SeekingCategory *string `json:"seekingCategory"`
	SeekingNote     *string `json:"seekingNote"`
	Location        *string `json:"location"`
	IsVirtual       *bool   `json:"isVirtual"`
}

// Create publishes a new listing in the open state.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*Listing, error) {
	title := validation.SanitizeString(req.Title, validation.MaxTitleLength)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	l := &Listing{
		ID:              idgen.WithPrefix("lst_"),
		OwnerID:         ownerID,
		Title:           title,
		Description:     validation.SanitizeString(req.Description, validation.MaxDescriptionLength),
		Category:        category,
		SeekingCategory: strings.ToLower(strings.TrimSpace(req.SeekingCategory)),
		SeekingNote:     validation.SanitizeString(req.SeekingNote, validation.MaxDescriptionLength),
		Location:        validation.SanitizeString(req.Location, validation.MaxTitleLength),
		IsVirtual:       req.IsVirtual,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	metrics.ListingsTotal.WithLabelValues("created").Inc()
	return l, nil
}

// Get fetches a single listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// Browse returns open listings, optionally filtered by category.
func (s *Service) Browse(ctx context.Context, f BrowseFilter) ([]*Listing, error) {
	return s.store.ListOpen(ctx, f)
}

// MyListings returns all listings owned by a user.
func (s *Service) MyListings(ctx context.Context, ownerID string, limit int) ([]*Listing, error) {
	return s.store.ListByOwner(ctx, ownerID, limit)
}

// Update edits listing details. Only allowed while the listing is not held
// by a negotiation.
func (s *Service) Update(ctx context.Context, id, callerID string, req UpdateRequest) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if l.Held() {
		return nil, ErrListingHeld
	}

	if req.Title != nil {
		title := validation.SanitizeString(*req.Title, validation.MaxTitleLength)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		l.Title = title
	}
	if req.Description != nil {
		l.Description = validation.SanitizeString(*req.Description, validation.MaxDescriptionLength)
	}
	if req.Category != nil {
		l.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.SeekingCategory != nil {
		l.SeekingCategory = strings.ToLower(strings.TrimSpace(*req.SeekingCategory))
	}
	if req.SeekingNote != nil {
		l.SeekingNote = validation.SanitizeString(*req.SeekingNote, validation.MaxDescriptionLength)
	}
	if req.Location != nil {
		l.Location = validation.SanitizeString(*req.Location, validation.MaxTitleLength)
	}
	if req.IsVirtual != nil {
		l.IsVirtual = *req.IsVirtual
	}
	l.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return l, nil
}

// Pause takes an open listing off the public feed.
func (s *Service) Pause(ctx context.Context, id, callerID string) (*Listing, error) {
	return s.ownerTransition(ctx, id, callerID, StatusOpen, StatusPaused, "paused")
}

// Reopen puts a paused or withdrawn listing back on the feed.
func (s *Service) Reopen(ctx context.Context, id, callerID string) (*Listing, error) {
	l, err := s.ownerTransition(ctx, id, callerID, StatusPaused, StatusOpen, "reopened")
	if err == ErrInvalidTransition {
		return s.ownerTransition(ctx, id, callerID, StatusWithdrawn, StatusOpen, "reopened")
	}
	return l, err
}

// Withdraw permanently removes a listing from circulation.
func (s *Service) Withdraw(ctx context.Context, id, callerID string) (*Listing, error) {
	l, err := s.ownerTransition(ctx, id, callerID, StatusOpen, StatusWithdrawn, "withdrawn")
	if err == ErrInvalidTransition {
		return s.ownerTransition(ctx, id, callerID, StatusPaused, StatusWithdrawn, "withdrawn")
	}
	return l, err
}

// ownerTransition applies an owner-driven status change through the CAS
// primitive so it can never clobber a concurrent reservation.
func (s *Service) ownerTransition(ctx context.Context, id, callerID string, from, to Status, action string) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if l.Held() {
		return nil, ErrListingHeld
	}
	if l.Status != from {
		return nil, ErrInvalidTransition
	}

	applied, err := s.store.UpdateStatusIf(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Status moved under us, most likely a concurrent reservation.
		return nil, ErrListingHeld
	}

	metrics.ListingsTotal.WithLabelValues(action).Inc()
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	return l, nil
}

// Delete removes a listing that is not and has never been held.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.OwnerID != callerID {
		return ErrNotOwner
	}
	if l.Held() || l.AcceptedNegotiationID != "" {
		return ErrListingHeld
	}
	return s.store.Delete(ctx, id)
}
