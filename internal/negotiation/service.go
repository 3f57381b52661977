package negotiation

import (
	"context"
	"strings"
	"time"

	"github.com/trueque-app/trueque/internal/idgen"
	"github.com/trueque-app/trueque/internal/listing"
	"github.com/trueque-app/trueque/internal/logging"
	"github.com/trueque-app/trueque/internal/metrics"
	"github.com/trueque-app/trueque/internal/syncutil"
	"github.com/trueque-app/trueque/internal/traces"
)

// Service implements the negotiation state machine.
type Service struct {
	store    Store
	listings listing.Store
	quota    QuotaGate
	events   EventPublisher
	locks    *syncutil.ContextShardedMutex // per-negotiation and per-listing locks
}

// NewService creates a new negotiation service.
func NewService(store Store, listings listing.Store) *Service {
	return &Service{
		store:    store,
		listings: listings,
		locks:    syncutil.NewContextShardedMutex(),
	}
}

// WithQuotaGate adds a membership quota check in front of Propose.
func (s *Service) WithQuotaGate(q QuotaGate) *Service {
	s.quota = q
	return s
}

// WithEvents enables realtime event publication.
func (s *Service) WithEvents(e EventPublisher) *Service {
	s.events = e
	return s
}

// negLock serializes state transitions on one negotiation. It fails only
// when ctx is cancelled while waiting.
func (s *Service) negLock(ctx context.Context, id string) (func(), error) {
	return s.locks.LockContext(ctx, "neg:"+id)
}

// listingLock serializes concurrent proposals against the same requested
// listing.
func (s *Service) listingLock(ctx context.Context, id string) (func(), error) {
	return s.locks.LockContext(ctx, "lst:"+id)
}

// ProposeRequest contains the parameters for opening a negotiation.
type ProposeRequest struct {
	OfferedListingID   string `json:"offeredListingId" binding:"required"`
	RequestedListingID string `json:"requestedListingId" binding:"required"`
	Message            string `json:"message"`
}

// Propose opens a new pending negotiation offering one listing for another.
func (s *Service) Propose(ctx context.Context, initiatorID string, req ProposeRequest) (*Negotiation, error) {
	ctx, span := traces.StartSpan(ctx, "negotiation.propose", traces.UserID(initiatorID))
	defer span.End()

	if req.OfferedListingID == req.RequestedListingID {
		return nil, ErrSameListing
	}

	// Quota gate runs before any engine state is touched.
	if s.quota != nil {
		if err := s.quota.Consume(ctx, initiatorID); err != nil {
			return nil, err
		}
	}

	unlock, err := s.listingLock(ctx, req.RequestedListingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	offered, err := s.listings.Get(ctx, req.OfferedListingID)
	if err != nil {
		return nil, ErrListingNotFound
	}
	requested, err := s.listings.Get(ctx, req.RequestedListingID)
	if err != nil {
		return nil, ErrListingNotFound
	}

	if offered.OwnerID != initiatorID {
		return nil, ErrNotListingOwner
	}
	if requested.OwnerID == initiatorID {
		return nil, ErrSelfNegotiation
	}

	// Both listings must be open. Reserved implies a competing accepted
	// negotiation already holds the listing.
	if offered.Status != listing.StatusOpen || requested.Status != listing.StatusOpen {
		return nil, ErrListingUnavailable
	}

	// Duplicate pending pair, in either direction.
	if _, err := s.store.GetPendingByTriple(ctx, initiatorID, req.OfferedListingID, req.RequestedListingID); err == nil {
		return nil, ErrDuplicatePending
	}
	if _, err := s.store.GetPendingByTriple(ctx, requested.OwnerID, req.RequestedListingID, req.OfferedListingID); err == nil {
		return nil, ErrDuplicatePending
	}

	now := time.Now().UTC()
	n := &Negotiation{
		ID:                 idgen.WithPrefix("neg_"),
		InitiatorID:        initiatorID,
		CounterpartyID:     requested.OwnerID,
		OfferedListingID:   req.OfferedListingID,
		RequestedListingID: req.RequestedListingID,
		Status:             StatusPending,
		InitialMessage:     strings.TrimSpace(req.Message),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}

	metrics.NegotiationsTotal.WithLabelValues("proposed").Inc()
	s.publish(n.CounterpartyID, "negotiation.proposed", n)
	return n, nil
}

// Accept transitions a pending negotiation to accepted, reserving both
// listings and sweeping aside competing pending negotiations.
func (s *Service) Accept(ctx context.Context, id, callerID string) (*Negotiation, error) {
	ctx, span := traces.StartSpan(ctx, "negotiation.accept",
		traces.NegotiationID(id), traces.UserID(callerID))
	defer span.End()

	unlock, err := s.negLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if callerID != n.CounterpartyID {
		return nil, ErrNotCounterparty
	}
	if n.Status != StatusPending {
		return nil, ErrNotPending
	}

	// Re-validate both listings at accept time. A stale pending negotiation
	// whose listing is gone is rejected on touch.
	if err := s.revalidateListings(ctx, n); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// Write the negotiation status first so a listing can never be observed
	// reserved without an accepted negotiation record.
	n.Status = StatusAccepted
	n.AcceptedAt = &now
	n.RespondedAt = &now
	n.UpdatedAt = now
	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}

	applied, err := s.listings.UpdateStatusIf(ctx, n.OfferedListingID, listing.StatusOpen, listing.StatusReserved)
	if err != nil || !applied {
		s.revertAccept(ctx, n)
		return nil, ErrListingUnavailable
	}
	applied, err = s.listings.UpdateStatusIf(ctx, n.RequestedListingID, listing.StatusOpen, listing.StatusReserved)
	if err != nil || !applied {
		// Release the first reservation before reverting.
		if _, rerr := s.listings.UpdateStatusIf(ctx, n.OfferedListingID, listing.StatusReserved, listing.StatusOpen); rerr != nil {
			logging.L(ctx).Error("failed to release offered listing after partial accept",
				"negotiation", n.ID, "listing", n.OfferedListingID, "error", rerr)
		}
		s.revertAccept(ctx, n)
		return nil, ErrListingUnavailable
	}

	// Record which negotiation holds the listings. Informational only.
	if err := s.listings.SetAcceptedNegotiation(ctx, n.OfferedListingID, n.ID); err != nil {
		logging.L(ctx).Warn("failed to tag offered listing", "negotiation", n.ID, "error", err)
	}
	if err := s.listings.SetAcceptedNegotiation(ctx, n.RequestedListingID, n.ID); err != nil {
		logging.L(ctx).Warn("failed to tag requested listing", "negotiation", n.ID, "error", err)
	}

	// The accept is durable. The sweep below is best-effort and never rolls
	// it back; stale pendings it misses are reconciled lazily on touch.
	s.sweepCompetingPendings(ctx, n)

	metrics.NegotiationsTotal.WithLabelValues("accepted").Inc()
	s.publish(n.InitiatorID, "negotiation.accepted", n)
	return n, nil
}

// revertAccept restores a negotiation to pending after a failed listing
// reservation. Must be called under the negotiation lock.
func (s *Service) revertAccept(ctx context.Context, n *Negotiation) {
	n.Status = StatusPending
	n.AcceptedAt = nil
	n.RespondedAt = nil
	n.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, n); err != nil {
		logging.L(ctx).Error("failed to revert negotiation after reservation conflict",
			"negotiation", n.ID, "error", err)
	}
}

// revalidateListings checks both listings are still open. If either is gone
// or no longer open, the pending negotiation is rejected with the system
// reason and the appropriate error kind returned.
func (s *Service) revalidateListings(ctx context.Context, n *Negotiation) error {
	for _, lid := range []string{n.OfferedListingID, n.RequestedListingID} {
		l, err := s.listings.Get(ctx, lid)
		if err != nil {
			s.rejectStale(ctx, n)
			return ErrListingNotFound
		}
		if l.Status != listing.StatusOpen {
			s.rejectStale(ctx, n)
			return ErrListingUnavailable
		}
	}
	return nil
}

// rejectStale force-rejects a pending negotiation whose listing is gone.
func (s *Service) rejectStale(ctx context.Context, n *Negotiation) {
	now := time.Now().UTC()
	n.Status = StatusRejected
	n.RejectionReason = ConflictRejectionReason
	n.RespondedAt = &now
	n.UpdatedAt = now
	if err := s.store.Update(ctx, n); err != nil {
		logging.L(ctx).Error("failed to reject stale negotiation", "negotiation", n.ID, "error", err)
		return
	}
	metrics.NegotiationsTotal.WithLabelValues("rejected").Inc()
	s.publish(n.InitiatorID, "negotiation.rejected", n)
}

// sweepCompetingPendings rejects every other pending negotiation touching
// either of the accepted negotiation's listings.
func (s *Service) sweepCompetingPendings(ctx context.Context, accepted *Negotiation) {
	seen := map[string]bool{accepted.ID: true}
	now := time.Now().UTC()

	for _, lid := range []string{accepted.OfferedListingID, accepted.RequestedListingID} {
		pendings, err := s.store.ListPendingByListing(ctx, lid)
		if err != nil {
			logging.L(ctx).Warn("conflict sweep listing query failed", "listing", lid, "error", err)
			continue
		}
		for _, other := range pendings {
			if seen[other.ID] {
				continue
			}
			seen[other.ID] = true

			other.Status = StatusRejected
			other.RejectionReason = ConflictRejectionReason
			other.RespondedAt = &now
			other.UpdatedAt = now
			if err := s.store.Update(ctx, other); err != nil {
				logging.L(ctx).Warn("conflict sweep failed to reject negotiation",
					"negotiation", other.ID, "error", err)
				continue
			}
			metrics.ConflictRejectionsTotal.Inc()
			metrics.NegotiationsTotal.WithLabelValues("rejected").Inc()
			s.publish(other.InitiatorID, "negotiation.rejected", other)
		}
	}
}

// Reject declines a pending negotiation. Counterparty only.
func (s *Service) Reject(ctx context.Context, id, callerID, reason string) (*Negotiation, error) {
	unlock, err := s.negLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if callerID != n.CounterpartyID {
		return nil, ErrNotCounterparty
	}
	if n.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := time.Now().UTC()
	n.Status = StatusRejected
	n.RejectionReason = strings.TrimSpace(reason)
	n.RespondedAt = &now
	n.UpdatedAt = now
	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}

	metrics.NegotiationsTotal.WithLabelValues("rejected").Inc()
	metrics.NegotiationDuration.Observe(now.Sub(n.CreatedAt).Seconds())
	s.publish(n.InitiatorID, "negotiation.rejected", n)
	return n, nil
}

// Cancel withdraws a negotiation. While pending only the initiator may
// cancel; while accepted either party may, releasing both listings.
func (s *Service) Cancel(ctx context.Context, id, callerID string) (*Negotiation, error) {
	unlock, err := s.negLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}

	switch n.Status {
	case StatusPending:
		if callerID != n.InitiatorID {
			return nil, ErrNotInitiator
		}
	case StatusAccepted:
		// either party
	default:
		return nil, ErrNotCancellable
	}

	wasAccepted := n.Status == StatusAccepted
	now := time.Now().UTC()
	n.Status = StatusCancelled
	n.UpdatedAt = now
	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}

	if wasAccepted {
		s.releaseListings(ctx, n)
	}

	metrics.NegotiationsTotal.WithLabelValues("cancelled").Inc()
	metrics.NegotiationDuration.Observe(now.Sub(n.CreatedAt).Seconds())
	s.publish(n.OtherParty(callerID), "negotiation.cancelled", n)
	return n, nil
}

// releaseListings returns both listings of a formerly-accepted negotiation
// to the open pool.
func (s *Service) releaseListings(ctx context.Context, n *Negotiation) {
	for _, lid := range []string{n.OfferedListingID, n.RequestedListingID} {
		applied, err := s.listings.UpdateStatusIf(ctx, lid, listing.StatusReserved, listing.StatusOpen)
		if err != nil || !applied {
			logging.L(ctx).Warn("failed to release listing reservation",
				"negotiation", n.ID, "listing", lid, "applied", applied, "error", err)
		}
		if err := s.listings.SetAcceptedNegotiation(ctx, lid, ""); err != nil {
			logging.L(ctx).Warn("failed to clear listing negotiation tag",
				"negotiation", n.ID, "listing", lid, "error", err)
		}
	}
}

// ConfirmCompletion records one party's completion acknowledgment. When both
// parties have confirmed, the negotiation completes and both listings are
// consumed. Re-confirming is a no-op.
func (s *Service) ConfirmCompletion(ctx context.Context, id, callerID string) (*Negotiation, error) {
	ctx, span := traces.StartSpan(ctx, "negotiation.confirm_completion",
		traces.NegotiationID(id), traces.UserID(callerID))
	defer span.End()

	unlock, err := s.negLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Single read-modify-write under the lock: concurrent confirmations
	// from both parties cannot lose an update.
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}

	switch n.Status {
	case StatusAccepted:
		// proceed
	case StatusCompleted:
		// Already completed means this party already confirmed; idempotent.
		return n, nil
	default:
		return nil, ErrNotAccepted
	}

	now := time.Now().UTC()
	if callerID == n.InitiatorID {
		if n.Completion.InitiatorConfirmed {
			return n, nil
		}
		n.Completion.InitiatorConfirmed = true
		n.Completion.InitiatorConfirmedAt = &now
	} else {
		if n.Completion.CounterpartyConfirmed {
			return n, nil
		}
		n.Completion.CounterpartyConfirmed = true
		n.Completion.CounterpartyConfirmedAt = &now
	}

	completed := n.Completion.Both()
	if completed {
		n.Status = StatusCompleted
		n.CompletedAt = &now
	}
	n.UpdatedAt = now

	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}

	if completed {
		s.consumeListings(ctx, n)
		metrics.NegotiationsTotal.WithLabelValues("completed").Inc()
		metrics.NegotiationDuration.Observe(now.Sub(n.CreatedAt).Seconds())
		s.publish(n.InitiatorID, "negotiation.completed", n)
		s.publish(n.CounterpartyID, "negotiation.completed", n)
	} else {
		s.publish(n.OtherParty(callerID), "negotiation.confirmation", n)
	}
	return n, nil
}

// consumeListings marks both listings of a completed negotiation consumed.
func (s *Service) consumeListings(ctx context.Context, n *Negotiation) {
	for _, lid := range []string{n.OfferedListingID, n.RequestedListingID} {
		applied, err := s.listings.UpdateStatusIf(ctx, lid, listing.StatusReserved, listing.StatusConsumed)
		if err != nil || !applied {
			logging.L(ctx).Error("failed to consume listing on completion",
				"negotiation", n.ID, "listing", lid, "applied", applied, "error", err)
			continue
		}
		metrics.ListingsTotal.WithLabelValues("consumed").Inc()
	}
}

// SendMessage appends a chat message. Permitted only while accepted or
// completed.
func (s *Service) SendMessage(ctx context.Context, id, callerID, body string) (*Message, error) {
	unlock, err := s.negLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if n.Status != StatusAccepted && n.Status != StatusCompleted {
		return nil, ErrMessagingClosed
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if len([]rune(body)) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	msg := &Message{
		ID:       idgen.WithPrefix("msg_"),
		SenderID: callerID,
		Body:     body,
		SentAt:   time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, n.ID, msg); err != nil {
		return nil, err
	}

	metrics.MessagesSentTotal.Inc()
	s.publish(n.OtherParty(callerID), "message.sent", map[string]interface{}{
		"negotiationId": n.ID,
		"message":       msg,
	})
	return msg, nil
}

// MeetingRequest contains the meeting details to set.
type MeetingRequest struct {
	When  *time.Time `json:"when"`
	Where string     `json:"where"`
	Notes string     `json:"notes"`
}

// UpdateMeeting sets the meeting details. Permitted only while accepted or
// completed.
func (s *Service) UpdateMeeting(ctx context.Context, id, callerID string, req MeetingRequest) (*Negotiation, error) {
	unlock, err := s.negLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if n.Status != StatusAccepted && n.Status != StatusCompleted {
		return nil, ErrMessagingClosed
	}

	n.Meeting = &MeetingDetails{
		When:  req.When,
		Where: strings.TrimSpace(req.Where),
		Notes: strings.TrimSpace(req.Notes),
	}
	n.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}

	s.publish(n.OtherParty(callerID), "negotiation.meeting", n)
	return n, nil
}

// Get returns a negotiation to a participant and marks inbound messages read.
func (s *Service) Get(ctx context.Context, id, callerID string) (*Negotiation, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}

	if _, err := s.store.MarkMessagesRead(ctx, n.ID, callerID); err != nil {
		logging.L(ctx).Warn("failed to mark messages read", "negotiation", n.ID, "error", err)
	} else {
		for i := range n.Messages {
			if n.Messages[i].SenderID != callerID {
				n.Messages[i].Read = true
			}
		}
	}
	return n, nil
}

// ListByActor returns the user's negotiations by role with an optional
// status filter.
func (s *Service) ListByActor(ctx context.Context, userID string, role Role, status Status, limit int) ([]*Negotiation, error) {
	return s.store.ListByActor(ctx, userID, role, status, limit)
}

// NotificationCounts computes the per-user attention counters: pending
// received negotiations plus unread inbound messages.
func (s *Service) NotificationCounts(ctx context.Context, userID string) (*NotificationCounts, error) {
	pending, err := s.store.CountPendingReceived(ctx, userID)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnreadMessages(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &NotificationCounts{
		PendingReceived: pending,
		UnreadMessages:  unread,
		Total:           pending + unread,
	}, nil
}

func (s *Service) publish(userID, event string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(userID, event, payload)
}
