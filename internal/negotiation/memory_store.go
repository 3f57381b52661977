package negotiation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu           sync.RWMutex
	negotiations map[string]*Negotiation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		negotiations: make(map[string]*Negotiation),
	}
}

// copyNegotiation returns a deep copy so callers cannot mutate store state.
func copyNegotiation(n *Negotiation) *Negotiation {
	c := *n
	if n.Messages != nil {
		c.Messages = make([]Message, len(n.Messages))
		copy(c.Messages, n.Messages)
	}
	if n.Meeting != nil {
		m := *n.Meeting
		c.Meeting = &m
	}
	return &c
}

func (s *MemoryStore) Create(ctx context.Context, n *Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiations[n.ID] = copyNegotiation(n)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.negotiations[id]
	if !ok {
		return nil, ErrNegotiationNotFound
	}
	return copyNegotiation(n), nil
}

func (s *MemoryStore) Update(ctx context.Context, n *Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.negotiations[n.ID]
	if !ok {
		return ErrNegotiationNotFound
	}
	c := copyNegotiation(n)
	// Messages are append-only through AppendMessage; keep the stored slice
	// authoritative so Update cannot drop concurrently appended messages.
	c.Messages = existing.Messages
	s.negotiations[n.ID] = c
	return nil
}

func (s *MemoryStore) ListByActor(ctx context.Context, userID string, role Role, status Status, limit int) ([]*Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Negotiation
	for _, n := range s.negotiations {
		switch role {
		case RoleSent:
			if n.InitiatorID != userID {
				continue
			}
		case RoleReceived:
			if n.CounterpartyID != userID {
				continue
			}
		default:
			if !n.IsParticipant(userID) {
				continue
			}
		}
		if status != "" && n.Status != status {
			continue
		}
		out = append(out, copyNegotiation(n))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListPendingByListing(ctx context.Context, listingID string) ([]*Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Negotiation
	for _, n := range s.negotiations {
		if n.Status != StatusPending {
			continue
		}
		if n.OfferedListingID != listingID && n.RequestedListingID != listingID {
			continue
		}
		out = append(out, copyNegotiation(n))
	}
	return out, nil
}

func (s *MemoryStore) GetPendingByTriple(ctx context.Context, initiatorID, offeredID, requestedID string) (*Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.negotiations {
		if n.Status == StatusPending &&
			n.InitiatorID == initiatorID &&
			n.OfferedListingID == offeredID &&
			n.RequestedListingID == requestedID {
			return copyNegotiation(n), nil
		}
	}
	return nil, ErrNegotiationNotFound
}

func (s *MemoryStore) AppendMessage(ctx context.Context, negotiationID string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.negotiations[negotiationID]
	if !ok {
		return ErrNegotiationNotFound
	}
	n.Messages = append(n.Messages, *msg)
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkMessagesRead(ctx context.Context, negotiationID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.negotiations[negotiationID]
	if !ok {
		return 0, ErrNegotiationNotFound
	}
	marked := 0
	for i := range n.Messages {
		if n.Messages[i].SenderID != readerID && !n.Messages[i].Read {
			n.Messages[i].Read = true
			marked++
		}
	}
	return marked, nil
}

func (s *MemoryStore) CountPendingReceived(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.negotiations {
		if n.Status == StatusPending && n.CounterpartyID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountUnreadMessages(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.negotiations {
		if !n.IsParticipant(userID) {
			continue
		}
		// Messages on rejected or cancelled negotiations no longer need
		// attention.
		if n.Status != StatusAccepted && n.Status != StatusCompleted {
			continue
		}
		for i := range n.Messages {
			if n.Messages[i].SenderID != userID && !n.Messages[i].Read {
				count++
			}
		}
	}
	return count, nil
}
