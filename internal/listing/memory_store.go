package listing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory listing store for demo/development mode.
type MemoryStore struct {
	listings map[string]*Listing
	mu       sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]*Listing),
	}
}

func (m *MemoryStore) Create(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.listings[l.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *l
	// Update writes metadata only. Status moves through UpdateStatusIf and
	// the negotiation tag through SetAcceptedNegotiation; keeping the stored
	// values authoritative means a stale caller snapshot cannot undo a
	// concurrent reservation.
	cp.Status = existing.Status
	cp.AcceptedNegotiationID = existing.AcceptedNegotiationID
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[id]; !ok {
		return ErrNotFound
	}
	delete(m.listings, id)
	return nil
}

func (m *MemoryStore) UpdateStatusIf(_ context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return false, ErrNotFound
	}
	if l.Status != from {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) SetAcceptedNegotiation(_ context.Context, id, negotiationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.AcceptedNegotiationID = negotiationID
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListOpen(_ context.Context, f BrowseFilter) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Listing
	for _, l := range m.listings {
		if l.Status != StatusOpen {
			continue
		}
		if f.Category != "" && !strings.EqualFold(l.Category, f.Category) {
			continue
		}
		if f.Cursor != nil {
			// Strictly older than the cursor position, ties broken by ID.
			if l.CreatedAt.After(f.Cursor.CreatedAt) {
				continue
			}
			if l.CreatedAt.Equal(f.Cursor.CreatedAt) && l.ID >= f.Cursor.ID {
				continue
			}
		}
		cp := *l
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Listing
	for _, l := range m.listings {
		if l.OwnerID == ownerID {
			cp := *l
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
