package membership

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	memberships map[string]*Membership
	proofs      map[string]*PaymentProof
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memberships: make(map[string]*Membership),
		proofs:      make(map[string]*PaymentProof),
	}
}

func copyMembership(m *Membership) *Membership {
	c := *m
	return &c
}

func copyProof(p *PaymentProof) *PaymentProof {
	c := *p
	if p.ReviewedAt != nil {
		t := *p.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

func (s *MemoryStore) GetMembership(ctx context.Context, userID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[userID]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	return copyMembership(m), nil
}

func (s *MemoryStore) UpsertMembership(ctx context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.UserID] = copyMembership(m)
	return nil
}

func (s *MemoryStore) CreateProof(ctx context.Context, p *PaymentProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs[p.ID] = copyProof(p)
	return nil
}

func (s *MemoryStore) GetProof(ctx context.Context, id string) (*PaymentProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proofs[id]
	if !ok {
		return nil, ErrProofNotFound
	}
	return copyProof(p), nil
}

func (s *MemoryStore) UpdateProof(ctx context.Context, p *PaymentProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proofs[p.ID]; !ok {
		return ErrProofNotFound
	}
	s.proofs[p.ID] = copyProof(p)
	return nil
}

func (s *MemoryStore) ListProofsByUser(ctx context.Context, userID string) ([]*PaymentProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PaymentProof
	for _, p := range s.proofs {
		if p.UserID == userID {
			out = append(out, copyProof(p))
		}
	}
	sortProofs(out)
	return out, nil
}

func (s *MemoryStore) ListProofsByStatus(ctx context.Context, status ProofStatus, limit int) ([]*PaymentProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PaymentProof
	for _, p := range s.proofs {
		if p.Status == status {
			out = append(out, copyProof(p))
		}
	}
	sortProofs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortProofs(proofs []*PaymentProof) {
	sort.Slice(proofs, func(i, j int) bool {
		if proofs[i].CreatedAt.Equal(proofs[j].CreatedAt) {
			return proofs[i].ID > proofs[j].ID
		}
		return proofs[i].CreatedAt.After(proofs[j].CreatedAt)
	})
}
