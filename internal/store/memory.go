package store

import (
	"context"
	"sort"
	"sync"

	"github.com/salesbridge/followup/internal/model"
)

// MemoryRecipientStore is an in-process RecipientStore with the same
// conflict semantics as the Postgres one. Used by tests and local runs
// without a database.
type MemoryRecipientStore struct {
	mu   sync.Mutex
	rows map[string]*model.Recipient
}

func NewMemoryRecipientStore() *MemoryRecipientStore {
	return &MemoryRecipientStore{rows: make(map[string]*model.Recipient)}
}

func (s *MemoryRecipientStore) Get(ctx context.Context, id string) (*model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecipient(r)
}

func (s *MemoryRecipientStore) GetByPhone(ctx context.Context, phone string) (*model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rows {
		if r.Phone == phone {
			return copyRecipient(r)
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryRecipientStore) Put(ctx context.Context, r *model.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := copyRecipient(r)
	if err != nil {
		return err
	}
	if existing, ok := s.rows[r.ID]; ok {
		// Put refreshes identity fields only, like the SQL upsert.
		existing.Name = cp.Name
		existing.Phone = cp.Phone
		existing.Role = cp.Role
		return nil
	}
	cp.Version = 0
	s.rows[r.ID] = cp
	return nil
}

func (s *MemoryRecipientStore) List(ctx context.Context) ([]*model.Recipient, error) {
	return s.filter(func(*model.Recipient) bool { return true })
}

func (s *MemoryRecipientStore) ListQueued(ctx context.Context) ([]*model.Recipient, error) {
	return s.filter(func(r *model.Recipient) bool {
		for _, p := range r.State.Pending {
			if p.Status == model.PendingQueued {
				return true
			}
		}
		return false
	})
}

func (s *MemoryRecipientStore) ListApprovals(ctx context.Context, statuses ...model.ApprovalStatus) ([]*model.Recipient, error) {
	return s.filter(func(r *model.Recipient) bool {
		if r.State.Approval == nil {
			return false
		}
		for _, st := range statuses {
			if r.State.Approval.Status == st {
				return true
			}
		}
		return false
	})
}

func (s *MemoryRecipientStore) Merge(ctx context.Context, id string, version int64, state model.RecipientState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if r.Version != version {
		return ErrConflict
	}

	cloned, err := cloneState(&state)
	if err != nil {
		return err
	}
	r.State = *cloned
	r.Version++
	return nil
}

func (s *MemoryRecipientStore) filter(keep func(*model.Recipient) bool) ([]*model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Recipient
	for _, r := range s.rows {
		if !keep(r) {
			continue
		}
		cp, err := copyRecipient(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyRecipient(r *model.Recipient) (*model.Recipient, error) {
	state, err := cloneState(&r.State)
	if err != nil {
		return nil, err
	}
	cp := *r
	cp.State = *state
	return &cp, nil
}
