package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/salesbridge/followup/internal/model"
)

var (
	// ErrNotFound is returned when no recipient exists for the given id.
	ErrNotFound = errors.New("recipient not found")
	// ErrConflict is returned by Merge when the recipient's state moved
	// between the caller's read and its write.
	ErrConflict = errors.New("concurrent modification conflict")
)

// RecipientStore persists the engine-owned sub-document on each recipient.
// Merge is an optimistic compare-and-swap: the write only lands if the
// version still matches the caller's read. Writers never blindly overwrite.
type RecipientStore interface {
	Get(ctx context.Context, id string) (*model.Recipient, error)
	GetByPhone(ctx context.Context, phone string) (*model.Recipient, error)
	Put(ctx context.Context, r *model.Recipient) error
	List(ctx context.Context) ([]*model.Recipient, error)

	// ListQueued returns recipients holding at least one queued pending message.
	ListQueued(ctx context.Context) ([]*model.Recipient, error)

	// ListApprovals returns recipients whose approval context is in one of
	// the given statuses.
	ListApprovals(ctx context.Context, statuses ...model.ApprovalStatus) ([]*model.Recipient, error)

	Merge(ctx context.Context, id string, version int64, state model.RecipientState) error
}

// Apply runs a read-modify-write cycle against one recipient: read the latest
// state, apply the mutation to a copy, CAS-merge it back. On a detected
// conflict it re-reads and re-applies the delta once more, then gives up.
func Apply(ctx context.Context, s RecipientStore, id string, mutate func(*model.RecipientState) error) (*model.Recipient, error) {
	const conflictRetries = 1

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		state, err := cloneState(&r.State)
		if err != nil {
			return nil, err
		}
		if err := mutate(state); err != nil {
			return nil, err
		}

		err = s.Merge(ctx, id, r.Version, *state)
		if err == nil {
			r.State = *state
			r.Version++
			return r, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= conflictRetries {
			return nil, err
		}

		r, err = s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
	}
}

// cloneState deep-copies a state document so a failed merge never leaves a
// half-mutated shared value behind.
func cloneState(s *model.RecipientState) (*model.RecipientState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	var out model.RecipientState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	return &out, nil
}
