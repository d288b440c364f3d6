package pending

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/salesbridge/followup/internal/model"
	"github.com/salesbridge/followup/internal/store"
)

// Store manages the per-recipient queue of session-gated messages. The
// invariant it guards: at most one queued message per (recipient, type) at
// any time. A new draft of the same type overwrites, it never appends.
type Store struct {
	recipients store.RecipientStore
	now        func() time.Time
}

func NewStore(recipients store.RecipientStore) *Store {
	return &Store{recipients: recipients, now: time.Now}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Upsert queues payload for (recipient, type), replacing any previous queued
// entry of that type. Expiry is fixed at creation from the type's TTL.
func (s *Store) Upsert(ctx context.Context, recipientID string, t model.MessageType, payload string) (*model.PendingMessage, error) {
	now := s.now().UTC()
	cfg := model.ConfigFor(t)

	msg := &model.PendingMessage{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        t,
		Payload:     payload,
		Status:      model.PendingQueued,
		CreatedAt:   now,
		ExpiresAt:   now.Add(cfg.TTL),
	}

	// The mutate closure can re-run on a conflict retry, so logging waits
	// until the merge landed.
	var overwritten string
	_, err := store.Apply(ctx, s.recipients, recipientID, func(state *model.RecipientState) error {
		overwritten = ""
		if prev := state.PendingByType(t); prev != nil && prev.Status == model.PendingQueued {
			overwritten = prev.ID
		}
		state.PutPending(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if overwritten != "" {
		slog.Info("pending message overwritten",
			"recipient", recipientID, "type", t, "previous", overwritten, "next", msg.ID)
	}
	return msg, nil
}

// Deliverable returns the recipient's queued, unexpired messages in flush
// order: type priority first, then age.
func (s *Store) Deliverable(r *model.Recipient) []*model.PendingMessage {
	now := s.now()

	var out []*model.PendingMessage
	for _, m := range r.State.Pending {
		if m.Status != model.PendingQueued || m.Expired(now) {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		pi := model.ConfigFor(out[i].Type).Priority
		pj := model.ConfigFor(out[j].Type).Priority
		if pi != pj {
			return pi < pj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MarkDelivered transitions a queued message to delivered and drops it from
// the recipient's sub-document. Only the queued status passes the gate, so a
// second flush cannot re-deliver.
func (s *Store) MarkDelivered(ctx context.Context, recipientID string, t model.MessageType, msgID string) error {
	delivered := false
	_, err := store.Apply(ctx, s.recipients, recipientID, func(state *model.RecipientState) error {
		delivered = false
		m := state.PendingByType(t)
		if m == nil || m.ID != msgID || m.Status != model.PendingQueued {
			return nil
		}
		now := s.now().UTC()
		m.Status = model.PendingDelivered
		m.DeliveredAt = &now
		state.RemovePending(t)
		delivered = true
		return nil
	})
	if err == nil && delivered {
		slog.Info("pending message delivered", "recipient", recipientID, "type", t, "id", msgID)
	}
	return err
}

// ExpireOld sweeps every recipient with queued content and silently discards
// entries past their expiry. Stale content is never delivered.
func (s *Store) ExpireOld(ctx context.Context) (int, error) {
	recipients, err := s.recipients.ListQueued(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	expired := 0
	var errs []error

	for _, r := range recipients {
		var dropped []model.MessageType
		for t, m := range r.State.Pending {
			if m.Status == model.PendingQueued && m.Expired(now) {
				dropped = append(dropped, t)
			}
		}
		if len(dropped) == 0 {
			continue
		}

		var discarded []*model.PendingMessage
		_, err := store.Apply(ctx, s.recipients, r.ID, func(state *model.RecipientState) error {
			discarded = discarded[:0]
			for _, t := range dropped {
				m := state.PendingByType(t)
				if m == nil || m.Status != model.PendingQueued || !m.Expired(now) {
					continue
				}
				m.Status = model.PendingExpired
				state.RemovePending(t)
				discarded = append(discarded, m)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range discarded {
			expired++
			slog.Info("pending message expired", "recipient", r.ID, "type", m.Type, "id", m.ID)
		}
	}

	return expired, errors.Join(errs...)
}

// QueueStats summarizes the pending queue and approval pipeline for the ops
// surface and the daily report job.
type QueueStats struct {
	Queued        int                          `json:"queued"`
	QueuedByType  map[model.MessageType]int    `json:"queued_by_type,omitempty"`
	Approvals     map[model.ApprovalStatus]int `json:"approvals,omitempty"`
	CallsRecorded int                          `json:"calls_recorded"`
}

func Stats(ctx context.Context, recipients store.RecipientStore) (*QueueStats, error) {
	all, err := recipients.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		QueuedByType: make(map[model.MessageType]int),
		Approvals:    make(map[model.ApprovalStatus]int),
	}
	for _, r := range all {
		for t, m := range r.State.Pending {
			if m.Status == model.PendingQueued {
				stats.Queued++
				stats.QueuedByType[t]++
			}
		}
		if r.State.Approval != nil {
			stats.Approvals[r.State.Approval.Status]++
		}
		stats.CallsRecorded += len(r.State.CallAttempts)
	}
	return stats, nil
}
