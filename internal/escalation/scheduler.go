package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salesbridge/followup/internal/model"
	"github.com/salesbridge/followup/internal/store"
)

// VoiceClient places an outbound fallback call. The variables carry the
// conversational context the voice agent opens with.
type VoiceClient interface {
	PlaceCall(ctx context.Context, to string, vars map[string]string) (string, error)
}

// Quota tracks how many escalation calls went out on a given local day.
type Quota interface {
	Today(ctx context.Context, day string) (int, error)
	Increment(ctx context.Context, day string) error
}

// Config bounds the sweep: how stale a queued message must be before a call,
// how many calls a day, and inside which local hours.
type Config struct {
	Threshold time.Duration
	MaxPerDay int
	HourStart int
	HourEnd   int
	Location  *time.Location
}

// Scheduler escalates time-critical queued messages to a voice call when the
// text channel has gone quiet past the threshold.
type Scheduler struct {
	recipients store.RecipientStore
	voice      VoiceClient
	quota      Quota
	cfg        Config
	now        func() time.Time
}

func NewScheduler(recipients store.RecipientStore, voice VoiceClient, quota Quota, cfg Config) *Scheduler {
	return &Scheduler{
		recipients: recipients,
		voice:      voice,
		quota:      quota,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Sweep walks every recipient with queued content and places at most one
// call per (recipient, type, local day) for escalatable types stuck past the
// threshold. Outside the permitted hour window the sweep does nothing at
// all. Returns the number of calls attempted.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now().In(s.cfg.Location)
	if now.Hour() < s.cfg.HourStart || now.Hour() >= s.cfg.HourEnd {
		return 0, nil
	}
	day := now.Format("2006-01-02")

	recipients, err := s.recipients.ListQueued(ctx)
	if err != nil {
		return 0, err
	}

	attempts := 0
	var errs []error

	for _, r := range recipients {
		for _, m := range r.State.Pending {
			if !s.eligible(m, now, day) {
				continue
			}

			used, err := s.quota.Today(ctx, day)
			if err != nil {
				errs = append(errs, fmt.Errorf("quota read: %w", err))
				continue
			}
			if used >= s.cfg.MaxPerDay {
				slog.Info("escalation quota exhausted", "day", day, "used", used)
				return attempts, errors.Join(errs...)
			}

			if err := s.escalate(ctx, r, m, day); err != nil {
				errs = append(errs, err)
				continue
			}
			attempts++
		}
	}
	return attempts, errors.Join(errs...)
}

func (s *Scheduler) eligible(m *model.PendingMessage, now time.Time, day string) bool {
	if m.Status != model.PendingQueued || m.Expired(now) {
		return false
	}
	if !model.ConfigFor(m.Type).Escalatable {
		return false
	}
	if now.Sub(m.CreatedAt) < s.cfg.Threshold {
		return false
	}
	// One attempt per local day, success or not.
	return m.CallDate != day
}

// escalate places the call and records the outcome. The day flag is written
// either way: a failed call is not retried until the next local day.
func (s *Scheduler) escalate(ctx context.Context, r *model.Recipient, m *model.PendingMessage, day string) error {
	vars := map[string]string{
		"recipient_name": r.Name,
		"message_type":   string(m.Type),
		"message_text":   m.Payload,
	}

	callID, callErr := s.voice.PlaceCall(ctx, r.Phone, vars)

	attempt := model.CallAttempt{
		RecipientID: r.ID,
		Type:        m.Type,
		Date:        day,
		Attempted:   true,
	}
	if callErr != nil {
		attempt.Outcome = "failed"
		attempt.Error = callErr.Error()
		slog.Warn("escalation call failed", "recipient", r.ID, "type", m.Type, "error", callErr)
	} else {
		attempt.Outcome = "placed"
		slog.Info("escalation call placed", "recipient", r.ID, "type", m.Type, "call_id", callID)
	}

	// The quota counts the call that went out, so it is bumped even when the
	// attempt record could not be written. Otherwise a later sweep the same
	// day would find the message unflagged and dial the recipient again.
	_, recordErr := store.Apply(ctx, s.recipients, r.ID, func(state *model.RecipientState) error {
		if cur := state.PendingByType(m.Type); cur != nil && cur.ID == m.ID {
			cur.CallDate = day
		}
		state.CallAttempts = append(state.CallAttempts, attempt)
		return nil
	})
	if recordErr != nil {
		slog.Warn("escalation attempt not recorded",
			"recipient", r.ID, "type", m.Type, "error", recordErr)
	}

	if err := s.quota.Increment(ctx, day); err != nil {
		return fmt.Errorf("quota increment: %w", err)
	}
	return nil
}

// ResetCallFlag clears the per-day call markers on a recipient's queued
// messages. Operator action only; the sweep never resets them.
func (s *Scheduler) ResetCallFlag(ctx context.Context, recipientID string) error {
	_, err := store.Apply(ctx, s.recipients, recipientID, func(state *model.RecipientState) error {
		for _, m := range state.Pending {
			m.CallDate = ""
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("escalation call flag reset", "recipient", recipientID)
	return nil
}
