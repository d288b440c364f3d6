package session

import (
	"context"
	"time"

	"github.com/salesbridge/followup/internal/model"
	"github.com/salesbridge/followup/internal/store"
)

// Tracker decides whether a recipient's chat session is open. The channel
// only allows free-form messages within a window after the recipient's last
// inbound message; outside it only pre-approved templates go through.
type Tracker struct {
	recipients store.RecipientStore
	window     time.Duration
	now        func() time.Time
}

func NewTracker(recipients store.RecipientStore, window time.Duration) *Tracker {
	return &Tracker{
		recipients: recipients,
		window:     window,
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// IsOpen reports whether the session window is currently open. A recipient
// that has never sent an inbound message is closed by definition.
func (t *Tracker) IsOpen(r *model.Recipient) bool {
	last := r.State.LastInboundAt
	if last == nil {
		return false
	}
	return t.now().Sub(*last) < t.window
}

// RecordInbound stamps the recipient's last inbound timestamp, reopening the
// session. Callers flush pending content afterwards.
func (t *Tracker) RecordInbound(ctx context.Context, recipientID string, at time.Time) (*model.Recipient, error) {
	return store.Apply(ctx, t.recipients, recipientID, func(state *model.RecipientState) error {
		utc := at.UTC()
		state.LastInboundAt = &utc
		return nil
	})
}
