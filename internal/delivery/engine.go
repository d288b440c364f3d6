package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/salesbridge/followup/internal/model"
	"github.com/salesbridge/followup/internal/pending"
	"github.com/salesbridge/followup/internal/session"
	"github.com/salesbridge/followup/internal/store"
)

// Method reports how a message left the engine.
type Method string

const (
	MethodDirect    Method = "direct"
	MethodTemplated Method = "templated"
)

// ErrInvalidRecipient marks a recipient whose phone number cannot be parsed
// or is not a valid number. The operation is dropped, never retried.
var ErrInvalidRecipient = errors.New("delivery: invalid recipient phone number")

// ChannelClient is the outbound messaging channel. SendDirect only works
// inside an open session window; SendTemplate bypasses a closed one with a
// pre-approved template.
type ChannelClient interface {
	SendDirect(ctx context.Context, to, text string) (string, error)
	SendTemplate(ctx context.Context, to, template string, params []string) (string, error)
}

// Receipts records channel message IDs for later delivery-status lookups.
// A nil implementation is allowed.
type Receipts interface {
	RecordSent(ctx context.Context, recipientID, messageID string) error
}

// Engine routes outbound content either directly into an open session or
// behind a reactivation template with the content queued for later.
type Engine struct {
	recipients store.RecipientStore
	sessions   *session.Tracker
	queue      *pending.Store
	channel    ChannelClient
	receipts   Receipts
	region     string
}

func NewEngine(recipients store.RecipientStore, sessions *session.Tracker, queue *pending.Store, channel ChannelClient, region string) *Engine {
	return &Engine{
		recipients: recipients,
		sessions:   sessions,
		queue:      queue,
		channel:    channel,
		region:     region,
	}
}

// WithReceipts attaches a receipt recorder.
func (e *Engine) WithReceipts(r Receipts) *Engine {
	e.receipts = r
	return e
}

// SendOrQueue delivers text to the recipient now if their session is open,
// otherwise announces it with the type's reactivation template and queues the
// text for the next session reopen. A failed template send queues nothing;
// content is never promised without an announcement.
func (e *Engine) SendOrQueue(ctx context.Context, recipientID string, t model.MessageType, text string) (Method, error) {
	r, err := e.recipients.Get(ctx, recipientID)
	if err != nil {
		return "", fmt.Errorf("load recipient: %w", err)
	}

	phone, err := e.validPhone(r)
	if err != nil {
		slog.Warn("dropping message for invalid recipient", "recipient", r.ID, "phone", r.Phone, "type", t)
		return "", err
	}

	if e.sessions.IsOpen(r) {
		msgID, err := e.channel.SendDirect(ctx, phone, text)
		if err != nil {
			return "", fmt.Errorf("direct send: %w", err)
		}
		e.recordReceipt(ctx, r.ID, msgID)
		slog.Info("message sent directly", "recipient", r.ID, "type", t, "message_id", msgID)
		return MethodDirect, nil
	}

	cfg := model.ConfigFor(t)
	msgID, err := e.channel.SendTemplate(ctx, phone, cfg.Template, []string{firstName(r.Name)})
	if err != nil {
		return "", fmt.Errorf("template send: %w", err)
	}
	e.recordReceipt(ctx, r.ID, msgID)

	if _, err := e.queue.Upsert(ctx, r.ID, t, text); err != nil {
		return "", fmt.Errorf("queue pending: %w", err)
	}
	slog.Info("message queued behind template", "recipient", r.ID, "type", t, "template", cfg.Template)
	return MethodTemplated, nil
}

// FlushPending delivers the recipient's queued, unexpired messages in
// priority order. Each message is gated through the queued status, so a
// repeated flush with no new inbound event sends nothing.
func (e *Engine) FlushPending(ctx context.Context, recipientID string) error {
	r, err := e.recipients.Get(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}

	msgs := e.queue.Deliverable(r)
	if len(msgs) == 0 {
		return nil
	}

	phone, err := e.validPhone(r)
	if err != nil {
		return err
	}

	var errs []error
	for _, m := range msgs {
		msgID, err := e.channel.SendDirect(ctx, phone, m.Payload)
		if err != nil {
			// Left queued; the next reopen or sweep retries it.
			errs = append(errs, fmt.Errorf("flush %s/%s: %w", m.Type, m.ID, err))
			continue
		}
		e.recordReceipt(ctx, r.ID, msgID)
		if err := e.queue.MarkDelivered(ctx, r.ID, m.Type, m.ID); err != nil {
			errs = append(errs, fmt.Errorf("mark delivered %s/%s: %w", m.Type, m.ID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleInbound stamps the reopened session and flushes whatever was waiting
// behind it.
func (e *Engine) HandleInbound(ctx context.Context, recipientID string, at time.Time) error {
	if _, err := e.sessions.RecordInbound(ctx, recipientID, at); err != nil {
		return fmt.Errorf("record inbound: %w", err)
	}
	return e.FlushPending(ctx, recipientID)
}

func (e *Engine) validPhone(r *model.Recipient) (string, error) {
	num, err := phonenumbers.Parse(r.Phone, e.region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidRecipient
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (e *Engine) recordReceipt(ctx context.Context, recipientID, messageID string) {
	if e.receipts == nil || messageID == "" {
		return
	}
	if err := e.receipts.RecordSent(ctx, recipientID, messageID); err != nil {
		slog.Warn("failed to record receipt", "recipient", recipientID, "message_id", messageID, "error", err)
	}
}

// firstName extracts the template greeting parameter from a full name.
func firstName(full string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(full), " ")
	if first == "" {
		return "Hola"
	}
	return first
}
