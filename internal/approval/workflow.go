package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/salesbridge/followup/internal/command"
	"github.com/salesbridge/followup/internal/delivery"
	"github.com/salesbridge/followup/internal/model"
	"github.com/salesbridge/followup/internal/store"
)

// ErrActiveApproval means the lead already has a proposal in flight.
var ErrActiveApproval = errors.New("approval: lead already has an active proposal")

// Messenger delivers workflow text, proposal cards to approvers and
// approved drafts to leads.
type Messenger interface {
	SendOrQueue(ctx context.Context, recipientID string, t model.MessageType, text string) (delivery.Method, error)
}

// Workflow drives drafted follow-ups through human sign-off: propose,
// dispatch to the approver, interpret the reply, deliver on approval.
type Workflow struct {
	recipients store.RecipientStore
	messenger  Messenger
	window     time.Duration
	now        func() time.Time
}

func NewWorkflow(recipients store.RecipientStore, messenger Messenger, window time.Duration) *Workflow {
	return &Workflow{
		recipients: recipients,
		messenger:  messenger,
		window:     window,
		now:        time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	w.now = now
	return w
}

// Propose records a drafted follow-up on the lead awaiting sign-off. At most
// one non-terminal proposal exists per lead; a second one is refused until
// the first resolves.
func (w *Workflow) Propose(ctx context.Context, leadID, approverID, category, reason, text string) (*model.ApprovalRequest, error) {
	lead, err := w.recipients.Get(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}

	now := w.now().UTC()
	req := &model.ApprovalRequest{
		ID:           uuid.NewString(),
		LeadID:       leadID,
		LeadName:     lead.Name,
		ApproverID:   approverID,
		Category:     category,
		Reason:       reason,
		ProposedText: text,
		Status:       model.ApprovalProposed,
		CreatedAt:    now,
		ExpiresAt:    now.Add(w.window),
	}

	_, err = store.Apply(ctx, w.recipients, leadID, func(state *model.RecipientState) error {
		if cur := state.Approval; cur != nil && !cur.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrActiveApproval, cur.ID, cur.Status)
		}
		state.Approval = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("follow-up proposed",
		"approval", req.ID, "lead", leadID, "approver", approverID, "category", category)
	return req, nil
}

// DispatchProposals sends every proposed draft to its approver as a
// formatted card and moves it to awaiting_approval. Proposals that sat
// undispatched past their window expire instead.
func (w *Workflow) DispatchProposals(ctx context.Context) (int, error) {
	leads, err := w.recipients.ListApprovals(ctx, model.ApprovalProposed)
	if err != nil {
		return 0, err
	}

	now := w.now().UTC()
	dispatched := 0
	var errs []error

	for _, lead := range leads {
		req := lead.State.Approval
		if now.After(req.ExpiresAt) {
			if err := w.transition(ctx, lead.ID, req.ID, model.ApprovalExpired, nil); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		card := proposalCard(lead.Name, req)
		if _, err := w.messenger.SendOrQueue(ctx, req.ApproverID, model.TypeNotification, card); err != nil {
			// Stays proposed; the next sweep retries.
			errs = append(errs, fmt.Errorf("dispatch %s: %w", req.ID, err))
			continue
		}

		err := w.transition(ctx, lead.ID, req.ID, model.ApprovalAwaiting, func(r *model.ApprovalRequest) {
			r.SentToApproverAt = &now
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dispatched++
	}
	return dispatched, errors.Join(errs...)
}

// ExpireStale moves awaiting proposals past their window to expired. No
// delivery happens for an expired draft.
func (w *Workflow) ExpireStale(ctx context.Context) (int, error) {
	leads, err := w.recipients.ListApprovals(ctx, model.ApprovalAwaiting)
	if err != nil {
		return 0, err
	}

	now := w.now().UTC()
	expired := 0
	var errs []error

	for _, lead := range leads {
		req := lead.State.Approval
		if !now.After(req.ExpiresAt) {
			continue
		}
		if err := w.transition(ctx, lead.ID, req.ID, model.ApprovalExpired, nil); err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}

// DeliverApproved sends every approved or edited draft to its lead and moves
// it to sent. A failed send leaves the request as-is for the next sweep.
func (w *Workflow) DeliverApproved(ctx context.Context) (int, error) {
	leads, err := w.recipients.ListApprovals(ctx, model.ApprovalApproved, model.ApprovalEdited)
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, lead := range leads {
		if err := w.deliverOne(ctx, lead.ID, lead.State.Approval); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (w *Workflow) deliverOne(ctx context.Context, leadID string, req *model.ApprovalRequest) error {
	t := model.MessageType(req.Category)
	if !model.KnownType(t) {
		t = model.TypeNotification
	}
	if _, err := w.messenger.SendOrQueue(ctx, leadID, t, req.DeliveryText()); err != nil {
		return fmt.Errorf("deliver %s: %w", req.ID, err)
	}
	return w.transition(ctx, leadID, req.ID, model.ApprovalSent, nil)
}

// HandleApproverReply interprets an inbound staff message as an approval
// command. The bool reports whether the text was a command at all; plain
// chatter returns false so callers can treat it as an ordinary message.
func (w *Workflow) HandleApproverReply(ctx context.Context, approverID, text string) (bool, error) {
	leads, err := w.recipients.ListApprovals(ctx, model.ApprovalAwaiting)
	if err != nil {
		return false, err
	}

	var candidates []command.Candidate
	byLead := make(map[string]*model.Recipient)
	for _, lead := range leads {
		if lead.State.Approval.ApproverID != approverID {
			continue
		}
		candidates = append(candidates, command.Candidate{LeadID: lead.ID, Name: lead.Name})
		byLead[lead.ID] = lead
	}

	cmd, err := command.Parse(text, candidates)
	switch {
	case errors.Is(err, command.ErrUnrecognized):
		return false, nil
	case errors.Is(err, command.ErrNoMatch):
		return true, w.notifyApprover(ctx, approverID,
			"No encontré una propuesta pendiente para ese nombre.")
	case errors.Is(err, command.ErrAmbiguous):
		return true, w.notifyApprover(ctx, approverID,
			"Hay varias propuestas que coinciden con ese nombre. Responde con el nombre completo del lead.")
	case err != nil:
		return true, err
	}

	lead := byLead[cmd.LeadID]
	req := lead.State.Approval
	now := w.now().UTC()

	switch cmd.Action {
	case command.ActionApprove:
		err := w.transition(ctx, lead.ID, req.ID, model.ApprovalApproved, func(r *model.ApprovalRequest) {
			r.RespondedAt = &now
		})
		if err != nil {
			return true, err
		}
		if err := w.deliverOne(ctx, lead.ID, req); err != nil {
			// Stays approved; the dispatch sweep retries delivery.
			slog.Warn("approved draft not delivered yet", "approval", req.ID, "error", err)
			return true, nil
		}
		return true, w.notifyApprover(ctx, approverID,
			fmt.Sprintf("✅ Mensaje aprobado y enviado a %s.", lead.Name))

	case command.ActionEdit:
		err := w.transition(ctx, lead.ID, req.ID, model.ApprovalEdited, func(r *model.ApprovalRequest) {
			r.FinalText = cmd.EditedText
			r.RespondedAt = &now
		})
		if err != nil {
			return true, err
		}
		req.FinalText = cmd.EditedText
		if err := w.deliverOne(ctx, lead.ID, req); err != nil {
			slog.Warn("edited draft not delivered yet", "approval", req.ID, "error", err)
			return true, nil
		}
		return true, w.notifyApprover(ctx, approverID,
			fmt.Sprintf("✏️ Mensaje editado y enviado a %s.", lead.Name))

	case command.ActionReject:
		err := w.transition(ctx, lead.ID, req.ID, model.ApprovalRejected, func(r *model.ApprovalRequest) {
			r.RejectReason = cmd.RejectReason
			r.RespondedAt = &now
		})
		if err != nil {
			return true, err
		}
		return true, w.notifyApprover(ctx, approverID,
			fmt.Sprintf("🚫 Propuesta para %s rechazada.", lead.Name))
	}
	return false, nil
}

// PurgeTerminal clears terminal approval requests older than the cutoff from
// the lead sub-documents. Returns how many were removed.
func (w *Workflow) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	leads, err := w.recipients.ListApprovals(ctx,
		model.ApprovalSent, model.ApprovalCancelled, model.ApprovalRejected, model.ApprovalExpired)
	if err != nil {
		return 0, err
	}

	cutoff := w.now().UTC().Add(-olderThan)
	purged := 0
	var errs []error

	for _, lead := range leads {
		req := lead.State.Approval
		if resolvedAt(req).After(cutoff) {
			continue
		}
		_, err := store.Apply(ctx, w.recipients, lead.ID, func(state *model.RecipientState) error {
			if state.Approval != nil && state.Approval.ID == req.ID {
				state.Approval = nil
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

func resolvedAt(req *model.ApprovalRequest) time.Time {
	if req.RespondedAt != nil {
		return *req.RespondedAt
	}
	return req.ExpiresAt
}

// transition applies a guarded status change to the approval stored on the
// lead. A request that moved or was replaced since the caller read it is
// left alone.
func (w *Workflow) transition(ctx context.Context, leadID, reqID string, to model.ApprovalStatus, mutate func(*model.ApprovalRequest)) error {
	var from model.ApprovalStatus
	_, err := store.Apply(ctx, w.recipients, leadID, func(state *model.RecipientState) error {
		req := state.Approval
		if req == nil || req.ID != reqID {
			return fmt.Errorf("approval %s no longer present on lead %s", reqID, leadID)
		}
		if !model.CanTransition(req.Status, to) {
			return fmt.Errorf("approval %s: illegal transition %s -> %s", reqID, req.Status, to)
		}
		from = req.Status
		req.Status = to
		if mutate != nil {
			mutate(req)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("approval transition", "approval", reqID, "lead", leadID, "from", from, "to", to)
	return nil
}

func (w *Workflow) notifyApprover(ctx context.Context, approverID, text string) error {
	if _, err := w.messenger.SendOrQueue(ctx, approverID, model.TypeNotification, text); err != nil {
		return fmt.Errorf("notify approver: %w", err)
	}
	return nil
}

func proposalCard(leadName string, req *model.ApprovalRequest) string {
	return fmt.Sprintf(
		"📋 *Propuesta de follow-up*\n\n"+
			"Lead: %s\nCategoría: %s\nMotivo: %s\n\n"+
			"Mensaje propuesto:\n\"%s\"\n\n"+
			"Responde:\n"+
			"• *OK %s* para aprobar\n"+
			"• *NO %s* para rechazar\n"+
			"• *EDITAR %s <texto>* para cambiar el mensaje",
		leadName, req.Category, req.Reason, req.ProposedText,
		leadName, leadName, leadName)
}
