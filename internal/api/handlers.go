package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/salesbridge/followup/internal/approval"
	"github.com/salesbridge/followup/internal/delivery"
	"github.com/salesbridge/followup/internal/escalation"
	"github.com/salesbridge/followup/internal/model"
	"github.com/salesbridge/followup/internal/pending"
	"github.com/salesbridge/followup/internal/scheduler"
	"github.com/salesbridge/followup/internal/store"
)

type Handler struct {
	sched      *scheduler.Scheduler
	recipients store.RecipientStore
	engine     *delivery.Engine
	workflow   *approval.Workflow
	escalation *escalation.Scheduler
	queue      *pending.Store
}

func NewHandler(
	sched *scheduler.Scheduler,
	recipients store.RecipientStore,
	engine *delivery.Engine,
	workflow *approval.Workflow,
	esc *escalation.Scheduler,
	queue *pending.Store,
) *Handler {
	return &Handler{
		sched:      sched,
		recipients: recipients,
		engine:     engine,
		workflow:   workflow,
		escalation: esc,
		queue:      queue,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := pending.Stats(r.Context(), h.recipients)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	recipient, err := h.recipients.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.queue.Deliverable(recipient)})
}

type proposeRequest struct {
	LeadID     string `json:"lead_id"`
	ApproverID string `json:"approver_id"`
	Category   string `json:"category"`
	Reason     string `json:"reason"`
	Text       string `json:"text"`
}

func (h *Handler) ProposeFollowup(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.LeadID == "" || req.ApproverID == "" || req.Text == "" {
		http.Error(w, "lead_id, approver_id and text are required", http.StatusBadRequest)
		return
	}

	created, err := h.workflow.Propose(r.Context(), req.LeadID, req.ApproverID, req.Category, req.Reason, req.Text)
	if errors.Is(err, approval.ErrActiveApproval) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "lead not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

type sendRequest struct {
	RecipientID string `json:"recipient_id"`
	Type        string `json:"type"`
	Text        string `json:"text"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.RecipientID == "" || req.Text == "" {
		http.Error(w, "recipient_id and text are required", http.StatusBadRequest)
		return
	}

	msgType := model.MessageType(req.Type)
	if !model.KnownType(msgType) {
		http.Error(w, "unknown message type", http.StatusBadRequest)
		return
	}

	method, err := h.engine.SendOrQueue(r.Context(), req.RecipientID, msgType, req.Text)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "recipient not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, delivery.ErrInvalidRecipient) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"method": method})
}

type inboundRequest struct {
	Phone     string     `json:"phone"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Inbound handles a reply arriving off the channel. Every reply reopens the
// sender's session and flushes queued content; staff replies are then offered
// to the approval workflow as commands.
func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Phone == "" {
		http.Error(w, "phone is required", http.StatusBadRequest)
		return
	}

	recipient, err := h.recipients.GetByPhone(r.Context(), req.Phone)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	at := time.Now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	// The inbound reopens the session before any command runs, so workflow
	// confirmations ride the now-open window instead of a template.
	if err := h.engine.HandleInbound(r.Context(), recipient.ID, at); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	handled := false
	if recipient.Role == model.RoleStaff {
		handled, err = h.workflow.HandleApproverReply(r.Context(), recipient.ID, req.Text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"recipient_id": recipient.ID, "command": handled})
}

func (h *Handler) ResetEscalation(w http.ResponseWriter, r *http.Request) {
	err := h.escalation.ResetCallFlag(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "recipient not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
