package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("GET /v1/stats", h.Stats)
	mux.HandleFunc("GET /v1/recipients/{id}/pending", h.ListPending)
	mux.HandleFunc("POST /v1/recipients/{id}/escalation/reset", h.ResetEscalation)

	mux.HandleFunc("POST /v1/followups", h.ProposeFollowup)
	mux.HandleFunc("POST /v1/messages", h.SendMessage)
	mux.HandleFunc("POST /v1/webhooks/inbound", h.Inbound)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("followup"))
	})

	return mux
}
