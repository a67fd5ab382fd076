package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// APIHandler exposes the operator/dashboard surface over HTTP: a read-only
// health snapshot plus the mutation operations an operator needs (threshold
// tuning, dead letter remediation, processor restart).
type APIHandler struct {
	monitor   *Monitor
	dlq       *DeadLetterStore
	processor *Processor
	executor  Executor
}

// NewAPIHandler creates the operator API router.
func NewAPIHandler(monitor *Monitor, dlq *DeadLetterStore, processor *Processor, executor Executor) http.Handler {
	h := &APIHandler{
		monitor:   monitor,
		dlq:       dlq,
		processor: processor,
		executor:  executor,
	}

	r := chi.NewRouter()
	r.Get("/dashboard", h.dashboard)
	r.Get("/health", h.health)
	r.Put("/thresholds", h.updateThresholds)
	r.Put("/interval", h.updateInterval)
	r.Post("/processor/restart", h.restartProcessor)
	r.Route("/dead-letters", func(r chi.Router) {
		r.Get("/", h.listDeadLetters)
		r.Get("/stats", h.deadLetterStats)
		r.Get("/{id}", h.getDeadLetter)
		r.Post("/{id}/retry", h.retryDeadLetter)
		r.Post("/{id}/resolve", h.resolveDeadLetter)
		r.Delete("/{id}", h.deleteDeadLetter)
	})
	return r
}

func (h *APIHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

func (h *APIHandler) health(w http.ResponseWriter, r *http.Request) {
	score := h.monitor.HealthScore()
	status := h.monitor.HealthStatus()

	code := http.StatusOK
	if status == HealthCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"health_score": score,
		"status":       status,
	})
}

func (h *APIHandler) updateThresholds(w http.ResponseWriter, r *http.Request) {
	var update ThresholdUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.monitor.UpdateThresholds(update)
	writeJSON(w, http.StatusOK, h.monitor.CurrentThresholds())
}

func (h *APIHandler) updateInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IntervalMs int64 `json:"interval_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.IntervalMs <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("interval_ms must be positive"))
		return
	}
	h.monitor.UpdateInterval(time.Duration(body.IntervalMs) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{"interval_ms": body.IntervalMs})
}

func (h *APIHandler) restartProcessor(w http.ResponseWriter, r *http.Request) {
	if err := h.processor.Restart(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": h.processor.Running()})
}

func (h *APIHandler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	filter := DeadLetterFilter{
		Status:        DeadLetterStatus(r.URL.Query().Get("status")),
		OperationType: r.URL.Query().Get("operation_type"),
		Limit:         50,
	}
	entries, err := h.dlq.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *APIHandler) deadLetterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dlq.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entry, err := h.dlq.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *APIHandler) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	result, err := h.dlq.Retry(r.Context(), id, h.executor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": DeadLetterResolved,
		"result": result,
	})
}

func (h *APIHandler) resolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.dlq.Resolve(r.Context(), id, body.Notes); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": DeadLetterResolved})
}

func (h *APIHandler) deleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.dlq.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid entry id"))
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEntryResolved), errors.Is(err, ErrEntryRetrying):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
