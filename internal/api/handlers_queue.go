package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alpharace/mailqueue/internal/models"
	"github.com/alpharace/mailqueue/internal/queue"
)

type QueueHandler struct {
	queue *queue.Service
}

func NewQueueHandler(q *queue.Service) *QueueHandler {
	return &QueueHandler{queue: q}
}

func (h *QueueHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mailqueue",
	})
}

func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Process triggers one cycle and returns immediately; the work happens in
// the background and any failure is logged server-side.
func (h *QueueHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.queue.ForceCycle()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "processing started",
	})
}

type purgeRequest struct {
	MaxAgeDays int `json:"max_age_days"`
}

func (h *QueueHandler) Purge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if r.Body != nil {
		// Empty body means the default retention window.
		json.NewDecoder(r.Body).Decode(&req)
	}

	removed, err := h.queue.PurgeOld(r.Context(), req.MaxAgeDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to purge old emails")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"removed": removed,
	})
}

func (h *QueueHandler) Log(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	emails, err := h.queue.RecentLog(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get processing log")
		return
	}
	if emails == nil {
		emails = []models.Email{}
	}
	writeJSON(w, http.StatusOK, emails)
}
