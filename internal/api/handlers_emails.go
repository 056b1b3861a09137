package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alpharace/mailqueue/internal/models"
	"github.com/alpharace/mailqueue/internal/queue"
	"github.com/alpharace/mailqueue/internal/storage"
)

type EmailHandler struct {
	queue *queue.Service
}

func NewEmailHandler(q *queue.Service) *EmailHandler {
	return &EmailHandler{queue: q}
}

const maxBodySize = 256 * 1024 // 256KB

func (h *EmailHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req queue.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email, err := h.queue.Enqueue(r.Context(), req)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue email")
		return
	}

	writeJSON(w, http.StatusAccepted, email)
}

func (h *EmailHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email, err := h.queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "email not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get email")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (h *EmailHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.ListFilter{
		Recipient: q.Get("recipient"),
	}
	if status := q.Get("status"); status != "" {
		st := models.Status(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		filter.Status = st
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date, use YYYY-MM-DD")
			return
		}
		filter.CreatedAfter = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date, use YYYY-MM-DD")
			return
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.CreatedBefore = &end
	}

	pageNum, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	page := storage.Page{Page: pageNum, PageSize: pageSize}

	emails, total, err := h.queue.List(r.Context(), filter, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}
	if emails == nil {
		emails = []models.Email{}
	}

	totalPages := (total + int64(page.Limit()) - 1) / int64(page.Limit())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"emails": emails,
		"pagination": map[string]interface{}{
			"page":        max(pageNum, 1),
			"page_size":   page.Limit(),
			"total":       total,
			"total_pages": totalPages,
		},
	})
}

func (h *EmailHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email, err := h.queue.Requeue(r.Context(), id)
	if err != nil {
		writeOperatorError(w, err, "failed to requeue email")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (h *EmailHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email, err := h.queue.Cancel(r.Context(), id)
	if err != nil {
		writeOperatorError(w, err, "failed to cancel email")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func writeOperatorError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "email not found")
	case errors.Is(err, queue.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
