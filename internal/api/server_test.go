package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpharace/mailqueue/internal/config"
	"github.com/alpharace/mailqueue/internal/delivery"
	"github.com/alpharace/mailqueue/internal/models"
	"github.com/alpharace/mailqueue/internal/queue"
	"github.com/alpharace/mailqueue/internal/storage"
	"github.com/alpharace/mailqueue/internal/transport"
)

const testAdminKey = "mk_test_admin_key"

func newTestServer(t *testing.T) (*Server, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	engine := delivery.NewEngine(store, transport.NewConsole(log), delivery.DefaultBackoff(), 10, 3, log)
	scheduler := delivery.NewScheduler(engine, time.Hour, log)
	t.Cleanup(scheduler.Stop)
	svc := queue.NewService(store, engine, scheduler, 3, log)

	server := NewServer(config.ServerConfig{}, config.APIConfig{AdminKey: testAdminKey}, svc, log)
	return server, store
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAdminKey)
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessIsPublic(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/queue/process", nil, false)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestOperatorRoutesRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/stats", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec2 := httptest.NewRecorder()
	server.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestEnqueueEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/emails", queue.EnqueueRequest{
		Recipient: "a@b.com",
		Subject:   "Hi",
		HTMLBody:  "<p>x</p>",
		Priority:  5,
	}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var email models.Email
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &email))
	assert.NotEmpty(t, email.ID)
	assert.Equal(t, models.StatusPending, email.Status)
	assert.Equal(t, 5, email.Priority)
}

func TestEnqueueEndpointRejectsBadInput(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/emails", queue.EnqueueRequest{
		Recipient: "not-an-address",
		Subject:   "Hi",
		HTMLBody:  "<p>x</p>",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEmailEndpoint(t *testing.T) {
	server, store := newTestServer(t)

	e := &models.Email{Recipient: "a@b.com", Subject: "Hi", HTMLBody: "<p>x</p>"}
	require.NoError(t, store.CreateEmail(context.Background(), e))

	rec := doRequest(t, server, http.MethodGet, "/api/v1/emails/"+e.ID, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/emails/eml_missing", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEmailsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := &models.Email{Recipient: "a@b.com", Subject: "Hi", HTMLBody: "<p>x</p>"}
		require.NoError(t, store.CreateEmail(ctx, e))
	}

	rec := doRequest(t, server, http.MethodGet, "/api/v1/emails?status=pending&page=1&page_size=2", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Emails     []models.Email `json:"emails"`
		Pagination struct {
			Total      int64 `json:"total"`
			TotalPages int64 `json:"total_pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Emails, 2)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, int64(2), resp.Pagination.TotalPages)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/emails?status=bogus", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelEndpointBoundaries(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	pending := &models.Email{Recipient: "a@b.com", Subject: "Hi", HTMLBody: "<p>x</p>"}
	require.NoError(t, store.CreateEmail(ctx, pending))

	rec := doRequest(t, server, http.MethodPost, "/api/v1/emails/"+pending.ID+"/cancel", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	now := time.Now().UTC()
	sent := &models.Email{Recipient: "b@b.com", Subject: "Hi", HTMLBody: "<p>x</p>"}
	require.NoError(t, store.CreateEmail(ctx, sent))
	sent.Status = models.StatusSent
	sent.SentAt = &now
	require.NoError(t, store.UpdateEmail(ctx, sent))

	rec = doRequest(t, server, http.MethodPost, "/api/v1/emails/"+sent.ID+"/cancel", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequeueEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	failed := &models.Email{Recipient: "a@b.com", Subject: "Hi", HTMLBody: "<p>x</p>"}
	require.NoError(t, store.CreateEmail(ctx, failed))
	failed.Status = models.StatusFailed
	failed.AttemptCount = 3
	failed.LastError = "503"
	require.NoError(t, store.UpdateEmail(ctx, failed))

	rec := doRequest(t, server, http.MethodPost, "/api/v1/emails/"+failed.ID+"/requeue", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var email models.Email
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &email))
	assert.Equal(t, models.StatusPending, email.Status)
	assert.Equal(t, 0, email.AttemptCount)
}

func TestStatsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	e := &models.Email{Recipient: "a@b.com", Subject: "Hi", HTMLBody: "<p>x</p>"}
	require.NoError(t, store.CreateEmail(ctx, e))
	now := time.Now().UTC()
	e.Status = models.StatusSent
	e.SentAt = &now
	require.NoError(t, store.UpdateEmail(ctx, e))

	rec := doRequest(t, server, http.MethodGet, "/api/v1/stats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(1), stats.Total)
	assert.InDelta(t, 100.0, stats.SuccessRatePercent, 0.01)
}

func TestPurgeEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	e := &models.Email{
		Recipient: "a@b.com", Subject: "Hi", HTMLBody: "<p>x</p>",
		CreatedAt: time.Now().UTC().Add(-60 * 24 * time.Hour),
	}
	require.NoError(t, store.CreateEmail(ctx, e))
	e.Status = models.StatusSent
	require.NoError(t, store.UpdateEmail(ctx, e))

	rec := doRequest(t, server, http.MethodPost, "/api/v1/queue/purge", map[string]int{"max_age_days": 30}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp["removed"])
}

func TestLogEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	e := &models.Email{Recipient: "a@b.com", Subject: "Hi", HTMLBody: "<p>x</p>"}
	require.NoError(t, store.CreateEmail(ctx, e))
	now := time.Now().UTC()
	e.Status = models.StatusSent
	e.SentAt = &now
	require.NoError(t, store.UpdateEmail(ctx, e))

	rec := doRequest(t, server, http.MethodGet, "/api/v1/queue/log?limit=5", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var emails []models.Email
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &emails))
	require.Len(t, emails, 1)
	assert.Equal(t, models.StatusSent, emails[0].Status)
}
