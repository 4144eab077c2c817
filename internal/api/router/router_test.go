package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cuongbtq/contacts-extractor/internal/api/dto"
	"github.com/cuongbtq/contacts-extractor/internal/api/handler"
	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/cuongbtq/contacts-extractor/internal/extraction"
	"github.com/cuongbtq/contacts-extractor/internal/metrics"
	"github.com/cuongbtq/contacts-extractor/internal/storage"
	"github.com/cuongbtq/contacts-extractor/internal/storage/storagetest"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopDispatcher struct {
	mu    sync.Mutex
	count int
}

func (d *noopDispatcher) Dispatch(string, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	return nil
}

func (d *noopDispatcher) Interrupt(string) bool { return false }

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router     *gin.Engine
	store      *storage.Storage
	dispatcher *noopDispatcher
}

func newTestServer(t *testing.T, health handler.HealthChecker) *testServer {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := storagetest.New(t)
	dispatcher := &noopDispatcher{}
	m := metrics.New()

	svc := extraction.NewService(extraction.DefaultConfig(), extraction.Dependencies{
		Logger:     logger,
		Storage:    store,
		Dispatcher: dispatcher,
		Metrics:    m,
	})

	r := SetupRouter(&handler.Dependencies{
		Logger:  logger,
		Service: svc,
		Health:  health,
	}, m)

	return &testServer{router: r, store: store, dispatcher: dispatcher}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := s.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	}
}

func TestReady(t *testing.T) {
	s := newTestServer(t, healthFunc(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/ready", "").Code)

	s = newTestServer(t, healthFunc(func(context.Context) error { return errors.New("connection refused") }))
	rec := s.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[dto.ErrorResponse](t, rec).Error)
}

func TestStartExtraction(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty token", `{"api_token":""}`, http.StatusBadRequest},
		{"missing token", `{}`, http.StatusBadRequest},
		{"malformed body", `{"api_token":`, http.StatusBadRequest},
		{"wrong prefix", `{"api_token":"xyz-1234567890"}`, http.StatusBadRequest},
		{"valid", `{"api_token":"pat-na1-1234567890"}`, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(http.MethodPost, "/api/v1/scan/start", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusAccepted {
				body := decode[dto.ErrorResponse](t, rec)
				assert.Equal(t, "invalid_credential", body.Error)
				assert.Contains(t, strings.ToLower(body.Message), "token")
				assert.Equal(t, 0, s.dispatcher.count)
				return
			}

			job := decode[dto.JobDTO](t, rec)
			assert.Equal(t, "pending", job.Status)
			assert.Nil(t, job.EndTime)
			assert.Equal(t, 1, s.dispatcher.count)

			status := s.do(http.MethodGet, "/api/v1/scan/status/"+job.JobID, "")
			assert.Equal(t, http.StatusOK, status.Code)
		})
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		rec := s.do(http.MethodGet, "/api/v1/scan/status/"+id, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decode[dto.ErrorResponse](t, rec)
		assert.Equal(t, "not_found", body.Error)
		assert.Contains(t, body.Message, "not found")
	}
}

func TestGetResult_LastPage(t *testing.T) {
	s := newTestServer(t, nil)
	job := storagetest.SeedCompleted(t, s.store, 10)
	require.Equal(t, 10, job.RecordCount)

	rec := s.do(http.MethodGet, "/api/v1/scan/result/"+job.JobID+"?limit=1&offset=9", "")
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[dto.PageResponse[dto.RecordDTO]](t, rec)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 10, page.Total)
	assert.Equal(t, 1, page.Limit)
	assert.Equal(t, 9, page.Offset)
	assert.Nil(t, page.Next)
	assert.Contains(t, rec.Body.String(), `"next":null`)
}

func TestGetResult_WalksAllPages(t *testing.T) {
	s := newTestServer(t, nil)
	job := storagetest.SeedCompleted(t, s.store, 7)

	seen := map[string]bool{}
	var ordered []string
	target := "/api/v1/scan/result/" + job.JobID + "?limit=3"
	for target != "" {
		rec := s.do(http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[dto.PageResponse[dto.RecordDTO]](t, rec)

		for _, r := range page.Data {
			assert.False(t, seen[r.IDFromService], "duplicate record %s", r.IDFromService)
			seen[r.IDFromService] = true
			ordered = append(ordered, r.IDFromService)
		}

		target = ""
		if page.Next != nil {
			assert.True(t, strings.HasPrefix(*page.Next, "http://example.com/api/v1/scan/result/"))
			target = strings.TrimPrefix(*page.Next, "http://example.com")
		}
	}

	assert.Equal(t, []string{"hs-0", "hs-1", "hs-2", "hs-3", "hs-4", "hs-5", "hs-6"}, ordered)
}

func TestGetResult_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	pending := storagetest.SeedWithStatus(t, s.store, domain.JobStatusPending)
	running := storagetest.SeedWithStatus(t, s.store, domain.JobStatusInProgress)
	done := storagetest.SeedCompleted(t, s.store, 2)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantText   string
	}{
		{"pending", "/api/v1/scan/result/" + pending.JobID, http.StatusConflict, "pending"},
		{"in progress", "/api/v1/scan/result/" + running.JobID, http.StatusConflict, "in progress"},
		{"unknown", "/api/v1/scan/result/" + uuid.NewString(), http.StatusNotFound, "not found"},
		{"zero limit", "/api/v1/scan/result/" + done.JobID + "?limit=0", http.StatusBadRequest, "limit"},
		{"negative offset", "/api/v1/scan/result/" + done.JobID + "?offset=-1", http.StatusBadRequest, "offset"},
		{"non numeric", "/api/v1/scan/result/" + done.JobID + "?limit=abc", http.StatusBadRequest, "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, decode[dto.ErrorResponse](t, rec).Message, tt.wantText)
		})
	}
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t, nil)
	pending := storagetest.SeedWithStatus(t, s.store, domain.JobStatusPending)
	completed := storagetest.SeedCompleted(t, s.store, 1)

	rec := s.do(http.MethodPost, "/api/v1/scan/cancel/"+pending.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[dto.JobDTO](t, rec)
	assert.Equal(t, "cancelled", job.Status)
	assert.NotNil(t, job.EndTime)

	rec = s.do(http.MethodPost, "/api/v1/scan/cancel/"+completed.JobID, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[dto.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_state", body.Error)
	assert.Contains(t, body.Message, "cannot cancel")

	rec = s.do(http.MethodPost, "/api/v1/scan/cancel/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveJob(t *testing.T) {
	s := newTestServer(t, nil)
	job := storagetest.SeedCompleted(t, s.store, 3)

	rec := s.do(http.MethodDelete, "/api/v1/scan/remove/"+job.JobID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/scan/status/"+job.JobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/scan/remove/"+job.JobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		storagetest.SeedWithStatus(t, s.store, domain.JobStatusFailed)
	}
	storagetest.SeedCompleted(t, s.store, 1)

	rec := s.do(http.MethodGet, "/api/v1/jobs/jobs?status=failed&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[dto.PageResponse[dto.JobDTO]](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Data, 2)
	require.NotNil(t, page.Next)
	assert.Contains(t, *page.Next, "status=failed")
	assert.Contains(t, *page.Next, "offset=2")

	rec = s.do(http.MethodGet, "/api/v1/jobs/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[dto.PageResponse[dto.JobDTO]](t, rec)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 10, page.Limit)
	assert.Nil(t, page.Next)

	rec = s.do(http.MethodGet, "/api/v1/jobs/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs_MaxOffset(t *testing.T) {
	s := newTestServer(t, nil)
	storagetest.SeedCompleted(t, s.store, 0)

	rec := s.do(http.MethodGet, "/api/v1/jobs/jobs?limit=10&offset=9223372036854775807", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[dto.PageResponse[dto.JobDTO]](t, rec)
	assert.Equal(t, 1, page.Total)
	assert.Empty(t, page.Data)
	assert.Nil(t, page.Next)
}

func TestStatistics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/jobs/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"average_extraction_time":null`)

	storagetest.SeedCompleted(t, s.store, 2)
	storagetest.SeedWithStatus(t, s.store, domain.JobStatusCancelled)

	rec = s.do(http.MethodGet, "/api/v1/jobs/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.Statistics](t, rec)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 1, stats.CancelledJobs)
	assert.Equal(t, stats.TotalJobs,
		stats.PendingJobs+stats.InProgressJobs+stats.CompletedJobs+stats.FailedJobs+stats.CancelledJobs)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodGet, "/health", "")

	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `contacts_extractor_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
