package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, config Config) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config.BaseURL = server.URL
	client, err := NewClient(config, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return client
}

func TestClient_Fetch_FollowsPaging(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/crm/v3/objects/contacts", r.URL.Path)
		assert.Equal(t, "Bearer pat-na1-secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "email,firstname,lastname", r.URL.Query().Get("properties"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("after") {
		case "":
			fmt.Fprint(w, `{"results":[
				{"id":"1","properties":{"email":"a@example.com","firstname":"Ann","lastname":"Lee"}},
				{"id":"2","properties":{"email":"b@example.com","firstname":null,"lastname":"Kim"}}
			],"paging":{"next":{"after":"2"}}}`)
		case "2":
			fmt.Fprint(w, `{"results":[{"id":"3","properties":{"email":"c@example.com"}}]}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	}, Config{PageSize: 2})

	records, err := client.Fetch(context.Background(), "pat-na1-secret")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, records, 3)
	assert.Equal(t, domain.Record{Email: "a@example.com", FirstName: "Ann", LastName: "Lee", IDFromService: "1"}, records[0])
	assert.Equal(t, "", records[1].FirstName, "null properties become empty strings")
	assert.Equal(t, "3", records[2].IDFromService)
	assert.Equal(t, "", records[2].LastName)
}

func TestClient_Fetch_EmptyAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}, Config{})

	records, err := client.Fetch(context.Background(), "pat-token-1234")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestClient_Fetch_MaxRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"id":"1"},{"id":"2"},{"id":"3"}],"paging":{"next":{"after":"next"}}}`)
	}, Config{MaxRecords: 2})

	records, err := client.Fetch(context.Background(), "pat-token-1234")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestClient_Fetch_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		body       string
		wantKind   domain.FetchErrorKind
		wantSubstr string
	}{
		{
			name:       "unauthorized",
			status:     http.StatusUnauthorized,
			body:       `{"message":"Authentication credentials not found"}`,
			wantKind:   domain.FetchErrorAuthentication,
			wantSubstr: "authentication",
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			wantKind: domain.FetchErrorAuthentication,
		},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			header:     map[string]string{"Retry-After": "10"},
			wantKind:   domain.FetchErrorRateLimited,
			wantSubstr: "retry after 10s",
		},
		{
			name:       "server error",
			status:     http.StatusBadGateway,
			body:       "bad gateway",
			wantKind:   domain.FetchErrorUpstream,
			wantSubstr: "status 502",
		},
		{
			name:     "invalid json",
			status:   http.StatusOK,
			body:     `{"results":`,
			wantKind: domain.FetchErrorMalformed,
		},
		{
			name:       "schema violation",
			status:     http.StatusOK,
			body:       `{"results":[{"properties":{}}]}`,
			wantKind:   domain.FetchErrorMalformed,
			wantSubstr: "schema",
		},
		{
			name:     "results missing",
			status:   http.StatusOK,
			body:     `{"total":0}`,
			wantKind: domain.FetchErrorMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}, Config{})

			records, err := client.Fetch(context.Background(), "pat-token-1234")
			require.Error(t, err)
			assert.Nil(t, records)

			var fetchErr *domain.FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.wantKind, fetchErr.Kind)
			if tt.wantSubstr != "" {
				assert.Contains(t, err.Error(), tt.wantSubstr)
			}
		})
	}
}

func TestClient_Fetch_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := NewClient(Config{BaseURL: server.URL}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "pat-token-1234")
	require.Error(t, err)
	assert.Equal(t, string(domain.FetchErrorNetwork), domain.FetchErrorKindOf(err))
}

func TestClient_Fetch_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, "pat-token-1234")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
