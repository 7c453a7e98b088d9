package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "appTEST", "pat-secret", srv.Client(), 0, testLogger())
}

func TestClient_ListPaginates(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v0/appTEST/Files", r.URL.Path)
		assert.Equal(t, "Bearer pat-secret", r.Header.Get("Authorization"))
		assert.Equal(t, "Grid view", r.URL.Query().Get("view"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("offset") {
		case "":
			_, _ = io.WriteString(w, `{"records":[{"id":"rec1","fields":{"name":"a"}},{"id":"rec2","fields":{"name":"b"}}],"offset":"itr2"}`)
		case "itr2":
			_, _ = io.WriteString(w, `{"records":[{"id":"rec3","fields":{"name":"c"}}]}`)
		default:
			t.Errorf("неожиданный offset %q", r.URL.Query().Get("offset"))
		}
	})

	records, err := client.List(context.Background(), "Files", ListOptions{View: "Grid view"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "rec3", records[2].ID)
	assert.Equal(t, "c", records[2].String("name"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_ListMaxRecordsStopsEarly(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("maxRecords"))
		_, _ = io.WriteString(w, `{"records":[{"id":"rec1","fields":{}},{"id":"rec2","fields":{}},{"id":"rec3","fields":{}}],"offset":"more"}`)
	})

	records, err := client.List(context.Background(), "Files", ListOptions{MaxRecords: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestClient_ListQueryParameters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, `AND({date} >= '2026-10-01', {date} <= '2026-10-07')`, q.Get("filterByFormula"))
		assert.Equal(t, "timestamp", q.Get("sort[0][field]"))
		assert.Equal(t, "desc", q.Get("sort[0][direction]"))
		assert.Equal(t, []string{"userId", "action"}, q["fields[]"])
		assert.Equal(t, "100", q.Get("pageSize"))
		_, _ = io.WriteString(w, `{"records":[]}`)
	})

	_, err := client.List(context.Background(), "Activity_Logs", ListOptions{
		Formula: Between("date", "2026-10-01", "2026-10-07"),
		Sort:    []Sort{{Field: "timestamp", Direction: "desc"}},
		Fields:  []string{"userId", "action"},
	})
	require.NoError(t, err)
}

func TestClient_CreateSendsFieldsWithTypecast(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Fields   map[string]any `json:"fields"`
			Typecast bool           `json:"typecast"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Typecast)
		assert.Equal(t, "login", body.Fields["action"])

		_, _ = io.WriteString(w, `{"id":"recNEW","fields":{"action":"login"}}`)
	})

	rec, err := client.Create(context.Background(), "Activity_Logs", map[string]any{"action": "login"})
	require.NoError(t, err)
	assert.Equal(t, "recNEW", rec.ID)
}

func TestClient_UpdateUsesPatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v0/appTEST/File_Stats/rec42", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"rec42","fields":{"downloadCount":3}}`)
	})

	rec, err := client.Update(context.Background(), "File_Stats", "rec42", map[string]any{"downloadCount": 3})
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.Int("downloadCount"))
}

func TestClient_APIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  string
		permanent bool
	}{
		{"объект ошибки", http.StatusUnprocessableEntity, `{"error":{"type":"INVALID_FILTER_BY_FORMULA","message":"bad formula"}}`, "INVALID_FILTER_BY_FORMULA", true},
		{"строка ошибки", http.StatusNotFound, `{"error":"NOT_FOUND"}`, "NOT_FOUND", true},
		{"авторизация", http.StatusUnauthorized, `{"error":{"type":"AUTHENTICATION_REQUIRED","message":"no key"}}`, "AUTHENTICATION_REQUIRED", true},
		{"rate limit", http.StatusTooManyRequests, `{"errors":[]}`, "", false},
		{"ошибка сервера", http.StatusBadGateway, `oops`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.List(context.Background(), "Files", ListOptions{})
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantType, apiErr.Type)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := New(srv.URL, "appTEST", "key", &http.Client{Timeout: time.Second}, 0, testLogger())
	_, err := client.List(context.Background(), "Files", ListOptions{})
	require.Error(t, err)

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.False(t, IsPermanent(err))
}

func TestClient_FirstNoRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"records":[]}`)
	})

	_, err := client.First(context.Background(), "File_Stats", ListOptions{Formula: Eq("fileName", "x")})
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestReadinessChecker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	status, _ := NewReadinessChecker(client, "Files", time.Second).CheckReady()
	assert.Equal(t, "degraded", status)

	okClient := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"records":[]}`)
	})
	status, _ = NewReadinessChecker(okClient, "Files", time.Second).CheckReady()
	assert.Equal(t, "ok", status)
}

func TestReadinessChecker_AuthError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"type":"AUTHENTICATION_REQUIRED","message":"Authentication required"}}`)
	})

	status, msg := NewReadinessChecker(client, "Files", time.Second).CheckReady()
	assert.Equal(t, "fail", status)
	assert.Contains(t, msg, "API-ключ")
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(&APIError{StatusCode: http.StatusUnauthorized}))
	assert.True(t, IsAuthError(fmt.Errorf("list: %w", &APIError{StatusCode: http.StatusForbidden})))
	assert.False(t, IsAuthError(&APIError{StatusCode: http.StatusUnprocessableEntity}))
	assert.False(t, IsAuthError(errors.New("timeout")))
}
