package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	status, message string
}

func (s stubChecker) CheckReady() (string, string) {
	return s.status, s.message
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"ok", "ok"}, "ok"},
		{[]string{"ok", "degraded"}, "degraded"},
		{[]string{"degraded", "fail"}, "fail"},
		{nil, "ok"},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.in...); got != tt.want {
			t.Errorf("overallStatus(%v) = %q, ожидался %q", tt.in, got, tt.want)
		}
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var resp healthLiveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Service != "finportal" || resp.Status != "ok" {
		t.Errorf("неверный ответ: %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		store    ReadinessChecker
		optional map[string]ReadinessChecker
		wantCode int
		want     string
	}{
		{"всё ok", stubChecker{"ok", ""}, map[string]ReadinessChecker{"redis": stubChecker{"ok", ""}},
			http.StatusOK, "ok"},
		{"redis degraded", stubChecker{"ok", ""}, map[string]ReadinessChecker{"redis": stubChecker{"degraded", "slow"}},
			http.StatusOK, "degraded"},
		{"airtable fail", stubChecker{"fail", "401"}, nil, http.StatusServiceUnavailable, "fail"},
		{"airtable не настроен", nil, nil, http.StatusServiceUnavailable, "fail"},
		{"rabbitmq отключён", stubChecker{"ok", ""},
			map[string]ReadinessChecker{"rabbitmq": ErrorChecker{Check: func() error { return errors.New("closed") }}},
			http.StatusOK, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, tt.optional)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("ожидался %d, получен %d", tt.wantCode, rec.Code)
			}
			var resp healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.want {
				t.Errorf("status = %q, ожидался %q", resp.Status, tt.want)
			}
			if _, ok := resp.Checks["airtable"]; !ok {
				t.Error("в ответе нет проверки airtable")
			}
		})
	}
}

func TestErrorChecker_FailStatus(t *testing.T) {
	c := ErrorChecker{Check: func() error { return errors.New("down") }, FailStatus: statusFail}
	if st, _ := c.CheckReady(); st != statusFail {
		t.Errorf("ожидался fail, получен %q", st)
	}
	ok := ErrorChecker{Check: func() error { return nil }}
	if st, _ := ok.CheckReady(); st != statusOK {
		t.Errorf("ожидался ok, получен %q", st)
	}
}
