package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okPing(context.Context) error { return nil }

func failingPing(context.Context) error { return errors.New("connection refused") }

func TestHandler_Healthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewPingChecker("postgres", okPing))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHandler_StatusAggregation(t *testing.T) {
	tests := []struct {
		name     string
		checkers map[string]*PingChecker
		want     Status
		wantCode int
	}{
		{
			name:     "no checkers",
			want:     StatusHealthy,
			wantCode: http.StatusOK,
		},
		{
			name: "optional dependency down",
			checkers: map[string]*PingChecker{
				"postgres": NewPingChecker("postgres", okPing),
				"redis":    NewPingChecker("redis", failingPing, Optional()),
			},
			want:     StatusDegraded,
			wantCode: http.StatusOK,
		},
		{
			name: "critical dependency down",
			checkers: map[string]*PingChecker{
				"postgres": NewPingChecker("postgres", failingPing),
				"redis":    NewPingChecker("redis", failingPing, Optional()),
			},
			want:     StatusUnhealthy,
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("test")
			for name, checker := range tt.checkers {
				handler.RegisterChecker(name, checker)
			}

			status, _ := handler.Run(context.Background())
			if status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, status)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}

func TestPingChecker_Timeout(t *testing.T) {
	checker := NewPingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(20*time.Millisecond))

	check := checker.Check(context.Background())
	if check.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", check.Status)
	}
	if check.Message == "" {
		t.Error("expected error message")
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got '%s'", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("test")
	handler.RegisterChecker("redis", NewPingChecker("redis", failingPing, Optional()))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("degraded service should stay ready, got %d", w.Code)
	}

	handler.RegisterChecker("postgres", NewPingChecker("postgres", failingPing))
	w = httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("expected 'not ready', got '%s'", w.Body.String())
	}
}
