// dephealth_test.go — unit-тесты конструктора мониторинга зависимостей.
package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDephealthService(t *testing.T) {
	deps := []HTTPDependency{
		{Name: "firebase-jwks", URL: "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com", Critical: true},
	}
	ds, err := NewDephealthServiceWithRegisterer("finportal", "finportal", deps, 15*time.Second, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDephealthServiceWithRegisterer: %v", err)
	}
	if len(ds.names) != 1 || ds.names[0] != "firebase-jwks" {
		t.Errorf("names = %v", ds.names)
	}
}

func TestNewDephealthService_Invalid(t *testing.T) {
	tests := []struct {
		name string
		deps []HTTPDependency
	}{
		{"без зависимостей", nil},
		{"URL без хоста", []HTTPDependency{{Name: "jwks", URL: "/only/path"}}},
		{"неразборчивый URL", []HTTPDependency{{Name: "jwks", URL: "http://[::1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDephealthServiceWithRegisterer("finportal", "finportal", tt.deps, time.Second, testLogger(), prometheus.NewRegistry())
			if err == nil {
				t.Error("ожидалась ошибка")
			}
		})
	}
}
