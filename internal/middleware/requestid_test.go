package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Strob0t/StreamForge/internal/logger"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"propagated", "req-123", true},
		{"oversized replaced", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				ctxID = logger.RequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			respID := rec.Header().Get("X-Request-ID")
			if respID != ctxID {
				t.Errorf("response id %q != context id %q", respID, ctxID)
			}
			if tt.keep {
				if respID != tt.incoming {
					t.Errorf("id = %q, want %q", respID, tt.incoming)
				}
				return
			}
			if _, err := uuid.Parse(respID); err != nil {
				t.Errorf("generated id %q is not a uuid", respID)
			}
		})
	}
}
