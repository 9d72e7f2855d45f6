package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Success(c, http.StatusOK, nil) })

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"reuses well-formed id", "abc-123_x.y", true},
		{"replaces missing id", "", false},
		{"replaces id with spaces", "bad id", false},
		{"replaces id with newline", "a\nb", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			r.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if tt.keep && got != tt.header {
				t.Fatalf("X-Request-ID = %q, want %q", got, tt.header)
			}
			if !tt.keep && (got == "" || got == tt.header) {
				t.Fatalf("X-Request-ID = %q, want a fresh id", got)
			}

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Metadata.RequestID != got {
				t.Errorf("metadata request_id = %q, header %q", body.Metadata.RequestID, got)
			}
		})
	}
}

func TestFailCarriesServerTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fixed := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	Now = func() time.Time { return fixed }
	t.Cleanup(func() { Now = time.Now })

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Fail(c, http.StatusConflict, ErrInvalidTransition)

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if body.Error == nil || body.Error.Code != ErrInvalidTransition || body.Error.Message == "" {
		t.Fatalf("error body = %+v", body.Error)
	}
	if body.Metadata.ServerTimeMillis != fixed.UnixMilli() {
		t.Errorf("server_time_ms = %d, want %d", body.Metadata.ServerTimeMillis, fixed.UnixMilli())
	}
	if body.Metadata.RequestID == "" {
		t.Error("expected fallback request id")
	}
}
