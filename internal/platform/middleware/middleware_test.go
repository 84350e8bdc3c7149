package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "01HZX3K9QW")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "01HZX3K9QW" {
			t.Errorf("expected 01HZX3K9QW, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	RequestID()(handler)(c)

	if got := rec.Header().Get(RequestIDHeader); got != "01HZX3K9QW" {
		t.Errorf("expected 01HZX3K9QW in response header, got %s", got)
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cohorts?page=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Logger(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"level":"info"`, `"request_id":"rid-1"`, `"path":"/cohorts"`, `"query":"page=1"`, `"status":200`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLogger_HTTPErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/cohorts/9", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	err := Logger(zerolog.New(&buf))(handler)(c)
	if err == nil {
		t.Fatal("expected the handler error to be returned")
	}
	if !strings.Contains(buf.String(), `"status":404`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("unexpected log line %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		value     any
		level     zerolog.Level
		wantCause string
		wantStack bool
	}{
		{"string value", "boom", zerolog.InfoLevel, "boom", false},
		{"error value kept", boom, zerolog.InfoLevel, "boom", false},
		{"stack at debug", "boom", zerolog.DebugLevel, "boom", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/cohorts", nil), httptest.NewRecorder())
			c.Set("request_id", "01HZX3K9QW")

			handler := func(c echo.Context) error {
				panic(tt.value)
			}

			err := Recovery(zerolog.New(&buf).Level(tt.level))(handler)(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500 HTTPError, got %v", err)
			}
			if he.Internal == nil || he.Internal.Error() != tt.wantCause {
				t.Errorf("Internal = %v, want %q", he.Internal, tt.wantCause)
			}
			if e, ok := tt.value.(error); ok && !errors.Is(he.Internal, e) {
				t.Errorf("expected the panic error to be preserved, got %v", he.Internal)
			}

			line := buf.String()
			for _, want := range []string{"handler panicked", `"request_id":"01HZX3K9QW"`, `"status":500`, `"path":"/api/cohorts"`} {
				if !strings.Contains(line, want) {
					t.Errorf("log line missing %s: %s", want, line)
				}
			}
			if got := strings.Contains(line, `"stack"`); got != tt.wantStack {
				t.Errorf("stack logged = %v, want %v", got, tt.wantStack)
			}
		})
	}
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	handler := func(c echo.Context) error {
		panic(http.ErrAbortHandler)
	}

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	_ = Recovery(zerolog.Nop())(handler)(c)
	t.Error("expected a panic")
}

func TestRateLimit_RejectsOverBudget(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	var last error
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		last = handler(e.NewContext(req, rec))
		if i < 2 && last != nil {
			t.Fatalf("request %d should pass: %v", i, last)
		}
		if i == 2 && rec.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
	}
	he, ok := last.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", last)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Errorf("expected other client to pass, got %v", err)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{})(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	for i := 0; i < 50; i++ {
		if err := handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
}

func TestLimiterStore_EvictsIdleBuckets(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, IdleTTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.get("a")
	now = now.Add(2 * time.Minute)
	s.get("b")
	if _, ok := s.buckets["a"]; ok {
		t.Error("expected idle bucket to be evicted")
	}
	if len(s.buckets) != 1 {
		t.Errorf("expected one bucket, got %d", len(s.buckets))
	}
}
