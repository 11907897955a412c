package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mylog "github.com/mohammed-shakir/imagery-composer/internal/logger"
	"github.com/mohammed-shakir/imagery-composer/internal/session"
)

func TestSession_PutsIDOnContext(t *testing.T) {
	var seen string
	h := Session(time.Hour)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = mylog.SessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "abc"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc" || rr.Header().Get(session.Header) != "abc" {
		t.Fatalf("seen=%q header=%q", seen, rr.Header().Get(session.Header))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc" {
		t.Fatalf("expected a fresh id, got %q", seen)
	}
}

func TestRecover_LogsSessionAndReturns500(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Session(time.Hour)(Recover(l)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })))

	req := httptest.NewRequest(http.MethodPost, "/api/draw-end", nil)
	req.Header.Set(session.Header, "s-9")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	line := buf.String()
	if !strings.Contains(line, `"session_id":"s-9"`) || !strings.Contains(line, `"path":"/api/draw-end"`) {
		t.Fatalf("log line %q", line)
	}
}

func TestRecover_RepanicsOnAbort(t *testing.T) {
	h := Recover(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
