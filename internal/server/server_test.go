package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/config"
	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// ---------------------------------------------------------------------------
// RequestLog
// ---------------------------------------------------------------------------

func TestRequestLogRingBuffer(t *testing.T) {
	rl := NewRequestLog(3)
	for i := 0; i < 5; i++ {
		rl.Add(RequestLogEntry{Path: "/" + string(rune('a'+i))})
	}

	entries := rl.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring buffer), got %d", len(entries))
	}
	if entries[0].Path != "/c" || entries[2].Path != "/e" {
		t.Errorf("unexpected order: %+v", entries)
	}

	entries[0].Path = "/mutated"
	if rl.Entries()[0].Path != "/c" {
		t.Error("Entries did not return a copy; mutation leaked")
	}

	rl.Clear()
	if len(rl.Entries()) != 0 {
		t.Errorf("expected 0 entries after clear, got %d", len(rl.Entries()))
	}
}

func newTestServer() *Server {
	return New(config.ServerConfig{CORSOrigins: []string{"https://admin.example.com"}}, logging.Discard())
}

func TestLoggingRecordsRequest(t *testing.T) {
	s := newTestServer()
	s.Router.Get("/api/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		NoteStaff(r, 7)
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/customers/3?expand=ledger", nil)
	s.ServeHTTP(httptest.NewRecorder(), req)

	entries := s.ReqLog.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Method != "GET" || e.Path != "/api/customers/3" || e.Query != "expand=ledger" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.StatusCode != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", e.StatusCode)
	}
	if e.RequestID == "" {
		t.Error("expected a request id")
	}
	if e.StaffID == nil || *e.StaffID != 7 {
		t.Errorf("expected staff id 7, got %v", e.StaffID)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer()
	s.Router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	pre := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	pre.Header.Set("Origin", "https://admin.example.com")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, pre)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Errorf("unexpected allow origin %q", got)
	}

	other := httptest.NewRequest(http.MethodGet, "/ping", nil)
	other.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got CORS header %q", got)
	}
}

func TestRateLimiterPerIdentity(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote string, claims *auth.Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if claims != nil {
			req = req.WithContext(auth.WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Different ports on the same host share a budget.
	for i, port := range []string{"1000", "1001"} {
		if code := call("10.0.0.1:"+port, nil); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := call("10.0.0.1:1002", nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", code)
	}

	staff := &auth.Claims{StaffID: 5}
	if code := call("10.0.0.1:1003", staff); code != http.StatusOK {
		t.Fatalf("authenticated staff has its own budget, got %d", code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	h := NewRateLimiter(0, 0).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("customer 3: %w", store.ErrNotFound), 404, "not_found"},
		{fmt.Errorf("email taken: %w", store.ErrConflict), 409, "conflict"},
		{store.ErrInsufficientPoints, 422, "insufficient_points"},
		{store.ErrOutOfStock, 422, "out_of_stock"},
		{store.ErrInactive, 422, "inactive"},
		{store.ErrInUse, 409, "in_use"},
		{store.ErrInvalidParam, 400, "bad_request"},
		{apperr.Forbidden("nope"), 403, "forbidden"},
		{errors.New("db down"), 500, "internal_error"},
	}
	for _, tt := range tests {
		e := Classify(tt.err)
		if e.Status != tt.status || e.Code != tt.code {
			t.Errorf("%v: got %d %s, want %d %s", tt.err, e.Status, e.Code, tt.status, tt.code)
		}
	}
}

func TestErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	Error(rec, req, logging.Discard(), apperr.Validation(map[string]string{"email": "is required"}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "validation_failed" || body.Error.Fields["email"] != "is required" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	Error(rec, req, logging.Discard(), errors.New("pq: connection refused"))
	if strings.Contains(rec.Body.String(), "pq:") {
		t.Errorf("internal error detail leaked: %s", rec.Body.String())
	}
}

func TestDecode(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	decode := func(body, ct string) error {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		return Decode(httptest.NewRecorder(), req, &dst)
	}

	if err := decode(`{"name":"Ana"}`, "application/json; charset=utf-8"); err != nil || dst.Name != "Ana" {
		t.Fatalf("unexpected: %v %q", err, dst.Name)
	}
	cases := []struct {
		body string
		want int
	}{
		{"", 400},
		{`{"name":`, 400},
		{`{"nmae":"x"}`, 400},
		{`{"name":"a"} {"name":"b"}`, 400},
		{`{"name":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, 413},
	}
	for _, c := range cases {
		e, ok := apperr.As(decode(c.body, ""))
		if !ok || e.Status != c.want {
			t.Errorf("body %.20q: expected %d, got %v", c.body, c.want, e)
		}
	}
	if e, _ := apperr.As(decode(`{}`, "text/plain")); e == nil || e.Status != 415 {
		t.Errorf("expected 415 for text/plain, got %v", e)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer()
	s.Router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
