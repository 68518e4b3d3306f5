package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// codeRegex matches 4-6 digit codes in message bodies.
var codeRegex = regexp.MustCompile(`\b(\d{4,6})\b`)

// SentMessage is one message accepted by a fake provider.
type SentMessage struct {
	ID      string
	To      string
	From    string
	Subject string
	Body    string
	// Callback is the StatusCallback Twilio was asked to use.
	Callback string
}

// Fault makes the next Count calls to a fake fail with StatusCode.
type Fault struct {
	StatusCode int
	Count      int
}

type fakeBase struct {
	mu       sync.Mutex
	messages []SentMessage
	faults   []Fault
	calls    int
	counter  int
}

// Fail queues a fault ahead of any already queued.
func (f *fakeBase) Fail(statusCode, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, Fault{StatusCode: statusCode, Count: count})
}

// Calls returns how many send requests reached the fake, failed or not.
func (f *fakeBase) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Messages returns the accepted messages in send order.
func (f *fakeBase) Messages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

// LastCode returns the last 4-6 digit code sent to to, or "".
func (f *fakeBase) LastCode(to string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].To != to {
			continue
		}
		if m := codeRegex.FindAllString(f.messages[i].Body, -1); len(m) > 0 {
			return m[len(m)-1]
		}
	}
	return ""
}

// fault consumes one queued failure, returning its status or 0.
func (f *fakeBase) fault() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.faults) == 0 {
		return 0
	}
	code := f.faults[0].StatusCode
	f.faults[0].Count--
	if f.faults[0].Count <= 0 {
		f.faults = f.faults[1:]
	}
	return code
}

func (f *fakeBase) record(prefix string, m SentMessage) SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	m.ID = fmt.Sprintf("%s%06d", prefix, f.counter)
	f.messages = append(f.messages, m)
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// FakeTwilio serves the Twilio Messages API.
type FakeTwilio struct {
	fakeBase
	*httptest.Server
}

// NewFakeTwilio starts a fake Twilio server closed at test cleanup.
func NewFakeTwilio(t *testing.T) *FakeTwilio {
	f := &FakeTwilio{}
	r := chi.NewRouter()
	r.Post("/2010-04-01/Accounts/{AccountSid}/Messages.json", f.createMessage)
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeTwilio) createMessage(w http.ResponseWriter, r *http.Request) {
	if code := f.fault(); code != 0 {
		writeJSON(w, code, map[string]any{"code": 20500, "message": "injected fault", "status": code})
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user == "" || pass == "" || user != chi.URLParam(r, "AccountSid") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 20003, "message": "Authenticate", "status": 401})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 21601, "message": "Unable to parse form data: " + err.Error(), "status": 400})
		return
	}
	to, from, body := r.FormValue("To"), r.FormValue("From"), r.FormValue("Body")
	switch {
	case to == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 21604, "message": "A 'To' phone number is required.", "status": 400})
		return
	case from == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 21603, "message": "A 'From' phone number is required.", "status": 400})
		return
	case body == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 21602, "message": "Message body is required.", "status": 400})
		return
	}

	m := f.record("SM", SentMessage{To: to, From: from, Body: body, Callback: r.FormValue("StatusCallback")})
	writeJSON(w, http.StatusCreated, map[string]any{
		"sid":         m.ID,
		"account_sid": chi.URLParam(r, "AccountSid"),
		"to":          to,
		"from":        from,
		"body":        body,
		"status":      "queued",
		"direction":   "outbound-api",
	})
}

// FakeResend serves the Resend emails API.
type FakeResend struct {
	fakeBase
	*httptest.Server
}

// NewFakeResend starts a fake Resend server closed at test cleanup.
func NewFakeResend(t *testing.T) *FakeResend {
	f := &FakeResend{}
	r := chi.NewRouter()
	r.Post("/emails", f.sendEmail)
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeResend) sendEmail(w http.ResponseWriter, r *http.Request) {
	if code := f.fault(); code != 0 {
		writeJSON(w, code, map[string]any{"statusCode": code, "message": "injected fault", "name": "application_error"})
		return
	}
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"statusCode": 401, "message": "Missing API key", "name": "missing_api_key"})
		return
	}
	var req struct {
		From    string   `json:"from"`
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		HTML    string   `json:"html"`
		Text    string   `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"statusCode": 422, "message": "Invalid request body: " + err.Error(), "name": "validation_error"})
		return
	}
	switch {
	case req.From == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"statusCode": 422, "message": "The 'from' field is required.", "name": "validation_error"})
		return
	case len(req.To) == 0:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"statusCode": 422, "message": "The 'to' field is required and must contain at least one email address.", "name": "validation_error"})
		return
	case req.Subject == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"statusCode": 422, "message": "The 'subject' field is required.", "name": "validation_error"})
		return
	}

	body := req.Text
	if body == "" {
		body = req.HTML
	}
	m := f.record("em_", SentMessage{To: req.To[0], From: req.From, Subject: req.Subject, Body: body})
	writeJSON(w, http.StatusOK, map[string]any{"id": m.ID})
}
