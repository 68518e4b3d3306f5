// Package messaging delivers SMS, WhatsApp and email notifications through
// Twilio and Resend, runs bulk campaigns against customer segments, and
// applies provider status callbacks.
package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Message is one outbound message handed to a provider.
type Message struct {
	Channel     string
	To          string
	Subject     string
	Body        string
	CallbackURL string
}

// Result is what a provider reports after accepting a message.
type Result struct {
	ProviderID string
	Status     string
}

// Provider sends a message using the given channel settings.
type Provider interface {
	Name() string
	Send(ctx context.Context, cs store.ChannelSettings, m Message) (Result, error)
}

// ProviderError is a non-2xx provider response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether the call is worth retrying.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode >= 500
}

// retryable reports whether err is a network failure or a 5xx.
func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// retrier runs provider calls with a fixed delay between attempts.
type retrier struct {
	maxAttempts int
	delay       time.Duration
	log         *logrus.Logger
}

// do calls fn until it succeeds, fails permanently or attempts run out. It
// returns the number of attempts made.
func (r retrier) do(ctx context.Context, provider string, fn func() (Result, error)) (Result, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			metrics.ProviderAttempt(provider, "ok")
			return res, attempt, nil
		}
		lastErr = err
		if !retryable(err) {
			metrics.ProviderAttempt(provider, "rejected")
			return Result{}, attempt, err
		}
		metrics.ProviderAttempt(provider, "retry")
		r.log.WithError(err).WithFields(logrus.Fields{
			"provider": provider,
			"attempt":  attempt,
		}).Warn("provider call failed")

		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return Result{}, attempt, ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return Result{}, r.maxAttempts, lastErr
}

// doRequest executes req and returns the body of a 2xx response. Other
// statuses become a *ProviderError whose message is extracted by errMsg.
func doRequest(client *http.Client, req *http.Request, provider string, errMsg func([]byte) string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s read response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errMsg(body)
		if msg == "" {
			msg = string(bytes.TrimSpace(body))
		}
		return nil, &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}
