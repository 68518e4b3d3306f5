package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/messaging"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
)

const maxWebhookBytes = 1 << 20

// TwilioStatus handles Twilio message status callbacks.
func (h *Handler) TwilioStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, apperr.BadRequest("invalid form body"))
		return
	}
	err := h.messaging.HandleTwilioStatus(r.Context(), h.requestURL(r), r.PostForm, r.Header.Get("X-Twilio-Signature"))
	if err != nil {
		h.fail(w, r, webhookError(err))
		return
	}
	server.NoContent(w)
}

// ResendEvent handles Resend webhook events.
func (h *Handler) ResendEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.fail(w, r, apperr.BadRequest("could not read body"))
		return
	}
	if err := h.messaging.HandleResendEvent(r.Context(), body, r.Header); err != nil {
		h.fail(w, r, webhookError(err))
		return
	}
	server.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

// requestURL rebuilds the URL the provider signed. A configured public URL
// wins over the request host.
func (h *Handler) requestURL(r *http.Request) string {
	if h.publicURL != "" {
		return strings.TrimRight(h.publicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func webhookError(err error) error {
	switch {
	case errors.Is(err, messaging.ErrBadSignature):
		return apperr.New(http.StatusForbidden, "invalid_signature", "invalid webhook signature")
	case errors.Is(err, messaging.ErrBadEvent):
		return apperr.BadRequest(err.Error())
	}
	return err
}
