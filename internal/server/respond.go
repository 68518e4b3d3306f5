package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Data wraps v in {"data": v}.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, map[string]any{"data": v})
}

// NoContent writes 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error *apperr.Error `json:"error"`
}

// Error renders err as {"error":{"code","message","fields"}}. Errors that do
// not map to a client error are logged and reported as 500 without detail.
func Error(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	e := Classify(err)
	if e.Status >= http.StatusInternalServerError && log != nil {
		log.WithFields(logrus.Fields{
			"request_id": chimw.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	JSON(w, e.Status, errorBody{Error: e})
}

// Classify maps err to the client-facing error. *apperr.Error values pass
// through; store sentinels get their status and code.
func Classify(err error) *apperr.Error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	msg := err.Error()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.New(http.StatusNotFound, "not_found", msg)
	case errors.Is(err, store.ErrInsufficientPoints):
		return apperr.Unprocessable("insufficient_points", msg)
	case errors.Is(err, store.ErrOutOfStock):
		return apperr.Unprocessable("out_of_stock", msg)
	case errors.Is(err, store.ErrInactive):
		return apperr.Unprocessable("inactive", msg)
	case errors.Is(err, store.ErrInUse):
		return apperr.New(http.StatusConflict, "in_use", msg)
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict(msg)
	case errors.Is(err, store.ErrInvalidParam):
		return apperr.BadRequest(msg)
	}
	return apperr.New(http.StatusInternalServerError, "internal_error", "internal server error")
}

// Decode reads a JSON body into dst. Unknown fields are rejected.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return apperr.New(http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.BadRequest("request body is empty")
		case errors.As(err, &maxErr):
			return apperr.New(http.StatusRequestEntityTooLarge, "body_too_large", fmt.Sprintf("body exceeds %d bytes", maxErr.Limit))
		default:
			return apperr.BadRequest("invalid JSON: " + err.Error())
		}
	}
	if dec.More() {
		return apperr.BadRequest("invalid JSON: trailing data")
	}
	return nil
}
