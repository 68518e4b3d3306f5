package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/validation"
)

// listParams reads page, per_page, sort and q, plus the given equality
// filters, from the query string.
func listParams(r *http.Request, filters ...string) (store.ListParams, error) {
	q := r.URL.Query()
	p := store.ListParams{
		Sort:  q.Get("sort"),
		Query: q.Get("q"),
	}
	var err error
	if p.Page, err = queryInt(q.Get("page"), "page"); err != nil {
		return p, err
	}
	if p.PerPage, err = queryInt(q.Get("per_page"), "per_page"); err != nil {
		return p, err
	}
	if len(filters) > 0 {
		p.Filters = make(map[string]string, len(filters))
		for _, f := range filters {
			if v := strings.TrimSpace(q.Get(f)); v != "" {
				p.Filters[f] = v
			}
		}
	}
	return p.Normalize(), nil
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.BadRequest(name + " must be a non-negative integer")
	}
	return n, nil
}

// idParam parses the {id} URL parameter.
func idParam(r *http.Request) (int64, error) {
	return parseID(chi.URLParam(r, "id"), "id")
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return id, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// decodeValid decodes a JSON body into dst and validates its struct tags.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := server.Decode(w, r, dst); err != nil {
		return err
	}
	return validation.Struct(dst)
}

// decodeOptional is decodeValid for endpoints whose body may be omitted.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return validation.Struct(dst)
	}
	return decodeValid(w, r, dst)
}

// parseTime accepts RFC 3339 timestamps and YYYY-MM-DD dates (UTC midnight).
func parseTime(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, true, nil
}

func int64p(v int64) *int64 { return &v }
