package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/dataio"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
)

// MaxUploadBytes bounds import uploads.
const MaxUploadBytes = 10 << 20

// ImportCustomers handles POST /api/import/customers, a multipart upload
// with a "file" part and an optional "dry_run" field.
func (h *Handler) ImportCustomers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(w, r, apperr.New(http.StatusRequestEntityTooLarge, "body_too_large", fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit)))
			return
		}
		h.fail(w, r, apperr.BadRequest("expected a multipart/form-data upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, apperr.Validation(map[string]string{"file": "is required"}))
		return
	}
	defer file.Close()

	format, err := dataio.FormatFromName(header.Filename)
	if v := r.FormValue("format"); v != "" {
		format, err = dataio.ParseFormat(v)
	}
	if err != nil {
		h.fail(w, r, apperr.Validation(map[string]string{"file": err.Error()}))
		return
	}
	dryRun := false
	if v := r.FormValue("dry_run"); v != "" {
		if dryRun, err = dataio.ParseBool(v); err != nil {
			h.fail(w, r, apperr.Validation(map[string]string{"dry_run": "must be true or false"}))
			return
		}
	}

	res, err := dataio.ImportCustomers(r.Context(), h.store, file, format, dataio.ImportOptions{DryRun: dryRun})
	if err != nil {
		if errors.Is(err, dataio.ErrBadHeader) {
			err = apperr.Validation(map[string]string{"file": err.Error()})
		}
		h.fail(w, r, err)
		return
	}
	h.log.WithField("created", res.Created).
		WithField("updated", res.Updated).
		WithField("failed", res.Failed).
		WithField("dry_run", res.DryRun).
		Info("customer import finished")
	server.Data(w, http.StatusOK, res)
}

// ExportCustomers handles GET /api/export/customers?format=csv|xlsx. The
// list filters and search of GET /api/customers apply.
func (h *Handler) ExportCustomers(w http.ResponseWriter, r *http.Request) {
	format, err := dataio.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.fail(w, r, apperr.BadRequest(err.Error()))
		return
	}
	p, err := listParams(r, "status", "tier", "city")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := dataio.ExportCustomers(r.Context(), h.store, &buf, format, p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.attachment(w, "customers", format, buf.Bytes())
}

// ExportRedemptions handles GET /api/export/redemptions as CSV.
func (h *Handler) ExportRedemptions(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "delivery_status", "verification_status", "customer_id", "reward_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := dataio.ExportRedemptions(r.Context(), h.store, &buf, p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.attachment(w, "redemptions", dataio.FormatCSV, buf.Bytes())
}

// ExportLedger handles GET /api/export/ledger as CSV. customer_id limits
// the export to one customer.
func (h *Handler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "type")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var customerID int64
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		if customerID, err = parseID(raw, "customer_id"); err != nil {
			h.fail(w, r, err)
			return
		}
		if _, err := h.store.GetCustomer(r.Context(), customerID); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	var buf bytes.Buffer
	if err := dataio.ExportLedger(r.Context(), h.store, &buf, customerID, p); err != nil {
		h.fail(w, r, err)
		return
	}
	name := "ledger"
	if customerID > 0 {
		name += "-" + strconv.FormatInt(customerID, 10)
	}
	h.attachment(w, name, dataio.FormatCSV, buf.Bytes())
}

func (h *Handler) attachment(w http.ResponseWriter, name string, f dataio.Format, body []byte) {
	filename := fmt.Sprintf("%s-%s.%s", name, h.clock.Now().Format("20060102"), f)
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// --- Reports ---

// reportRange reads from and to. Dates without a time cover the whole day.
// The default range is the 30 days up to now.
func (h *Handler) reportRange(r *http.Request) (time.Time, time.Time, error) {
	to, toDate, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.BadRequest("to: " + err.Error())
	}
	if to.IsZero() {
		to = h.clock.Now().UTC()
	} else if toDate {
		to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	from, _, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, apperr.BadRequest("from: " + err.Error())
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, apperr.BadRequest("from must not be after to")
	}
	if to.Sub(from) > 366*24*time.Hour {
		return time.Time{}, time.Time{}, apperr.BadRequest("range must not exceed 366 days")
	}
	return from, to, nil
}

// ReportSummary handles GET /api/reports/summary.
func (h *Handler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.reportRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.store.Summary(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, s)
}

// ReportDaily handles GET /api/reports/daily.
func (h *Handler) ReportDaily(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.reportRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	series, err := h.store.DailySeries(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, series)
}
