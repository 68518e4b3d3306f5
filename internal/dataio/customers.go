package dataio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/validation"
)

// CustomerColumns is the header of customer exports and the set of columns
// imports understand. Balance columns are exported but ignored on import.
var CustomerColumns = []string{
	"code", "first_name", "last_name", "email", "phone", "city", "tier", "status",
	"points_balance", "lifetime_points", "opt_in_sms", "opt_in_whatsapp", "opt_in_email", "created_at",
}

// MaxImportRows bounds the data rows of one import file.
const MaxImportRows = 10000

// ExportCustomers writes every customer matching p's filters and search.
func ExportCustomers(ctx context.Context, st store.CustomerStore, w io.Writer, f Format, p store.ListParams) error {
	tw, err := newTableWriter(w, f, "Customers")
	if err != nil {
		return err
	}
	if err := tw.Write(CustomerColumns); err != nil {
		return err
	}
	err = eachPage(p, func(p store.ListParams) (store.PageMeta, error) {
		pg, err := st.ListCustomers(ctx, p)
		if err != nil {
			return store.PageMeta{}, err
		}
		for _, c := range pg.Data {
			if err := tw.Write(customerRecord(c)); err != nil {
				return store.PageMeta{}, err
			}
		}
		return pg.Meta, nil
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func customerRecord(c store.Customer) []string {
	return []string{
		c.Code, c.FirstName, c.LastName, c.Email, c.Phone, c.City, c.Tier, c.Status,
		strconv.FormatInt(c.PointsBalance, 10),
		strconv.FormatInt(c.LifetimePoints, 10),
		strconv.FormatBool(c.OptInSMS),
		strconv.FormatBool(c.OptInWhatsApp),
		strconv.FormatBool(c.OptInEmail),
		c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// eachPage calls fn for consecutive pages of p until the last one.
func eachPage(p store.ListParams, fn func(store.ListParams) (store.PageMeta, error)) error {
	p.Unpaged = false
	p.Page = 1
	p.PerPage = store.MaxPerPage
	for {
		meta, err := fn(p)
		if err != nil {
			return err
		}
		if p.Page >= meta.LastPage {
			return nil
		}
		p.Page++
	}
}

// ImportOptions controls ImportCustomers.
type ImportOptions struct {
	// DryRun validates and counts without writing.
	DryRun bool
}

// RowError is a rejected import row. Row is the 1-based line number,
// counting the header as row 1.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult summarises an import.
type ImportResult struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Failed  int        `json:"failed"`
	DryRun  bool       `json:"dry_run"`
	Errors  []RowError `json:"errors"`
}

// ErrBadHeader is returned when the file has no usable header row.
var ErrBadHeader = errors.New("import file needs a header row with first_name and email or phone")

type customerRow struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"required_without=Phone,omitempty,email,max=255"`
	Phone     string `json:"phone" validate:"required_without=Email,omitempty,max=32"`
	City      string `json:"city" validate:"max=100"`
	Status    string `json:"status" validate:"omitempty,oneof=active inactive blocked"`
}

// ImportCustomers reads customers from r and upserts them by email. Rows
// without an email are always created. Invalid rows are reported and
// skipped; the rest are applied.
func ImportCustomers(ctx context.Context, st store.CustomerStore, r io.Reader, f Format, opts ImportOptions) (ImportResult, error) {
	rows, err := readTable(r, f)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{DryRun: opts.DryRun, Errors: []RowError{}}
	if len(rows) == 0 {
		return res, ErrBadHeader
	}
	cols := headerIndex(rows[0])
	if _, ok := cols["first_name"]; !ok {
		return res, ErrBadHeader
	}
	_, hasEmail := cols["email"]
	_, hasPhone := cols["phone"]
	if !hasEmail && !hasPhone {
		return res, ErrBadHeader
	}
	if len(rows)-1 > MaxImportRows {
		return res, fmt.Errorf("import has %d rows, the limit is %d", len(rows)-1, MaxImportRows)
	}

	// A dry run writes nothing, so repeated emails are tracked here to count
	// them as updates.
	seen := map[string]bool{}
	for i, rec := range rows[1:] {
		line := i + 2
		if blank(rec) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		get := func(col string) string {
			if idx, ok := cols[col]; ok && idx < len(rec) {
				return strings.TrimSpace(rec[idx])
			}
			return ""
		}

		row := customerRow{
			FirstName: get("first_name"),
			LastName:  get("last_name"),
			Email:     strings.ToLower(get("email")),
			Phone:     get("phone"),
			City:      get("city"),
			Status:    strings.ToLower(get("status")),
		}
		opt, err := parseOptIns(get)
		if err == nil {
			err = validation.Validator().Struct(row)
		}
		if err != nil {
			res.fail(line, rowMessage(err))
			continue
		}

		c, found, err := lookup(ctx, st, row.Email)
		if err != nil {
			return res, err
		}
		if opts.DryRun {
			if found || seen[row.Email] {
				res.Updated++
			} else {
				res.Created++
			}
			if row.Email != "" {
				seen[row.Email] = true
			}
			continue
		}

		c.FirstName = row.FirstName
		c.LastName = row.LastName
		c.Email = row.Email
		c.Phone = row.Phone
		c.City = row.City
		if row.Status != "" {
			c.Status = row.Status
		} else if c.Status == "" {
			c.Status = store.CustomerActive
		}
		opt.apply(&c)

		if found {
			err = st.UpdateCustomer(ctx, &c)
		} else {
			err = st.CreateCustomer(ctx, &c)
		}
		switch {
		case errors.Is(err, store.ErrConflict):
			res.fail(line, err.Error())
		case err != nil:
			return res, fmt.Errorf("row %d: %w", line, err)
		case found:
			res.Updated++
		default:
			res.Created++
		}
	}
	return res, nil
}

func (r *ImportResult) fail(line int, msg string) {
	r.Failed++
	r.Errors = append(r.Errors, RowError{Row: line, Message: msg})
}

func lookup(ctx context.Context, st store.CustomerStore, email string) (store.Customer, bool, error) {
	if email == "" {
		return store.Customer{}, false, nil
	}
	c, err := st.GetCustomerByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.Customer{}, false, nil
	}
	if err != nil {
		return store.Customer{}, false, err
	}
	return c, true, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", "_"))
		if _, dup := idx[key]; !dup && key != "" {
			idx[key] = i
		}
	}
	return idx
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// optIns holds the opt-in columns present in a row. Absent columns leave
// the customer's current value alone.
type optIns struct {
	sms, whatsapp, email *bool
}

func (o optIns) apply(c *store.Customer) {
	if o.sms != nil {
		c.OptInSMS = *o.sms
	}
	if o.whatsapp != nil {
		c.OptInWhatsApp = *o.whatsapp
	}
	if o.email != nil {
		c.OptInEmail = *o.email
	}
}

func parseOptIns(get func(string) string) (optIns, error) {
	var o optIns
	for col, dst := range map[string]**bool{
		"opt_in_sms":      &o.sms,
		"opt_in_whatsapp": &o.whatsapp,
		"opt_in_email":    &o.email,
	} {
		v := get(col)
		if v == "" {
			continue
		}
		b, err := ParseBool(v)
		if err != nil {
			return o, fmt.Errorf("%s: %w", col, err)
		}
		*dst = &b
	}
	return o, nil
}

// ParseBool accepts the spellings spreadsheets commonly use for yes and no.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "x":
		return true, nil
	case "0", "false", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a yes/no value", s)
}

func rowMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	fields := validation.Fields(ve)
	parts := make([]string, 0, len(fields))
	for _, col := range CustomerColumns {
		if msg, ok := fields[col]; ok {
			parts = append(parts, col+" "+msg)
		}
	}
	return strings.Join(parts, "; ")
}
