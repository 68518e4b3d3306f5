// Package segment validates and evaluates customer segment rules. The same
// rules are evaluated in Go for the memory store and rendered to a SQL WHERE
// clause for postgres; both paths must agree.
package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Kind is the value type of a segment field.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindDate   Kind = "date"
	KindBool   Kind = "bool"
)

// Operators.
const (
	OpEq         = "eq"
	OpNeq        = "neq"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpContains   = "contains"
	OpIn         = "in"
	OpIsEmpty    = "is_empty"
	OpNotEmpty   = "not_empty"
	OpBefore     = "before"
	OpAfter      = "after"
	OpWithinDays = "within_days"
)

// Fields maps each segment field to its kind. The keys double as the SQL
// column whitelist.
var Fields = map[string]Kind{
	"tier":             KindString,
	"status":           KindString,
	"city":             KindString,
	"email":            KindString,
	"phone":            KindString,
	"points_balance":   KindNumber,
	"lifetime_points":  KindNumber,
	"created_at":       KindDate,
	"last_activity_at": KindDate,
	"opt_in_sms":       KindBool,
	"opt_in_whatsapp":  KindBool,
	"opt_in_email":     KindBool,
}

// Operators lists the operators allowed for each kind.
var Operators = map[Kind][]string{
	KindString: {OpEq, OpNeq, OpContains, OpIn, OpIsEmpty, OpNotEmpty},
	KindNumber: {OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte},
	KindDate:   {OpBefore, OpAfter, OpWithinDays, OpIsEmpty, OpNotEmpty},
	KindBool:   {OpEq, OpNeq},
}

func allowed(k Kind, op string) bool {
	for _, o := range Operators[k] {
		if o == op {
			return true
		}
	}
	return false
}

func valueless(op string) bool {
	return op == OpIsEmpty || op == OpNotEmpty
}

// Validate checks the match mode and every criterion. It returns an
// *apperr.Error keyed by criterion position.
func Validate(match string, criteria []store.Criterion) error {
	fields := map[string]string{}
	if match != store.MatchAll && match != store.MatchAny {
		fields["match"] = "must be all or any"
	}
	for i, c := range criteria {
		key := fmt.Sprintf("criteria.%d", i)
		kind, ok := Fields[c.Field]
		if !ok {
			fields[key+".field"] = fmt.Sprintf("unknown field %q", c.Field)
			continue
		}
		if !allowed(kind, c.Operator) {
			fields[key+".operator"] = fmt.Sprintf("operator %q is not valid for %s field %s", c.Operator, kind, c.Field)
			continue
		}
		if valueless(c.Operator) {
			continue
		}
		if _, err := parseValue(kind, c.Operator, c.Value); err != nil {
			fields[key+".value"] = err.Error()
		}
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// parseValue converts the raw string value for a kind/operator pair.
func parseValue(kind Kind, op, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindString:
		if op == OpIn {
			list := splitValues(raw)
			if len(list) == 0 {
				return nil, fmt.Errorf("in requires at least one value")
			}
			return list, nil
		}
		if raw == "" {
			return nil, fmt.Errorf("value is required")
		}
		return strings.ToLower(raw), nil
	case KindNumber:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value must be an integer")
		}
		return n, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("value must be true or false")
		}
		return b, nil
	case KindDate:
		if op == OpWithinDays {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("value must be a non-negative number of days")
			}
			return n, nil
		}
		return parseDate(raw)
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("value must be a date (YYYY-MM-DD or RFC 3339)")
}

func splitValues(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// withinCutoff is the earliest time a within_days criterion accepts.
func withinCutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
