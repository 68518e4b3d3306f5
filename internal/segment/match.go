package segment

import (
	"strings"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Match reports whether c satisfies the segment rules at time now. Criteria
// are assumed valid; an invalid criterion never matches. No criteria matches
// every customer.
func Match(c store.Customer, match string, criteria []store.Criterion, now time.Time) bool {
	if len(criteria) == 0 {
		return true
	}
	for _, cr := range criteria {
		ok := matchOne(c, cr, now)
		if match == store.MatchAny && ok {
			return true
		}
		if match != store.MatchAny && !ok {
			return false
		}
	}
	return match != store.MatchAny
}

func matchOne(c store.Customer, cr store.Criterion, now time.Time) bool {
	kind, ok := Fields[cr.Field]
	if !ok || !allowed(kind, cr.Operator) {
		return false
	}
	var val any
	if !valueless(cr.Operator) {
		v, err := parseValue(kind, cr.Operator, cr.Value)
		if err != nil {
			return false
		}
		val = v
	}

	switch kind {
	case KindString:
		s := strings.ToLower(stringField(c, cr.Field))
		switch cr.Operator {
		case OpEq:
			return s == val.(string)
		case OpNeq:
			return s != val.(string)
		case OpContains:
			return strings.Contains(s, val.(string))
		case OpIn:
			for _, v := range val.([]string) {
				if s == v {
					return true
				}
			}
			return false
		case OpIsEmpty:
			return s == ""
		case OpNotEmpty:
			return s != ""
		}
	case KindNumber:
		n := numberField(c, cr.Field)
		v := val.(int64)
		switch cr.Operator {
		case OpEq:
			return n == v
		case OpNeq:
			return n != v
		case OpGt:
			return n > v
		case OpGte:
			return n >= v
		case OpLt:
			return n < v
		case OpLte:
			return n <= v
		}
	case KindBool:
		b := boolField(c, cr.Field)
		switch cr.Operator {
		case OpEq:
			return b == val.(bool)
		case OpNeq:
			return b != val.(bool)
		}
	case KindDate:
		t := dateField(c, cr.Field)
		switch cr.Operator {
		case OpIsEmpty:
			return t == nil
		case OpNotEmpty:
			return t != nil
		}
		if t == nil {
			return false
		}
		switch cr.Operator {
		case OpBefore:
			return t.Before(val.(time.Time))
		case OpAfter:
			return t.After(val.(time.Time))
		case OpWithinDays:
			return !t.Before(withinCutoff(now, val.(int)))
		}
	}
	return false
}

func stringField(c store.Customer, f string) string {
	switch f {
	case "tier":
		return c.Tier
	case "status":
		return c.Status
	case "city":
		return c.City
	case "email":
		return c.Email
	case "phone":
		return c.Phone
	}
	return ""
}

func numberField(c store.Customer, f string) int64 {
	switch f {
	case "points_balance":
		return c.PointsBalance
	case "lifetime_points":
		return c.LifetimePoints
	}
	return 0
}

func boolField(c store.Customer, f string) bool {
	switch f {
	case "opt_in_sms":
		return c.OptInSMS
	case "opt_in_whatsapp":
		return c.OptInWhatsApp
	case "opt_in_email":
		return c.OptInEmail
	}
	return false
}

func dateField(c store.Customer, f string) *time.Time {
	switch f {
	case "created_at":
		t := c.CreatedAt
		return &t
	case "last_activity_at":
		return c.LastActivityAt
	}
	return nil
}
