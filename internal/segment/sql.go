package segment

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SQL renders the segment rules as a WHERE fragment using ? placeholders
// (rebind before executing). Column names come only from Fields. No criteria
// renders TRUE.
func SQL(match string, criteria []store.Criterion, now time.Time) (string, []any, error) {
	if err := Validate(match, criteria); err != nil {
		return "", nil, err
	}
	if len(criteria) == 0 {
		return "TRUE", nil, nil
	}

	var (
		parts []string
		args  []any
	)
	for _, cr := range criteria {
		frag, a, err := sqlOne(cr, now)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+frag+")")
		args = append(args, a...)
	}
	joiner := " AND "
	if match == store.MatchAny {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", args, nil
}

func sqlOne(cr store.Criterion, now time.Time) (string, []any, error) {
	kind := Fields[cr.Field]
	col := cr.Field
	var val any
	if !valueless(cr.Operator) {
		v, err := parseValue(kind, cr.Operator, cr.Value)
		if err != nil {
			return "", nil, err
		}
		val = v
	}

	switch kind {
	case KindString:
		expr := fmt.Sprintf("LOWER(COALESCE(%s, ''))", col)
		switch cr.Operator {
		case OpEq:
			return expr + " = ?", []any{val}, nil
		case OpNeq:
			return expr + " <> ?", []any{val}, nil
		case OpContains:
			return expr + " LIKE ?", []any{"%" + likeEscaper.Replace(val.(string)) + "%"}, nil
		case OpIn:
			return expr + " = ANY(?)", []any{pq.Array(val.([]string))}, nil
		case OpIsEmpty:
			return expr + " = ''", nil, nil
		case OpNotEmpty:
			return expr + " <> ''", nil, nil
		}
	case KindNumber:
		ops := map[string]string{OpEq: "=", OpNeq: "<>", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}
		return fmt.Sprintf("%s %s ?", col, ops[cr.Operator]), []any{val}, nil
	case KindBool:
		if cr.Operator == OpEq {
			return col + " = ?", []any{val}, nil
		}
		return col + " <> ?", []any{val}, nil
	case KindDate:
		switch cr.Operator {
		case OpIsEmpty:
			return col + " IS NULL", nil, nil
		case OpNotEmpty:
			return col + " IS NOT NULL", nil, nil
		case OpBefore:
			return col + " < ?", []any{val}, nil
		case OpAfter:
			return col + " > ?", []any{val}, nil
		case OpWithinDays:
			return col + " >= ?", []any{withinCutoff(now, val.(int))}, nil
		}
	}
	return "", nil, fmt.Errorf("unsupported criterion %s %s", cr.Field, cr.Operator)
}
