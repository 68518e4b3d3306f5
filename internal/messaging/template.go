package messaging

import (
	"regexp"
	"strconv"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Placeholders are the variables a template may reference.
var Placeholders = []string{"first_name", "last_name", "points_balance", "code", "tier"}

// Render substitutes {{name}} placeholders from vars. Unknown placeholders
// are left untouched.
func Render(tpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// CustomerVars returns the template variables for c.
func CustomerVars(c store.Customer) map[string]string {
	return map[string]string{
		"first_name":     c.FirstName,
		"last_name":      c.LastName,
		"points_balance": strconv.FormatInt(c.PointsBalance, 10),
		"code":           c.Code,
		"tier":           c.Tier,
	}
}

// Unknown returns the placeholders in tpl that Render cannot fill from
// customer data.
func Unknown(tpl string) []string {
	known := map[string]bool{}
	for _, p := range Placeholders {
		known[p] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(tpl, -1) {
		if name := m[1]; !known[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Recipient returns the address c uses on channel, or "" when c has not
// opted in or has no address.
func Recipient(c store.Customer, channel string) string {
	switch channel {
	case store.ChannelSMS:
		if c.OptInSMS {
			return c.Phone
		}
	case store.ChannelWhatsApp:
		if c.OptInWhatsApp {
			return c.Phone
		}
	case store.ChannelEmail:
		if c.OptInEmail {
			return c.Email
		}
	}
	return ""
}
