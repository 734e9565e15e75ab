package synth

import (
	"strconv"
	"strings"

	"github.com/v0xg/specforge/internal/crawler"
)

// Synthetic values used when filling forms.
const (
	ValueEmail    = "qa+auto@example.com"
	ValuePhone    = "4045551234"
	ValueZip      = "30301"
	ValueName     = "QA Auto"
	ValuePassword = "P@ssw0rd!"
	ValueDate     = "2024-01-15"
	ValueURL      = "https://example.com"
	ValueMessage  = "Automated test message."
	ValueDefault  = "Test value"
)

// SyntheticValue picks a value the field should accept, by type first and
// then by name hints.
func SyntheticValue(f crawler.FormField) string {
	switch f.Type {
	case crawler.FieldEmail:
		return ValueEmail
	case crawler.FieldTel:
		return ValuePhone
	case crawler.FieldNumber:
		return numberWithin(f.Min, f.Max)
	case crawler.FieldPassword:
		return ValuePassword
	case crawler.FieldDate:
		return ValueDate
	case crawler.FieldTextarea:
		return ValueMessage
	}

	name := strings.ToLower(f.Name)
	switch {
	case strings.Contains(name, "email"):
		return ValueEmail
	case strings.Contains(name, "phone"), strings.Contains(name, "tel"), strings.Contains(name, "mobile"):
		return ValuePhone
	case strings.Contains(name, "zip"), strings.Contains(name, "postal"):
		return ValueZip
	case strings.Contains(name, "url"), strings.Contains(name, "website"):
		return ValueURL
	case strings.Contains(name, "name"):
		return ValueName
	case strings.Contains(name, "password"):
		return ValuePassword
	}
	return ValueDefault
}

// BoundaryValue returns a value just outside the field's declared
// constraints, or false when the field declares none.
func BoundaryValue(f crawler.FormField) (string, bool) {
	if max, ok := parseNumber(f.Max); ok {
		return formatNumber(max + 1), true
	}
	if min, ok := parseNumber(f.Min); ok {
		return formatNumber(min - 1), true
	}
	if f.Pattern != "" {
		return "!!invalid!!", true
	}
	return "", false
}

func numberWithin(minRaw, maxRaw string) string {
	v := 42.0
	min, hasMin := parseNumber(minRaw)
	max, hasMax := parseNumber(maxRaw)
	if hasMin {
		v = min
	}
	if hasMax && v > max {
		v = max
	}
	return formatNumber(v)
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
