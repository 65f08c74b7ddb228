package notify

import "strings"

// NormalizePhone converts raw into +<country><number> form. Numbers already
// carrying a leading + keep their digits as given; bare ten digit national
// numbers get countryCode prepended.
func NormalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	plus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case plus:
		return "+" + digits
	case len(digits) == 10:
		return "+" + strings.TrimPrefix(countryCode, "+") + digits
	case len(digits) == 11 && digits[0] == '0':
		// trunk prefix
		return "+" + strings.TrimPrefix(countryCode, "+") + digits[1:]
	default:
		return "+" + digits
	}
}
