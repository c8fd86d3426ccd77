package canonical

import "strings"

// Number strips thousands separators, currency symbols and unit suffixes
// from a raw numeric string, keeping digits, a single decimal point and a
// leading minus sign. If nothing numeric survives, the original string is
// returned unchanged so no data is silently dropped.
func Number(raw string) string {
	var b strings.Builder
	sawDigit := false
	sawPoint := false

	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			sawDigit = true
		case r == '.' && !sawPoint:
			b.WriteRune(r)
			sawPoint = true
		case r == '-' && i == 0:
			b.WriteRune(r)
		}
	}

	if !sawDigit {
		return raw
	}
	return b.String()
}
