// pkg/normalizer/period.go
package normalizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// frenchMonths is the full vocabulary of source month names, after diacritic
// stripping. The survey platform emits "Janvier 2024" style labels; parsing
// is total over this vocabulary and fails for anything else.
var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"decembre":  time.December,
}

// ParsePeriod resolves a locale-formatted period label ("Janvier 2024",
// "janvier-2024") to the first day of that month, UTC.
func ParsePeriod(label string) (time.Time, error) {
	cleaned := strings.ToLower(StripDiacritics(strings.TrimSpace(label)))
	cleaned = strings.ReplaceAll(cleaned, "-", " ")

	parts := strings.Fields(cleaned)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("period %q is not in \"month year\" form", label)
	}

	month, ok := frenchMonths[parts[0]]
	if !ok {
		return time.Time{}, fmt.Errorf("period %q has unknown month %q", label, parts[0])
	}

	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 1000 || year > 9999 {
		return time.Time{}, fmt.Errorf("period %q has invalid year %q", label, parts[1])
	}

	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), nil
}
