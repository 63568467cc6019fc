package aggregation

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the reporting bucket of a period series.
type Granularity string

const (
	Daily   Granularity = "DAILY"
	Monthly Granularity = "MONTHLY"
	Yearly  Granularity = "YEARLY"
)

// ParseGranularity accepts the granularity case-insensitively; empty means Daily.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToUpper(strings.TrimSpace(s))); g {
	case "":
		return Daily, nil
	case Daily, Monthly, Yearly:
		return g, nil
	default:
		return "", fmt.Errorf("invalid period %q (must be DAILY, MONTHLY or YEARLY)", s)
	}
}

// Day truncates t to the start of its UTC day. Stored scopes are daily.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// BucketFor returns the start of the calendar bucket containing t.
// Example: BucketFor(2024-01-10T10:35, Monthly) -> 2024-01-01
func BucketFor(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Yearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return Day(t)
	}
}

// NextBucket returns the start of the bucket following the one that starts at start.
func NextBucket(start time.Time, g Granularity) time.Time {
	switch g {
	case Monthly:
		return start.AddDate(0, 1, 0)
	case Yearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Buckets lists the bucket starts covering [from, to).
func Buckets(from, to time.Time, g Granularity) []time.Time {
	var out []time.Time
	for b := BucketFor(from, g); b.Before(to); b = NextBucket(b, g) {
		out = append(out, b)
	}
	return out
}

// ParseSpan parses a duration string.
// Supports Go duration syntax (e.g., "10s", "1m", "1h") plus "Xd" for days.
func ParseSpan(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration must not be empty")
	}

	// time.ParseDuration has no day unit.
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if days <= 0 {
			return 0, fmt.Errorf("duration must be positive, got %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}
