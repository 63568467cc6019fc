package v1

import (
	"encoding/json"
	"fmt"
	"time"
)

// dateLayouts are tried in order when decoding payload timestamps.
// Upstream services are inconsistent: some send RFC 3339, some a bare date.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Time is a time.Time that accepts both RFC 3339 timestamps and bare dates.
// It always marshals as RFC 3339 in UTC.
type Time struct {
	time.Time
}

// At wraps t as a payload Time.
func At(t time.Time) Time {
	return Time{Time: t.UTC()}
}

// MustParseTime parses s with the payload layouts and panics on failure. Test helper.
func MustParseTime(s string) Time {
	t, err := ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTime parses s with the accepted payload layouts.
func ParseTime(s string) (Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Time{Time: t.UTC()}, nil
		}
	}
	return Time{}, fmt.Errorf("unrecognized time %q", s)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	if s == "" {
		return nil
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
