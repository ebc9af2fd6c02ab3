package xero

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var msDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Time decodes every date format the API returns. A value it cannot parse
// keeps Raw and leaves Valid false instead of failing the whole page.
type Time struct {
	time.Time
	Raw   string
	Valid bool
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		t.Raw = string(b)
		return nil
	}

	t.Raw = s
	t.Time, t.Valid = ParseTime(s)
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return json.Marshal(t.Raw)
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}

// Ptr returns the parsed time, or nil when the value was missing or invalid.
func (t Time) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Present reports whether the field was sent at all.
func (t Time) Present() bool {
	return t.Raw != ""
}

// ParseTime parses "/Date(1488338552390+0000)/" as well as RFC3339 and the
// zone-less ISO forms. Zone-less values are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if m := msDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
