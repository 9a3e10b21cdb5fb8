package snapshot

import (
	"fmt"
	"time"
)

// Layout is the textual form of a snapshot identifier: YYYYMMDD-HHMMSS.
// Lexical order of values in this layout equals chronological order.
const Layout = "20060102-150405"

// ID identifies one save event of one game on one replica
type ID string

// Parse validates s as a snapshot identifier
func Parse(s string) (ID, error) {
	if len(s) != len(Layout) || s[8] != '-' {
		return "", fmt.Errorf("invalid snapshot id %q: want %s", s, Layout)
	}
	for i := 0; i < len(s); i++ {
		if i == 8 {
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("invalid snapshot id %q: non-digit at offset %d", s, i)
		}
	}
	// time.Parse rejects impossible dates such as 20240231
	if _, err := time.Parse(Layout, s); err != nil {
		return "", fmt.Errorf("invalid snapshot id %q: %w", s, err)
	}
	return ID(s), nil
}

// IsValid reports whether s has the exact snapshot id shape
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// FromTime formats t as a snapshot identifier
func FromTime(t time.Time) ID {
	return ID(t.Format(Layout))
}

// Time returns the date-time encoded in the id. The zero time is returned for
// ids that were not produced by Parse or FromTime.
func (id ID) Time() time.Time {
	t, err := time.Parse(Layout, string(id))
	if err != nil {
		return time.Time{}
	}
	return t
}

// String implements fmt.Stringer
func (id ID) String() string {
	return string(id)
}

// Compare returns -1, 0 or +1 depending on whether a is older than, equal to
// or newer than b.
func Compare(a, b ID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Newest returns the greatest id among names that parse as snapshot ids.
// ok is false when none of the names qualify.
func Newest(names []string) (newest ID, count int, ok bool) {
	for _, name := range names {
		id, err := Parse(name)
		if err != nil {
			continue
		}
		count++
		if !ok || Compare(id, newest) > 0 {
			newest = id
			ok = true
		}
	}
	return newest, count, ok
}
