package types

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// Day normalizes t to midnight UTC of its calendar day.
// Snapshots and ledger entries are keyed by calendar day only.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string (an RFC3339 timestamp is also accepted).
func ParseDay(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: expected YYYY-MM-DD", s)
	}
	return Day(t), nil
}

// MinDay returns the earlier of two days.
func MinDay(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
