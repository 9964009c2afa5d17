// Package id generates identifiers for ledger entries and journal rows.
package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID is a UUIDv7. Its leading 48 bits are the creation time in
// milliseconds, so IDs sort in posting order.
type ID = uuid.UUID

// New generates a UUIDv7, falling back to a random UUID if the clock
// source fails.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse accepts the canonical 36-character form only.
func Parse(s string) (ID, error) {
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("invalid id length %d", len(s))
	}
	return uuid.Parse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}

// CreatedAt returns the timestamp embedded in a UUIDv7, or false for
// other versions.
func CreatedAt(v ID) (time.Time, bool) {
	if v.Version() != 7 {
		return time.Time{}, false
	}
	sec, nsec := v.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), true
}
