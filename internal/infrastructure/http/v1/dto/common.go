// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"strings"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/types"
)

// IDResponse is returned by create endpoints.
type IDResponse struct {
	ID string `json:"id"`
}

// ListResponse wraps list results with pagination.
type ListResponse[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
}

// Date renders a calendar day as YYYY-MM-DD.
func Date(t time.Time) string {
	return t.Format(types.DateLayout)
}

// DatePtr renders an optional day.
func DatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := Date(*t)
	return &s
}

// ParseDate parses a required YYYY-MM-DD field.
func ParseDate(field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, apperror.NewValidation(field + " is required")
	}
	t, err := types.ParseDay(value)
	if err != nil {
		return time.Time{}, apperror.NewValidation("invalid " + field + ", expected YYYY-MM-DD").
			WithDetail("value", value)
	}
	return t, nil
}

// ParseOptionalDate parses an optional YYYY-MM-DD field.
func ParseOptionalDate(field string, value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := ParseDate(field, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseQuantity parses a decimal quantity field.
func ParseQuantity(field, value string) (types.Quantity, error) {
	q, err := types.ParseQuantity(value)
	if err != nil {
		return 0, apperror.NewValidation("invalid " + field).WithDetail("value", value)
	}
	return q, nil
}
