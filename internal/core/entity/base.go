// Package entity provides the item, ledger and snapshot records of the stock engine.
package entity

import (
	"context"
)

// Validatable normalizes and checks a record before it is stored. It never
// touches storage; failures are validation AppErrors.
type Validatable interface {
	Validate(ctx context.Context) error
}

var _ Validatable = (*LedgerEntry)(nil)
