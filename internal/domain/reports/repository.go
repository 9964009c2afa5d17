package reports

import (
	"context"

	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
)

// SnapshotReader is the part of the snapshot store reports read from.
// Reports never trigger recalculation.
type SnapshotReader interface {
	ListRange(ctx context.Context, filter snapshot.RangeFilter) ([]entity.Snapshot, error)
	ListLatestBefore(ctx context.Context, filter snapshot.RangeFilter) ([]entity.Snapshot, error)
}
