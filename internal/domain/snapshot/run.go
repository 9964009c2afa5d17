package snapshot

import (
	"time"

	"bondstock/internal/core/entity"
)

// RunStatus is the outcome of a cascade run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Run describes one finished cascade for the recalculation journal.
type Run struct {
	Key        entity.ItemKey
	Start      time.Time
	ResumeFrom *time.Time
	Affected   int
	Snapshots  []entity.Snapshot
	StartedAt  time.Time
	Duration   time.Duration
	Status     RunStatus
	Error      string
}
