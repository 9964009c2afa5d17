package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bondstock/internal/core/entity"
)

func TestAdvisoryLocker_Key(t *testing.T) {
	l := NewAdvisoryLocker(nil)

	assert.Equal(t, "stock:recalc:BW01:ITM-1", l.Key(entity.NewItemKey("BW01", "ITM-1")))
	assert.NotEqual(t,
		l.Key(entity.NewItemKey("BW01", "ITM-1")),
		l.Key(entity.NewItemKey("BW02", "ITM-1")),
	)
}
