package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_WrapAndClassify(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("load snapshots: %w", NewTransientStore("load snapshots", cause))

	assert.True(t, IsTransient(err))
	assert.True(t, IsAppError(err))
	assert.False(t, IsNotFound(err))
	assert.ErrorIs(t, err, cause)

	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
	assert.Equal(t, "TRANSIENT_STORE_ERROR: Storage temporarily unavailable (caused by: connection reset)", appErr.Error())
}

func TestAppError_Details(t *testing.T) {
	err := NewInsufficientStock("RM-01", "10.0000", "4.0000", "6.0000").WithDetail("date", "2024-05-02")

	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Equal(t, "6.0000", err.Details["shortfall"])
	assert.Equal(t, "2024-05-02", err.Details["date"])

	assert.True(t, IsItemNotFound(NewItemNotFound("C1", "X")))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
	assert.Equal(t, http.StatusAccepted, NewCascadeIncomplete("C1", "X", nil).HTTPStatus)
}
