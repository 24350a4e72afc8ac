package util

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/G-Research/capstan/internal/common/capstancontext"
)

func TestRetryUntilSuccess_StopsOnSuccess(t *testing.T) {
	ctx, cancel := capstancontext.WithTimeout(capstancontext.Background(), time.Second)
	defer cancel()

	calls := 0
	err := RetryUntilSuccess(
		ctx,
		func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("dummy error")
			}
			return nil
		},
		func(err error) {},
		time.Millisecond,
	)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryUntilSuccess_Cancelled(t *testing.T) {
	ctx, cancel := capstancontext.WithTimeout(capstancontext.Background(), 50*time.Millisecond)
	defer cancel()

	errorCount := 0
	err := RetryUntilSuccess(
		ctx,
		func() error {
			return fmt.Errorf("dummy error")
		},
		func(err error) { errorCount++ },
		time.Millisecond,
	)
	assert.Error(t, err)
	assert.Greater(t, errorCount, 0)
}

func TestNewULID_Sortable(t *testing.T) {
	a := NewULID()
	b := NewULID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
