package lock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandemhq/tandem/pkg/lock"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	t.Parallel()

	locker := lock.NewMemoryLocker()

	release, err := locker.Acquire(t.Context(), "saga-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(t.Context(), "saga-1", time.Minute)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	release()

	release2, err := locker.Acquire(t.Context(), "saga-1", time.Minute)
	require.NoError(t, err)

	release2()
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	t.Parallel()

	locker := lock.NewMemoryLocker()

	release1, err := locker.Acquire(t.Context(), "saga-1", time.Minute)
	require.NoError(t, err)

	defer release1()

	release2, err := locker.Acquire(t.Context(), "saga-2", time.Minute)
	require.NoError(t, err)

	defer release2()
}

func TestMemoryLocker_ExpiredHolderCannotReleaseSuccessor(t *testing.T) {
	t.Parallel()

	locker := lock.NewMemoryLocker()

	staleRelease, err := locker.Acquire(t.Context(), "saga-1", time.Millisecond)
	require.NoError(t, err)

	var release func()

	require.Eventually(t, func() bool {
		r, err := locker.Acquire(t.Context(), "saga-1", time.Minute)
		if err != nil {
			return false
		}

		release = r

		return true
	}, time.Second, 5*time.Millisecond)

	staleRelease()

	_, err = locker.Acquire(t.Context(), "saga-1", time.Minute)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	release()
}

func TestMemoryLocker_ExpiredLeaseCanBeTaken(t *testing.T) {
	t.Parallel()

	locker := lock.NewMemoryLocker()

	_, err := locker.Acquire(t.Context(), "saga-1", time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		release, err := locker.Acquire(t.Context(), "saga-1", time.Minute)
		if err != nil {
			return false
		}

		release()

		return true
	}, time.Second, 5*time.Millisecond)
}
