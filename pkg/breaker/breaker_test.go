package breaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, defaults Config, overrides map[string]Config) *Registry {
	t.Helper()

	return NewRegistry(slog.Default(), defaults, overrides)
}

func TestRegistry_ClosedAlwaysAllows(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{}, nil)

	for range 10 {
		assert.True(t, r.Allow("payment-api"))
	}

	assert.Equal(t, StateClosed, r.StateOf("payment-api"))
}

func TestRegistry_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}, nil)

	r.RecordFailure("payment-api")
	r.RecordFailure("payment-api")
	assert.Equal(t, StateClosed, r.StateOf("payment-api"))
	assert.True(t, r.Allow("payment-api"))

	r.RecordFailure("payment-api")
	assert.Equal(t, StateOpen, r.StateOf("payment-api"))
	assert.False(t, r.Allow("payment-api"))
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}, nil)

	r.RecordFailure("payment-api")
	r.RecordFailure("payment-api")
	r.RecordSuccess("payment-api")
	r.RecordFailure("payment-api")
	r.RecordFailure("payment-api")

	assert.Equal(t, StateClosed, r.StateOf("payment-api"))
}

func TestRegistry_DependencyIsolation(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{FailureThreshold: 2, RecoveryTimeout: time.Minute}, nil)

	r.RecordFailure("payment-api")
	r.RecordFailure("payment-api")

	assert.False(t, r.Allow("payment-api"))
	assert.True(t, r.Allow("shipping-api"))
	assert.Equal(t, StateClosed, r.StateOf("shipping-api"))
}

func TestRegistry_PerDependencyOverride(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t,
		Config{FailureThreshold: 5, RecoveryTimeout: time.Minute},
		map[string]Config{"flaky-api": {FailureThreshold: 1, RecoveryTimeout: time.Minute}},
	)

	r.RecordFailure("flaky-api")
	assert.False(t, r.Allow("flaky-api"))

	r.RecordFailure("stable-api")
	assert.True(t, r.Allow("stable-api"))
}

func TestRegistry_HalfOpenAdmitsSingleProbe(t *testing.T) {
	t.Parallel()

	current := time.Now()
	r := newTestRegistry(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Minute}, nil)
	r.now = func() time.Time { return current }

	r.RecordFailure("payment-api")
	require.Equal(t, StateOpen, r.StateOf("payment-api"))
	require.False(t, r.Allow("payment-api"))

	// Recovery timeout elapses: the first caller becomes the probe.
	current = current.Add(61 * time.Second)

	assert.True(t, r.Allow("payment-api"))
	assert.Equal(t, StateHalfOpen, r.StateOf("payment-api"))

	// A concurrent caller during the probe window is rejected.
	assert.False(t, r.Allow("payment-api"))

	r.RecordSuccess("payment-api")
	assert.Equal(t, StateClosed, r.StateOf("payment-api"))
	assert.True(t, r.Allow("payment-api"))
}

func TestRegistry_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	current := time.Now()
	r := newTestRegistry(t, Config{FailureThreshold: 2, RecoveryTimeout: 30 * time.Second}, nil)
	r.now = func() time.Time { return current }

	r.RecordFailure("payment-api")
	r.RecordFailure("payment-api")
	require.Equal(t, StateOpen, r.StateOf("payment-api"))

	current = current.Add(31 * time.Second)
	require.True(t, r.Allow("payment-api"))

	// A single probe failure re-opens the circuit with no grace.
	r.RecordFailure("payment-api")
	assert.Equal(t, StateOpen, r.StateOf("payment-api"))
	assert.False(t, r.Allow("payment-api"))

	// The fresh open period starts from the probe failure.
	current = current.Add(31 * time.Second)
	assert.True(t, r.Allow("payment-api"))
}

func TestRegistry_ConcurrentProbeAdmission(t *testing.T) {
	t.Parallel()

	current := time.Now()
	r := newTestRegistry(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Second}, nil)
	r.now = func() time.Time { return current }

	r.RecordFailure("payment-api")
	current = current.Add(2 * time.Second)

	var admitted atomic.Int32

	var wg sync.WaitGroup

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if r.Allow("payment-api") {
				admitted.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestRegistry_ConcurrentFailureReports(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{FailureThreshold: 100, RecoveryTimeout: time.Minute}, nil)

	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			r.RecordFailure("payment-api")
		}()
	}

	wg.Wait()

	// No lost updates: exactly the threshold was reached.
	assert.Equal(t, StateOpen, r.StateOf("payment-api"))
}

func TestRegistry_Snapshots(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Minute}, nil)

	r.RecordFailure("payment-api")
	require.True(t, r.Allow("inventory-api"))

	snapshots := r.Snapshots()
	require.Len(t, snapshots, 2)

	byKey := make(map[string]Snapshot, len(snapshots))
	for _, s := range snapshots {
		byKey[s.DependencyKey] = s
	}

	assert.Equal(t, StateOpen, byKey["payment-api"].State)
	assert.Equal(t, 1, byKey["payment-api"].ConsecutiveFailures)
	assert.Equal(t, StateClosed, byKey["inventory-api"].State)
}
