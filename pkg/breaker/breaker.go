// Package breaker implements per-dependency circuit breakers that gate
// whether a call to an external dependency is attempted.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// State captures circuit breaker states.
type State string

const (
	// StateClosed indicates normal operation: calls are always admitted.
	StateClosed State = "closed"
	// StateOpen indicates the breaker is rejecting calls until the
	// recovery timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen indicates a single trial call is in flight.
	StateHalfOpen State = "half_open"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Config controls the thresholds for one dependency.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}

	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}

	return c
}

// Snapshot is a read-only view of one breaker, for operator inspection.
type Snapshot struct {
	DependencyKey       string    `json:"dependency_key"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// circuit holds the mutable state for one dependency key. All transitions
// happen under mu so that concurrent failure reports from parallel sagas
// cannot lose updates.
type circuit struct {
	mu                  sync.Mutex
	key                 string
	config              Config
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	now func() time.Time
}

// Registry owns every breaker, keyed by dependency identifier. Circuits are
// created lazily on first reference and never deleted. The registry is
// shared across all sagas and safe for concurrent use.
type Registry struct {
	logger    *slog.Logger
	defaults  Config
	overrides map[string]Config
	circuits  *xsync.MapOf[string, *circuit]

	now func() time.Time
}

// NewRegistry creates a breaker registry with the given global default
// configuration and optional per-dependency overrides.
func NewRegistry(logger *slog.Logger, defaults Config, overrides map[string]Config) *Registry {
	normalized := make(map[string]Config, len(overrides))
	for key, cfg := range overrides {
		normalized[key] = cfg.withDefaults()
	}

	return &Registry{
		logger:    logger.With("module", "breaker"),
		defaults:  defaults.withDefaults(),
		overrides: normalized,
		circuits:  xsync.NewMapOf[string, *circuit](),
		now:       time.Now,
	}
}

// Allow reports whether a call to the dependency may proceed now. In OPEN,
// once the recovery timeout has elapsed the calling attempt is admitted as
// the single half-open probe; concurrent callers during the probe window
// are rejected.
func (r *Registry) Allow(dependencyKey string) bool {
	c := r.circuit(dependencyKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if c.now().Sub(c.openedAt) < c.config.RecoveryTimeout {
			return false
		}

		c.state = StateHalfOpen
		c.probeInFlight = true
		r.logger.Info("Circuit half-open, admitting probe", "dependency", dependencyKey)

		return true
	case StateHalfOpen:
		if c.probeInFlight {
			return false
		}

		c.probeInFlight = true

		return true
	}

	return false
}

// RecordSuccess resets the failure count, closing the circuit if a probe
// just succeeded.
func (r *Registry) RecordSuccess(dependencyKey string) {
	c := r.circuit(dependencyKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0

	if c.state == StateHalfOpen {
		c.state = StateClosed
		c.probeInFlight = false
		r.logger.Info("Circuit closed after successful probe", "dependency", dependencyKey)
	}
}

// RecordFailure increments the failure count and opens the circuit when the
// threshold is reached. A half-open probe failure re-opens immediately.
func (r *Registry) RecordFailure(dependencyKey string) {
	c := r.circuit(dependencyKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++

	if c.state == StateHalfOpen {
		c.open()
		r.logger.Warn("Circuit re-opened after failed probe", "dependency", dependencyKey)

		return
	}

	if c.state == StateClosed && c.consecutiveFailures >= c.config.FailureThreshold {
		c.open()
		r.logger.Warn("Circuit opened",
			"dependency", dependencyKey,
			"consecutive_failures", c.consecutiveFailures,
		)
	}
}

// StateOf returns the current state for the dependency without creating a
// circuit for unknown keys.
func (r *Registry) StateOf(dependencyKey string) State {
	c, ok := r.circuits.Load(dependencyKey)
	if !ok {
		return StateClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Snapshots returns a view of every known circuit, for the inspection API.
func (r *Registry) Snapshots() []Snapshot {
	snapshots := make([]Snapshot, 0)

	r.circuits.Range(func(key string, c *circuit) bool {
		c.mu.Lock()
		snapshots = append(snapshots, Snapshot{
			DependencyKey:       key,
			State:               c.state,
			ConsecutiveFailures: c.consecutiveFailures,
			OpenedAt:            c.openedAt,
		})
		c.mu.Unlock()

		return true
	})

	return snapshots
}

func (r *Registry) circuit(dependencyKey string) *circuit {
	c, _ := r.circuits.LoadOrCompute(dependencyKey, func() *circuit {
		return &circuit{
			key:    dependencyKey,
			config: r.configFor(dependencyKey),
			state:  StateClosed,
			now:    r.now,
		}
	})

	return c
}

func (r *Registry) configFor(dependencyKey string) Config {
	if cfg, ok := r.overrides[dependencyKey]; ok {
		return cfg
	}

	return r.defaults
}

func (c *circuit) open() {
	c.state = StateOpen
	c.openedAt = c.now()
	c.probeInFlight = false
}
