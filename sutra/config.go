package sutra

import (
	"time"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
)

// HubConfig configures a CommHub, built with a small chain of With*
// methods in the teacher's ContainerBuilder style (framework/container
// /builder.go) rather than a bare struct literal, so defaults stay
// centralized in one place. DefaultLockTTL is carried in the config only:
// NewCommHub does not pass it on, and the hub's LockManager uses the
// package constant DefaultLockTTL (or the ttl given to AcquireWithTTL).
type HubConfig struct {
	MaxChannels        int
	MaxHistory         int
	SweepInterval      time.Duration
	DefaultLockTTL     time.Duration
	MaxPendingRequests int // SandeshaRouter bound, default 10 per spec.md §4.7
	Logger             core.Logger
	Policy             core.PolicyChecker
	Metrics            *metrics.KernelMetrics
}

// DefaultHubConfig returns the hub's default tuning, matching spec.md §4.5
// ("sweep every 10s") and §4.7 ("maxPendingRequests default 10").
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxChannels:        1024,
		MaxHistory:         1000,
		SweepInterval:      10 * time.Second,
		DefaultLockTTL:     DefaultLockTTL,
		MaxPendingRequests: 10,
		Logger:             core.NopLogger(),
	}
}

// WithMaxChannels caps the number of distinct topics the hub will create.
func (c HubConfig) WithMaxChannels(n int) HubConfig { c.MaxChannels = n; return c }

// WithMaxHistory caps the number of envelopes retained per channel.
func (c HubConfig) WithMaxHistory(n int) HubConfig { c.MaxHistory = n; return c }

// WithSweepInterval overrides the periodic TTL sweep cadence.
func (c HubConfig) WithSweepInterval(d time.Duration) HubConfig { c.SweepInterval = d; return c }

// WithMaxPendingRequests overrides the SandeshaRouter's pending-request
// bound.
func (c HubConfig) WithMaxPendingRequests(n int) HubConfig { c.MaxPendingRequests = n; return c }

// WithLogger installs the injected logging capability.
func (c HubConfig) WithLogger(l core.Logger) HubConfig { c.Logger = l; return c }

// WithPolicy installs the pre-send policy hook (spec.md §6).
func (c HubConfig) WithPolicy(p core.PolicyChecker) HubConfig { c.Policy = p; return c }

// WithMetrics installs the kernel metrics instrument, propagated to every
// delegate manager when the hub is constructed.
func (c HubConfig) WithMetrics(km *metrics.KernelMetrics) HubConfig { c.Metrics = km; return c }
