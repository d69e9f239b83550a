package domain

import "time"

// Policy defines run-wide execution constraints.
type Policy struct {
	Runner RunnerPolicy             `yaml:"runner,omitempty"`
	Retry  map[Category]RetryPolicy `yaml:"retry,omitempty"`
}

// RunnerPolicy controls scheduling and per-operation timeouts.
type RunnerPolicy struct {
	// Workers bounds concurrent device audits.
	// Default: 1
	Workers int `yaml:"workers,omitempty"`

	// ConnectTimeout is the dial timeout for the jump-host session.
	// Default: 15s
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`

	// TunnelTimeout bounds one device tunnel open attempt. Exceeding it is a
	// timing failure, not a connectivity failure.
	// Default: 20s
	TunnelTimeout time.Duration `yaml:"tunnel_timeout,omitempty"`

	// CommandTimeout bounds one command execution on a device.
	// Default: 30s
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`

	// StabilizeDelay is the settle window between authorization and bulk
	// collection. Some transports drop output streamed too soon after login.
	// Default: 2s
	StabilizeDelay time.Duration `yaml:"stabilize_delay,omitempty"`

	// VerifyInterval is how long a jump-host session may be reused before the
	// broker health-checks it again.
	// Default: 30s
	VerifyInterval time.Duration `yaml:"verify_interval,omitempty"`
}

// RetryPolicy is one entry of the per-category retry table.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`
	BaseDelay      time.Duration `yaml:"base_delay,omitempty"`
	JitterFraction float64       `yaml:"jitter_fraction,omitempty"`
	MaxDelay       time.Duration `yaml:"max_delay,omitempty"`
}

// DefaultPolicy returns the built-in policy table. The retry entries retry
// transient network blips aggressively, never blind-retry auth (lockout
// risk), and back off patiently on busy devices.
func DefaultPolicy() Policy {
	return Policy{
		Runner: RunnerPolicy{
			Workers:        1,
			ConnectTimeout: 15 * time.Second,
			TunnelTimeout:  20 * time.Second,
			CommandTimeout: 30 * time.Second,
			StabilizeDelay: 2 * time.Second,
			VerifyInterval: 30 * time.Second,
		},
		Retry: map[Category]RetryPolicy{
			CategoryNetwork:    {MaxAttempts: 3, BaseDelay: 2 * time.Second, JitterFraction: 0.2, MaxDelay: 30 * time.Second},
			CategoryAuth:       {MaxAttempts: 1, BaseDelay: 5 * time.Second, JitterFraction: 0.2, MaxDelay: 5 * time.Second},
			CategoryTimeout:    {MaxAttempts: 2, BaseDelay: 3 * time.Second, JitterFraction: 0.2, MaxDelay: 30 * time.Second},
			CategoryDeviceBusy: {MaxAttempts: 4, BaseDelay: 10 * time.Second, JitterFraction: 0.2, MaxDelay: 120 * time.Second},
			CategoryUnknown:    {MaxAttempts: 1, BaseDelay: 2 * time.Second, JitterFraction: 0.2, MaxDelay: 2 * time.Second},
		},
	}
}

// Merge combines this policy with defaults, preferring explicit values.
func (p Policy) Merge(defaults Policy) Policy {
	result := defaults

	if p.Runner.Workers > 0 {
		result.Runner.Workers = p.Runner.Workers
	}
	if p.Runner.ConnectTimeout > 0 {
		result.Runner.ConnectTimeout = p.Runner.ConnectTimeout
	}
	if p.Runner.TunnelTimeout > 0 {
		result.Runner.TunnelTimeout = p.Runner.TunnelTimeout
	}
	if p.Runner.CommandTimeout > 0 {
		result.Runner.CommandTimeout = p.Runner.CommandTimeout
	}
	if p.Runner.StabilizeDelay > 0 {
		result.Runner.StabilizeDelay = p.Runner.StabilizeDelay
	}
	if p.Runner.VerifyInterval > 0 {
		result.Runner.VerifyInterval = p.Runner.VerifyInterval
	}

	for cat, rp := range p.Retry {
		merged := result.Retry[cat]
		if rp.MaxAttempts > 0 {
			merged.MaxAttempts = rp.MaxAttempts
		}
		if rp.BaseDelay > 0 {
			merged.BaseDelay = rp.BaseDelay
		}
		if rp.JitterFraction > 0 {
			merged.JitterFraction = rp.JitterFraction
		}
		if rp.MaxDelay > 0 {
			merged.MaxDelay = rp.MaxDelay
		}
		result.Retry[cat] = merged
	}

	return result
}

// RetryFor returns the retry entry for a category, falling back to the
// unknown-category entry.
func (p Policy) RetryFor(c Category) RetryPolicy {
	if rp, ok := p.Retry[c]; ok {
		return rp
	}
	return p.Retry[CategoryUnknown]
}
