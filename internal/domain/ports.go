package domain

import (
	"context"
	"time"
)

// Transport is the external session layer the engine drives. Implementations
// own the concrete protocol; this core never speaks SSH or Telnet itself.
type Transport interface {
	// Connect establishes a session to host with the given credentials.
	Connect(ctx context.Context, host string, creds Credentials) (Handle, error)
}

// Handle is one live session over which channels can be multiplexed.
type Handle interface {
	// OpenChannel opens an independent logical channel on the session.
	OpenChannel(ctx context.Context) (Channel, error)
	Close() error
}

// Channel is one logical exchange stream scoped to a single device attempt.
type Channel interface {
	// Send writes a command and returns the text produced up to the next
	// prompt or until timeout elapses.
	Send(ctx context.Context, command string, timeout time.Duration) (string, error)
	Close() error
}

// Prober answers the stage-1 reachability question. A probe failure is not
// conclusive: devices reachable only through the bastion may never answer a
// direct probe.
type Prober interface {
	Probe(ctx context.Context, host string, timeout time.Duration) error
}

// ResultRepo persists per-device reports as they finish.
type ResultRepo interface {
	Save(dev Device, rep AuditReport) error
}

// ReportWriter aggregates a completed run into an external report.
type ReportWriter interface {
	Aggregate(set ResultSet) (string, error)
}
