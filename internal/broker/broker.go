// Package broker owns the single shared jump-host session. Every other
// component reaches the bastion only through Acquire, which serializes
// connect, health-check and reconnect under one mutex.
package broker

import (
	"context"
	"sync"
	"time"

	"bytemomo/remora/internal/domain"

	log "github.com/sirupsen/logrus"
)

// verifyCommand is the lightweight liveness probe sent over a throwaway
// channel. The bastion shell only has to echo it back.
const verifyCommand = "echo remora-keepalive"

// Broker brokers access to the shared jump-host session.
type Broker struct {
	Transport domain.Transport
	Bastion   domain.Bastion
	Policy    domain.RunnerPolicy
	Log       *log.Entry

	mu           sync.Mutex
	handle       domain.Handle
	lastVerified time.Time
	reconnects   int
	fatal        bool
}

// New returns a broker with no live session. The first Acquire connects.
func New(t domain.Transport, bastion domain.Bastion, policy domain.RunnerPolicy, logger *log.Entry) *Broker {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Broker{Transport: t, Bastion: bastion, Policy: policy, Log: logger}
}

// Acquire returns a healthy session, connecting or reconnecting as needed.
// It is idempotent: a session that passed its recent health check is handed
// back immediately. Once the broker is fatal every call fails.
func (b *Broker) Acquire(ctx context.Context) (domain.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fatal {
		return nil, domain.E(domain.KindFatal, "broker.Acquire", "jump host unavailable", nil)
	}

	if b.handle != nil {
		if time.Since(b.lastVerified) < b.Policy.VerifyInterval {
			return b.handle, nil
		}
		if err := b.verifyLocked(ctx); err == nil {
			return b.handle, nil
		}
		// Verification failed: one synchronous reconnect. Losing an
		// established session and failing to win it back is fatal for the
		// whole run.
		b.Log.WithField("bastion", b.Bastion.Host).Warn("Jump host session failed verification, reconnecting")
		b.closeLocked()
		if err := b.connectLocked(ctx); err != nil {
			b.enterFatalLocked(err)
			return nil, domain.E(domain.KindFatal, "broker.Acquire", "jump host unavailable", err)
		}
		return b.handle, nil
	}

	// Fresh connect failures are plain connectivity errors: the caller's
	// retry policy decides whether to try again.
	if err := b.connectLocked(ctx); err != nil {
		return nil, err
	}
	return b.handle, nil
}

// Verify health-checks the current session, reconnecting once on failure.
func (b *Broker) Verify(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fatal {
		return domain.E(domain.KindFatal, "broker.Verify", "jump host unavailable", nil)
	}
	if b.handle == nil {
		return b.connectLocked(ctx)
	}
	if err := b.verifyLocked(ctx); err != nil {
		b.closeLocked()
		if cerr := b.connectLocked(ctx); cerr != nil {
			b.enterFatalLocked(cerr)
			return domain.E(domain.KindFatal, "broker.Verify", "jump host unavailable", cerr)
		}
	}
	return nil
}

// Release tears down the session on run teardown.
func (b *Broker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

// Fatal reports whether the shared session is permanently lost.
func (b *Broker) Fatal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fatal
}

func (b *Broker) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, b.Policy.ConnectTimeout)
	defer cancel()

	attempt := b.reconnects
	b.Log.WithFields(log.Fields{
		"bastion":   b.Bastion.Host,
		"reconnect": attempt,
	}).Info("Connecting to jump host")

	h, err := b.Transport.Connect(dialCtx, b.Bastion.Host, b.Bastion.Credentials)
	if err != nil {
		b.Log.WithError(err).WithField("bastion", b.Bastion.Host).Error("Jump host connect failed")
		return domain.E(domain.KindConnectivity, "broker.connect", "connect to jump host", err)
	}

	b.handle = h
	b.lastVerified = time.Now()
	b.reconnects++
	b.Log.WithField("bastion", b.Bastion.Host).Info("Jump host session established")
	return nil
}

// verifyLocked sends the liveness command over a throwaway channel.
func (b *Broker) verifyLocked(ctx context.Context) error {
	ch, err := b.handle.OpenChannel(ctx)
	if err != nil {
		return domain.E(domain.KindConnectivity, "broker.verify", "open verify channel", err)
	}
	defer ch.Close()

	if _, err := ch.Send(ctx, verifyCommand, b.Policy.ConnectTimeout); err != nil {
		return domain.E(domain.KindConnectivity, "broker.verify", "verify command", err)
	}
	b.lastVerified = time.Now()
	return nil
}

func (b *Broker) closeLocked() {
	if b.handle != nil {
		_ = b.handle.Close()
		b.handle = nil
	}
}

func (b *Broker) enterFatalLocked(cause error) {
	b.fatal = true
	b.closeLocked()
	b.Log.WithError(cause).WithField("bastion", b.Bastion.Host).Error("Jump host permanently lost, run cannot continue")
}
