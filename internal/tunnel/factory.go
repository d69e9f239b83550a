// Package tunnel opens per-device channels multiplexed over the broker's
// jump-host session and authenticates to the device. At most one tunnel
// exists per audit task at any instant; a fresh one is opened per attempt.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bytemomo/remora/internal/broker"
	"bytemomo/remora/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Markers inspected in the hop/login exchange output. Matching is
// case-insensitive and ordered: auth refusals before connectivity refusals,
// so a rejected password on a reachable device is never retried as a
// network blip.
var (
	authFailMarkers = []string{
		"permission denied",
		"authentication failed",
		"% authentication failed",
		"access denied",
		"% bad passwords",
		"% bad secrets",
		"login invalid",
	}
	connFailMarkers = []string{
		"no route to host",
		"connection refused",
		"connection timed out",
		"could not resolve",
		"network is unreachable",
		"host is unreachable",
		"connection closed by remote host",
	}
	passwordPrompt = "password:"
)

// Tunnel is one authenticated device channel.
type Tunnel struct {
	Device  domain.Device
	channel domain.Channel
	opened  time.Time
}

// Run executes a command on the device. A deadline overrun is reported as a
// timing failure, not connectivity.
func (t *Tunnel) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	out, err := t.channel.Send(ctx, command, timeout)
	if err != nil {
		op := fmt.Sprintf("tunnel.Run(%s)", t.Device)
		if errors.Is(err, context.DeadlineExceeded) {
			return out, domain.E(domain.KindTiming, op, "command exceeded timeout", err)
		}
		return out, domain.E(domain.KindConnectivity, op, "command failed", err)
	}
	return out, nil
}

// Close releases the channel without touching the shared jump-host session.
func (t *Tunnel) Close() {
	if t.channel != nil {
		_ = t.channel.Close()
		t.channel = nil
	}
}

// Factory opens device tunnels through the broker's current session.
type Factory struct {
	Broker      *broker.Broker
	Credentials func(domain.Device) domain.Credentials
	Log         *log.Entry
}

// Open requests a channel from the jump-host session and authenticates to
// the device. An attempt exceeding timeout is a timing failure; unreachable
// devices and rejected credentials come back as distinct kinds so retry
// classification stays accurate.
func (f *Factory) Open(ctx context.Context, dev domain.Device, timeout time.Duration) (*Tunnel, error) {
	op := fmt.Sprintf("tunnel.Open(%s)", dev)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := f.Broker.Acquire(ctx)
	if err != nil {
		// The broker reports its own dial overruns as connectivity; inside
		// this attempt's budget they are timing failures like any other leg.
		if !domain.IsFatal(err) && errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.E(domain.KindTiming, op, "session acquire exceeded timeout", err)
		}
		return nil, err
	}

	ch, err := handle.OpenChannel(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.E(domain.KindTiming, op, "channel open exceeded timeout", err)
		}
		return nil, domain.E(domain.KindConnectivity, op, "open channel", err)
	}

	creds := f.Credentials(dev)
	if err := f.login(ctx, ch, dev, creds, timeout); err != nil {
		_ = ch.Close()
		return nil, err
	}

	f.Log.WithFields(log.Fields{
		"device": dev.String(),
		"host":   dev.Host,
	}).Debug("Device tunnel open")

	return &Tunnel{Device: dev, channel: ch, opened: time.Now()}, nil
}

// login drives the hop from the bastion shell onto the device and classifies
// the exchange output.
func (f *Factory) login(ctx context.Context, ch domain.Channel, dev domain.Device, creds domain.Credentials, timeout time.Duration) error {
	op := fmt.Sprintf("tunnel.login(%s)", dev)

	out, err := ch.Send(ctx, hopCommand(dev, creds), timeout)
	if err != nil {
		return classifySendError(op, err)
	}

	if strings.Contains(strings.ToLower(out), passwordPrompt) {
		out, err = ch.Send(ctx, creds.Password, timeout)
		if err != nil {
			return classifySendError(op, err)
		}
	}

	lower := strings.ToLower(out)
	for _, marker := range authFailMarkers {
		if strings.Contains(lower, marker) {
			return domain.E(domain.KindAuth, op, "device rejected credentials", nil)
		}
	}
	for _, marker := range connFailMarkers {
		if strings.Contains(lower, marker) {
			return domain.E(domain.KindConnectivity, op, strings.TrimSpace(firstLineWith(out, marker)), nil)
		}
	}
	return nil
}

func classifySendError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.E(domain.KindTiming, op, "login exchange exceeded timeout", err)
	}
	return domain.E(domain.KindConnectivity, op, "login exchange failed", err)
}

// hopCommand builds the device hop issued on the bastion shell.
func hopCommand(dev domain.Device, creds domain.Credentials) string {
	if creds.Username == "" {
		return fmt.Sprintf("ssh -o StrictHostKeyChecking=no %s", dev.Host)
	}
	return fmt.Sprintf("ssh -o StrictHostKeyChecking=no -l %s %s", creds.Username, dev.Host)
}

// firstLineWith returns the output line carrying the matched marker, for
// error messages that keep the device's own words.
func firstLineWith(out, marker string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(strings.ToLower(line), marker) {
			return line
		}
	}
	return marker
}
