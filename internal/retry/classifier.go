// Package retry maps failures to retry categories and computes jittered
// exponential backoff. Everything here is pure: the jitter source is
// injected so tests stay deterministic.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"bytemomo/remora/internal/domain"
)

// busyMarkers identify resource-contention refusals that deserve patient
// backoff instead of the aggressive network policy.
var busyMarkers = []string{
	"too many connections",
	"connection limit",
	"resource temporarily unavailable",
	"resource unavailable",
	"device busy",
	"line in use",
}

// Classify maps a failure into a retry category.
func Classify(err error) domain.Category {
	if err == nil {
		return domain.CategoryUnknown
	}

	text := strings.ToLower(err.Error())
	for _, marker := range busyMarkers {
		if strings.Contains(text, marker) {
			return domain.CategoryDeviceBusy
		}
	}

	switch domain.KindOf(err) {
	case domain.KindConnectivity:
		return domain.CategoryNetwork
	case domain.KindAuth, domain.KindAuthorization:
		return domain.CategoryAuth
	case domain.KindTiming:
		return domain.CategoryTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CategoryTimeout
	}

	return domain.CategoryUnknown
}

// Jitter yields a value in [-1, 1] scaled by the policy's jitter fraction.
type Jitter func() float64

// Backoff computes retry delays from the policy table.
type Backoff struct {
	policy domain.Policy
	jitter Jitter
}

// New builds a Backoff over the given policy. A nil jitter source falls back
// to math/rand.
func New(policy domain.Policy, jitter Jitter) *Backoff {
	if jitter == nil {
		jitter = func() float64 { return rand.Float64()*2 - 1 }
	}
	return &Backoff{policy: policy, jitter: jitter}
}

// PolicyFor returns the retry table entry for a category.
func (b *Backoff) PolicyFor(c domain.Category) domain.RetryPolicy {
	return b.policy.RetryFor(c)
}

// Delay computes the wait before re-attempting. attempt is 1-based: the delay
// after the first failed attempt is Delay(1, ...).
//
//	delay = min(base * 2^(attempt-1) * (1 ± jitter_fraction), max)
func (b *Backoff) Delay(attempt int, c domain.Category) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	rp := b.PolicyFor(c)

	d := float64(rp.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	d *= 1 + b.jitter()*rp.JitterFraction

	delay := time.Duration(d)
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
