package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"bytemomo/remora/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Category
	}{
		{
			name: "connectivity maps to network",
			err:  domain.E(domain.KindConnectivity, "tunnel.Open", "no route to host", nil),
			want: domain.CategoryNetwork,
		},
		{
			name: "auth maps to auth",
			err:  domain.E(domain.KindAuth, "tunnel.login", "device rejected credentials", nil),
			want: domain.CategoryAuth,
		},
		{
			name: "authorization maps to auth",
			err:  domain.E(domain.KindAuthorization, "audit.authorize", "denied", nil),
			want: domain.CategoryAuth,
		},
		{
			name: "timing maps to timeout",
			err:  domain.E(domain.KindTiming, "tunnel.Run", "command exceeded timeout", nil),
			want: domain.CategoryTimeout,
		},
		{
			name: "bare deadline maps to timeout",
			err:  context.DeadlineExceeded,
			want: domain.CategoryTimeout,
		},
		{
			name: "busy marker wins over connectivity",
			err:  domain.E(domain.KindConnectivity, "tunnel.login", "Too many connections, try again later", nil),
			want: domain.CategoryDeviceBusy,
		},
		{
			name: "line in use is busy",
			err:  domain.E(domain.KindConnectivity, "tunnel.login", "% Line in use", nil),
			want: domain.CategoryDeviceBusy,
		},
		{
			name: "data maps to unknown",
			err:  domain.E(domain.KindData, "lineconf.Parse", "no text", nil),
			want: domain.CategoryUnknown,
		},
		{
			name: "plain error maps to unknown",
			err:  errors.New("something odd"),
			want: domain.CategoryUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDelayIsNonDecreasingAndBounded(t *testing.T) {
	b := New(domain.DefaultPolicy(), func() float64 { return 0 })

	for _, cat := range domain.Categories() {
		cat := cat
		t.Run(string(cat), func(t *testing.T) {
			rp := b.PolicyFor(cat)
			var prev time.Duration
			for attempt := 1; attempt <= 10; attempt++ {
				d := b.Delay(attempt, cat)
				if d < prev {
					t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
				}
				if d > rp.MaxDelay {
					t.Fatalf("delay %v exceeds bound %v at attempt %d", d, rp.MaxDelay, attempt)
				}
				prev = d
			}
		})
	}
}

func TestDelayExponentialGrowth(t *testing.T) {
	b := New(domain.DefaultPolicy(), func() float64 { return 0 })

	if d := b.Delay(1, domain.CategoryNetwork); d != 2*time.Second {
		t.Errorf("attempt 1 delay = %v, want 2s", d)
	}
	if d := b.Delay(2, domain.CategoryNetwork); d != 4*time.Second {
		t.Errorf("attempt 2 delay = %v, want 4s", d)
	}
	if d := b.Delay(3, domain.CategoryNetwork); d != 8*time.Second {
		t.Errorf("attempt 3 delay = %v, want 8s", d)
	}
	// 2s * 2^9 is far past the bound.
	if d := b.Delay(10, domain.CategoryNetwork); d != 30*time.Second {
		t.Errorf("attempt 10 delay = %v, want the 30s bound", d)
	}
}

func TestDelayJitterIsApplied(t *testing.T) {
	up := New(domain.DefaultPolicy(), func() float64 { return 1 })
	down := New(domain.DefaultPolicy(), func() float64 { return -1 })

	// Network base 2s, jitter fraction 0.2: 1.6s .. 2.4s on attempt 1.
	if d := up.Delay(1, domain.CategoryNetwork); d != 2400*time.Millisecond {
		t.Errorf("upper jitter delay = %v, want 2.4s", d)
	}
	if d := down.Delay(1, domain.CategoryNetwork); d != 1600*time.Millisecond {
		t.Errorf("lower jitter delay = %v, want 1.6s", d)
	}
}

func TestDelayDeterministicWithFixedJitter(t *testing.T) {
	a := New(domain.DefaultPolicy(), func() float64 { return 0.5 })
	b := New(domain.DefaultPolicy(), func() float64 { return 0.5 })
	for attempt := 1; attempt <= 5; attempt++ {
		if a.Delay(attempt, domain.CategoryTimeout) != b.Delay(attempt, domain.CategoryTimeout) {
			t.Fatalf("same jitter source must yield identical delays at attempt %d", attempt)
		}
	}
}
