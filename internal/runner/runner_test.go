package runner

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"bytemomo/remora/internal/domain"
	"bytemomo/remora/internal/testutil"

	log "github.com/sirupsen/logrus"
)

func quietLog() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func fastPlan(devices []domain.Device, workers int) *domain.Plan {
	retry := map[domain.Category]domain.RetryPolicy{}
	for _, c := range domain.Categories() {
		retry[c] = domain.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	}
	return &domain.Plan{
		ID: "lab-audit",
		Bastion: domain.Bastion{
			Host:        "bastion.example.net",
			Credentials: domain.Credentials{Username: "auditor", Password: "secret"},
		},
		DefaultCredentials: &domain.Credentials{Username: "auditor", Password: "pw"},
		Devices:            devices,
		Commands:           []string{"show version", domain.DefaultLineConfigCommand},
		Policy: domain.Policy{
			Runner: domain.RunnerPolicy{
				Workers:        workers,
				ConnectTimeout: time.Second,
				TunnelTimeout:  time.Second,
				CommandTimeout: time.Second,
				StabilizeDelay: time.Millisecond,
				VerifyInterval: time.Minute,
			},
			Retry: retry,
		},
	}
}

func labScript() *testutil.DeviceScript {
	outputs := map[string]string{
		"show privilege": "Current privilege level is 15",
		"show version":   "IOS XE 17.9",
	}
	outputs[domain.DefaultLineConfigCommand] = "line vty 0 4\n transport input ssh\n login local\n"
	return &testutil.DeviceScript{
		Password: "pw",
		Prompt:   "sw#",
		Outputs:  outputs,
	}
}

type memStore struct {
	mu    sync.Mutex
	saved []string
}

func (s *memStore) Save(dev domain.Device, rep domain.AuditReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, dev.ID)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestRunAuditsEveryDeviceInInventoryOrder(t *testing.T) {
	devices := []domain.Device{
		{ID: "sw1", Host: "10.0.0.1"},
		{ID: "sw2", Host: "10.0.0.2", Credentials: &domain.Credentials{Username: "auditor", Password: "bad"}},
		{ID: "sw3", Host: "10.0.0.3"},
	}
	script := labScript()
	ft := &testutil.FakeTransport{NewSession: script.Session}
	store := &memStore{}
	r := &Runner{
		Transport: ft,
		Store:     store,
		Log:       quietLog(),
		Jitter:    func() float64 { return 0 },
	}

	run := r.Start(context.Background(), fastPlan(devices, 2))
	set := run.Wait()

	if set.RunID == "" {
		t.Error("result set must carry the run ID")
	}
	if len(set.Reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(set.Reports))
	}
	for i, dev := range devices {
		if set.Reports[i].Device.ID != dev.ID {
			t.Errorf("report %d is for %s, want %s: result order must follow inventory order", i, set.Reports[i].Device.ID, dev.ID)
		}
	}

	if got := set.Reports[0].Status; got != domain.StatusCompleted {
		t.Errorf("sw1 status = %s, want completed", got)
	}
	if got := set.Reports[1].Status; got != domain.StatusSkippedToReport {
		t.Errorf("sw2 status = %s, want skipped_to_report: its own credentials are wrong", got)
	}
	if got := set.Reports[2].Status; got != domain.StatusCompleted {
		t.Errorf("sw3 status = %s, want completed", got)
	}

	for i, rep := range set.Reports {
		if len(rep.Stages) != domain.StageCount {
			t.Errorf("report %d has %d stage results, want %d", i, len(rep.Stages), domain.StageCount)
		}
	}

	if store.count() != 3 {
		t.Errorf("store saw %d saves, want 3", store.count())
	}
	if got := ft.Connects(); got != 1 {
		t.Errorf("connects = %d, want 1: all workers share one jump-host session", got)
	}

	select {
	case <-run.Done():
	default:
		t.Error("Done must be closed after Wait returns")
	}

	snap := run.Snapshot()
	if snap.Counts[domain.StatusCompleted] != 2 || snap.Counts[domain.StatusSkippedToReport] != 1 {
		t.Errorf("final counts = %v", snap.Counts)
	}
	if snap.PercentComplete != 100 {
		t.Errorf("percent complete = %v, want 100", snap.PercentComplete)
	}
	if len(snap.Stages) != 0 {
		t.Errorf("stage histogram after the run = %v, want empty", snap.Stages)
	}
}

func TestStopDrainsUndispatchedDevices(t *testing.T) {
	devices := []domain.Device{
		{ID: "sw1", Host: "10.0.0.1"},
		{ID: "sw2", Host: "10.0.0.2"},
		{ID: "sw3", Host: "10.0.0.3"},
		{ID: "sw4", Host: "10.0.0.4"},
	}
	script := labScript()

	started := make(chan struct{}, len(devices))
	release := make(chan struct{})
	ft := &testutil.FakeTransport{NewSession: func() testutil.Responder {
		inner := script.Session()
		return func(command string) (string, error) {
			if command == "show privilege" {
				started <- struct{}{}
				<-release
			}
			return inner(command)
		}
	}}

	r := &Runner{Transport: ft, Log: quietLog(), Jitter: func() float64 { return 0 }}
	run := r.Start(context.Background(), fastPlan(devices, 2))

	// Both workers are mid-audit when the stop lands.
	<-started
	<-started
	run.Stop()
	close(release)
	set := run.Wait()

	if len(set.Reports) != 4 {
		t.Fatalf("got %d reports, want 4: a stopped run still accounts for every device", len(set.Reports))
	}
	for i := 0; i < 2; i++ {
		if got := set.Reports[i].Status; got != domain.StatusCompleted {
			t.Errorf("in-flight device %d status = %s, want completed: stop never interrupts a running task", i, got)
		}
	}
	for i := 2; i < 4; i++ {
		rep := set.Reports[i]
		if rep.Status != domain.StatusCancelled {
			t.Errorf("report %d status = %s, want cancelled", i, rep.Status)
		}
		if !strings.Contains(rep.Partial, "run stopped") {
			t.Errorf("report %d partial = %q", i, rep.Partial)
		}
		if len(rep.Stages) != domain.StageCount {
			t.Errorf("report %d has %d stage results, want %d skip markers", i, len(rep.Stages), domain.StageCount)
		}
		for _, s := range rep.Stages {
			if !s.Skipped {
				t.Errorf("report %d stage %s must be skipped", i, s.Stage)
			}
		}
	}

	snap := run.Snapshot()
	total := 0
	for _, n := range snap.Counts {
		total += n
	}
	if total != 4 {
		t.Errorf("status counts sum to %d, want 4", total)
	}
}

func TestGatePauseAndResume(t *testing.T) {
	g := newGate()
	released := make(chan struct{})
	ctx := context.Background()

	if err := g.wait(ctx, released); err != nil {
		t.Fatalf("wait on an open gate: %v", err)
	}

	g.pause()
	waited := make(chan error, 1)
	go func() { waited <- g.wait(ctx, released) }()

	select {
	case <-waited:
		t.Fatal("wait must block while paused")
	case <-time.After(20 * time.Millisecond):
	}

	g.resume()
	select {
	case err := <-waited:
		if err != nil {
			t.Fatalf("wait after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("resume must release waiters")
	}
}

func TestGateReleasedBypassesPause(t *testing.T) {
	g := newGate()
	released := make(chan struct{})
	g.pause()

	waited := make(chan error, 1)
	go func() { waited <- g.wait(context.Background(), released) }()
	close(released)

	select {
	case err := <-waited:
		if err != nil {
			t.Fatalf("wait with released channel: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("a stopped run must release paused in-flight tasks")
	}
}

func TestGatePropagatesContextError(t *testing.T) {
	g := newGate()
	g.pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.wait(ctx, make(chan struct{})); err == nil {
		t.Fatal("wait must surface a dead run context")
	}
}

func TestGateCallsAreIdempotent(t *testing.T) {
	g := newGate()
	g.pause()
	g.pause()
	g.resume()
	g.resume()

	if err := g.wait(context.Background(), make(chan struct{})); err != nil {
		t.Fatalf("wait after double pause/resume: %v", err)
	}
}
