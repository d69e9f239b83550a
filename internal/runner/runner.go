// Package runner schedules per-device audits over a bounded worker pool that
// shares one jump-host session. Dispatch follows inventory order; pause,
// resume and stop are cooperative and observed at stage checkpoints.
package runner

import (
	"context"
	"sync"

	"bytemomo/remora/internal/audit"
	"bytemomo/remora/internal/broker"
	"bytemomo/remora/internal/domain"
	"bytemomo/remora/internal/retry"
	"bytemomo/remora/internal/tunnel"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Runner wires the engine's collaborators and starts runs.
type Runner struct {
	Transport domain.Transport
	Prober    domain.Prober
	Store     domain.ResultRepo
	Log       *log.Entry

	// Jitter overrides the backoff jitter source; tests inject a fixed one.
	Jitter retry.Jitter
}

// Run is the handle exposed to external observers and controllers.
type Run struct {
	ID string

	gate     *gate
	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	progress *Progress
	log      *log.Entry

	mu      sync.Mutex
	reports []domain.AuditReport
}

// Pause stops new stages and new dispatches until Resume. Stages already
// executing finish first; nothing is interrupted mid-command.
func (r *Run) Pause() {
	r.gate.pause()
	r.log.Info("Run paused")
}

// Resume clears the pause flag.
func (r *Run) Resume() {
	r.gate.resume()
	r.log.Info("Run resumed")
}

// Stop drains the dispatch queue. In-flight tasks run to their natural
// report; undispatched devices are recorded as cancelled so the result set
// stays complete.
func (r *Run) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
		r.log.Info("Run stopping: dispatch queue drained")
	})
}

// Snapshot returns the current aggregate progress view.
func (r *Run) Snapshot() domain.ProgressSnapshot {
	return r.progress.Snapshot()
}

// Done is closed when every task reached a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns the ordered result set.
func (r *Run) Wait() domain.ResultSet {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.ResultSet{RunID: r.ID, Reports: r.reports}
}

func (r *Run) setReport(idx int, rep domain.AuditReport) {
	r.mu.Lock()
	r.reports[idx] = rep
	r.mu.Unlock()
}

// Start launches a run and returns immediately with its handle.
func (r *Runner) Start(ctx context.Context, plan *domain.Plan) *Run {
	policy := plan.EffectivePolicy()

	logger := r.Log
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	runID := uuid.NewString()
	logger = logger.WithFields(log.Fields{"run": runID, "plan": plan.ID})

	run := &Run{
		ID:       runID,
		gate:     newGate(),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		progress: NewProgress(len(plan.Devices)),
		log:      logger,
		reports:  make([]domain.AuditReport, len(plan.Devices)),
	}

	logger.WithFields(log.Fields{
		"devices": len(plan.Devices),
		"workers": policy.Runner.Workers,
	}).Info("Starting audit run")

	go r.execute(ctx, run, plan, policy)
	return run
}

func (r *Runner) execute(ctx context.Context, run *Run, plan *domain.Plan, policy domain.Policy) {
	defer close(run.done)

	brk := broker.New(r.Transport, plan.Bastion, policy.Runner, run.log)
	defer brk.Release()

	factory := &tunnel.Factory{
		Broker:      brk,
		Credentials: plan.CredentialsFor,
		Log:         run.log,
	}
	backoff := retry.New(policy, r.Jitter)

	sem := make(chan struct{}, max(1, policy.Runner.Workers))
	var wg sync.WaitGroup

dispatch:
	for i, dev := range plan.Devices {
		// Pause blocks dispatch too; a stop or a dead run context drains
		// the rest of the queue.
		if err := run.gate.wait(ctx, run.stopped); err != nil {
			r.drainRemaining(run, plan, i, domain.StatusCancelled, "not dispatched: run cancelled")
			break dispatch
		}
		if brk.Fatal() {
			r.drainRemaining(run, plan, i, domain.StatusFailed, "jump host unavailable")
			break dispatch
		}
		select {
		case <-run.stopped:
			r.drainRemaining(run, plan, i, domain.StatusCancelled, "not dispatched: run stopped")
			break dispatch
		default:
		}

		select {
		case sem <- struct{}{}:
		case <-run.stopped:
			r.drainRemaining(run, plan, i, domain.StatusCancelled, "not dispatched: run stopped")
			break dispatch
		case <-ctx.Done():
			r.drainRemaining(run, plan, i, domain.StatusCancelled, "not dispatched: run cancelled")
			break dispatch
		}

		wg.Add(1)
		go func(idx int, dev domain.Device) {
			defer wg.Done()
			defer func() { <-sem }()

			m := &audit.Machine{
				Device:            dev,
				Commands:          plan.Commands,
				LineConfigCommand: plan.EffectiveLineConfigCommand(),
				Tunnels:           factory,
				Prober:            r.Prober,
				Backoff:           backoff,
				Policy:            policy.Runner,
				Gate:              taskGate{gate: run.gate, released: run.stopped},
				SessionLost:       brk.Fatal,
				OnStage:           run.progress.OnStage,
				OnStatus:          run.progress.OnStatus,
				Log:               run.log,
			}

			rep := m.Run(ctx)
			run.setReport(idx, rep)
			run.progress.OnReport(rep)

			if r.Store != nil {
				if err := r.Store.Save(dev, rep); err != nil {
					run.log.WithError(err).WithField("device", dev.String()).Error("Failed to save result")
				}
			}
		}(i, dev)
	}

	wg.Wait()
	run.log.Info("Audit run finished")
}

// drainRemaining records a uniform terminal report for every device that was
// never dispatched, keeping the result set ordered and complete.
func (r *Runner) drainRemaining(run *Run, plan *domain.Plan, from int, status domain.TaskStatus, reason string) {
	for i := from; i < len(plan.Devices); i++ {
		dev := plan.Devices[i]

		stages := make([]domain.StageResult, 0, domain.StageCount)
		for _, s := range domain.Stages() {
			stages = append(stages, domain.StageResult{Stage: s, Skipped: true})
		}

		rep := domain.AuditReport{
			Device:  dev,
			Status:  status,
			Partial: reason,
			Stages:  stages,
		}
		run.setReport(i, rep)
		run.progress.OnStatus(dev, domain.StatusPending, status)

		if r.Store != nil {
			if err := r.Store.Save(dev, rep); err != nil {
				run.log.WithError(err).WithField("device", dev.String()).Error("Failed to save result")
			}
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
