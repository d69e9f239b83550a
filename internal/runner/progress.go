package runner

import (
	"sync"
	"time"

	"bytemomo/remora/internal/domain"
)

// movingWindow is how many recent task durations feed the ETA average.
const movingWindow = 8

// Progress aggregates stage and status events from all workers. All mutation
// happens under one lock; Snapshot never blocks on in-flight work.
type Progress struct {
	mu      sync.Mutex
	total   int
	started time.Time
	counts  map[domain.TaskStatus]int
	current map[string]domain.Stage // device -> stage it is executing

	window [movingWindow]time.Duration
	next   int
	filled int
}

// NewProgress seeds the counters: every device starts pending, so the
// per-status counts always sum to the total.
func NewProgress(total int) *Progress {
	return &Progress{
		total:   total,
		started: time.Now(),
		counts:  map[domain.TaskStatus]int{domain.StatusPending: total},
		current: make(map[string]domain.Stage),
	}
}

// OnStatus moves one device between status buckets.
func (p *Progress) OnStatus(dev domain.Device, from, to domain.TaskStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[from]--
	p.counts[to]++
	if to.Terminal() {
		delete(p.current, dev.String())
	}
}

// OnStage records which stage a device just finished. Skip markers carry no
// in-flight work, and the report result is the task's last breath; neither
// may put a device back into the histogram after its status went terminal.
func (p *Progress) OnStage(dev domain.Device, stage domain.Stage, res domain.StageResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Skipped {
		return
	}
	if stage == domain.StageReport {
		delete(p.current, dev.String())
		return
	}
	p.current[dev.String()] = stage
}

// OnReport feeds a finished task's duration into the ETA window.
func (p *Progress) OnReport(rep domain.AuditReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window[p.next] = rep.Duration
	p.next = (p.next + 1) % movingWindow
	if p.filled < movingWindow {
		p.filled++
	}
}

// Snapshot recomputes the aggregate view from the current counters.
func (p *Progress) Snapshot() domain.ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[domain.TaskStatus]int, len(p.counts))
	done := 0
	for status, n := range p.counts {
		counts[status] = n
		if status.Terminal() {
			done += n
		}
	}

	stages := make(map[domain.Stage]int)
	for _, s := range p.current {
		stages[s]++
	}

	snap := domain.ProgressSnapshot{
		Total:   p.total,
		Counts:  counts,
		Stages:  stages,
		Elapsed: time.Since(p.started),
	}
	if p.total > 0 {
		snap.PercentComplete = float64(done) / float64(p.total) * 100
	}

	if p.filled > 0 && done < p.total {
		var sum time.Duration
		for i := 0; i < p.filled; i++ {
			sum += p.window[i]
		}
		avg := sum / time.Duration(p.filled)
		snap.ETA = avg * time.Duration(p.total-done)
	}
	return snap
}
