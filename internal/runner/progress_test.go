package runner

import (
	"testing"
	"time"

	"bytemomo/remora/internal/domain"
)

func dev(id string) domain.Device {
	return domain.Device{ID: id, Host: "10.0.0." + id}
}

func TestProgressCountsAlwaysSumToTotal(t *testing.T) {
	p := NewProgress(3)

	check := func(step string) {
		t.Helper()
		snap := p.Snapshot()
		sum := 0
		for _, n := range snap.Counts {
			sum += n
		}
		if sum != 3 {
			t.Errorf("%s: counts %v sum to %d, want 3", step, snap.Counts, sum)
		}
	}

	check("initial")
	p.OnStatus(dev("1"), domain.StatusPending, domain.StatusRunning)
	check("one running")
	p.OnStatus(dev("2"), domain.StatusPending, domain.StatusRunning)
	p.OnStatus(dev("1"), domain.StatusRunning, domain.StatusCompleted)
	check("mixed")
	p.OnStatus(dev("2"), domain.StatusRunning, domain.StatusFailed)
	p.OnStatus(dev("3"), domain.StatusPending, domain.StatusCancelled)
	check("all terminal")
}

func TestProgressPercentComplete(t *testing.T) {
	p := NewProgress(4)
	if got := p.Snapshot().PercentComplete; got != 0 {
		t.Errorf("initial percent = %v, want 0", got)
	}

	p.OnStatus(dev("1"), domain.StatusPending, domain.StatusRunning)
	p.OnStatus(dev("1"), domain.StatusRunning, domain.StatusCompleted)
	if got := p.Snapshot().PercentComplete; got != 25 {
		t.Errorf("percent after 1/4 = %v, want 25", got)
	}

	p.OnStatus(dev("2"), domain.StatusPending, domain.StatusSkippedToReport)
	if got := p.Snapshot().PercentComplete; got != 50 {
		t.Errorf("percent after 2/4 = %v, want 50: partial results are still terminal", got)
	}
}

func TestProgressStageHistogram(t *testing.T) {
	p := NewProgress(3)
	p.OnStatus(dev("1"), domain.StatusPending, domain.StatusRunning)
	p.OnStatus(dev("2"), domain.StatusPending, domain.StatusRunning)

	p.OnStage(dev("1"), domain.StageCollect, domain.StageResult{Stage: domain.StageCollect})
	p.OnStage(dev("2"), domain.StageAuthenticate, domain.StageResult{Stage: domain.StageAuthenticate})

	snap := p.Snapshot()
	if snap.Stages[domain.StageCollect] != 1 || snap.Stages[domain.StageAuthenticate] != 1 {
		t.Errorf("stage histogram = %v", snap.Stages)
	}

	// Terminal devices leave the histogram.
	p.OnStatus(dev("1"), domain.StatusRunning, domain.StatusCompleted)
	snap = p.Snapshot()
	if snap.Stages[domain.StageCollect] != 0 {
		t.Errorf("completed device still counted in stage histogram: %v", snap.Stages)
	}
}

func TestProgressStageHistogramIgnoresReportAndSkipMarkers(t *testing.T) {
	p := NewProgress(1)
	p.OnStatus(dev("1"), domain.StatusPending, domain.StatusRunning)
	p.OnStage(dev("1"), domain.StageAuthenticate, domain.StageResult{Stage: domain.StageAuthenticate})

	// Auth exhaustion: the status goes terminal before the report stage
	// records its skip markers and the report result.
	p.OnStatus(dev("1"), domain.StatusRunning, domain.StatusSkippedToReport)
	for _, s := range []domain.Stage{domain.StageAuthorize, domain.StageStabilize, domain.StageCollect, domain.StageSummarize, domain.StageClassifyRisk} {
		p.OnStage(dev("1"), s, domain.StageResult{Stage: s, Skipped: true})
	}
	p.OnStage(dev("1"), domain.StageReport, domain.StageResult{Stage: domain.StageReport, Attempts: 1, Success: true})

	if got := p.Snapshot().Stages; len(got) != 0 {
		t.Errorf("stage histogram after a terminal task = %v, want empty", got)
	}
}

func TestProgressETAFromMovingAverage(t *testing.T) {
	p := NewProgress(4)

	p.OnStatus(dev("1"), domain.StatusPending, domain.StatusCompleted)
	p.OnStatus(dev("2"), domain.StatusPending, domain.StatusCompleted)
	p.OnReport(domain.AuditReport{Duration: 10 * time.Second})
	p.OnReport(domain.AuditReport{Duration: 20 * time.Second})

	snap := p.Snapshot()
	// Average of 10s and 20s over the 2 remaining devices.
	if want := 30 * time.Second; snap.ETA != want {
		t.Errorf("ETA = %s, want %s", snap.ETA, want)
	}
}

func TestProgressETAIsZeroWhenDone(t *testing.T) {
	p := NewProgress(1)
	p.OnStatus(dev("1"), domain.StatusPending, domain.StatusCompleted)
	p.OnReport(domain.AuditReport{Duration: 5 * time.Second})

	if got := p.Snapshot().ETA; got != 0 {
		t.Errorf("ETA after the last device = %s, want 0", got)
	}
}

func TestProgressWindowKeepsRecentDurationsOnly(t *testing.T) {
	p := NewProgress(movingWindow + 2)

	// Fill the window with slow tasks, then overwrite it with fast ones. The
	// oldest samples must age out of the average.
	for i := 0; i < movingWindow; i++ {
		p.OnReport(domain.AuditReport{Duration: time.Hour})
	}
	for i := 0; i < movingWindow; i++ {
		p.OnReport(domain.AuditReport{Duration: time.Second})
	}
	p.OnStatus(dev("1"), domain.StatusPending, domain.StatusCompleted)

	snap := p.Snapshot()
	remaining := time.Duration(movingWindow + 1)
	if want := time.Second * remaining; snap.ETA != want {
		t.Errorf("ETA = %s, want %s", snap.ETA, want)
	}
}
