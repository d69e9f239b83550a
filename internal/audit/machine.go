// Package audit drives the per-device stage pipeline: reachability probe,
// authentication, authorization, settle window, command collection, summary,
// risk classification and the final report. Stage order is fixed; the only
// jump is straight to the report when authentication is exhausted or the
// task is failed outright.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bytemomo/remora/internal/domain"
	"bytemomo/remora/internal/lineconf"
	"bytemomo/remora/internal/retry"
	"bytemomo/remora/internal/tunnel"

	log "github.com/sirupsen/logrus"
)

// privilegeProbe is the harmless privileged command confirming
// command-execution rights at the authorize stage.
const privilegeProbe = "show privilege"

var authzDeniedMarkers = []string{
	"authorization failed",
	"access denied",
	"% error in authentication",
}

// Gate is the cooperative pause/cancel checkpoint polled between stages.
// Wait blocks while the run is paused and returns an error only when the
// run context is gone.
type Gate interface {
	Wait(ctx context.Context) error
}

// StageEvent receives every stage outcome as it is recorded.
type StageEvent func(dev domain.Device, stage domain.Stage, res domain.StageResult)

// StatusEvent receives task status transitions.
type StatusEvent func(dev domain.Device, from, to domain.TaskStatus)

// Machine executes the audit pipeline for one device. It is owned by a
// single worker; nothing in here is shared.
type Machine struct {
	Device            domain.Device
	Commands          []string
	LineConfigCommand string

	Tunnels *tunnel.Factory
	Prober  domain.Prober
	Backoff *retry.Backoff
	Policy  domain.RunnerPolicy
	Gate    Gate

	// SessionLost reports that the shared jump-host session is permanently
	// gone. Checked at every checkpoint so running tasks fail with the same
	// outcome as pending ones instead of waiting to trip over a dead tunnel.
	SessionLost func() bool

	OnStage  StageEvent
	OnStatus StatusEvent
	Log      *log.Entry

	task    *domain.AuditTask
	tun     *tunnel.Tunnel
	outputs map[string]string
	summary *domain.CollectSummary
	partial string
}

// Run executes the pipeline to its terminal report. It always returns a
// report; errors along the way are recorded, never lost.
func (m *Machine) Run(ctx context.Context) domain.AuditReport {
	m.task = domain.NewAuditTask(m.Device)
	m.outputs = make(map[string]string)
	m.task.StartedAt = time.Now()
	m.setStatus(domain.StatusRunning)
	defer m.closeTunnel()

	stage := domain.StageReachability
	for {
		if err := m.wait(ctx, stage); err != nil {
			m.fail(domain.StatusFailed, "run cancelled")
			stage = domain.StageReport
		} else if stage != domain.StageReport && m.sessionLost() {
			m.fail(domain.StatusFailed, "jump host unavailable")
			stage = domain.StageReport
		}
		m.task.Stage = stage

		if stage == domain.StageReport {
			return m.stageReport()
		}

		skipToReport := m.runStage(ctx, stage)
		next, ok := domain.Next(stage, skipToReport)
		if !ok {
			// Unreachable with a well-formed transition table.
			return m.stageReport()
		}
		stage = next
	}
}

// wait polls the cooperative pause checkpoint before the upcoming stage. The
// report stage has no checkpoint: a task past its last one always reaches it.
func (m *Machine) wait(ctx context.Context, next domain.Stage) error {
	if m.Gate == nil || next == domain.StageReport {
		return nil
	}
	return m.Gate.Wait(ctx)
}

func (m *Machine) sessionLost() bool {
	return m.SessionLost != nil && m.SessionLost()
}

// runStage executes one stage, records its outcome and returns whether the
// pipeline must jump to the report.
func (m *Machine) runStage(ctx context.Context, stage domain.Stage) bool {
	var (
		res  domain.StageResult
		last error
	)

	switch stage {
	case domain.StageReachability:
		res, last = m.stageReachability(ctx)
	case domain.StageAuthenticate:
		res, last = m.stageAuthenticate(ctx)
	case domain.StageAuthorize:
		res, last = m.stageAuthorize(ctx)
	case domain.StageStabilize:
		res = m.stageStabilize(ctx)
	case domain.StageCollect:
		res, last = m.stageCollect(ctx)
	case domain.StageSummarize:
		res, last = m.stageSummarize()
	case domain.StageClassifyRisk:
		res, last = m.stageClassifyRisk()
	}

	m.record(res)

	if domain.IsFatal(last) {
		m.fail(domain.StatusFailed, "jump host unavailable")
		return true
	}

	switch stage {
	case domain.StageAuthenticate:
		if !res.Success {
			// Stages 3-7 need a live session; compile what we have.
			m.fail(domain.StatusSkippedToReport, "partial: authentication failed")
			return true
		}
	case domain.StageSummarize:
		if !res.Success {
			m.fail(domain.StatusFailed, "internal state malformed")
			return true
		}
	}
	return false
}

// --- stages ---------------------------------------------------------------

func (m *Machine) stageReachability(ctx context.Context) (domain.StageResult, error) {
	if m.Prober == nil {
		return domain.StageResult{
			Stage:    domain.StageReachability,
			Attempts: 1,
			Success:  true,
			Output:   "probe disabled",
		}, nil
	}
	return m.attempts(ctx, domain.StageReachability, func(ctx context.Context) (string, error) {
		if err := m.Prober.Probe(ctx, m.Device.Host, m.Policy.TunnelTimeout); err != nil {
			return "", err
		}
		return "host answered probe", nil
	})
}

func (m *Machine) stageAuthenticate(ctx context.Context) (domain.StageResult, error) {
	return m.attempts(ctx, domain.StageAuthenticate, func(ctx context.Context) (string, error) {
		t, err := m.Tunnels.Open(ctx, m.Device, m.Policy.TunnelTimeout)
		if err != nil {
			return "", err
		}
		m.tun = t
		return "device session established", nil
	})
}

func (m *Machine) stageAuthorize(ctx context.Context) (domain.StageResult, error) {
	return m.attempts(ctx, domain.StageAuthorize, func(ctx context.Context) (string, error) {
		t, err := m.ensureTunnel(ctx)
		if err != nil {
			return "", err
		}
		out, err := t.Run(ctx, privilegeProbe, m.Policy.CommandTimeout)
		if err != nil {
			return out, err
		}
		lower := strings.ToLower(out)
		for _, marker := range authzDeniedMarkers {
			if strings.Contains(lower, marker) {
				return out, domain.E(domain.KindAuthorization, "audit.authorize", "privileged command denied", nil)
			}
		}
		return strings.TrimSpace(out), nil
	})
}

// stageStabilize waits the configured settle window. Some transports drop
// output streamed too soon after login; an interrupted window is recorded
// and the pipeline continues.
func (m *Machine) stageStabilize(ctx context.Context) domain.StageResult {
	start := time.Now()
	res := domain.StageResult{Stage: domain.StageStabilize, Attempts: 1}

	select {
	case <-time.After(m.Policy.StabilizeDelay):
		res.Success = true
		res.Output = fmt.Sprintf("settled for %s", m.Policy.StabilizeDelay)
	case <-ctx.Done():
		res.Category = domain.CategoryTimeout
		res.Error = "settle window interrupted"
	}
	res.Duration = time.Since(start)
	return res
}

// stageCollect executes the configured command set, one logical result per
// command. Failed commands are recorded; the stage never halts the pipeline.
func (m *Machine) stageCollect(ctx context.Context) (domain.StageResult, error) {
	start := time.Now()
	var failed []string

	for _, cmd := range m.Commands {
		cmd := cmd
		cmdStart := time.Now()
		r := m.withRetry(ctx, func(ctx context.Context) (string, error) {
			t, err := m.ensureTunnel(ctx)
			if err != nil {
				return "", err
			}
			return t.Run(ctx, cmd, m.Policy.CommandTimeout)
		})

		cres := domain.CommandResult{Command: cmd, Duration: time.Since(cmdStart)}
		if r.err != nil {
			cres.Error = r.err.Error()
			failed = append(failed, cmd)
			if domain.IsFatal(r.err) {
				m.task.Commands = append(m.task.Commands, cres)
				return domain.StageResult{
					Stage:    domain.StageCollect,
					Attempts: 1,
					Error:    r.err.Error(),
					Duration: time.Since(start),
				}, r.err
			}
		} else {
			cres.Output = r.out
			m.outputs[cmd] = r.out
		}
		m.task.Commands = append(m.task.Commands, cres)
	}

	res := domain.StageResult{
		Stage:    domain.StageCollect,
		Attempts: 1,
		Success:  len(failed) == 0,
		Duration: time.Since(start),
	}
	if len(failed) > 0 {
		res.Error = fmt.Sprintf("commands failed: %s", strings.Join(failed, ", "))
	}
	return res, nil
}

// stageSummarize derives per-command counts. It is pure and can only fail on
// malformed internal state, which fails the task.
func (m *Machine) stageSummarize() (domain.StageResult, error) {
	start := time.Now()

	if collect, ok := m.task.ResultFor(domain.StageCollect); ok && !collect.Skipped {
		if len(m.task.Commands) > len(m.Commands) {
			err := domain.E(domain.KindData, "audit.summarize", "more command results than commands", nil)
			return domain.StageResult{
				Stage:    domain.StageSummarize,
				Attempts: 1,
				Category: domain.CategoryUnknown,
				Error:    err.Error(),
				Duration: time.Since(start),
			}, err
		}
	}

	summary := domain.CollectSummary{Commands: len(m.task.Commands)}
	for _, c := range m.task.Commands {
		if c.Error == "" {
			summary.Succeeded++
		} else {
			summary.Failed = append(summary.Failed, c.Command)
		}
		summary.Elapsed += c.Duration
	}
	m.summary = &summary

	return domain.StageResult{
		Stage:    domain.StageSummarize,
		Attempts: 1,
		Success:  true,
		Output:   fmt.Sprintf("%d/%d commands succeeded", summary.Succeeded, summary.Commands),
		Duration: time.Since(start),
	}, nil
}

// stageClassifyRisk feeds the collected line configuration to the parser.
// Parser failures are recorded as data errors; the task continues with
// empty findings.
func (m *Machine) stageClassifyRisk() (domain.StageResult, error) {
	start := time.Now()
	res := domain.StageResult{Stage: domain.StageClassifyRisk, Attempts: 1}

	text, ok := m.outputs[m.LineConfigCommand]
	if !ok {
		err := domain.E(domain.KindData, "audit.classify", fmt.Sprintf("output of %q was not collected", m.LineConfigCommand), nil)
		res.Category = domain.CategoryUnknown
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res, err
	}

	findings, err := lineconf.Parse(text)
	if err != nil {
		res.Category = domain.CategoryUnknown
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res, err
	}

	m.task.Findings = findings
	res.Success = true
	res.Output = fmt.Sprintf("%d lines classified", len(findings))
	res.Duration = time.Since(start)
	return res, nil
}

// stageReport compiles the final per-device report. Every stage ends up with
// exactly one result: attempted stages keep their outcome, everything else
// gets an explicit skip marker.
func (m *Machine) stageReport() domain.AuditReport {
	start := time.Now()

	for _, s := range domain.Stages() {
		if s == domain.StageReport {
			continue
		}
		if _, ok := m.task.ResultFor(s); !ok {
			m.record(domain.StageResult{Stage: s, Skipped: true})
		}
	}

	m.record(domain.StageResult{
		Stage:    domain.StageReport,
		Attempts: 1,
		Success:  true,
		Duration: time.Since(start),
	})

	if !m.task.Status.Terminal() {
		m.setStatus(domain.StatusCompleted)
	}
	m.task.FinishedAt = time.Now()

	stages := make([]domain.StageResult, len(m.task.Stages))
	copy(stages, m.task.Stages)
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })

	rep := domain.AuditReport{
		Device:          m.Device,
		Status:          m.task.Status,
		Partial:         m.partial,
		Stages:          stages,
		Commands:        m.task.Commands,
		Summary:         m.summary,
		Findings:        m.task.Findings,
		Recommendations: recommendations(m.task),
		Duration:        m.task.FinishedAt.Sub(m.task.StartedAt),
	}

	m.Log.WithFields(log.Fields{
		"device":   m.Device.String(),
		"status":   rep.Status,
		"findings": len(rep.Findings),
	}).Info("Device audit finished")

	return rep
}

// --- retry plumbing -------------------------------------------------------

type opResult struct {
	out      string
	attempts int
	err      error
}

// withRetry runs op under the classifier's policy. Every re-attempt starts
// from a fresh tunnel; the stale one is closed before the backoff sleep.
func (m *Machine) withRetry(ctx context.Context, op func(context.Context) (string, error)) opResult {
	attempt := 0
	for {
		attempt++
		out, err := op(ctx)
		if err == nil {
			return opResult{out: out, attempts: attempt}
		}
		if domain.IsFatal(err) || ctx.Err() != nil {
			return opResult{out: out, attempts: attempt, err: err}
		}

		cat := retry.Classify(err)
		pol := m.Backoff.PolicyFor(cat)
		if attempt >= pol.MaxAttempts {
			return opResult{out: out, attempts: attempt, err: err}
		}

		m.closeTunnel()
		delay := m.Backoff.Delay(attempt, cat)
		m.Log.WithFields(log.Fields{
			"device":   m.Device.String(),
			"category": cat,
			"attempt":  attempt,
			"delay":    delay,
		}).Debug("Retrying after backoff")

		select {
		case <-ctx.Done():
			return opResult{out: out, attempts: attempt, err: err}
		case <-time.After(delay):
		}
	}
}

// attempts wraps withRetry into a stage outcome.
func (m *Machine) attempts(ctx context.Context, stage domain.Stage, op func(context.Context) (string, error)) (domain.StageResult, error) {
	start := time.Now()
	r := m.withRetry(ctx, op)

	res := domain.StageResult{
		Stage:    stage,
		Attempts: r.attempts,
		Duration: time.Since(start),
	}
	if r.err == nil {
		res.Success = true
		res.Output = r.out
		return res, nil
	}
	res.Category = retry.Classify(r.err)
	res.Error = r.err.Error()
	return res, r.err
}

// --- helpers ----------------------------------------------------------------

// ensureTunnel reopens the device tunnel when a retry closed it. At most one
// tunnel is live per task.
func (m *Machine) ensureTunnel(ctx context.Context) (*tunnel.Tunnel, error) {
	if m.tun != nil {
		return m.tun, nil
	}
	t, err := m.Tunnels.Open(ctx, m.Device, m.Policy.TunnelTimeout)
	if err != nil {
		return nil, err
	}
	m.tun = t
	return t, nil
}

func (m *Machine) closeTunnel() {
	if m.tun != nil {
		m.tun.Close()
		m.tun = nil
	}
}

func (m *Machine) record(res domain.StageResult) {
	m.task.Record(res)
	if m.OnStage != nil {
		m.OnStage(m.Device, res.Stage, res)
	}
	m.Log.WithFields(log.Fields{
		"device":   m.Device.String(),
		"stage":    res.Stage.String(),
		"success":  res.Success,
		"skipped":  res.Skipped,
		"attempts": res.Attempts,
	}).Debug("Stage recorded")
}

func (m *Machine) setStatus(to domain.TaskStatus) {
	from := m.task.Status
	m.task.Status = to
	if m.OnStatus != nil && from != to {
		m.OnStatus(m.Device, from, to)
	}
}

func (m *Machine) fail(status domain.TaskStatus, partial string) {
	if m.task.Status.Terminal() {
		return
	}
	m.partial = partial
	m.setStatus(status)
}

// recommendations derives the human-facing remediation list.
func recommendations(task *domain.AuditTask) []string {
	var recs []string
	if task.Status == domain.StatusSkippedToReport {
		recs = append(recs, "authentication failed: verify device credentials before rerunning")
	}
	for _, f := range task.Findings {
		switch f.Risk {
		case domain.RiskCritical:
			recs = append(recs, fmt.Sprintf("line %s: remote access with no authentication; require login and disable cleartext transport", f.Line))
		case domain.RiskHigh:
			recs = append(recs, fmt.Sprintf("line %s: move to local or centralized authentication and apply an access-class", f.Line))
		case domain.RiskMedium:
			recs = append(recs, fmt.Sprintf("line %s: disable cleartext transport (transport input ssh)", f.Line))
		case domain.RiskUnknown:
			recs = append(recs, fmt.Sprintf("line %s: could not be classified, review manually", f.Line))
		}
	}
	return recs
}
