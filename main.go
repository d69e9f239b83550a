package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bytemomo/remora/internal/adapter/execssh"
	"bytemomo/remora/internal/adapter/jsonreport"
	"bytemomo/remora/internal/adapter/logger"
	"bytemomo/remora/internal/adapter/yamlconfig"
	"bytemomo/remora/internal/domain"
	"bytemomo/remora/internal/probe"
	"bytemomo/remora/internal/runner"

	"github.com/sirupsen/logrus"
)

func main() {
	var (
		planPath = flag.String("plan", "", "Path to audit plan YAML (required)")
		outDir   = flag.String("out", "./remora-results", "Output directory")
		workers  = flag.Int("workers", 0, "Override worker count from the plan policy")
		logLevel = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
		help     = flag.Bool("help", false, "Print program usage")
	)
	flag.Parse()

	if *planPath == "" || *help {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Setup(level, fmt.Sprintf("%s/remora.log", *outDir))

	if err := run(*planPath, *outDir, *workers); err != nil {
		logrus.WithError(err).Fatal("Failed to run audit")
	}
}

func run(planPath, outDir string, workers int) error {
	log := logrus.WithField("plan_path", planPath)
	log.Info("Loading audit plan")

	plan, err := yamlconfig.LoadPlan(planPath)
	if err != nil {
		return fmt.Errorf("could not load plan: %w", err)
	}
	if workers > 0 {
		plan.Policy.Runner.Workers = workers
	}

	resultDir := filepath.Join(outDir, plan.ID, fmt.Sprintf("%d", time.Now().Unix()))
	writer := jsonreport.New(resultDir)

	r := &runner.Runner{
		Transport: &execssh.Transport{},
		Prober:    proberFor(plan),
		Store:     writer,
		Log:       log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := r.Start(ctx, plan)
	go watchSignals(run, cancel, log)
	go logProgress(run, log)

	set := run.Wait()

	path, err := writer.Aggregate(set)
	if err != nil {
		return fmt.Errorf("cannot write report: %w", err)
	}
	log.WithFields(logrus.Fields{
		"report_path": path,
		"devices":     len(set.Reports),
	}).Info("Report written")

	return nil
}

func proberFor(plan *domain.Plan) domain.Prober {
	if p := probe.New(plan.Probe, logrus.WithField("component", "probe")); p != nil {
		return p
	}
	return nil
}

// watchSignals maps SIGUSR1 to pause/resume, the first SIGINT/SIGTERM to a
// graceful stop and a second one to a hard cancel.
func watchSignals(run *runner.Run, cancel context.CancelFunc, log *logrus.Entry) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	paused := false
	stopped := false
	for sig := range sigs {
		switch sig {
		case syscall.SIGUSR1:
			if paused {
				run.Resume()
			} else {
				run.Pause()
			}
			paused = !paused
		default:
			if stopped {
				log.Warn("Second interrupt: cancelling in-flight tasks")
				cancel()
				return
			}
			stopped = true
			run.Stop()
		}
	}
}

// logProgress emits a snapshot line every few seconds until the run ends.
func logProgress(run *runner.Run, log *logrus.Entry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-run.Done():
			return
		case <-ticker.C:
			snap := run.Snapshot()
			log.WithFields(logrus.Fields{
				"percent": fmt.Sprintf("%.1f", snap.PercentComplete),
				"counts":  snap.Counts,
				"eta":     snap.ETA.Round(time.Second).String(),
			}).Info("Run progress")
		}
	}
}
