// Package probe implements the stage-1 reachability check as a direct nmap
// host-discovery probe from the audit host. Devices that only answer through
// the bastion will fail this probe; that is expected and never blocks the
// authentication stage.
package probe

import (
	"context"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	log "github.com/sirupsen/logrus"

	"bytemomo/remora/internal/domain"
)

// NmapProber probes a single host with a ping scan.
type NmapProber struct {
	Timing string // T0..T5, empty for nmap's default
	Log    *log.Entry
}

// New builds a prober from the plan's probe config. A disabled config yields
// nil, which the state machine treats as "probe disabled".
func New(cfg *domain.ProbeConfig, logger *log.Entry) *NmapProber {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &NmapProber{Timing: cfg.Timing, Log: logger}
}

func (p *NmapProber) Probe(ctx context.Context, host string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPingScan(),
		nmap.WithDisabledDNSResolution(),
	}

	switch p.Timing {
	case "":
	case "T0":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingSlowest))
	case "T1":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingSneaky))
	case "T2":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingPolite))
	case "T3":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingNormal))
	case "T4":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingAggressive))
	case "T5":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingFastest))
	default:
		p.Log.Errorf("Wrong timing for probe: %s", p.Timing)
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return domain.E(domain.KindConnectivity, "probe.nmap", "create scanner", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return domain.E(domain.KindConnectivity, "probe.nmap", "probe run failed", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		p.Log.WithField("warnings", *warnings).Debug("Probe produced warnings")
	}

	for _, h := range result.Hosts {
		if h.Status.State == "up" {
			return nil
		}
	}
	return domain.E(domain.KindConnectivity, "probe.nmap", "host did not answer direct probe", nil)
}
