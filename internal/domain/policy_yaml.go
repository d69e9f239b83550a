package domain

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes timeout fields from duration strings ("30s", "2m").
func (rp *RunnerPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Workers        int    `yaml:"workers"`
		ConnectTimeout string `yaml:"connect_timeout"`
		TunnelTimeout  string `yaml:"tunnel_timeout"`
		CommandTimeout string `yaml:"command_timeout"`
		StabilizeDelay string `yaml:"stabilize_delay"`
		VerifyInterval string `yaml:"verify_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	rp.Workers = raw.Workers
	for _, f := range []struct {
		name string
		text string
		dst  *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &rp.ConnectTimeout},
		{"tunnel_timeout", raw.TunnelTimeout, &rp.TunnelTimeout},
		{"command_timeout", raw.CommandTimeout, &rp.CommandTimeout},
		{"stabilize_delay", raw.StabilizeDelay, &rp.StabilizeDelay},
		{"verify_interval", raw.VerifyInterval, &rp.VerifyInterval},
	} {
		if err := parseDuration(f.dst, f.text, f.name); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalYAML decodes delay fields from duration strings.
func (rp *RetryPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts    int     `yaml:"max_attempts"`
		BaseDelay      string  `yaml:"base_delay"`
		JitterFraction float64 `yaml:"jitter_fraction"`
		MaxDelay       string  `yaml:"max_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	rp.MaxAttempts = raw.MaxAttempts
	rp.JitterFraction = raw.JitterFraction
	if err := parseDuration(&rp.BaseDelay, raw.BaseDelay, "base_delay"); err != nil {
		return err
	}
	return parseDuration(&rp.MaxDelay, raw.MaxDelay, "max_delay")
}

func parseDuration(dst *time.Duration, text, field string) error {
	if text == "" {
		return nil
	}
	d, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("policy: %s: %w", field, err)
	}
	*dst = d
	return nil
}
