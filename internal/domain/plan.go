package domain

// ProbeConfig controls the optional stage-1 reachability prober.
type ProbeConfig struct {
	// Enabled turns the direct host probe on. When off, stage 1 records an
	// unconditional pass.
	Enabled bool `yaml:"enabled,omitempty"`

	// Timing selects the nmap timing template (T0..T5).
	Timing string `yaml:"timing,omitempty"`
}

// Plan is one audit run document: the bastion, the device inventory, the
// command set and the policy overrides.
type Plan struct {
	ID      string  `yaml:"id"`
	Name    string  `yaml:"name,omitempty"`
	Bastion Bastion `yaml:"bastion"`

	// DefaultCredentials apply to devices without their own.
	DefaultCredentials *Credentials `yaml:"default_credentials,omitempty"`

	Devices  []Device `yaml:"devices"`
	Commands []string `yaml:"commands"`

	// LineConfigCommand names the collect command whose output feeds the
	// risk classification parser.
	LineConfigCommand string `yaml:"line_config_command,omitempty"`

	Probe  *ProbeConfig `yaml:"probe,omitempty"`
	Policy Policy       `yaml:"policy,omitempty"`
}

// DefaultLineConfigCommand is used when the plan does not name one.
const DefaultLineConfigCommand = "show running-config | section line"

// EffectivePolicy returns the plan policy with defaults applied.
func (p *Plan) EffectivePolicy() Policy {
	return p.Policy.Merge(DefaultPolicy())
}

// EffectiveLineConfigCommand returns the command feeding the risk parser.
func (p *Plan) EffectiveLineConfigCommand() string {
	if p.LineConfigCommand != "" {
		return p.LineConfigCommand
	}
	return DefaultLineConfigCommand
}

// CredentialsFor resolves the credentials used to authenticate to a device.
func (p *Plan) CredentialsFor(dev Device) Credentials {
	if dev.Credentials != nil && !dev.Credentials.IsZero() {
		return *dev.Credentials
	}
	if p.DefaultCredentials != nil {
		return *p.DefaultCredentials
	}
	return Credentials{}
}
