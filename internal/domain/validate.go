package domain

import "fmt"

// Validate checks a plan before execution.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan: id is required")
	}
	if err := p.Bastion.Validate(); err != nil {
		return err
	}
	if len(p.Devices) == 0 {
		return fmt.Errorf("plan: at least one device is required")
	}
	seen := map[string]struct{}{}
	for i, dev := range p.Devices {
		if dev.Host == "" {
			return fmt.Errorf("plan: device %d: host is required", i)
		}
		key := dev.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("plan: duplicate device %q", key)
		}
		seen[key] = struct{}{}
		if p.CredentialsFor(dev).IsZero() {
			return fmt.Errorf("plan: device %q: no credentials and no default_credentials", key)
		}
	}
	if len(p.Commands) == 0 {
		return fmt.Errorf("plan: at least one collect command is required")
	}
	return nil
}
