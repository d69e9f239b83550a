package domain

import "fmt"

// Credentials is an opaque credential bundle for a device or the bastion.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Enable   string `yaml:"enable,omitempty"`
}

// IsZero reports whether no credentials were supplied.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == "" && c.Enable == ""
}

// Device is one entry of the audit inventory.
type Device struct {
	ID          string       `yaml:"id"`
	Host        string       `yaml:"host"`
	Credentials *Credentials `yaml:"credentials,omitempty"`
}

// String returns the device identity used in logs and result files.
func (d Device) String() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Host
}

// Bastion is the single jump host every device session is tunneled through.
type Bastion struct {
	Host        string      `yaml:"host"`
	Credentials Credentials `yaml:"credentials"`
}

// Validate checks the bastion endpoint is usable.
func (b Bastion) Validate() error {
	if b.Host == "" {
		return fmt.Errorf("bastion: host is required")
	}
	return nil
}
