package domain

// RiskLevel classifies the exposure of one remote-access line.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
	RiskUnknown  RiskLevel = "UNKNOWN"
)

// LineSecurityFinding is the parsed security posture of one terminal line
// (console, aux, vty or async port). Immutable once produced.
type LineSecurityFinding struct {
	ID             string    `json:"id"`
	Line           string    `json:"line"`
	TransportInput string    `json:"transport_input"`
	AuthMethod     string    `json:"auth_method"`
	AccessList     string    `json:"access_list,omitempty"`
	Risk           RiskLevel `json:"risk"`
	Evidence       string    `json:"evidence,omitempty"`
}

// Authentication methods recognized by the line parser.
const (
	AuthNone        = "none"
	AuthPassword    = "password"
	AuthLocal       = "local"
	AuthCentralized = "centralized"
)
