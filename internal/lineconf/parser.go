// Package lineconf parses terminal-line configuration text into line
// security findings. The parser is pure and deterministic: same input, same
// findings, byte for byte.
package lineconf

import (
	"fmt"
	"regexp"
	"strings"

	"bytemomo/remora/internal/domain"

	"github.com/google/uuid"
)

var (
	lineDecl       = regexp.MustCompile(`(?m)^line\s+(\S.*?)\s*$`)
	transportInput = regexp.MustCompile(`(?m)^\s*transport\s+input\s+(.+?)\s*$`)
	loginDirective = regexp.MustCompile(`(?m)^\s*(no\s+)?login(\s+\S.*)?\s*$`)
	accessClass    = regexp.MustCompile(`(?m)^\s*access-class\s+(\S+)\s+in\b`)
)

// knownLineKinds are the line identifier prefixes the parser recognizes.
// Anything else becomes an UNKNOWN-risk finding rather than being dropped.
var knownLineKinds = []string{"con", "aux", "vty", "tty"}

// Parse segments raw configuration text into per-line blocks and classifies
// each one. It returns an error only when no text was supplied at all.
func Parse(raw string) ([]domain.LineSecurityFinding, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, domain.E(domain.KindData, "lineconf.Parse", "no line configuration text", nil)
	}

	decls := lineDecl.FindAllStringSubmatchIndex(raw, -1)
	findings := make([]domain.LineSecurityFinding, 0, len(decls))

	for i, decl := range decls {
		id := raw[decl[2]:decl[3]]
		end := len(raw)
		if i+1 < len(decls) {
			end = decls[i+1][0]
		}
		block := raw[decl[0]:end]
		findings = append(findings, classifyBlock(id, block))
	}

	return findings, nil
}

func classifyBlock(id, block string) domain.LineSecurityFinding {
	f := domain.LineSecurityFinding{
		ID:       deterministicID(id, block),
		Line:     id,
		Evidence: strings.TrimRight(block, "\n"),
	}

	f.TransportInput = transportOf(block)
	f.AuthMethod = authOf(block)
	f.AccessList = aclOf(block)

	if !recognizedLine(id) {
		f.Risk = domain.RiskUnknown
		return f
	}
	f.Risk = riskOf(id, f.TransportInput, f.AuthMethod, f.AccessList)
	return f
}

// riskOf applies the classification rules in strict priority order.
func riskOf(id, transport, auth, acl string) domain.RiskLevel {
	if !allowsRemote(id, transport) {
		return domain.RiskLow
	}
	if auth == domain.AuthNone {
		return domain.RiskCritical
	}
	if (auth == domain.AuthLocal || auth == domain.AuthCentralized) && acl != "" {
		return domain.RiskMedium
	}
	// Password-only lines and authenticated lines without an access-list.
	return domain.RiskHigh
}

// allowsRemote reports whether the line accepts remote-terminal (cleartext)
// sessions. Console lines never do; ssh-only and disabled transports do not.
// A vty/aux/tty line with no transport directive keeps the permissive
// platform default and counts as remote-capable.
func allowsRemote(id, transport string) bool {
	if strings.HasPrefix(id, "con") {
		return false
	}
	if transport == "" {
		return true
	}
	switch {
	case strings.Contains(transport, "telnet"), strings.Contains(transport, "all"):
		return true
	default:
		return false
	}
}

func recognizedLine(id string) bool {
	first := strings.Fields(id)
	if len(first) == 0 {
		return false
	}
	tok := first[0]
	if tok[0] >= '0' && tok[0] <= '9' {
		return true // bare numeric range: async port lines
	}
	for _, kind := range knownLineKinds {
		if strings.HasPrefix(tok, kind) {
			return true
		}
	}
	return false
}

func transportOf(block string) string {
	if m := transportInput.FindStringSubmatch(block); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	return ""
}

func authOf(block string) string {
	m := loginDirective.FindStringSubmatch(block)
	if m == nil {
		return domain.AuthNone
	}
	if strings.TrimSpace(m[1]) == "no" {
		return domain.AuthNone
	}
	arg := strings.TrimSpace(m[2])
	switch {
	case arg == "":
		return domain.AuthPassword
	case strings.HasPrefix(arg, "local"):
		return domain.AuthLocal
	case strings.HasPrefix(arg, "authentication"):
		return domain.AuthCentralized
	default:
		return domain.AuthPassword
	}
}

func aclOf(block string) string {
	if m := accessClass.FindStringSubmatch(block); m != nil {
		return m[1]
	}
	return ""
}

// deterministicID derives a stable finding ID from the block content so that
// parsing the same text twice yields identical findings.
func deterministicID(id, block string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("line:%s\n%s", id, block))).String()
}
