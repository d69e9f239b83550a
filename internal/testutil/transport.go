// Package testutil provides scripted in-memory fakes for the transport
// abstraction so broker, tunnel, state machine and runner tests run without
// a network.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bytemomo/remora/internal/domain"
)

// Responder produces the text a channel returns for one command.
type Responder func(command string) (string, error)

// Echo answers echo commands and swallows everything else.
func Echo(command string) (string, error) {
	if strings.HasPrefix(command, "echo ") {
		return strings.TrimPrefix(command, "echo "), nil
	}
	return "", nil
}

// FakeTransport implements domain.Transport with programmable behavior.
type FakeTransport struct {
	mu sync.Mutex

	// ConnectErrs are consumed one per Connect call; a nil entry succeeds.
	ConnectErrs []error
	// OpenErrs are consumed one per OpenChannel call across all handles.
	OpenErrs []error

	// NewSession builds the responder backing each fresh channel. Defaults
	// to Echo.
	NewSession func() Responder

	connects  int
	openCount int
	liveChans int
}

func (t *FakeTransport) Connect(ctx context.Context, host string, creds domain.Credentials) (domain.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.connects++
	if len(t.ConnectErrs) > 0 {
		err := t.ConnectErrs[0]
		t.ConnectErrs = t.ConnectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeHandle{t: t}, nil
}

// Connects reports how many Connect calls were made.
func (t *FakeTransport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// OpenedChannels reports how many channels were ever opened.
func (t *FakeTransport) OpenedChannels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openCount
}

// LiveChannels reports channels opened and not yet closed.
func (t *FakeTransport) LiveChannels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveChans
}

func (t *FakeTransport) newResponder() Responder {
	if t.NewSession != nil {
		return t.NewSession()
	}
	return Echo
}

type fakeHandle struct {
	t      *FakeTransport
	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) OpenChannel(ctx context.Context) (domain.Channel, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("handle closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	if len(h.t.OpenErrs) > 0 {
		err := h.t.OpenErrs[0]
		h.t.OpenErrs = h.t.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	h.t.openCount++
	h.t.liveChans++
	return &fakeChannel{t: h.t, respond: h.t.newResponder()}, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type fakeChannel struct {
	t       *FakeTransport
	respond Responder
	mu      sync.Mutex
	closed  bool
}

func (c *fakeChannel) Send(ctx context.Context, command string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", fmt.Errorf("channel closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.respond(command)
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.t.mu.Lock()
		c.t.liveChans--
		c.t.mu.Unlock()
	}
	return nil
}

// DeviceScript emulates a bastion shell fronting one device CLI: the hop
// command prompts for a password, the right password lands on the device
// prompt, and collected commands answer from Outputs.
type DeviceScript struct {
	Password string            // accepted device password; empty accepts anything
	Prompt   string            // device prompt appended after command output
	Outputs  map[string]string // command -> output
	Errors   map[string]string // command -> in-band error text

	// HopOutput, when set, is returned verbatim for the hop command instead
	// of a password prompt (e.g. "ssh: connect to host x: No route to host").
	HopOutput string
}

// Session returns a fresh responder with its own login state.
func (s *DeviceScript) Session() Responder {
	loggedIn := false
	awaitingPassword := false
	prompt := s.Prompt
	if prompt == "" {
		prompt = "device#"
	}

	return func(command string) (string, error) {
		switch {
		case strings.HasPrefix(command, "echo "):
			return strings.TrimPrefix(command, "echo "), nil
		case strings.HasPrefix(command, "ssh "):
			if s.HopOutput != "" {
				return s.HopOutput, nil
			}
			awaitingPassword = true
			return "Password:", nil
		case awaitingPassword:
			awaitingPassword = false
			if s.Password == "" || command == s.Password {
				loggedIn = true
				return prompt, nil
			}
			return "% Authentication failed", nil
		case !loggedIn:
			return "", fmt.Errorf("unexpected command %q before login", command)
		default:
			if text, ok := s.Errors[command]; ok {
				return "", fmt.Errorf("%s", text)
			}
			if out, ok := s.Outputs[command]; ok {
				return out + "\n" + prompt, nil
			}
			return "% Invalid input detected\n" + prompt, nil
		}
	}
}
