// Package execssh drives the system OpenSSH client. The broker's single
// shared session is an ssh ControlMaster connection; every channel is a
// persistent shell multiplexed over the control socket. It exists so the
// binary works out of the box; the engine itself only depends on the
// transport shape.
package execssh

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"bytemomo/remora/internal/domain"
)

// idleWindow is how long the channel reader waits for more output before
// deciding the device is done answering a command.
const idleWindow = 300 * time.Millisecond

type Transport struct {
	Binary     string // defaults to "ssh"
	ControlDir string // defaults to the system temp dir
}

func (t *Transport) binary() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "ssh"
}

func (t *Transport) controlDir() string {
	if t.ControlDir != "" {
		return t.ControlDir
	}
	return os.TempDir()
}

// Connect establishes the master connection to the bastion.
func (t *Transport) Connect(ctx context.Context, host string, creds domain.Credentials) (domain.Handle, error) {
	sock := filepath.Join(t.controlDir(), fmt.Sprintf("remora-%d.sock", time.Now().UnixNano()))

	args := []string{
		"-M", "-N", "-f",
		"-S", sock,
		"-o", "StrictHostKeyChecking=no",
		"-o", "BatchMode=yes",
		"-o", "ControlPersist=yes",
	}
	if creds.Username != "" {
		args = append(args, "-l", creds.Username)
	}
	args = append(args, host)

	cmd := exec.CommandContext(ctx, t.binary(), args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ssh master to %s: %w: %s", host, err, out.String())
	}

	return &handle{transport: t, host: host, sock: sock}, nil
}

type handle struct {
	transport *Transport
	host      string
	sock      string
}

// OpenChannel starts a persistent shell over the control socket.
func (h *handle) OpenChannel(ctx context.Context) (domain.Channel, error) {
	cmd := exec.Command(h.transport.binary(), "-S", h.sock, "-T", h.host)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("open channel to %s: %w", h.host, err)
	}

	ch := &channel{cmd: cmd, stdin: stdin, chunks: make(chan []byte, 64)}
	go ch.pump(stdout)
	return ch, nil
}

// Close tears down the master connection.
func (h *handle) Close() error {
	cmd := exec.Command(h.transport.binary(), "-S", h.sock, "-O", "exit", h.host)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("close master to %s: %w: %s", h.host, err, out.String())
	}
	return nil
}

type channel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	chunks chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *channel) pump(r io.Reader) {
	defer close(c.chunks)
	br := bufio.NewReader(r)
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

// Send writes the command and collects output until the stream goes idle or
// the timeout elapses.
func (c *channel) Send(ctx context.Context, command string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", fmt.Errorf("channel closed")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := io.WriteString(c.stdin, command+"\n"); err != nil {
		return "", fmt.Errorf("send %q: %w", command, err)
	}

	var out bytes.Buffer
	idle := time.NewTimer(idleWindow)
	defer idle.Stop()

	for {
		select {
		case chunk, ok := <-c.chunks:
			if !ok {
				return out.String(), nil
			}
			out.Write(chunk)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleWindow)
		case <-idle.C:
			if out.Len() > 0 {
				return out.String(), nil
			}
			idle.Reset(idleWindow)
		case <-ctx.Done():
			return out.String(), ctx.Err()
		}
	}
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	return nil
}
