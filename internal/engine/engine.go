// Package engine starts and talks to the analysis engine subprocess (or
// a TCP peer in -netcat mode), grounded on internal/conn.Conn's
// readLoop/Close/IsClosed shape and katawrap.py's start_katago/
// send_to_katago/terminate_all_queries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/bytedance/sonic"
)

// ErrClosed is returned once the engine connection has been closed.
var ErrClosed = errors.New("engine: closed")

// Config describes how to reach the engine.
type Config struct {
	// Command is the engine subprocess argv, e.g.
	// {"katago", "analysis", "-config", "analysis.cfg"}. Ignored when
	// Netcat is set.
	Command []string
	// Netcat, when set, dials NetcatAddr instead of spawning Command —
	// the -netcat flag's "katago command is itself netcat" mode.
	Netcat     bool
	NetcatAddr string
}

// Process is one running engine connection: a subprocess's stdin/stdout
// pipes, or a netcat TCP connection.
type Process struct {
	*Reader
	*Writer

	mu     sync.Mutex
	closed bool

	cmd   *exec.Cmd
	stdin interface{ Close() error }
	nc    net.Conn
}

// Start launches or dials the engine per cfg.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	if cfg.Netcat {
		return startNetcat(ctx, cfg)
	}
	return startSubprocess(cfg)
}

func startSubprocess(cfg Config) (*Process, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("engine: empty command")
	}
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: start %v: %w", cfg.Command, err)
	}
	return &Process{
		Reader: NewReader(stdout),
		Writer: NewWriter(stdin),
		cmd:    cmd,
		stdin:  stdin,
	}, nil
}

func startNetcat(ctx context.Context, cfg Config) (*Process, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", cfg.NetcatAddr)
	if err != nil {
		return nil, fmt.Errorf("engine: dial %s: %w", cfg.NetcatAddr, err)
	}
	return &Process{
		Reader: NewReader(nc),
		Writer: NewWriter(nc),
		nc:     nc,
	}, nil
}

// IsClosed reports whether Close has been called.
func (p *Process) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes the engine connection: stdin (subprocess mode, allowing
// the process to exit on its own) or the TCP connection (netcat mode).
// It does not wait for a subprocess to exit.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.nc != nil {
		return p.nc.Close()
	}
	if p.stdin == nil {
		return nil
	}
	return p.stdin.Close()
}

// Wait blocks until a subprocess engine exits. A no-op in netcat mode.
func (p *Process) Wait() error {
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Wait()
}

// Kill forcibly terminates a subprocess engine, mirroring finalize's
// stdin.close()-then-kill() sequence. A no-op in netcat mode: closing
// the TCP connection (Close) is the only teardown a remote peer allows.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// idGenerator is the minimal surface TerminateAll needs from
// request.IDGenerator, declared here so that this package does not import
// internal/request.
type idGenerator interface {
	Next() string
}

// TerminateAll sends the engine a {"action": "terminate_all"} query over
// w, grounded on terminate_all_queries/send_to_katago. In -netcat mode it
// is used on the primary connection at startup and, after an interrupt,
// on a fresh connection opened specifically to broadcast the cancellation
// per finalize_interruption.
func TerminateAll(w *Writer, ids idGenerator) error {
	line, err := sonic.MarshalString(map[string]any{
		"id":     ids.Next(),
		"action": "terminate_all",
	})
	if err != nil {
		return fmt.Errorf("engine: encode terminate_all: %w", err)
	}
	return w.WriteLine(line)
}

// BroadcastTerminateAll opens a fresh connection per cfg (used only for
// -netcat, where the running engine is reached by dialing again rather
// than by a signal to a child process) and sends terminate_all on it,
// then closes it. Grounded on finalize_interruption's
// "another_netcat = start_katago()" dance.
func BroadcastTerminateAll(ctx context.Context, cfg Config, ids idGenerator) error {
	p, err := Start(ctx, cfg)
	if err != nil {
		return fmt.Errorf("engine: dial for terminate_all: %w", err)
	}
	defer p.Close()
	return TerminateAll(p.Writer, ids)
}
