// Package worker runs a local analyzer process and talks to it over pipes.
package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/utils" // Using the SafeCommand wrapper
	"github.com/sirupsen/logrus"
)

// Scheme prefixes endpoints served by a local process, e.g. "exec:python3 -u analyzer.py".
const Scheme = "exec:"

const maxReplySize = 64 << 20

// Process is one running analyzer.
type Process struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// Start launches name with args. Replies are read from the child's FD 3 so anything
// it prints on stdout/stderr cannot corrupt the framing.
func Start(name string, args ...string) (*Process, error) {
	cmd := utils.NewSafeCommand(name, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("analyzer %q failed to start: %w", name, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Process{Cmd: cmd, Stdin: stdin, DataPipe: r}, nil
}

// Communicate sends one frame and reads one reply.
// Protocol both ways: [uint32 big-endian length][body].
func (p *Process) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(p.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := p.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(p.DataPipe, header); err != nil {
		return nil, err // a crashed analyzer surfaces here as EOF
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxReplySize {
		return nil, fmt.Errorf("reply of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(p.DataPipe, respBody)
	return respBody, err
}

// Close ends the process. Closing stdin is the analyzer's signal to exit.
func (p *Process) Close() error {
	p.Stdin.Close()
	p.DataPipe.Close()
	if p.Cmd == nil {
		return nil
	}
	return p.Cmd.Wait()
}

func (p *Process) kill() {
	if p.Cmd != nil && p.Cmd.Process != nil {
		p.Cmd.Process.Kill()
	}
}

// PipeClient is an analysis.Client backed by a local process. The process is
// started on first use and restarted after any failure.
type PipeClient struct {
	name string
	args []string
	log  *logrus.Logger

	mu   sync.Mutex
	proc *Process
}

var _ analysis.Client = (*PipeClient)(nil)

// IsEndpoint reports whether endpoint names a local process.
func IsEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, Scheme)
}

// NewPipeClient parses an "exec:" endpoint into a command line.
func NewPipeClient(endpoint string, log *logrus.Logger) (*PipeClient, error) {
	fields := strings.Fields(strings.TrimPrefix(endpoint, Scheme))
	if !IsEndpoint(endpoint) || len(fields) == 0 {
		return nil, fmt.Errorf("invalid analyzer endpoint %q: expected %s<command> [args...]", endpoint, Scheme)
	}
	return &PipeClient{name: fields[0], args: fields[1:], log: log}, nil
}

func (c *PipeClient) Analyze(ctx context.Context, snap *types.Snapshot) types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil {
		proc, err := Start(c.name, c.args...)
		if err != nil {
			return types.TransportError{Detail: "analyzer unavailable", Err: err}
		}
		c.proc = proc
	}
	proc := c.proc

	// Communicate cannot be interrupted; killing the process unblocks it.
	stop := context.AfterFunc(ctx, proc.kill)
	reply, err := proc.Communicate(snap.PNG())
	stop()

	if err != nil {
		c.proc = nil
		proc.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		detail := "analyzer process failed"
		if logs := proc.Cmd.Logs(); logs != "" {
			detail += ": " + logs
		}
		if c.log != nil {
			c.log.WithError(err).WithField("command", c.name).Warn("analyzer process lost")
		}
		return types.TransportError{Detail: detail, Err: err}
	}

	return analysis.Decode(reply)
}

// Close stops the analyzer if it is running.
func (c *PipeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return nil
	}
	err := c.proc.Close()
	c.proc = nil
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		// Exit status after stdin closes is the analyzer's business.
		return nil
	}
	return err
}
