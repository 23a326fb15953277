package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/khanhnv2901/lineaudit/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// CommandResult is the outcome of a command that ran to completion.
type CommandResult struct {
	Output     string
	ExitStatus int
}

// Session is an open jump host session. Every per-device operation goes
// through it.
type Session interface {
	// RunCommand executes command on the jump host itself.
	RunCommand(ctx context.Context, command string, timeout time.Duration) (CommandResult, error)
	// Dial opens a TCP channel from the jump host to addr.
	Dial(ctx context.Context, addr string) (net.Conn, error)
	Close() error
}

// JumpSession wraps the bastion ssh client. Close is safe to call more than once.
type JumpSession struct {
	client *ssh.Client
	addr   string

	closeOnce sync.Once
	closeErr  error
}

func (s *JumpSession) RunCommand(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	return runClientCommand(ctx, s.client, command, timeout)
}

func (s *JumpSession) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := s.client.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s via %s: %w", addr, s.addr, err)
	}
	return conn, nil
}

func (s *JumpSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

// onceConn makes Close idempotent so scoped helpers and the ssh layer can both
// release the tunnel.
type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}

// runClientCommand runs one command in a fresh session. A non-zero exit status
// is reported in the result, not as an error.
func runClientCommand(ctx context.Context, client *ssh.Client, command string, timeout time.Duration) (CommandResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return CommandResult{}, fmt.Errorf("%w: open session: %v", sharedErrors.ErrCommand, err)
	}
	defer session.Close()

	var out limitedBuffer
	out.limit = constants.MaxCommandOutput
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return CommandResult{Output: out.String(), ExitStatus: exitErr.ExitStatus()}, nil
			}
			return CommandResult{}, fmt.Errorf("%w: %q: %v", sharedErrors.ErrCommand, command, err)
		}
		return CommandResult{Output: out.String()}, nil
	case <-timer.C:
		_ = session.Signal(ssh.SIGKILL)
		return CommandResult{}, fmt.Errorf("%w: %q after %s", sharedErrors.ErrCommandTimeout, command, timeout)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return CommandResult{}, ctx.Err()
	}
}

// limitedBuffer keeps at most limit bytes and silently drops the rest.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
