package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	"github.com/khanhnv2901/lineaudit/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

var (
	// A device prompt alone on the last line, e.g. "R1>" or "core-sw01(config)#".
	promptPattern   = regexp.MustCompile(`(?:^|\n)[A-Za-z0-9][\w.\-()/:@]*[>#]\s*$`)
	passwordPattern = regexp.MustCompile(`(?i)password:\s*$`)
)

// ShellDriver drives an interactive PTY shell, the way an operator would.
// It is the only driver that can stay in privileged mode between commands.
type ShellDriver struct {
	m        *Manager
	hostname string

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	exp     *expecter
	prompt  string

	closeOnce sync.Once
}

func NewShellDriver(m *Manager) *ShellDriver {
	return &ShellDriver{m: m}
}

func (d *ShellDriver) Name() string { return "shell" }

func (d *ShellDriver) Connect(ctx context.Context, session Session, dev device.Device) error {
	client, err := d.m.connectDevice(ctx, session, dev)
	if err != nil {
		return err
	}
	d.client = client
	d.hostname = dev.Hostname

	sess, err := client.NewSession()
	if err != nil {
		return d.fail(fmt.Errorf("open session: %w", err))
	}
	d.session = sess

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := sess.RequestPty("vt100", 24, 511, modes); err != nil {
		return d.fail(fmt.Errorf("request pty: %w", err))
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return d.fail(err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return d.fail(err)
	}
	if err := sess.Shell(); err != nil {
		return d.fail(fmt.Errorf("start shell: %w", err))
	}
	d.stdin = stdin
	d.exp = newExpecter(stdout)

	banner, _, err := d.exp.expect(ctx, d.m.cfg.CommandTimeout, promptPattern)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A closed shell is a command error, not a timeout.
		kind := sharedErrors.ErrCommand
		if errors.Is(err, sharedErrors.ErrCommandTimeout) {
			kind = sharedErrors.ErrCommandTimeout
		}
		return sharedErrors.NewDeviceError(dev.Hostname, kind, fmt.Errorf("waiting for initial prompt: %w", err))
	}
	d.prompt = lastLine(banner)
	return nil
}

// EnterPrivilegedMode sends "enable" and the secret. A prompt that still ends
// in ">" afterwards means the secret was rejected.
func (d *ShellDriver) EnterPrivilegedMode(ctx context.Context, secret string) error {
	if d.exp == nil {
		return sharedErrors.ErrCommand
	}
	if secret == "" || strings.HasSuffix(d.prompt, "#") {
		return nil
	}

	if err := d.send("enable"); err != nil {
		return err
	}
	out, which, err := d.exp.expect(ctx, d.m.cfg.CommandTimeout, passwordPattern, promptPattern)
	if err != nil {
		return sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrCommand, err)
	}
	if which == 0 {
		if err := d.send(secret); err != nil {
			return err
		}
		out, _, err = d.exp.expect(ctx, d.m.cfg.CommandTimeout, promptPattern)
		if err != nil {
			return sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrCommand, err)
		}
	}

	d.prompt = lastLine(out)
	if !strings.HasSuffix(d.prompt, "#") {
		return sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrAuth,
			fmt.Errorf("enable secret rejected"))
	}
	return nil
}

func (d *ShellDriver) RunCommand(ctx context.Context, command string) (string, error) {
	if d.exp == nil {
		return "", sharedErrors.ErrCommand
	}
	if err := d.send(command); err != nil {
		return "", err
	}
	raw, _, err := d.exp.expect(ctx, d.m.cfg.CommandTimeout, promptPattern)
	if err != nil {
		return "", sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrCommand, err)
	}
	d.prompt = lastLine(raw)
	out := CleanShellOutput(raw, command)
	if err := checkCommandOutput(d.hostname, command, out); err != nil {
		return "", err
	}
	return out, nil
}

func (d *ShellDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.exp != nil {
			d.exp.stop()
		}
		if d.session != nil {
			_ = d.session.Close()
		}
		if d.client != nil {
			err = d.client.Close()
		}
	})
	return err
}

func (d *ShellDriver) send(line string) error {
	if _, err := io.WriteString(d.stdin, line+"\n"); err != nil {
		return sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrCommand, fmt.Errorf("write: %w", err))
	}
	return nil
}

func (d *ShellDriver) fail(err error) error {
	return sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrCommand, err)
}

// CleanShellOutput strips the echoed command and the trailing prompt from raw
// PTY output and normalizes line endings.
func CleanShellOutput(raw, command string) string {
	lines := strings.Split(normalizeNewlines(raw), "\n")

	if len(lines) > 0 && strings.Contains(lines[0], strings.TrimSpace(command)) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && promptPattern.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

func lastLine(s string) string {
	s = strings.TrimRight(normalizeNewlines(s), " \t\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// expecter accumulates shell output until one of a set of patterns matches
// the end of the buffer.
type expecter struct {
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	buf    bytes.Buffer
}

func newExpecter(r io.Reader) *expecter {
	e := &expecter{
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go e.read(r)
	return e
}

func (e *expecter) read(r io.Reader) {
	defer close(e.chunks)
	p := make([]byte, 4096)
	for {
		n, err := r.Read(p)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, p[:n])
			select {
			case e.chunks <- chunk:
			case <-e.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (e *expecter) stop() {
	e.once.Do(func() { close(e.done) })
}

// expect returns everything read up to and including the match, and the index
// of the pattern that matched.
func (e *expecter) expect(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) (string, int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		for i, re := range patterns {
			if re.Match(e.buf.Bytes()) {
				out := e.buf.String()
				e.buf.Reset()
				return out, i, nil
			}
		}

		select {
		case chunk, ok := <-e.chunks:
			if !ok {
				return "", -1, fmt.Errorf("%w: shell closed", sharedErrors.ErrCommand)
			}
			if e.buf.Len()+len(chunk) > constants.MaxCommandOutput {
				return "", -1, fmt.Errorf("%w: output exceeds %d bytes", sharedErrors.ErrCommand, constants.MaxCommandOutput)
			}
			e.buf.Write(chunk)
		case <-timer.C:
			return "", -1, fmt.Errorf("%w: no prompt after %s", sharedErrors.ErrCommandTimeout, timeout)
		case <-ctx.Done():
			return "", -1, ctx.Err()
		}
	}
}
