package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// ExecDriver runs every command in its own exec channel. It cannot hold
// privileged mode across commands, so it relies on the account's privilege
// level.
type ExecDriver struct {
	m        *Manager
	hostname string
	client   *ssh.Client

	closeOnce sync.Once
}

func NewExecDriver(m *Manager) *ExecDriver {
	return &ExecDriver{m: m}
}

func (d *ExecDriver) Name() string { return "exec" }

func (d *ExecDriver) Connect(ctx context.Context, session Session, dev device.Device) error {
	client, err := d.m.connectDevice(ctx, session, dev)
	if err != nil {
		return err
	}
	d.client = client
	d.hostname = dev.Hostname
	return nil
}

func (d *ExecDriver) EnterPrivilegedMode(context.Context, string) error {
	return nil
}

func (d *ExecDriver) RunCommand(ctx context.Context, command string) (string, error) {
	if d.client == nil {
		return "", sharedErrors.ErrCommand
	}
	res, err := runClientCommand(ctx, d.client, command, d.m.cfg.CommandTimeout)
	if err != nil {
		return "", sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrCommand, err)
	}
	out := normalizeNewlines(res.Output)
	if res.ExitStatus != 0 {
		return "", sharedErrors.NewDeviceError(d.hostname, sharedErrors.ErrCommand,
			fmt.Errorf("%q exited with status %d: %s", command, res.ExitStatus, firstLine(out)))
	}
	if err := checkCommandOutput(d.hostname, command, out); err != nil {
		return "", err
	}
	return out, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (d *ExecDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.client != nil {
			err = d.client.Close()
		}
	})
	return err
}
