package connection

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// Driver is a working connection to one device. Close must be safe to call
// even if Connect failed or was never called.
type Driver interface {
	Name() string
	Connect(ctx context.Context, session Session, dev device.Device) error
	EnterPrivilegedMode(ctx context.Context, secret string) error
	RunCommand(ctx context.Context, command string) (string, error)
	Close() error
}

type DriverFactory func() Driver

// rejectedLine matches the marker line IOS prints when it refuses a command,
// e.g. "% Invalid input detected at '^' marker.".
var rejectedLine = regexp.MustCompile(`(?m)^[ \t]*% ?(?:Invalid|Incomplete|Ambiguous|Unknown) [^\n]*`)

// checkCommandOutput turns a device-side rejection into ErrCommand so that
// error text never reaches the analyzer as configuration.
func checkCommandOutput(hostname, command, output string) error {
	if m := rejectedLine.FindString(output); m != "" {
		return sharedErrors.NewDeviceError(hostname, sharedErrors.ErrCommand,
			fmt.Errorf("%q rejected: %s", command, strings.TrimSpace(m)))
	}
	return nil
}

// Collection is the line configuration text returned by a device and the
// driver that produced it.
type Collection struct {
	Output   string
	Driver   string
	Fallback bool
}

// Collector runs the command sequence with the primary driver and retries the
// whole sequence once with the fallback driver after a timeout or an
// authentication error.
type Collector struct {
	Primary     DriverFactory
	Fallback    DriverFactory
	Commands    []string
	LineCommand string
	Logger      *zap.Logger
}

func (c *Collector) Collect(ctx context.Context, session Session, dev device.Device) (Collection, error) {
	if session == nil {
		return Collection{}, sharedErrors.NewDeviceError(dev.Hostname, sharedErrors.ErrTunnel, sharedErrors.ErrNoJumpSession)
	}

	out, err := c.collectWith(ctx, c.Primary(), session, dev)
	if err == nil || c.Fallback == nil || !ShouldFallback(err) {
		return out, err
	}

	c.logger().Warn("primary driver failed, retrying with fallback",
		zap.String("hostname", dev.Hostname),
		zap.Error(err),
	)
	out, ferr := c.collectWith(ctx, c.Fallback(), session, dev)
	if ferr != nil {
		return Collection{}, fmt.Errorf("fallback after %v: %w", err, ferr)
	}
	out.Fallback = true
	return out, nil
}

// ShouldFallback reports whether err is one of the failures the secondary
// driver is expected to get past.
func ShouldFallback(err error) bool {
	return errors.Is(err, sharedErrors.ErrCommandTimeout) || errors.Is(err, sharedErrors.ErrAuth)
}

func (c *Collector) collectWith(ctx context.Context, drv Driver, session Session, dev device.Device) (Collection, error) {
	defer drv.Close()

	if err := drv.Connect(ctx, session, dev); err != nil {
		return Collection{}, err
	}
	if dev.EnableSecret != "" {
		if err := drv.EnterPrivilegedMode(ctx, dev.EnableSecret); err != nil {
			return Collection{}, err
		}
	}
	for _, cmd := range c.Commands {
		if _, err := drv.RunCommand(ctx, cmd); err != nil {
			return Collection{}, err
		}
	}
	output, err := drv.RunCommand(ctx, c.LineCommand)
	if err != nil {
		return Collection{}, err
	}
	return Collection{Output: output, Driver: drv.Name()}, nil
}

func (c *Collector) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
