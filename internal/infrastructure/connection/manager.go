package connection

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// Manager owns the jump host session lifecycle and every device tunnel opened
// through it. It holds no per-run state besides the tunnel rate limiter.
type Manager struct {
	cfg       Config
	logger    *zap.Logger
	limiter   *rate.Limiter
	collector *Collector

	// localPing is swapped in tests; raw ICMP needs privileges.
	localPing func(ctx context.Context, ip string, cfg PingConfig) (bool, error)
}

// NewManager builds a manager whose collector uses the interactive shell
// driver first and falls back to the exec driver.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.TunnelsPerSecond), 1),
		localPing: pingICMP,
	}
	m.collector = &Collector{
		Primary:     func() Driver { return NewShellDriver(m) },
		Fallback:    func() Driver { return NewExecDriver(m) },
		Commands:    cfg.Commands,
		LineCommand: cfg.LineCommand,
		Logger:      logger,
	}
	return m
}

// OpenJumpSession dials and authenticates to the jump host. Any failure is
// reported as ErrConnection.
func (m *Manager) OpenJumpSession(ctx context.Context) (Session, error) {
	jh := m.cfg.JumpHost
	if jh.Address == "" {
		return nil, fmt.Errorf("%w: jump host address is not configured", sharedErrors.ErrConnection)
	}
	clientCfg, err := jumpClientConfig(jh, m.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(jh.Address, strconv.Itoa(jh.Port))
	dialer := &net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", sharedErrors.ErrConnection, addr, err)
	}

	// Bound the handshake; the deadline is cleared once the client is up.
	_ = conn.SetDeadline(time.Now().Add(m.cfg.DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", sharedErrors.ErrConnection, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	m.logger.Info("jump host session opened",
		zap.String("address", addr),
		zap.String("user", jh.Username),
	)
	return &JumpSession{client: ssh.NewClient(sshConn, chans, reqs), addr: addr}, nil
}

// OpenDeviceTunnel opens a channel from the jump host to the device's ssh
// port. The returned conn may be closed more than once.
func (m *Manager) OpenDeviceTunnel(ctx context.Context, session Session, dev device.Device) (net.Conn, error) {
	if session == nil {
		return nil, sharedErrors.NewDeviceError(dev.Hostname, sharedErrors.ErrTunnel, sharedErrors.ErrNoJumpSession)
	}
	if !dev.HasIP() {
		return nil, sharedErrors.NewDeviceError(dev.Hostname, sharedErrors.ErrNoIPDefined, nil)
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, err := session.Dial(dialCtx, dev.Address(m.cfg.DevicePort))
	if err != nil {
		return nil, sharedErrors.NewDeviceError(dev.Hostname, sharedErrors.ErrTunnel, err)
	}
	return &onceConn{Conn: conn}, nil
}

// Authenticate opens a tunnel, completes the ssh handshake and closes
// everything again. No command is run.
func (m *Manager) Authenticate(ctx context.Context, session Session, dev device.Device) error {
	return WithDeviceTunnel(ctx, m, session, dev, func(conn net.Conn) error {
		client, err := handshake(ctx, conn, dev.Address(m.cfg.DevicePort), dev, m.cfg.DialTimeout)
		if err != nil {
			return err
		}
		return client.Close()
	})
}

// Collect runs the configured command sequence on dev and returns the line
// configuration output.
func (m *Manager) Collect(ctx context.Context, session Session, dev device.Device) (Collection, error) {
	return m.collector.Collect(ctx, session, dev)
}

// connectDevice opens a tunnel and an authenticated ssh client over it. The
// client owns the tunnel from then on.
func (m *Manager) connectDevice(ctx context.Context, session Session, dev device.Device) (*ssh.Client, error) {
	conn, err := m.OpenDeviceTunnel(ctx, session, dev)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, conn, dev.Address(m.cfg.DevicePort), dev, m.cfg.DialTimeout)
}

// WithDeviceTunnel opens a tunnel to dev, calls fn, and closes the tunnel on
// every return path, including a panic in fn.
func WithDeviceTunnel(ctx context.Context, m *Manager, session Session, dev device.Device, fn func(net.Conn) error) error {
	conn, err := m.OpenDeviceTunnel(ctx, session, dev)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}
