package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

var packetLoss = regexp.MustCompile(`(\d+(?:\.\d+)?)% packet loss`)

// ParsePacketLoss extracts the loss percentage from ping output.
func ParsePacketLoss(output string) (float64, error) {
	m := packetLoss.FindStringSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("%w: no packet loss figure in ping output", sharedErrors.ErrCommand)
	}
	loss, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: packet loss %q: %v", sharedErrors.ErrCommand, m[1], err)
	}
	return loss, nil
}

// pingCommand builds the remote ping invocation. ip must already be validated.
func pingCommand(cfg PingConfig, ip string) string {
	wait := int(cfg.Timeout / time.Second)
	if wait < 1 {
		wait = 1
	}
	return fmt.Sprintf("%s -c %d -W %d %s", cfg.Executable, cfg.Count, wait, ip)
}

// Ping runs ping on the jump host. The device is reachable when the loss is
// below 100%. Unreachable results and unparseable output are retried per the
// ping attempts setting; a final unreachable result is not an error.
func (m *Manager) Ping(ctx context.Context, session Session, ip string) (bool, error) {
	if session == nil {
		return false, sharedErrors.ErrNoJumpSession
	}
	if net.ParseIP(ip) == nil {
		return false, fmt.Errorf("%w: ip %q", sharedErrors.ErrInvalidDevice, ip)
	}

	pc := m.cfg.Ping
	command := pingCommand(pc, ip)
	timeout := time.Duration(pc.Count)*pc.Timeout + m.cfg.DialTimeout
	policy := RetryPolicy{Attempts: pc.Attempts, Backoff: pc.Backoff}

	err := policy.Do(ctx, func(attempt int) error {
		res, err := session.RunCommand(ctx, command, timeout)
		if err != nil {
			return err
		}
		loss, err := ParsePacketLoss(res.Output)
		if err != nil {
			return err
		}
		m.logger.Debug("remote ping",
			zap.String("ip", ip),
			zap.Int("attempt", attempt),
			zap.Float64("loss", loss),
		)
		if loss >= 100 {
			return sharedErrors.ErrUnreachable
		}
		return nil
	})

	return pingOutcome(err)
}

// PingLocal pings ip from this machine without touching the jump session. It
// follows the same retry rule as Ping.
func (m *Manager) PingLocal(ctx context.Context, ip string) (bool, error) {
	if net.ParseIP(ip) == nil {
		return false, fmt.Errorf("%w: ip %q", sharedErrors.ErrInvalidDevice, ip)
	}

	pc := m.cfg.Ping
	policy := RetryPolicy{Attempts: pc.Attempts, Backoff: pc.Backoff}
	err := policy.Do(ctx, func(attempt int) error {
		ok, err := m.localPing(ctx, ip, pc)
		if err != nil {
			return err
		}
		m.logger.Debug("local ping",
			zap.String("ip", ip),
			zap.Int("attempt", attempt),
			zap.Bool("reachable", ok),
		)
		if !ok {
			return sharedErrors.ErrUnreachable
		}
		return nil
	})
	return pingOutcome(err)
}

// pingOutcome maps a retried ping to its result. A final unreachable attempt
// is not an error.
func pingOutcome(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sharedErrors.ErrUnreachable):
		return false, nil
	default:
		return false, err
	}
}

func pingICMP(ctx context.Context, ip string, cfg PingConfig) (bool, error) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false, fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = cfg.Count
	pinger.Timeout = time.Duration(cfg.Count) * cfg.Timeout
	pinger.SetPrivileged(cfg.Privileged)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("icmp %s: %w", ip, err)
		}
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return false, ctx.Err()
	}

	return pinger.Statistics().PacketsRecv > 0, nil
}
