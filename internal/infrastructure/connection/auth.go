package connection

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// jumpClientConfig builds the bastion client config. A private key takes
// precedence; the password is offered as well when both are set.
func jumpClientConfig(cfg JumpHostConfig, timeout time.Duration) (*ssh.ClientConfig, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("%w: jump host username is required", sharedErrors.ErrConnection)
	}

	var methods []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read private key: %v", sharedErrors.ErrConnection, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key: %v", sharedErrors.ErrConnection, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: jump host needs a password or private key", sharedErrors.ErrConnection)
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// deviceClientConfig offers the password both directly and through
// keyboard-interactive, which IOS images commonly require.
func deviceClientConfig(dev device.Device, timeout time.Duration) *ssh.ClientConfig {
	password := dev.Password
	return &ssh.ClientConfig{
		User: dev.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
}

type handshakeResult struct {
	client *ssh.Client
	err    error
}

// handshake runs the ssh client handshake over an already open tunnel. The
// tunnel is closed on failure.
func handshake(ctx context.Context, conn net.Conn, addr string, dev device.Device, timeout time.Duration) (*ssh.Client, error) {
	done := make(chan handshakeResult, 1)

	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, deviceClientConfig(dev, timeout))
		if err != nil {
			done <- handshakeResult{err: err}
			return
		}
		done <- handshakeResult{client: ssh.NewClient(c, chans, reqs)}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			conn.Close()
			return nil, classifyHandshakeError(dev.Hostname, r.err)
		}
		return r.client, nil
	case <-timer.C:
		conn.Close()
		go closeLate(done)
		return nil, sharedErrors.NewDeviceError(dev.Hostname, sharedErrors.ErrCommandTimeout,
			fmt.Errorf("ssh handshake exceeded %s", timeout))
	case <-ctx.Done():
		conn.Close()
		go closeLate(done)
		return nil, ctx.Err()
	}
}

// closeLate releases a client whose handshake completed after the caller gave up.
func closeLate(done <-chan handshakeResult) {
	if r := <-done; r.client != nil {
		_ = r.client.Close()
	}
}

func classifyHandshakeError(hostname string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return sharedErrors.NewDeviceError(hostname, sharedErrors.ErrAuth, err)
	}
	return sharedErrors.NewDeviceError(hostname, sharedErrors.ErrTunnel, err)
}
