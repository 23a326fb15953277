package connection

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

const invalidInput = "                  ^\n% Invalid input detected at '^' marker."

// sshDevice is an in-process ssh server on a loopback listener that behaves
// enough like an IOS device (or a jump host) for the transport code.
type sshDevice struct {
	User         string
	Password     string
	EnableSecret string
	Prompt       string

	// Outputs answers shell and exec commands; unknown commands are rejected
	// the way IOS does, with exit status 1 on exec.
	Outputs    map[string]string
	ExitStatus map[string]uint32

	AllowForward bool // accept direct-tcpip channels, as a jump host does
	SilentShell  bool // start the shell but never print a prompt
	CloseShell   bool // close the shell right after it starts

	Host string
	Port int

	config *ssh.ServerConfig
}

func startSSHDevice(t *testing.T, d *sshDevice) *sshDevice {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	d.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == d.User && string(pass) == d.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	d.config.AddHostKey(signer)
	if d.Prompt == "" {
		d.Prompt = "R1"
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	d.Host, d.Port = addr.IP.String(), addr.Port

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.serveConn(conn)
		}
	}()
	return d
}

func (d *sshDevice) serveConn(conn net.Conn) {
	defer conn.Close()
	sc, chans, reqs, err := ssh.NewServerConn(conn, d.config)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		switch newCh.ChannelType() {
		case "session":
			ch, chReqs, err := newCh.Accept()
			if err != nil {
				continue
			}
			go d.serveSession(ch, chReqs)
		case "direct-tcpip":
			if !d.AllowForward {
				_ = newCh.Reject(ssh.Prohibited, "forwarding disabled")
				continue
			}
			go forwardChannel(newCh)
		default:
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel")
		}
	}
}

func forwardChannel(newCh ssh.NewChannel) {
	var target struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newCh.ExtraData(), &target); err != nil {
		_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	upstream, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
	if err != nil {
		_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := newCh.Accept()
	if err != nil {
		_ = upstream.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	go func() {
		_, _ = io.Copy(ch, upstream)
		_ = ch.Close()
	}()
	_, _ = io.Copy(upstream, ch)
	_ = upstream.Close()
}

func (d *sshDevice) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			d.runShell(ch)
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				return
			}
			_ = req.Reply(true, nil)
			out, status := d.execute(payload.Command)
			_, _ = io.WriteString(ch, out)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (d *sshDevice) execute(command string) (string, uint32) {
	if out, ok := d.Outputs[command]; ok {
		return out, d.ExitStatus[command]
	}
	return invalidInput + "\n", 1
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func (d *sshDevice) runShell(ch ssh.Channel) {
	if d.CloseShell {
		return
	}
	if d.SilentShell {
		_, _ = io.Copy(io.Discard, ch)
		return
	}

	prompt := d.Prompt + ">"
	_, _ = io.WriteString(ch, crlf("\nUser Access Verification\n\n")+prompt)

	r := bufio.NewReader(ch)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")

		if cmd == "enable" {
			_, _ = io.WriteString(ch, "enable\r\nPassword: ")
			secret, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if d.EnableSecret != "" && strings.TrimRight(secret, "\r\n") == d.EnableSecret {
				prompt = d.Prompt + "#"
				_, _ = io.WriteString(ch, "\r\n"+prompt)
			} else {
				_, _ = io.WriteString(ch, crlf("\n% Access denied\n\n")+prompt)
			}
			continue
		}

		out, ok := d.Outputs[cmd]
		if !ok {
			out = invalidInput
		}
		reply := cmd + "\r\n"
		if out != "" {
			reply += crlf(strings.TrimRight(out, "\n")) + "\r\n"
		}
		_, _ = io.WriteString(ch, reply+prompt)
	}
}

// directSession dials devices straight from the test process instead of
// through a jump host.
type directSession struct{}

func (directSession) RunCommand(context.Context, string, time.Duration) (CommandResult, error) {
	return CommandResult{}, errors.New("not a jump host")
}

func (directSession) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (directSession) Close() error { return nil }

// stalledListener accepts connections and never speaks, so an ssh handshake
// against it can only time out.
func stalledListener(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var held []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			_ = c.Close()
		}
	})
	return ln.Addr().(*net.TCPAddr).Port
}
