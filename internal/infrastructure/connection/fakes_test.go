package connection

import (
	"context"
	"net"
	"sync"
	"time"
)

type fakeSession struct {
	mu       sync.Mutex
	outputs  []string
	errs     []error
	commands []string
	dialErr  error
	dialed   []string
	conns    []net.Conn
	closed   bool
}

func (s *fakeSession) RunCommand(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.commands)
	s.commands = append(s.commands, command)

	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return CommandResult{}, err
	}
	out := ""
	if i < len(s.outputs) {
		out = s.outputs[i]
	} else if len(s.outputs) > 0 {
		out = s.outputs[len(s.outputs)-1]
	}
	return CommandResult{Output: out}, nil
}

func (s *fakeSession) Dial(ctx context.Context, addr string) (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialed = append(s.dialed, addr)
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	client, server := net.Pipe()
	s.conns = append(s.conns, server)
	return client, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}
