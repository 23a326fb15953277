package connection

import (
	"time"

	"github.com/khanhnv2901/lineaudit/internal/shared/constants"
)

// JumpHostConfig describes the single bastion every device is reached through.
type JumpHostConfig struct {
	Address        string
	Port           int
	Username       string
	Password       string
	PrivateKeyFile string
}

// PingConfig controls both the remote ping executed on the jump host and the
// local ICMP fallback.
type PingConfig struct {
	Executable string
	Count      int
	Timeout    time.Duration
	Attempts   int
	Backoff    time.Duration
	Privileged bool
}

// Config holds everything the manager needs. Zero values fall back to the
// package defaults.
type Config struct {
	JumpHost JumpHostConfig
	Ping     PingConfig

	DevicePort     int
	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// TunnelsPerSecond throttles new device tunnels through the jump host.
	TunnelsPerSecond float64

	// Commands is the setup sequence sent before LineCommand.
	Commands    []string
	LineCommand string
}

// DefaultCommands is the setup sequence used when none is configured.
var DefaultCommands = []string{"terminal length 0"}

// DefaultLineCommand returns only the line stanzas of the running config.
const DefaultLineCommand = "show running-config | section ^line"

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.JumpHost.Port == 0 {
		c.JumpHost.Port = constants.DefaultSSHPort
	}
	if c.DevicePort == 0 {
		c.DevicePort = constants.DefaultSSHPort
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = constants.DefaultDialTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = constants.DefaultCommandTimeout
	}
	if c.TunnelsPerSecond <= 0 {
		c.TunnelsPerSecond = constants.DefaultTunnelsPerSecond
	}
	if c.Ping.Executable == "" {
		c.Ping.Executable = constants.DefaultPingPath
	}
	if c.Ping.Count <= 0 {
		c.Ping.Count = constants.DefaultPingCount
	}
	if c.Ping.Timeout <= 0 {
		c.Ping.Timeout = constants.DefaultPingTimeout
	}
	if c.Ping.Attempts <= 0 {
		c.Ping.Attempts = constants.DefaultPingAttempts
	}
	if c.Ping.Backoff < 0 {
		c.Ping.Backoff = 0
	} else if c.Ping.Backoff == 0 {
		c.Ping.Backoff = constants.DefaultPingBackoff
	}
	if len(c.Commands) == 0 {
		c.Commands = append([]string(nil), DefaultCommands...)
	}
	if c.LineCommand == "" {
		c.LineCommand = DefaultLineCommand
	}
	return c
}
