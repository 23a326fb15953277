package cmd

import (
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/khanhnv2901/lineaudit/internal/application"
	auditapp "github.com/khanhnv2901/lineaudit/internal/application/audit"
	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	"github.com/khanhnv2901/lineaudit/internal/infrastructure/connection"
	consts "github.com/khanhnv2901/lineaudit/internal/shared/constants"
)

// CLIConfig captures runtime configuration shared across commands.
type CLIConfig struct {
	JumpHost   connection.JumpHostConfig
	Devices    DeviceDefaults
	Ping       PingSettings
	Commands   CommandSettings
	Audit      AuditSettings
	Inventory  string
	ResultsDir string
	Operator   string
	Logging    LoggingConfig
}

// DeviceDefaults fill blank per-device credentials from the inventory.
type DeviceDefaults struct {
	Username     string
	Password     string
	EnableSecret string
	Port         int
}

type PingSettings struct {
	Executable    string
	Count         int
	TimeoutSecs   int
	Attempts      int
	BackoffMS     int
	LocalFallback bool
	Privileged    bool
}

type CommandSettings struct {
	TimeoutSecs     int
	DialTimeoutSecs int
	Sequence        []string
	LineConfig      string
}

type AuditSettings struct {
	Concurrency      int
	TunnelsPerSecond float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault("jump_host.port", consts.DefaultSSHPort)
	v.SetDefault("devices.port", consts.DefaultSSHPort)
	v.SetDefault("ping.executable", consts.DefaultPingPath)
	v.SetDefault("ping.count", consts.DefaultPingCount)
	v.SetDefault("ping.timeout_secs", int(consts.DefaultPingTimeout/time.Second))
	v.SetDefault("ping.attempts", consts.DefaultPingAttempts)
	v.SetDefault("ping.backoff_ms", int(consts.DefaultPingBackoff/time.Millisecond))
	v.SetDefault("ping.local_fallback", false)
	v.SetDefault("ping.privileged", false)
	v.SetDefault("commands.timeout_secs", int(consts.DefaultCommandTimeout/time.Second))
	v.SetDefault("commands.dial_timeout_secs", int(consts.DefaultDialTimeout/time.Second))
	v.SetDefault("commands.sequence", connection.DefaultCommands)
	v.SetDefault("commands.line_config", connection.DefaultLineCommand)
	v.SetDefault("audit.concurrency", consts.DefaultConcurrency)
	v.SetDefault("audit.tunnels_per_second", float64(consts.DefaultTunnelsPerSecond))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func loadCLIConfig(v *viper.Viper) *CLIConfig {
	return &CLIConfig{
		JumpHost: connection.JumpHostConfig{
			Address:        v.GetString("jump_host.address"),
			Port:           v.GetInt("jump_host.port"),
			Username:       v.GetString("jump_host.username"),
			Password:       v.GetString("jump_host.password"),
			PrivateKeyFile: v.GetString("jump_host.private_key_file"),
		},
		Devices: DeviceDefaults{
			Username:     v.GetString("devices.username"),
			Password:     v.GetString("devices.password"),
			EnableSecret: v.GetString("devices.enable_secret"),
			Port:         v.GetInt("devices.port"),
		},
		Ping: PingSettings{
			Executable:    v.GetString("ping.executable"),
			Count:         v.GetInt("ping.count"),
			TimeoutSecs:   v.GetInt("ping.timeout_secs"),
			Attempts:      v.GetInt("ping.attempts"),
			BackoffMS:     v.GetInt("ping.backoff_ms"),
			LocalFallback: v.GetBool("ping.local_fallback"),
			Privileged:    v.GetBool("ping.privileged"),
		},
		Commands: CommandSettings{
			TimeoutSecs:     v.GetInt("commands.timeout_secs"),
			DialTimeoutSecs: v.GetInt("commands.dial_timeout_secs"),
			Sequence:        v.GetStringSlice("commands.sequence"),
			LineConfig:      v.GetString("commands.line_config"),
		},
		Audit: AuditSettings{
			Concurrency:      v.GetInt("audit.concurrency"),
			TunnelsPerSecond: v.GetFloat64("audit.tunnels_per_second"),
		},
		Inventory:  v.GetString("inventory"),
		ResultsDir: v.GetString("results_dir"),
		Operator:   v.GetString("operator"),
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}
}

// applyFlagOverrides lets explicitly set flags win over config and env.
// Flags that are not defined on the running command are ignored.
func applyFlagOverrides(flags *pflag.FlagSet, cfg *CLIConfig) {
	applyStringFlag(flags, "log-level", func(v string) { cfg.Logging.Level = v })
	applyStringFlag(flags, "log-format", func(v string) { cfg.Logging.Format = v })
	applyStringFlag(flags, "results-dir", func(v string) { cfg.ResultsDir = v })
	applyStringFlag(flags, "inventory", func(v string) { cfg.Inventory = v })
	applyStringFlag(flags, "jump-host", func(v string) { cfg.JumpHost.Address = v })
	applyIntFlag(flags, "concurrency", func(v int) { cfg.Audit.Concurrency = v })
	applyIntFlag(flags, "timeout", func(v int) { cfg.Commands.TimeoutSecs = v })
	applyBoolFlag(flags, "local-ping-fallback", func(v bool) { cfg.Ping.LocalFallback = v })
}

func applyStringFlag(flags *pflag.FlagSet, name string, setter func(string)) {
	if flag := changedFlag(flags, name); flag != nil {
		setter(flag.Value.String())
	}
}

func applyIntFlag(flags *pflag.FlagSet, name string, setter func(int)) {
	if changedFlag(flags, name) == nil {
		return
	}
	if v, err := flags.GetInt(name); err == nil {
		setter(v)
	}
}

func applyBoolFlag(flags *pflag.FlagSet, name string, setter func(bool)) {
	if changedFlag(flags, name) == nil {
		return
	}
	if v, err := flags.GetBool(name); err == nil {
		setter(v)
	}
}

func changedFlag(flags *pflag.FlagSet, name string) *pflag.Flag {
	if flags == nil {
		return nil
	}
	flag := flags.Lookup(name)
	if flag == nil || !flag.Changed {
		return nil
	}
	return flag
}

func (c *CLIConfig) connectionConfig() connection.Config {
	return connection.Config{
		JumpHost: c.JumpHost,
		Ping: connection.PingConfig{
			Executable: c.Ping.Executable,
			Count:      c.Ping.Count,
			Timeout:    time.Duration(c.Ping.TimeoutSecs) * time.Second,
			Attempts:   c.Ping.Attempts,
			Backoff:    time.Duration(c.Ping.BackoffMS) * time.Millisecond,
			Privileged: c.Ping.Privileged,
		},
		DevicePort:       c.Devices.Port,
		DialTimeout:      time.Duration(c.Commands.DialTimeoutSecs) * time.Second,
		CommandTimeout:   time.Duration(c.Commands.TimeoutSecs) * time.Second,
		TunnelsPerSecond: c.Audit.TunnelsPerSecond,
		Commands:         c.Commands.Sequence,
		LineCommand:      c.Commands.LineConfig,
	}
}

func (c *CLIConfig) credentials() device.Credentials {
	return device.Credentials{
		Username:     c.Devices.Username,
		Password:     c.Devices.Password,
		EnableSecret: c.Devices.EnableSecret,
	}
}

func (c *CLIConfig) applicationConfig(resultsDir, operator string) application.Config {
	return application.Config{
		ResultsDir:    resultsDir,
		InventoryPath: c.Inventory,
		Connection:    c.connectionConfig(),
		Audit: auditapp.Options{
			Concurrency:       c.Audit.Concurrency,
			LocalPingFallback: c.Ping.LocalFallback,
			Operator:          operator,
			Credentials:       c.credentials(),
		},
	}
}

func detectOperatorFromEnv() string {
	if env := os.Getenv("USER"); env != "" {
		return env
	}
	if env := os.Getenv("LOGNAME"); env != "" {
		return env
	}
	return ""
}
