package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadCLIConfigDefaults(t *testing.T) {
	v := viper.New()
	registerDefaults(v)
	cfg := loadCLIConfig(v)

	if cfg.Ping.Count != 3 || cfg.Ping.Attempts != 2 || cfg.Ping.BackoffMS != 500 || cfg.Ping.TimeoutSecs != 2 {
		t.Fatalf("unexpected ping defaults %+v", cfg.Ping)
	}
	if cfg.Commands.TimeoutSecs != 20 || cfg.Commands.DialTimeoutSecs != 10 {
		t.Fatalf("unexpected command defaults %+v", cfg.Commands)
	}
	if cfg.Audit.Concurrency != 1 || cfg.Audit.TunnelsPerSecond != 2 {
		t.Fatalf("unexpected audit defaults %+v", cfg.Audit)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}

	conn := cfg.connectionConfig()
	if conn.Ping.Timeout != 2*time.Second || conn.Ping.Backoff != 500*time.Millisecond {
		t.Fatalf("unexpected ping durations %+v", conn.Ping)
	}
	if conn.CommandTimeout != 20*time.Second || conn.DialTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts %v %v", conn.CommandTimeout, conn.DialTimeout)
	}
	if len(conn.Commands) != 1 || conn.Commands[0] != "terminal length 0" {
		t.Fatalf("unexpected command sequence %v", conn.Commands)
	}
}

func TestInitConfigReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lineaudit.yaml")
	doc := `jump_host:
  address: bastion.example.net
  username: auditor
devices:
  username: netops
  enable_secret: en
ping:
  attempts: 4
  local_fallback: true
audit:
  concurrency: 3
inventory: /etc/lineaudit/devices.yaml
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LINEAUDIT_JUMP_HOST_PASSWORD", "from-env")
	t.Setenv("LINEAUDIT_DEVICES_PASSWORD", "device-env")

	v := viper.New()
	if err := initConfig(v, path); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	cfg := loadCLIConfig(v)

	if cfg.JumpHost.Address != "bastion.example.net" || cfg.JumpHost.Username != "auditor" {
		t.Fatalf("unexpected jump host %+v", cfg.JumpHost)
	}
	if cfg.JumpHost.Password != "from-env" {
		t.Fatalf("expected env password, got %q", cfg.JumpHost.Password)
	}
	if cfg.JumpHost.Port != 22 {
		t.Fatalf("expected default port, got %d", cfg.JumpHost.Port)
	}
	creds := cfg.credentials()
	if creds.Username != "netops" || creds.Password != "device-env" || creds.EnableSecret != "en" {
		t.Fatalf("unexpected credentials %+v", creds)
	}

	appCfg := cfg.applicationConfig("/tmp/results", "alice")
	if appCfg.InventoryPath != "/etc/lineaudit/devices.yaml" || appCfg.ResultsDir != "/tmp/results" {
		t.Fatalf("unexpected application config %+v", appCfg)
	}
	if appCfg.Audit.Concurrency != 3 || !appCfg.Audit.LocalPingFallback || appCfg.Audit.Operator != "alice" {
		t.Fatalf("unexpected audit options %+v", appCfg.Audit)
	}
	if appCfg.Connection.Ping.Attempts != 4 {
		t.Fatalf("expected 4 ping attempts, got %d", appCfg.Connection.Ping.Attempts)
	}
}

func TestInitConfigMissingExplicitFile(t *testing.T) {
	v := viper.New()
	if err := initConfig(v, filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing --config file")
	}
}

func TestInitConfigMissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	v := viper.New()
	if err := initConfig(v, ""); err != nil {
		t.Fatalf("a missing default config file should be ignored: %v", err)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("inventory", "", "")
	flags.String("log-level", "", "")
	flags.Int("concurrency", 0, "")
	flags.Bool("local-ping-fallback", false, "")

	cfg := &CLIConfig{Inventory: "from-config.yaml", Logging: LoggingConfig{Level: "info"}}
	cfg.Audit.Concurrency = 2

	// Unchanged flags leave the config alone.
	applyFlagOverrides(flags, cfg)
	if cfg.Inventory != "from-config.yaml" || cfg.Audit.Concurrency != 2 {
		t.Fatalf("unchanged flags should not override config: %+v", cfg)
	}

	if err := flags.Parse([]string{"--inventory=cli.csv", "--concurrency=5", "--local-ping-fallback", "--log-level=debug"}); err != nil {
		t.Fatal(err)
	}
	applyFlagOverrides(flags, cfg)
	if cfg.Inventory != "cli.csv" || cfg.Audit.Concurrency != 5 || !cfg.Ping.LocalFallback || cfg.Logging.Level != "debug" {
		t.Fatalf("flags should override config: %+v", cfg)
	}
}

func TestApplyFlagOverridesNilFlags(t *testing.T) {
	cfg := &CLIConfig{Inventory: "keep"}
	applyFlagOverrides(nil, cfg)
	if cfg.Inventory != "keep" {
		t.Fatal("nil flag set should be ignored")
	}
}

func TestDetectOperatorFromEnv(t *testing.T) {
	t.Setenv("USER", "env-user")
	if got := detectOperatorFromEnv(); got != "env-user" {
		t.Fatalf("expected env-user, got %s", got)
	}

	t.Setenv("USER", "")
	t.Setenv("LOGNAME", "log-user")
	if got := detectOperatorFromEnv(); got != "log-user" {
		t.Fatalf("expected log-user, got %s", got)
	}
}
