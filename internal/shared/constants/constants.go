package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating result files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	DefaultSSHPort = 22

	DefaultDialTimeout    = 10 * time.Second
	DefaultCommandTimeout = 20 * time.Second

	// Remote ping is retried at most this many times with a short fixed backoff.
	DefaultPingAttempts = 2
	DefaultPingBackoff  = 500 * time.Millisecond
	DefaultPingCount    = 3
	DefaultPingTimeout  = 2 * time.Second
	DefaultPingPath     = "ping"

	DefaultConcurrency      = 1
	DefaultTunnelsPerSecond = 2

	// MaxCommandOutput caps how many bytes of a single command's output are kept.
	MaxCommandOutput = 1 << 20
)

const (
	// ResultsFilename is the report written for every run.
	ResultsFilename = "results.json"
	// DigestSuffix is appended to ResultsFilename for the sha256sum sidecar.
	DigestSuffix = ".sha256"
)
