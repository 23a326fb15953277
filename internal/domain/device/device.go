package device

import (
	"fmt"
	"net"
	"strings"

	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// Device is a network device supplied by the inventory. It is a value type and
// is never mutated while a run is in progress.
type Device struct {
	Hostname     string `json:"hostname" yaml:"hostname"`
	IP           string `json:"ip,omitempty" yaml:"ip"`
	DeviceType   string `json:"device_type" yaml:"device_type"`
	Username     string `json:"-" yaml:"username"`
	Password     string `json:"-" yaml:"password"`
	EnableSecret string `json:"-" yaml:"secret"`
	Port         int    `json:"port,omitempty" yaml:"port"`
}

// Credentials are the default credentials applied to devices that carry none.
type Credentials struct {
	Username     string
	Password     string
	EnableSecret string
}

// Validate checks the required fields. A missing or malformed ip is not a
// validation error; such devices are skipped during the run with NO_IP_DEFINED.
func (d Device) Validate() error {
	if strings.TrimSpace(d.Hostname) == "" {
		return fmt.Errorf("%w: hostname is required", sharedErrors.ErrInvalidDevice)
	}
	if strings.TrimSpace(d.DeviceType) == "" {
		return fmt.Errorf("%w: device_type is required for %s", sharedErrors.ErrInvalidDevice, d.Hostname)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: %s has port %d out of range", sharedErrors.ErrInvalidDevice, d.Hostname, d.Port)
	}
	return nil
}

func (d Device) HasIP() bool {
	return strings.TrimSpace(d.IP) != ""
}

// UsableIP reports whether the ip is present and parses as an address.
func (d Device) UsableIP() bool {
	return d.HasIP() && net.ParseIP(strings.TrimSpace(d.IP)) != nil
}

// Address returns ip:port, defaulting the port when unset.
func (d Device) Address(defaultPort int) string {
	port := d.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(strings.TrimSpace(d.IP), fmt.Sprintf("%d", port))
}

// WithDefaults returns a copy of d with blank credentials filled from creds.
func (d Device) WithDefaults(creds Credentials) Device {
	if d.Username == "" {
		d.Username = creds.Username
	}
	if d.Password == "" {
		d.Password = creds.Password
	}
	if d.EnableSecret == "" {
		d.EnableSecret = creds.EnableSecret
	}
	return d
}
