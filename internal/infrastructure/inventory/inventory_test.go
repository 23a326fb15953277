package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

const yamlDoc = `devices:
  - hostname: edge-01
    ip: 10.1.0.1
    device_type: cisco_ios
    username: netops
    password: pw
    secret: en
  - hostname: edge-02
    ip: " 10.1.0.2 "
    device_type: cisco_ios
  - hostname: lab-03
    device_type: cisco_ios
    port: 2222
`

func TestParseYAML(t *testing.T) {
	devices, err := ParseYAML([]byte(yamlDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
	if devices[0].EnableSecret != "en" || devices[0].Username != "netops" {
		t.Fatalf("unexpected first device: %+v", devices[0])
	}
	if devices[1].IP != "10.1.0.2" {
		t.Fatalf("expected trimmed ip, got %q", devices[1].IP)
	}
	if devices[2].HasIP() || devices[2].Port != 2222 {
		t.Fatalf("unexpected third device: %+v", devices[2])
	}
}

func TestParseYAMLInvalid(t *testing.T) {
	if _, err := ParseYAML([]byte("devices: [unclosed")); !errors.Is(err, sharedErrors.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	input := strings.Join([]string{
		"hostname,ip,device_type,username,password,secret",
		"# comment rows are skipped",
		"core-01, 10.2.0.1, cisco_ios, admin, pw, en",
		"core-02,,cisco_ios,,,",
	}, "\n")

	devices, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].IP != "10.2.0.1" || devices[0].EnableSecret != "en" {
		t.Fatalf("unexpected first device: %+v", devices[0])
	}
	if devices[1].HasIP() {
		t.Fatalf("expected missing ip, got %q", devices[1].IP)
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing hostname column", "ip,device_type\n10.0.0.1,cisco_ios"},
		{"bad port", "hostname,device_type,port\nr1,cisco_ios,abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tt.input)); !errors.Is(err, sharedErrors.ErrInvalidDevice) {
				t.Fatalf("expected ErrInvalidDevice, got %v", err)
			}
		})
	}
}

func TestFileAppliesDefaultsAndKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	inv := NewFile(path, device.Credentials{Username: "default", Password: "dpw"})
	devices, err := inv.Devices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := []string{devices[0].Hostname, devices[1].Hostname, devices[2].Hostname}
	if strings.Join(names, ",") != "edge-01,edge-02,lab-03" {
		t.Fatalf("order not preserved: %v", names)
	}
	if devices[0].Username != "netops" {
		t.Fatal("per-device credentials must win over defaults")
	}
	if devices[1].Username != "default" || devices[1].Password != "dpw" {
		t.Fatalf("expected defaults applied, got %+v", devices[1])
	}
}

func TestFileRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.txt")
	_ = os.WriteFile(path, []byte("x"), 0o600)

	if _, err := NewFile(path, device.Credentials{}).Devices(context.Background()); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFileWithoutPath(t *testing.T) {
	_, err := NewFile("", device.Credentials{}).Devices(context.Background())
	if !errors.Is(err, sharedErrors.ErrEmptyInventory) {
		t.Fatalf("expected ErrEmptyInventory, got %v", err)
	}
}
