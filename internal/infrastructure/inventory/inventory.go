// Package inventory loads device lists from files. Both adapters are
// read-only and preserve the order of the source file.
package inventory

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
	sharedErrors "github.com/khanhnv2901/lineaudit/internal/shared/errors"
)

// File is a device.Inventory backed by a YAML or CSV file. The file is read
// on every call so edits between runs are picked up.
type File struct {
	path     string
	defaults device.Credentials
}

// NewFile returns an inventory for path. Blank per-device credentials are
// filled from defaults.
func NewFile(path string, defaults device.Credentials) *File {
	return &File{path: path, defaults: defaults}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Devices(ctx context.Context) ([]device.Device, error) {
	if f.path == "" {
		return nil, fmt.Errorf("%w: no inventory file configured", sharedErrors.ErrEmptyInventory)
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read inventory %s: %w", f.path, err)
	}

	var devices []device.Device
	switch strings.ToLower(filepath.Ext(f.path)) {
	case ".csv":
		devices, err = ParseCSV(bytes.NewReader(data))
	case ".yaml", ".yml":
		devices, err = ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported inventory format %q", filepath.Ext(f.path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", f.path, err)
	}

	for i := range devices {
		devices[i] = devices[i].WithDefaults(f.defaults)
	}
	return devices, nil
}

type yamlInventory struct {
	Devices []device.Device `yaml:"devices"`
}

// ParseYAML reads a document with a top-level "devices" list.
func ParseYAML(data []byte) ([]device.Device, error) {
	var doc yamlInventory
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrInvalidDevice, err)
	}
	for i := range doc.Devices {
		doc.Devices[i] = trim(doc.Devices[i])
	}
	return doc.Devices, nil
}

var csvColumns = []string{"hostname", "ip", "device_type", "username", "password", "enable_secret", "port"}

// ParseCSV reads a header row followed by one device per row. Only hostname
// and device_type columns are required; column order is free.
func ParseCSV(r io.Reader) ([]device.Device, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: header: %v", sharedErrors.ErrInvalidDevice, err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	// "secret" is accepted as an alias of enable_secret
	if _, ok := index["enable_secret"]; !ok {
		if i, ok := index["secret"]; ok {
			index["enable_secret"] = i
		}
	}
	for _, required := range []string{"hostname", "device_type"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", sharedErrors.ErrInvalidDevice, required)
		}
	}

	var devices []device.Device
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sharedErrors.ErrInvalidDevice, err)
		}

		field := func(name string) string {
			if i, ok := index[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		d := device.Device{
			Hostname:     field("hostname"),
			IP:           field("ip"),
			DeviceType:   field("device_type"),
			Username:     field("username"),
			Password:     field("password"),
			EnableSecret: field("enable_secret"),
		}
		if p := field("port"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: port %q", sharedErrors.ErrInvalidDevice, line, p)
			}
			d.Port = port
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func trim(d device.Device) device.Device {
	d.Hostname = strings.TrimSpace(d.Hostname)
	d.IP = strings.TrimSpace(d.IP)
	d.DeviceType = strings.TrimSpace(d.DeviceType)
	return d
}
