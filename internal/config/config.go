// Package config loads the optional YAML configuration file. Values given on the
// command line take precedence over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"chardevfs/internal/devtable"
	"chardevfs/internal/logging"
)

// DefaultDeviceName is the name the device is registered under when none is configured.
const DefaultDeviceName = "chardev"

// DeviceConfig holds settings for the registered device.
type DeviceConfig struct {
	Name string `yaml:"name"`
}

// MountConfig holds FUSE mount settings.
type MountConfig struct {
	Point      string `yaml:"point"`
	AllowOther *bool  `yaml:"allow_other,omitempty"` // nil = not set in file
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level string `yaml:"level"`
	Debug *bool  `yaml:"debug,omitempty"`
}

// File is the top-level configuration file layout.
type File struct {
	Device DeviceConfig `yaml:"device"`
	Mount  MountConfig  `yaml:"mount"`
	Logger LoggerConfig `yaml:"logger"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML data. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to the zero File.
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the values that are set.
func (f *File) Validate() error {
	if f.Device.Name != "" {
		if err := devtable.ValidateName(f.Device.Name); err != nil {
			return fmt.Errorf("device.name: %w", err)
		}
	}
	if f.Logger.Level != "" && !logging.ValidLevel(f.Logger.Level) {
		return fmt.Errorf("logger.level: unknown level %q", f.Logger.Level)
	}
	return nil
}
