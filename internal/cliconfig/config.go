package cliconfig

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bft-labs/serialbatch/internal/adapters/serial"
	"github.com/bft-labs/serialbatch/internal/app"
)

// Config holds CLI configuration for serialbatch.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	RTS      bool
	DTR      bool

	BlockSize       int
	FlushTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Hex controls batch output formatting in the CLI monitor.
	Hex bool

	// Watch enables hot-reload of the coalescing tunables from the config file.
	Watch bool

	Debug bool
}

// DefaultConfig returns a Config with default values: 115200 8N1, the
// default coalescing tunables, raw output.
func DefaultConfig() Config {
	return Config{
		BaudRate:        115200,
		DataBits:        8,
		Parity:          "none",
		StopBits:        1,
		BlockSize:       app.DefaultBlockSize,
		FlushTimeout:    app.DefaultFlushTimeout,
		ShutdownTimeout: app.DefaultShutdownTimeout,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	parity, err := serial.ParseParity(c.Parity)
	if err != nil {
		return err
	}
	settings := serial.Settings{
		Device:   c.Device,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: c.StopBits,
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive")
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("flush timeout must be positive")
	}
	return nil
}

// Settings converts the validated CLI config to serial device settings.
func (c *Config) Settings() serial.Settings {
	parity, _ := serial.ParseParity(c.Parity)
	return serial.Settings{
		Device:   c.Device,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: c.StopBits,
		RTS:      c.RTS,
		DTR:      c.DTR,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
