package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Device          string `toml:"device"`
	BaudRate        int    `toml:"baud_rate"`
	DataBits        int    `toml:"data_bits"`
	Parity          string `toml:"parity"`
	StopBits        int    `toml:"stop_bits"`
	RTS             *bool  `toml:"rts"`
	DTR             *bool  `toml:"dtr"`
	BlockSize       int    `toml:"block_size"`
	FlushTimeout    string `toml:"flush_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	Hex             *bool  `toml:"hex"`
	Watch           *bool  `toml:"watch"`
	Debug           *bool  `toml:"debug"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.serialbatch/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".serialbatch", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device", fc.Device, &cfg.Device)
	s.setString("parity", fc.Parity, &cfg.Parity)

	s.setInt("baud", fc.BaudRate, &cfg.BaudRate)
	s.setInt("data-bits", fc.DataBits, &cfg.DataBits)
	s.setInt("stop-bits", fc.StopBits, &cfg.StopBits)
	s.setInt("block-size", fc.BlockSize, &cfg.BlockSize)

	if err := s.setDuration("flush-timeout", fc.FlushTimeout, &cfg.FlushTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}

	s.setBool("rts", fc.RTS, &cfg.RTS)
	s.setBool("dtr", fc.DTR, &cfg.DTR)
	s.setBool("hex", fc.Hex, &cfg.Hex)
	s.setBool("watch", fc.Watch, &cfg.Watch)
	s.setBool("debug", fc.Debug, &cfg.Debug)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
