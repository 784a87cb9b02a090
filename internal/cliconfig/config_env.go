package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (SERIALBATCH_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device", os.Getenv("SERIALBATCH_DEVICE"), &cfg.Device)
	s.setString("parity", os.Getenv("SERIALBATCH_PARITY"), &cfg.Parity)

	if err := s.setIntFromString("baud", os.Getenv("SERIALBATCH_BAUD_RATE"), &cfg.BaudRate); err != nil {
		return err
	}
	if err := s.setIntFromString("data-bits", os.Getenv("SERIALBATCH_DATA_BITS"), &cfg.DataBits); err != nil {
		return err
	}
	if err := s.setIntFromString("stop-bits", os.Getenv("SERIALBATCH_STOP_BITS"), &cfg.StopBits); err != nil {
		return err
	}
	if err := s.setIntFromString("block-size", os.Getenv("SERIALBATCH_BLOCK_SIZE"), &cfg.BlockSize); err != nil {
		return err
	}

	if err := s.setDuration("flush-timeout", os.Getenv("SERIALBATCH_FLUSH_TIMEOUT"), &cfg.FlushTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("SERIALBATCH_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}

	s.setBoolFromString("rts", os.Getenv("SERIALBATCH_RTS"), &cfg.RTS)
	s.setBoolFromString("dtr", os.Getenv("SERIALBATCH_DTR"), &cfg.DTR)
	s.setBoolFromString("hex", os.Getenv("SERIALBATCH_HEX"), &cfg.Hex)
	s.setBoolFromString("watch", os.Getenv("SERIALBATCH_WATCH"), &cfg.Watch)
	s.setBoolFromString("debug", os.Getenv("SERIALBATCH_DEBUG"), &cfg.Debug)

	return nil
}
