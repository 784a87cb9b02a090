package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/serialbatch"
	"github.com/bft-labs/serialbatch/internal/app"
	"github.com/bft-labs/serialbatch/internal/cliconfig"
	"github.com/bft-labs/serialbatch/pkg/log"
)

const helpDescription = `
Monitor a serial device and print received data in coalesced batches.

Incoming bytes are buffered and delivered once either a chunk-count threshold
is reached or the line has been idle for the flush timeout, so high-frequency
devices produce a few large reads instead of many tiny ones. Writes from the
device are printed raw by default; use --hex for a hex dump.

If the device disappears (USB unplug, hangup) the monitor reopens it with
exponential backoff. With --watch, block_size and flush_timeout edits in the
config file are applied to the running port without a reopen.
`

var exampleUsage = strings.TrimSpace(`
  serialbatch --device /dev/ttyUSB0 --baud 115200
  serialbatch --device /dev/ttyACM0 --block-size 64 --flush-timeout 5ms --hex
  serialbatch --config ~/.serialbatch/config.toml --watch
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:     "serialbatch",
		Short:   "Monitor a serial device with coalesced batch delivery",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first (default ~/.serialbatch/config.toml),
			// then env, then flag overrides.
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cfg, cfgFile)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.serialbatch/config.toml)")
	root.Flags().StringVar(&cfg.Device, "device", cfg.Device, "serial device path (e.g. /dev/ttyUSB0)")
	root.Flags().IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "baud rate")
	root.Flags().IntVar(&cfg.DataBits, "data-bits", cfg.DataBits, "data bits (5-8)")
	root.Flags().StringVar(&cfg.Parity, "parity", cfg.Parity, "parity: none, odd or even")
	root.Flags().IntVar(&cfg.StopBits, "stop-bits", cfg.StopBits, "stop bits (1 or 2)")
	root.Flags().BoolVar(&cfg.RTS, "rts", cfg.RTS, "assert RTS after open")
	root.Flags().BoolVar(&cfg.DTR, "dtr", cfg.DTR, "assert DTR after open")
	root.Flags().IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "chunk count that triggers an immediate flush")
	root.Flags().DurationVar(&cfg.FlushTimeout, "flush-timeout", cfg.FlushTimeout, "idle duration that triggers a flush")
	root.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for the delivery loop on close")
	root.Flags().BoolVar(&cfg.Hex, "hex", cfg.Hex, "print batches as hex dumps")
	root.Flags().BoolVar(&cfg.Watch, "watch", cfg.Watch, "hot-reload coalescing tunables from the config file")
	root.Flags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg cliconfig.Config, cfgFile string) error {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
	logger := log.NewZerologAdapterWithLogger(zl)

	logger.Info("configuration",
		log.String("device", cfg.Device),
		log.Int("baud", cfg.BaudRate),
		log.String("line", fmt.Sprintf("%d%s%d", cfg.DataBits, mustParity(cfg.Parity), cfg.StopBits)),
		log.Int("block_size", cfg.BlockSize),
		log.Duration("flush_timeout", cfg.FlushTimeout),
	)

	// Device errors land here and trigger a reopen with backoff.
	devErr := make(chan error, 1)

	port, err := serialbatch.New(serialbatch.Config{
		Device:          cfg.Device,
		BaudRate:        cfg.BaudRate,
		DataBits:        cfg.DataBits,
		Parity:          mustParity(cfg.Parity),
		StopBits:        cfg.StopBits,
		RTS:             cfg.RTS,
		DTR:             cfg.DTR,
		BlockSize:       cfg.BlockSize,
		FlushTimeout:    cfg.FlushTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	},
		serialbatch.WithLogger(logger),
		serialbatch.WithDataHandler(func(batch []byte) {
			printBatch(batch, cfg.Hex)
		}),
		serialbatch.WithErrorHandler(func(err error) {
			select {
			case devErr <- err:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("create port: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Watch && cfgFile != "" {
		watcher := cliconfig.NewConfigWatcher(cfgFile, port, logger)
		go watcher.Run(ctx)
	}

	backoff := app.NewBackoff(app.DefaultBackoffInitial, app.DefaultBackoffMax)

	for {
		if err := port.Open(); err != nil {
			logger.Error("open failed, retrying",
				log.Err(err),
				log.Duration("backoff", backoff.Current()),
			)
			select {
			case <-sigCh:
				logger.Info("received signal, exiting")
				return nil
			default:
			}
			backoff.Sleep()
			continue
		}
		backoff.Reset()

		select {
		case <-sigCh:
			logger.Info("received signal, stopping")
			cancel()
			if err := port.Close(); err != nil && !errors.Is(err, serialbatch.ErrNotOpen) {
				return fmt.Errorf("close port: %w", err)
			}
			return nil

		case err := <-devErr:
			logger.Warn("device error, reopening", log.Err(err))
			if err := port.Close(); err != nil && !errors.Is(err, serialbatch.ErrNotOpen) {
				logger.Error("close before reopen", log.Err(err))
			}
			backoff.Sleep()
		}
	}
}

func printBatch(batch []byte, hexDump bool) {
	if hexDump {
		fmt.Print(hex.Dump(batch))
		return
	}
	os.Stdout.Write(batch)
}

// mustParity converts the already-validated parity string.
func mustParity(s string) serialbatch.Parity {
	p, _ := serialbatch.ParseParity(s)
	return p
}
