// Package serialbatch couples a serial device to the application through a
// coalescing receive path: raw byte chunks arriving from the device are
// buffered and delivered as consolidated batches, flushed when either a
// chunk-count threshold is reached or input has been idle for a configurable
// timeout. The write path is a pure pass-through.
//
// Example usage:
//
//	cfg := serialbatch.DefaultConfig("/dev/ttyUSB0")
//	port, err := serialbatch.New(cfg,
//	    serialbatch.WithDataHandler(func(batch []byte) {
//	        fmt.Printf("received %d bytes\n", len(batch))
//	    }),
//	    serialbatch.WithErrorHandler(func(err error) {
//	        log.Println("port error:", err)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := port.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	port.Write([]byte("AT\r\n"))
package serialbatch

import (
	"time"

	"github.com/bft-labs/serialbatch/internal/adapters/serial"
	"github.com/bft-labs/serialbatch/internal/app"
	"github.com/bft-labs/serialbatch/internal/domain"
	"github.com/bft-labs/serialbatch/internal/ports"
	"github.com/bft-labs/serialbatch/pkg/log"
)

// Sentinel errors returned by the public API; check with errors.Is.
var (
	ErrAlreadyOpen     = domain.ErrAlreadyOpen
	ErrNotOpen         = domain.ErrNotOpen
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrPortClosed      = domain.ErrPortClosed
)

// State is the lifecycle state of a Port.
type State = app.State

// Lifecycle states. A Port starts Closed; Open moves it through Opening to
// Open, Close through Closing back to Closed. Crashed marks a failed device
// open or a delivery loop that outlived the shutdown grace period; a Crashed
// port may be reopened.
const (
	StateClosed  = app.StateClosed
	StateOpening = app.StateOpening
	StateOpen    = app.StateOpen
	StateClosing = app.StateClosing
	StateCrashed = app.StateCrashed
)

// Parity is the serial line parity mode.
type Parity = serial.Parity

// Parity modes.
const (
	ParityNone = serial.ParityNone
	ParityOdd  = serial.ParityOdd
	ParityEven = serial.ParityEven
)

// ParseParity converts a config string ("none", "odd", "even", or the
// single-letter forms) to a Parity.
func ParseParity(s string) (Parity, error) {
	return serial.ParseParity(s)
}

// DevicePort is the transport interface a custom byte source implements to
// feed a Port. See WithDevicePort.
type DevicePort = ports.DevicePort

// ReceiveSink is the pair of entry points a DevicePort invokes to hand raw
// bytes and errors to the coalescing core.
type ReceiveSink = ports.ReceiveSink

// Default coalescing tunables.
const (
	DefaultBlockSize    = app.DefaultBlockSize
	DefaultFlushTimeout = app.DefaultFlushTimeout
)

// Config holds the configuration for a Port. The device fields are passed
// opaquely to the serial driver layer; the coalescing core does not
// interpret them.
type Config struct {
	// Device is the serial device path (e.g. /dev/ttyUSB0).
	Device string

	// Line settings. Zero values default to 115200 8N1.
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits int

	// Modem-control lines asserted after open.
	RTS bool
	DTR bool

	// BlockSize is the queued-chunk count that triggers an immediate
	// flush. Defaults to DefaultBlockSize.
	BlockSize int

	// FlushTimeout is the idle duration after which queued chunks are
	// flushed regardless of count. Defaults to DefaultFlushTimeout.
	FlushTimeout time.Duration

	// ShutdownTimeout bounds the wait for the delivery loop to exit on
	// Close. Defaults to 5s.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config for the given device with default line
// settings and coalescing tunables.
func DefaultConfig(device string) Config {
	return Config{
		Device:   device,
		BaudRate: 115200,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: 1,
	}
}

// SetDefaults fills zero-valued fields with defaults.
func (c *Config) SetDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
}

// Option configures optional behavior of a Port.
type Option func(*options)

// options holds the optional configuration for a Port instance.
type options struct {
	logger  log.Logger
	port    ports.DevicePort
	onData  func(batch []byte)
	onError func(err error)
	onState func(previous, current State, reason string)
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDevicePort injects a custom byte source in place of the built-in
// serial device, for tests or non-serial transports. The Config device
// fields are ignored when a port is injected.
func WithDevicePort(port DevicePort) Option {
	return func(o *options) {
		o.port = port
	}
}

// WithDataHandler sets the callback invoked once per delivered batch. It
// runs synchronously on the delivery loop goroutine; a handler that blocks
// delays subsequent batches, and one that never returns forces the
// shutdown-timeout path on Close.
func WithDataHandler(fn func(batch []byte)) Option {
	return func(o *options) {
		o.onData = fn
	}
}

// WithErrorHandler sets the callback invoked once per reported error, for
// both device-level errors and delivery-path failures.
func WithErrorHandler(fn func(err error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithStateHandler sets the callback invoked on lifecycle state changes.
func WithStateHandler(fn func(previous, current State, reason string)) Option {
	return func(o *options) {
		o.onState = fn
	}
}

// stateEmitter adapts the state handler callback to the lifecycle emitter.
type stateEmitter struct {
	fn func(previous, current State, reason string)
}

func (e *stateEmitter) OnStateChange(previous, current State, reason string) {
	e.fn(previous, current, reason)
}

// Port is a serial connection with a coalescing receive path. Use New to
// create an instance, then Open to acquire the device and start delivery.
type Port struct {
	adapter *app.Adapter
}

// New creates a new Port with the given configuration.
// The instance starts in StateClosed; call Open to begin delivery.
// Returns an error if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Port, error) {
	cfg.SetDefaults()

	o := options{logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	device := o.port
	if device == nil {
		settings := serial.Settings{
			Device:   cfg.Device,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			Parity:   cfg.Parity,
			StopBits: cfg.StopBits,
			RTS:      cfg.RTS,
			DTR:      cfg.DTR,
		}
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		device = serial.NewPort(settings)
	}

	var emitter app.EventEmitter
	if o.onState != nil {
		emitter = &stateEmitter{fn: o.onState}
	}

	adapter := app.NewAdapter(device, app.Config{
		BlockSize:       cfg.BlockSize,
		FlushTimeout:    cfg.FlushTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, o.logger, app.Handlers{
		OnData:  o.onData,
		OnError: o.onError,
	}, emitter)

	return &Port{adapter: adapter}, nil
}

// Open opens the device and starts the delivery loop. It fails if the
// device cannot be acquired. A closed Port may be reopened; each open starts
// with an empty queue.
func (p *Port) Open() error {
	return p.adapter.Open()
}

// Close stops the delivery loop and closes the device. It returns
// ErrShutdownTimeout if the loop does not exit within the shutdown grace
// period; the device is closed regardless.
func (p *Port) Close() error {
	return p.adapter.Close()
}

// Write passes bytes directly to the device; no buffering or batching
// happens on the write path.
func (p *Port) Write(b []byte) (int, error) {
	return p.adapter.Write(b)
}

// State returns the current lifecycle state.
func (p *Port) State() State {
	return p.adapter.State()
}

// SetBlockSize changes the chunk-count flush threshold at runtime. Takes
// effect on the next receive event.
func (p *Port) SetBlockSize(n int) {
	p.adapter.SetBlockSize(n)
}

// BlockSize returns the current chunk-count flush threshold.
func (p *Port) BlockSize() int {
	return p.adapter.BlockSize()
}

// SetFlushTimeout changes the idle flush duration at runtime. Takes effect
// on the next timer reset.
func (p *Port) SetFlushTimeout(d time.Duration) {
	p.adapter.SetFlushTimeout(d)
}

// FlushTimeout returns the current idle flush duration.
func (p *Port) FlushTimeout() time.Duration {
	return p.adapter.FlushTimeout()
}
