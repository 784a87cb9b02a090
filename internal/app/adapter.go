package app

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/serialbatch/internal/domain"
	"github.com/bft-labs/serialbatch/internal/ports"
	"github.com/bft-labs/serialbatch/pkg/log"
)

// Default coalescing tunables.
const (
	DefaultBlockSize    = 256
	DefaultFlushTimeout = 10 * time.Millisecond
)

// Config holds the coalescing tunables for the adapter.
type Config struct {
	// BlockSize is the queued-chunk count that triggers an immediate flush.
	BlockSize int

	// FlushTimeout is the idle duration after which queued chunks are
	// flushed even when the block size has not been reached.
	FlushTimeout time.Duration

	// ShutdownTimeout bounds the wait for the delivery loop to exit on Close.
	ShutdownTimeout time.Duration
}

// SetDefaults fills zero-valued fields with defaults.
func (c *Config) SetDefaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Handlers are the application callbacks, one per event kind. Both are
// optional. OnData is invoked synchronously on the delivery loop goroutine,
// one call per delivered batch. OnError receives device-level errors and
// delivery-path failures.
type Handlers struct {
	OnData  func(batch []byte)
	OnError func(err error)
}

// session is the per-open state of the delivery loop. Each Open creates a
// fresh session, so a loop abandoned by a shutdown timeout keeps its own
// stop flag and wake channel and cannot steal wakes from a reopened adapter.
type session struct {
	// wake is the dispatch signal: a binary wake-up connecting both flush
	// triggers to the delivery loop. Signals before a wait collapse to one.
	wake chan struct{}
	stop atomic.Bool
}

// Adapter is the coalescing core. It buffers chunks handed in by a
// DevicePort and delivers them to the application in consolidated batches,
// flushing when either the block-size threshold is reached or input has been
// idle for the flush timeout.
//
// Besides the caller, at most two execution contexts are active: the
// device's receive context (which invokes OnRawBytes/OnRawError) and the
// single delivery loop goroutine started by Open. The chunk queue is the
// only state shared between them and is guarded by its own lock.
type Adapter struct {
	port      ports.DevicePort
	logger    log.Logger
	handlers  Handlers
	lifecycle *Lifecycle

	blockSize       atomic.Int64
	flushTimeout    atomic.Int64 // nanoseconds
	shutdownTimeout time.Duration

	queue *chunkQueue
	sess  atomic.Pointer[session]

	timerMu sync.Mutex
	idle    *time.Timer

	mu sync.Mutex // serializes Open and Close
}

// NewAdapter creates an adapter around the given device port. The adapter
// starts closed; call Open to acquire the device and start delivery.
func NewAdapter(port ports.DevicePort, cfg Config, logger log.Logger, handlers Handlers, emitter EventEmitter) *Adapter {
	cfg.SetDefaults()

	a := &Adapter{
		port:            port,
		logger:          logger,
		handlers:        handlers,
		lifecycle:       NewLifecycle(logger, emitter),
		shutdownTimeout: cfg.ShutdownTimeout,
		queue:           newChunkQueue(),
	}
	a.blockSize.Store(int64(cfg.BlockSize))
	a.flushTimeout.Store(int64(cfg.FlushTimeout))

	stopped := &session{wake: make(chan struct{}, 1)}
	stopped.stop.Store(true)
	a.sess.Store(stopped)
	return a
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	return a.lifecycle.State()
}

// SetBlockSize changes the chunk-count flush threshold. Takes effect on the
// next receive event.
func (a *Adapter) SetBlockSize(n int) {
	if n <= 0 {
		n = DefaultBlockSize
	}
	a.blockSize.Store(int64(n))
}

// BlockSize returns the current chunk-count flush threshold.
func (a *Adapter) BlockSize() int {
	return int(a.blockSize.Load())
}

// SetFlushTimeout changes the idle flush duration. Takes effect on the next
// timer reset.
func (a *Adapter) SetFlushTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultFlushTimeout
	}
	a.flushTimeout.Store(int64(d))
}

// FlushTimeout returns the current idle flush duration.
func (a *Adapter) FlushTimeout() time.Duration {
	return time.Duration(a.flushTimeout.Load())
}

// Open acquires the device and starts the delivery loop. It fails if the
// device cannot be opened. Reopening after Close starts with an empty queue;
// chunks from a previous session are never carried over.
func (a *Adapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lifecycle.CanOpen() {
		return domain.ErrAlreadyOpen
	}
	if err := a.lifecycle.TransitionTo(StateOpening, "open requested"); err != nil {
		return err
	}

	// Discard anything left over from a previous session.
	a.queue.DrainAll()
	s := &session{wake: make(chan struct{}, 1)}
	a.sess.Store(s)

	if err := a.port.Open(a); err != nil {
		s.stop.Store(true)
		_ = a.lifecycle.TransitionTo(StateCrashed, "device open failed")
		return fmt.Errorf("open device: %w", err)
	}

	a.lifecycle.AddWorker()
	go a.deliveryLoop(s)

	return a.lifecycle.TransitionTo(StateOpen, "device opened")
}

// Close stops the delivery loop, then closes the device. It waits up to the
// shutdown timeout for the loop to exit; if the loop does not exit in time
// (a data handler that never returns), it is abandoned, the device is still
// closed, and ErrShutdownTimeout is returned with the adapter left in
// StateCrashed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lifecycle.CanClose() {
		return domain.ErrNotOpen
	}
	if err := a.lifecycle.TransitionTo(StateClosing, "close requested"); err != nil {
		return err
	}

	a.stopIdleTimer()
	s := a.sess.Load()
	s.stop.Store(true)
	a.signal()

	waitErr := a.lifecycle.WaitWithTimeout(a.shutdownTimeout)

	closeErr := a.port.Close()

	// Teardown: undelivered chunks do not survive a close.
	a.queue.DrainAll()

	if waitErr != nil {
		_ = a.lifecycle.TransitionTo(StateCrashed, "delivery loop did not exit")
		return waitErr
	}
	if err := a.lifecycle.TransitionTo(StateClosed, "closed"); err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("close device: %w", closeErr)
	}
	return nil
}

// Write passes bytes directly to the device. The write path has no
// buffering or batching.
func (a *Adapter) Write(p []byte) (int, error) {
	if a.lifecycle.State() != StateOpen {
		return 0, domain.ErrNotOpen
	}
	return a.port.Write(p)
}

// OnRawBytes implements ports.ReceiveSink. It is invoked from the platform's
// receive context and never blocks beyond the brief queue-lock hold: append,
// evaluate the size trigger, reset the idle timer.
func (a *Adapter) OnRawBytes(chunk []byte) {
	if a.sess.Load().stop.Load() || len(chunk) == 0 {
		return
	}

	n := a.queue.Enqueue(domain.NewChunk(chunk))

	// Size trigger bypasses the timer.
	if n >= int(a.blockSize.Load()) {
		a.signal()
	}

	// Always rearm the idle timer so sub-threshold traffic flushes once
	// input goes quiet. Rapid receives keep postponing the fire.
	a.resetIdleTimer(time.Duration(a.flushTimeout.Load()))
}

// OnRawError implements ports.ReceiveSink. Device errors are reported, not
// fatal; delivery continues.
func (a *Adapter) OnRawError(err error) {
	a.reportError(fmt.Errorf("device error: %w", err))
}

// signal wakes the delivery loop of the current session. Multiple signals
// before a wait collapse to one; the loop tolerates spurious wakes.
func (a *Adapter) signal() {
	s := a.sess.Load()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (a *Adapter) resetIdleTimer(d time.Duration) {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()
	if a.idle == nil {
		a.idle = time.AfterFunc(d, a.signal)
		return
	}
	// Stop+Reset may race with an in-flight fire; the resulting extra wake
	// drains an empty queue and is a no-op.
	a.idle.Stop()
	a.idle.Reset(d)
}

func (a *Adapter) stopIdleTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()
	if a.idle != nil {
		a.idle.Stop()
	}
}

// deliveryLoop is the single consumer. It blocks only on the dispatch
// signal, drains the queue on each wake, and emits one consolidated batch
// per non-empty drain. It exits only when the stop flag is observed; an
// empty drain just loops back to waiting.
func (a *Adapter) deliveryLoop(s *session) {
	defer a.lifecycle.WorkerDone()

	for range s.wake {
		if s.stop.Load() {
			return
		}

		chunks := a.queue.DrainAll()
		if len(chunks) == 0 {
			continue
		}

		batch := domain.Concat(chunks)
		a.logger.Debug("delivering batch",
			log.Int("chunks", len(chunks)),
			log.Int("bytes", len(batch)),
		)
		a.deliver(batch)
	}
}

// deliver invokes the data callback, containing any panic it raises. A
// misbehaving handler invocation must not terminate the delivery loop.
func (a *Adapter) deliver(batch []byte) {
	defer func() {
		if r := recover(); r != nil {
			a.reportError(fmt.Errorf("data handler panic: %v", r))
		}
	}()
	if a.handlers.OnData != nil {
		a.handlers.OnData(batch)
	}
}

// reportError logs and forwards an error to the error callback. A panicking
// error handler is logged and swallowed; nothing propagates uncaught out of
// the adapter.
func (a *Adapter) reportError(err error) {
	a.logger.Error("adapter error", log.Err(err))
	if a.handlers.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("error handler panic", log.Any("panic", r))
		}
	}()
	a.handlers.OnError(err)
}
