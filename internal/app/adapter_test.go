package app

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/serialbatch/internal/domain"
	"github.com/bft-labs/serialbatch/internal/ports"
	"github.com/bft-labs/serialbatch/pkg/log"
)

// fakePort is an in-memory DevicePort. Tests push chunks and errors through
// it the way a driver receive context would.
type fakePort struct {
	mu      sync.Mutex
	sink    ports.ReceiveSink
	opened  bool
	openErr error
	written [][]byte
	closes  int
}

func (f *fakePort) Open(sink ports.ReceiveSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.sink = sink
	f.opened = true
	return nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return 0, domain.ErrPortClosed
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = false
	f.closes++
	return nil
}

// receive delivers one chunk as if the driver's receive interrupt fired.
func (f *fakePort) receive(b []byte) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnRawBytes(b)
}

// fail reports a device-level error.
func (f *fakePort) fail(err error) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnRawError(err)
}

func (f *fakePort) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type harness struct {
	port    *fakePort
	adapter *Adapter
	batches chan []byte
	errs    chan error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		port:    &fakePort{},
		batches: make(chan []byte, 64),
		errs:    make(chan error, 64),
	}
	h.adapter = NewAdapter(h.port, cfg, log.NewNoopLogger(), Handlers{
		OnData:  func(batch []byte) { h.batches <- batch },
		OnError: func(err error) { h.errs <- err },
	}, nil)
	return h
}

func (h *harness) expectBatch(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case b := <-h.batches:
		return b
	case err := <-h.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
	}
	return nil
}

func (h *harness) expectNoBatch(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case b := <-h.batches:
		t.Fatalf("unexpected batch %q", b)
	case <-time.After(window):
	}
}

func TestAdapter_SizeTriggerFlushesBeforeTimeout(t *testing.T) {
	// Timeout far in the future: only the size trigger can explain a
	// prompt delivery.
	h := newHarness(t, Config{BlockSize: 4, FlushTimeout: 10 * time.Second})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	for _, c := range []string{"A", "B", "C", "D"} {
		h.port.receive([]byte(c))
		time.Sleep(time.Millisecond)
	}

	batch := h.expectBatch(t, 500*time.Millisecond)
	require.Equal(t, []byte("ABCD"), batch)
}

func TestAdapter_TimeoutTriggerFlushesSubThreshold(t *testing.T) {
	h := newHarness(t, Config{BlockSize: 256, FlushTimeout: 50 * time.Millisecond})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	h.port.receive([]byte("X"))

	batch := h.expectBatch(t, time.Second)
	require.Equal(t, []byte("X"), batch)

	// Exactly one flush for one chunk.
	h.expectNoBatch(t, 150*time.Millisecond)
}

func TestAdapter_DebounceSuppressesFlushWhileBusy(t *testing.T) {
	h := newHarness(t, Config{BlockSize: 256, FlushTimeout: 200 * time.Millisecond})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	// Each receive lands well inside the previous timeout window, so the
	// timer keeps getting pushed back and no flush happens mid-stream.
	var want bytes.Buffer
	for i := 0; i < 5; i++ {
		c := []byte{byte('a' + i)}
		want.Write(c)
		h.port.receive(c)
		time.Sleep(30 * time.Millisecond)
	}

	batch := h.expectBatch(t, 2*time.Second)
	require.Equal(t, want.Bytes(), batch)
	h.expectNoBatch(t, 100*time.Millisecond)
}

func TestAdapter_NoLossNoDuplicationNoReorder(t *testing.T) {
	h := newHarness(t, Config{BlockSize: 8, FlushTimeout: 20 * time.Millisecond})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	var want bytes.Buffer
	for i := 0; i < 100; i++ {
		c := []byte(fmt.Sprintf("chunk-%03d;", i))
		want.Write(c)
		h.port.receive(c)
	}

	var got bytes.Buffer
	deadline := time.After(5 * time.Second)
	for got.Len() < want.Len() {
		select {
		case b := <-h.batches:
			got.Write(b)
		case err := <-h.errs:
			t.Fatalf("unexpected error: %v", err)
		case <-deadline:
			t.Fatalf("timed out with %d of %d bytes delivered", got.Len(), want.Len())
		}
	}

	require.Equal(t, want.Bytes(), got.Bytes())
	h.expectNoBatch(t, 100*time.Millisecond)
}

func TestAdapter_SpuriousWakeIsNoOp(t *testing.T) {
	// Block size 1 delivers immediately via the size trigger; the idle
	// timer armed by the same receive then fires on an empty queue.
	h := newHarness(t, Config{BlockSize: 1, FlushTimeout: 30 * time.Millisecond})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	h.port.receive([]byte("one"))
	require.Equal(t, []byte("one"), h.expectBatch(t, time.Second))

	// The late timer fire must not produce a callback or kill the loop.
	h.expectNoBatch(t, 150*time.Millisecond)

	h.port.receive([]byte("two"))
	require.Equal(t, []byte("two"), h.expectBatch(t, time.Second))
}

func TestAdapter_CloseDiscardsQueueReopenStartsFresh(t *testing.T) {
	h := newHarness(t, Config{BlockSize: 1000, FlushTimeout: time.Hour})
	require.NoError(t, h.adapter.Open())

	h.port.receive([]byte("stale1"))
	h.port.receive([]byte("stale2"))
	require.NoError(t, h.adapter.Close())

	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	h.adapter.SetBlockSize(1)
	h.port.receive([]byte("fresh"))

	require.Equal(t, []byte("fresh"), h.expectBatch(t, time.Second))
	h.expectNoBatch(t, 100*time.Millisecond)
}

func TestAdapter_DeviceErrorReportedLoopContinues(t *testing.T) {
	h := newHarness(t, Config{BlockSize: 1, FlushTimeout: 10 * time.Millisecond})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	h.port.fail(errors.New("overrun"))

	select {
	case err := <-h.errs:
		require.ErrorContains(t, err, "overrun")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error event")
	}

	h.port.receive([]byte("after"))
	require.Equal(t, []byte("after"), h.expectBatch(t, time.Second))
}

func TestAdapter_DataHandlerPanicContained(t *testing.T) {
	port := &fakePort{}
	batches := make(chan []byte, 8)
	errs := make(chan error, 8)
	panicNext := true

	adapter := NewAdapter(port, Config{BlockSize: 1, FlushTimeout: 10 * time.Millisecond},
		log.NewNoopLogger(), Handlers{
			OnData: func(batch []byte) {
				if panicNext {
					panicNext = false
					panic("handler exploded")
				}
				batches <- batch
			},
			OnError: func(err error) { errs <- err },
		}, nil)

	require.NoError(t, adapter.Open())
	defer adapter.Close()

	port.receive([]byte("boom"))

	select {
	case err := <-errs:
		require.ErrorContains(t, err, "panic")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for panic report")
	}

	port.receive([]byte("recovered"))
	select {
	case b := <-batches:
		require.Equal(t, []byte("recovered"), b)
	case <-time.After(time.Second):
		t.Fatal("delivery loop did not survive the panic")
	}
}

func TestAdapter_OpenFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.port.openErr = errors.New("no such device")

	err := h.adapter.Open()
	require.ErrorContains(t, err, "no such device")
	require.Equal(t, StateCrashed, h.adapter.State())

	// A failed open may be retried.
	h.port.mu.Lock()
	h.port.openErr = nil
	h.port.mu.Unlock()

	require.NoError(t, h.adapter.Open())
	require.Equal(t, StateOpen, h.adapter.State())
	require.NoError(t, h.adapter.Close())
}

func TestAdapter_LifecycleGuards(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.adapter.Write([]byte("x"))
	require.ErrorIs(t, err, domain.ErrNotOpen)
	require.ErrorIs(t, h.adapter.Close(), domain.ErrNotOpen)

	require.NoError(t, h.adapter.Open())
	require.ErrorIs(t, h.adapter.Open(), domain.ErrAlreadyOpen)

	require.NoError(t, h.adapter.Close())
	require.ErrorIs(t, h.adapter.Close(), domain.ErrNotOpen)
	require.Equal(t, StateClosed, h.adapter.State())
}

func TestAdapter_WritePassthrough(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	n, err := h.adapter.Write([]byte("AT\r\n"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	h.port.mu.Lock()
	defer h.port.mu.Unlock()
	require.Len(t, h.port.written, 1)
	require.Equal(t, []byte("AT\r\n"), h.port.written[0])
}

func TestAdapter_ShutdownTimeoutAbandonsLoop(t *testing.T) {
	port := &fakePort{}
	entered := make(chan struct{})
	release := make(chan struct{})

	adapter := NewAdapter(port,
		Config{BlockSize: 1, FlushTimeout: 10 * time.Millisecond, ShutdownTimeout: 100 * time.Millisecond},
		log.NewNoopLogger(), Handlers{
			OnData: func(batch []byte) {
				close(entered)
				<-release
			},
		}, nil)

	require.NoError(t, adapter.Open())
	port.receive([]byte("stuck"))

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	err := adapter.Close()
	require.ErrorIs(t, err, domain.ErrShutdownTimeout)
	require.Equal(t, StateCrashed, adapter.State())

	// The device is still closed on the abandon path.
	require.Equal(t, 1, port.closeCount())

	close(release)
}

func TestAdapter_RuntimeTunables(t *testing.T) {
	h := newHarness(t, Config{BlockSize: 100, FlushTimeout: time.Hour})
	require.NoError(t, h.adapter.Open())
	defer h.adapter.Close()

	require.Equal(t, 100, h.adapter.BlockSize())
	require.Equal(t, time.Hour, h.adapter.FlushTimeout())

	// Lowering the threshold takes effect on the next receive.
	h.adapter.SetBlockSize(2)
	h.adapter.SetFlushTimeout(time.Minute)
	require.Equal(t, 2, h.adapter.BlockSize())
	require.Equal(t, time.Minute, h.adapter.FlushTimeout())

	h.port.receive([]byte("p"))
	h.port.receive([]byte("q"))
	require.Equal(t, []byte("pq"), h.expectBatch(t, time.Second))
}

func TestAdapter_ConfigSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.BlockSize != DefaultBlockSize {
		t.Errorf("BlockSize = %d, want %d", cfg.BlockSize, DefaultBlockSize)
	}
	if cfg.FlushTimeout != DefaultFlushTimeout {
		t.Errorf("FlushTimeout = %v, want %v", cfg.FlushTimeout, DefaultFlushTimeout)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, want %v", cfg.ShutdownTimeout, DefaultShutdownTimeout)
	}
}
