package ports

// ReceiveSink is the narrow contract a transport adapter invokes on the
// coalescing core. Implementations must not block beyond a brief lock hold:
// OnRawBytes is called directly from the platform's receive context.
type ReceiveSink interface {
	// OnRawBytes hands one received byte chunk to the core. The chunk is
	// only valid for the duration of the call; the core copies it.
	OnRawBytes(chunk []byte)

	// OnRawError reports a device-level error (framing, overrun, I/O
	// failure). Errors are reported, not fatal; the core keeps running.
	OnRawError(err error)
}

// DevicePort owns the OS-level serial handle. It is upstream of the core:
// the core consumes "raw bytes arrived" and "error occurred" events from it
// and exposes nothing to it.
//
// Implementations must support reopening the same instance after Close.
type DevicePort interface {
	// Open acquires the device and starts delivering receive events to the
	// sink. It fails synchronously if the device cannot be acquired.
	Open(sink ReceiveSink) error

	// Write passes bytes directly to the device. No buffering or batching
	// happens on the write path.
	Write(p []byte) (int, error)

	// Close releases the device handle and stops receive delivery. It is
	// safe to call on a port that is not open.
	Close() error
}
