package domain

// Chunk is one contiguous run of bytes delivered by a single raw-receive
// event. A chunk is immutable once enqueued; ownership transfers to the
// delivery loop when the queue is drained.
type Chunk []byte

// NewChunk copies p into a freshly allocated Chunk. The copy decouples the
// chunk from the receive buffer, which the device layer reuses between reads.
func NewChunk(p []byte) Chunk {
	c := make(Chunk, len(p))
	copy(c, p)
	return c
}

// Concat concatenates the given chunks into one freshly allocated buffer,
// preserving chunk order and byte order within each chunk. The result is the
// delivered batch; it has no lifecycle beyond the data callback that
// consumes it.
func Concat(chunks []Chunk) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
