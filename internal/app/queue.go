package app

import (
	"sync"

	"github.com/bft-labs/serialbatch/internal/domain"
)

// chunkQueue is the thread-safe holding area for received byte chunks.
//
// Producers (the platform receive context) only append; the single delivery
// loop is the only consumer and removes chunks exclusively through DrainAll.
// All access is mediated by one mutex, so no chunk is ever observed partially
// appended. Capacity is unbounded; if the consumer falls behind, the queue
// grows without limit. That risk is accepted rather than guarded against.
type chunkQueue struct {
	mu     sync.Mutex
	chunks []domain.Chunk
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{}
}

// Enqueue appends a chunk and returns the queue length after the append.
// The returned count is what the receive-trigger policy evaluates against
// the block-size threshold.
func (q *chunkQueue) Enqueue(c domain.Chunk) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = append(q.chunks, c)
	return len(q.chunks)
}

// DrainAll atomically removes and returns every currently queued chunk,
// leaving the queue empty. Chunks come back in enqueue order.
func (q *chunkQueue) DrainAll() []domain.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return nil
	}
	drained := q.chunks
	q.chunks = nil
	return drained
}

// Len returns the current number of queued chunks.
func (q *chunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
