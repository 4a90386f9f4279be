package core

// ChunkStream is a lazy, finite sequence of text chunks from one upstream
// request. It is consumed by a single goroutine and cannot be restarted.
//
//	for s.Next() {
//		chunk := s.Chunk()
//	}
//	if err := s.Err(); err != nil { ... }
type ChunkStream interface {
	// Next blocks until the next chunk is available. It returns false when
	// the stream is exhausted, failed or was cancelled.
	Next() bool

	// Chunk returns the chunk read by the last successful Next.
	Chunk() TextChunk

	// Err returns nil on natural completion, an *UpstreamError on vendor
	// failure, or the context error on cancellation.
	Err() error

	// Close releases the upstream connection. It is idempotent and may be
	// called from another goroutine to abort a blocked Next.
	Close() error
}
