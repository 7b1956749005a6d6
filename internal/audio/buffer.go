package audio

import (
	"sync"
	"time"
)

// Blob is a finalized recording in its capture encoding.
type Blob struct {
	MimeType string
	Data     []byte
}

// Buffer accumulates capture chunks for a single recording session
type Buffer struct {
	mimeType string
	chunks   [][]byte
	size     int

	// Timing and metadata
	startedAt   time.Time
	lastUpdate  time.Time
	totalChunks uint32
	emptyChunks uint32

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	MimeType    string        `json:"mime_type"`
	TotalChunks uint32        `json:"total_chunks"`
	EmptyChunks uint32        `json:"empty_chunks"`
	SizeBytes   int           `json:"size_bytes"`
	Elapsed     time.Duration `json:"elapsed"`
}

// NewBuffer creates a chunk buffer for recordings of the given media type
func NewBuffer(mimeType string) *Buffer {
	now := time.Now()
	return &Buffer{
		mimeType:   mimeType,
		chunks:     make([][]byte, 0, 16),
		startedAt:  now,
		lastUpdate: now,
	}
}

// Append adds a chunk to the end of the recording. Empty chunks are counted
// but not stored.
func (b *Buffer) Append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalChunks++
	b.lastUpdate = time.Now()

	if len(chunk) == 0 {
		b.emptyChunks++
		return
	}

	c := make([]byte, len(chunk))
	copy(c, chunk)
	b.chunks = append(b.chunks, c)
	b.size += len(c)
}

// Finalize joins all chunks into a single blob. The buffer keeps its chunks
// until Reset is called.
func (b *Buffer) Finalize() Blob {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		data = append(data, c...)
	}

	return Blob{MimeType: b.mimeType, Data: data}
}

// Reset drops all buffered chunks
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = nil
	b.size = 0
}

// Size returns the number of buffered bytes
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// MimeType returns the media type of the buffered chunks
func (b *Buffer) MimeType() string {
	return b.mimeType
}

// GetLastUpdate returns the time of the last appended chunk
func (b *Buffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		MimeType:    b.mimeType,
		TotalChunks: b.totalChunks,
		EmptyChunks: b.emptyChunks,
		SizeBytes:   b.size,
		Elapsed:     b.lastUpdate.Sub(b.startedAt),
	}
}
