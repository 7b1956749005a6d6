package blob

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RefPrefix starts every reference returned by Put.
const RefPrefix = "blob:"

// Blob is a stored binary payload
type Blob struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Data      []byte    `json:"-"`
}

// Store keeps blobs in memory. When MaxEntries is positive the oldest blobs
// are evicted first.
type Store struct {
	blobs      map[string]*Blob
	order      []string
	maxEntries int
	mu         sync.RWMutex
}

// NewStore creates a blob store bounded to maxEntries (0 means unbounded).
func NewStore(maxEntries int) *Store {
	return &Store{
		blobs:      make(map[string]*Blob),
		maxEntries: maxEntries,
	}
}

// Put stores a copy of data and returns its reference.
func (s *Store) Put(mimeType string, data []byte) string {
	b := &Blob{
		ID:        uuid.NewString(),
		MimeType:  mimeType,
		Size:      len(data),
		CreatedAt: time.Now(),
		Data:      append([]byte(nil), data...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[b.ID] = b
	s.order = append(s.order, b.ID)

	for s.maxEntries > 0 && len(s.order) > s.maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.blobs, oldest)
	}

	return RefPrefix + b.ID
}

// Get returns the blob for a reference or a bare id.
func (s *Store) Get(ref string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[ID(ref)]
	if !ok {
		return Blob{}, false
	}
	return *b, true
}

// Revoke removes a blob. It reports whether the blob existed.
func (s *Store) Revoke(ref string) bool {
	id := ID(ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return false
	}
	delete(s.blobs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of stored blobs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// IsRef reports whether s is a blob reference
func IsRef(s string) bool {
	return strings.HasPrefix(s, RefPrefix)
}

// ID strips the reference prefix
func ID(ref string) string {
	return strings.TrimPrefix(ref, RefPrefix)
}
