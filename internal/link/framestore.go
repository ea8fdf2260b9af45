package link

import (
	"bytes"
	"sync"

	"github.com/cornelk/hashmap"
)

// FrameStore holds the last-seen raw payload per message tag.
// Entries persist across connections; it is a best-effort dedup cache, not state.
type FrameStore struct {
	mu     sync.Mutex // makes compare-and-store atomic
	frames *hashmap.Map[uint8, []byte] // never replaced
}

// NewFrameStore creates an empty store. The first frame of every tag counts as changed.
func NewFrameStore() *FrameStore {
	return &FrameStore{frames: hashmap.New[uint8, []byte]()}
}

// Observe records frame as the latest payload for tag and reports whether it
// differs byte-for-byte from the previous one. The frame is always stored.
func (s *FrameStore) Observe(tag uint8, frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.frames.Get(tag)
	s.frames.Set(tag, bytes.Clone(frame))
	return !ok || !bytes.Equal(prev, frame)
}

// Len returns the number of tags seen.
func (s *FrameStore) Len() int {
	return s.frames.Len()
}
