// Package deltastream holds the bounded, append-only ring of recent
// gridcache.Update values that the synchronizer drains per subscription.
package deltastream

import (
	"sync"

	"github.com/beachside/beach/internal/gridcache"
)

// Stream is a fixed-capacity ring of Updates ordered by seq. Once full,
// appending overwrites the oldest entry. A subscriber whose last-delivered
// seq is older than the one just before the smallest resident seq has
// missed overwritten updates and must be reset to a fresh snapshot cycle;
// CollectSince reports this via the ok return value.
type Stream struct {
	mu       sync.Mutex
	buf      []gridcache.Update
	head     int // next write position
	size     int // resident count, <= len(buf)
	latest   uint64
	hasAny   bool
}

// New creates a Stream with room for capacity Updates.
func New(capacity int) *Stream {
	if capacity < 1 {
		capacity = 1
	}
	return &Stream{buf: make([]gridcache.Update, capacity)}
}

// Append adds updates to the ring in order, evicting the oldest entries as
// needed.
func (s *Stream) Append(updates []gridcache.Update) {
	if len(updates) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		s.buf[s.head] = u
		s.head = (s.head + 1) % len(s.buf)
		if s.size < len(s.buf) {
			s.size++
		}
		s.latest = u.Seq
		s.hasAny = true
	}
}

// LatestSeq returns the seq of the most recently appended update, or 0 if
// the stream is empty.
func (s *Stream) LatestSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// oldestSeqLocked returns the smallest seq currently resident. Caller must
// hold s.mu. Only valid when s.size > 0.
func (s *Stream) oldestSeqLocked() uint64 {
	oldestIdx := (s.head - s.size + len(s.buf)) % len(s.buf)
	return s.buf[oldestIdx].Seq
}

// CollectSince returns up to budget Updates with seq > sinceSeq, oldest
// first. ok is false if sinceSeq has fallen off the back of the ring (i.e.
// the subscriber needs resetting to a fresh snapshot), in which case the
// returned slice is nil.
func (s *Stream) CollectSince(sinceSeq uint64, budget int) (updates []gridcache.Update, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == 0 {
		return nil, true
	}
	if sinceSeq > 0 && sinceSeq < s.oldestSeqLocked()-1 {
		return nil, false
	}

	oldestIdx := (s.head - s.size + len(s.buf)) % len(s.buf)
	out := make([]gridcache.Update, 0, budget)
	for i := 0; i < s.size && len(out) < budget; i++ {
		u := s.buf[(oldestIdx+i)%len(s.buf)]
		if u.Seq > sinceSeq {
			out = append(out, u)
		}
	}
	return out, true
}
