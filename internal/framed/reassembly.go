package framed

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// KeySet maps a MAC key id to its key material, supporting key rollover:
// the active key id is used for new outbound messages while older ids
// remain valid for in-flight inbound ones.
type KeySet map[byte][]byte

type partial struct {
	key       string
	header    Header
	chunks    map[uint16][]byte
	haveBytes int
	firstSeen time.Time

	// completed is set just before a legitimate Remove on message
	// completion, so the evict callback can tell that apart from a real
	// overflow/expiry eviction.
	completed bool
}

// Reassembler reconstructs chunked messages keyed by (namespace, kind,
// seq), enforcing three back-pressure bounds: timeout, max_inflight
// (count of partial assemblies), and max_bytes (sum of in-flight payload
// bytes). Overflow evicts the oldest partial assembly and increments the
// eviction counter.
type Reassembler struct {
	mu sync.Mutex

	cache      *lru.Cache[string, *partial]
	maxBytes   int
	timeout    time.Duration
	totalBytes int

	keys     KeySet
	counters *Counters
}

// NewReassembler creates a Reassembler bounded by maxInflight concurrent
// partial assemblies, maxBytes total in-flight payload bytes, and timeout
// past which a partial assembly is evicted regardless of completeness.
// keys may be nil when no MAC is expected: unsigned messages are then
// accepted without MAC verification, and a MAC-tagged message is rejected
// with UnknownMacKey since no key id can match.
func NewReassembler(maxInflight, maxBytes int, timeout time.Duration, keys KeySet, counters *Counters) *Reassembler {
	if counters == nil {
		counters = NewCounters()
	}
	r := &Reassembler{maxBytes: maxBytes, timeout: timeout, keys: keys, counters: counters}
	cache, _ := lru.NewWithEvict[string, *partial](maxInflight, func(_ string, p *partial) {
		r.totalBytes -= p.haveBytes
		if !p.completed {
			r.counters.ObserveEviction()
		}
	})
	r.cache = cache
	return r
}

// Ingest feeds one decoded chunk into the reassembler. When the message is
// complete it returns the reassembled payload with complete=true, after
// verifying CRC (always) and MAC (when the chunk carried one). A completed
// message that fails the CRC or MAC checks is reported via err with
// complete=true and a nil payload; the partial assembly is dropped from the
// table regardless so it cannot be re-delivered.
func (r *Reassembler) Ingest(chunkBytes []byte) (namespace, kind string, seq uint64, payload []byte, complete bool, err error) {
	h, chunkPayload, mac, derr := DecodeChunk(chunkBytes)
	if derr != nil {
		return "", "", 0, nil, false, derr
	}
	if r.maxBytes > 0 && int(h.TotalLen) > r.maxBytes {
		r.counters.Observe(PayloadTooLarge)
		return "", "", 0, nil, false, framedErr(PayloadTooLarge, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	key := reassemblyKey(h.Namespace, h.Kind, h.Seq)
	p, ok := r.cache.Get(key)
	if !ok {
		p = &partial{key: key, header: h, chunks: make(map[uint16][]byte, h.ChunkCount), firstSeen: nowFunc()}
		r.cache.Add(key, p)
	}
	if _, seen := p.chunks[h.ChunkIndex]; !seen {
		p.chunks[h.ChunkIndex] = chunkPayload
		p.haveBytes += len(chunkPayload)
		r.totalBytes += len(chunkPayload)
	}

	r.evictOverBudgetLocked()

	if len(p.chunks) < int(h.ChunkCount) {
		return h.Namespace, h.Kind, h.Seq, nil, false, nil
	}

	full := make([]byte, 0, h.TotalLen)
	for i := uint16(0); i < h.ChunkCount; i++ {
		chunk, ok := p.chunks[i]
		if !ok {
			return h.Namespace, h.Kind, h.Seq, nil, false, nil
		}
		full = append(full, chunk...)
	}
	p.completed = true
	r.cache.Remove(key)

	if !VerifyCRC(h, full) {
		r.counters.Observe(CrcMismatch)
		return h.Namespace, h.Kind, h.Seq, nil, true, framedErr(CrcMismatch, nil)
	}
	if h.HasMAC {
		macKey, ok := r.keys[h.MacKeyID]
		if !ok {
			r.counters.Observe(UnknownMacKey)
			return h.Namespace, h.Kind, h.Seq, nil, true, framedErr(UnknownMacKey, nil)
		}
		if !VerifyMAC(h, full, mac, macKey) {
			r.counters.Observe(MacMismatch)
			return h.Namespace, h.Kind, h.Seq, nil, true, framedErr(MacMismatch, nil)
		}
	} else if r.keys != nil && len(r.keys) > 0 {
		r.counters.Observe(MacMissing)
		return h.Namespace, h.Kind, h.Seq, nil, true, framedErr(MacMissing, nil)
	}

	return h.Namespace, h.Kind, h.Seq, full, true, nil
}

// evictExpiredLocked drops partial assemblies older than r.timeout. Caller
// must hold r.mu.
func (r *Reassembler) evictExpiredLocked() {
	if r.timeout <= 0 {
		return
	}
	cutoff := nowFunc().Add(-r.timeout)
	for _, key := range r.cache.Keys() {
		p, ok := r.cache.Peek(key)
		if !ok {
			continue
		}
		if p.firstSeen.Before(cutoff) {
			r.cache.Remove(key)
		}
	}
}

// evictOverBudgetLocked evicts the oldest partial assemblies while total
// in-flight bytes exceed r.maxBytes. Caller must hold r.mu.
func (r *Reassembler) evictOverBudgetLocked() {
	if r.maxBytes <= 0 {
		return
	}
	for r.totalBytes > r.maxBytes {
		keys := r.cache.Keys()
		if len(keys) == 0 {
			return
		}
		// lru.Cache.Keys() returns oldest-to-newest.
		r.cache.Remove(keys[0])
	}
}

func reassemblyKey(namespace, kind string, seq uint64) string {
	return namespace + "\x00" + kind + "\x00" + itoa(seq)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// nowFunc is a var so tests can control time without sleeping.
var nowFunc = time.Now
