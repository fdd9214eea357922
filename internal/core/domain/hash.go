package domain

import (
	"encoding/binary"
	"time"

	"github.com/spaolacci/murmur3"
)

// Echo suppression and burst throttling constants.
const (
	// DefaultHistoryLimit bounds the per-session echo-suppression history.
	// The original design never pruned; entries here are capped and expire
	// at ten times the widest echo window.
	DefaultHistoryLimit = 2048
	historyTTL          = 50 * time.Second

	// BurstLogSize is the number of recent update instants tracked per session.
	BurstLogSize = 10

	// BurstThreshold and BurstWindow define the burst condition: this many
	// updates inside the window.
	BurstThreshold = 5
	BurstWindow    = 3 * time.Second

	// BurstMinGap is the minimum spacing from the last accepted update
	// required to escape throttling once the burst condition holds.
	BurstMinGap = 750 * time.Millisecond

	// Sampled digest parameters for binary payloads.
	digestSamples    = 8
	digestSampleSize = 16
)

// ContentDigest computes a digest over the opaque payload only (never
// metadata). Text is hashed in full. Image and file payloads are digested
// from a fixed set of small samples at evenly spaced offsets plus the
// payload length, which is stable across base64 re-encodings of the same
// bytes and far cheaper than hashing multi-megabyte blobs.
//
// The digest is computed over content as received. If the peer runtime
// encrypts with a randomized scheme (fresh IV per emission), identical
// plaintext will not produce identical digests and echo suppression
// degrades to a no-op for that content; see DESIGN.md.
func ContentDigest(t ContentType, content string) uint64 {
	if t == ContentText || len(content) <= digestSamples*digestSampleSize {
		return murmur3.Sum64([]byte(content))
	}

	h := murmur3.New64()
	stride := len(content) / digestSamples
	for i := 0; i < digestSamples; i++ {
		off := i * stride
		end := off + digestSampleSize
		if end > len(content) {
			end = len(content)
		}
		_, _ = h.Write([]byte(content[off:end]))
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(content)))
	_, _ = h.Write(lenBuf[:])
	return h.Sum64()
}

// EchoKey combines a content digest with the reporting member's environment
// fingerprint. Folding the fingerprint in keeps two genuinely different
// clients that happen to produce identical payload artifacts from
// suppressing each other.
func EchoKey(digest uint64, fingerprint string) uint64 {
	h := murmur3.New64()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], digest)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(fingerprint))
	return h.Sum64()
}

// HashEntry records one observed content digest for echo suppression.
type HashEntry struct {
	Timestamp int64 // Unix milliseconds
	OriginID  string
	Type      ContentType
}

// HashHistory is a bounded record of recently observed content digests.
type HashHistory struct {
	limit   int
	entries map[uint64]HashEntry
}

// NewHashHistory creates an empty history with the given entry cap.
func NewHashHistory(limit int) *HashHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HashHistory{
		limit:   limit,
		entries: make(map[uint64]HashEntry),
	}
}

// Lookup returns the entry for the key, if present.
func (h *HashHistory) Lookup(key uint64) (HashEntry, bool) {
	e, ok := h.entries[key]
	return e, ok
}

// Record stores an entry, evicting expired entries first if at capacity.
func (h *HashHistory) Record(key uint64, e HashEntry) {
	if len(h.entries) >= h.limit {
		h.Prune(time.UnixMilli(e.Timestamp))
		// Still full after pruning: drop the oldest entry outright.
		if len(h.entries) >= h.limit {
			var oldestKey uint64
			oldestTS := int64(1<<63 - 1)
			for k, v := range h.entries {
				if v.Timestamp < oldestTS {
					oldestTS = v.Timestamp
					oldestKey = k
				}
			}
			delete(h.entries, oldestKey)
		}
	}
	h.entries[key] = e
}

// Prune drops entries older than the history TTL. Returns the number removed.
func (h *HashHistory) Prune(now time.Time) int {
	cutoff := now.Add(-historyTTL).UnixMilli()
	removed := 0
	for k, e := range h.entries {
		if e.Timestamp < cutoff {
			delete(h.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of recorded entries.
func (h *HashHistory) Len() int {
	return len(h.entries)
}

// BurstLog is a rolling record of the last BurstLogSize update instants
// (accepted or merely attempted), used for burst throttling.
type BurstLog struct {
	instants [BurstLogSize]int64 // Unix milliseconds, zero = unused slot
	next     int
}

// Record appends an update instant, overwriting the oldest slot.
func (b *BurstLog) Record(ts int64) {
	b.instants[b.next] = ts
	b.next = (b.next + 1) % BurstLogSize
}

// CountSince returns how many recorded instants fall at or after cutoff.
func (b *BurstLog) CountSince(cutoff int64) int {
	n := 0
	for _, ts := range b.instants {
		if ts != 0 && ts >= cutoff {
			n++
		}
	}
	return n
}
