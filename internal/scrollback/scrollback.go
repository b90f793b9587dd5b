package scrollback

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of console lines retained per instance.
const DefaultCapacity = 1000

// Line is a single console output line with the time it was observed.
type Line struct {
	Text      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// Buffer is a bounded, ordered log of console lines. Once full, appending
// evicts the oldest entry. All methods are safe for concurrent use.
//
// Readers that stream new lines keep an absolute cursor (total number of
// lines ever appended) and call Since to fetch what they have not seen;
// the cursor stays valid across evictions.
type Buffer struct {
	mu      sync.Mutex
	cap     int
	lines   []Line
	evicted uint64 // lines dropped by FIFO eviction
}

// New returns a Buffer with the given capacity. Non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity}
}

// Append adds a line, evicting the oldest when the buffer is full.
func (b *Buffer) Append(text string, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, Line{Text: text, Timestamp: ts})
	if len(b.lines) > b.cap {
		n := len(b.lines) - b.cap
		b.lines = append(b.lines[:0], b.lines[n:]...)
		b.evicted += uint64(n)
	}
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Total returns the number of lines ever appended, including evicted ones.
func (b *Buffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted + uint64(len(b.lines))
}

// Since returns all lines after the absolute cursor and the new cursor
// value. A cursor older than the retained window yields the whole window.
func (b *Buffer) Since(cursor uint64) ([]Line, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.evicted + uint64(len(b.lines))
	if cursor >= total {
		return nil, total
	}
	start := 0
	if cursor > b.evicted {
		start = int(cursor - b.evicted)
	}
	out := make([]Line, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out, total
}

// Last returns up to n most recent lines in production order.
func (b *Buffer) Last(n int) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]Line, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// Snapshot returns a copy of all retained lines.
func (b *Buffer) Snapshot() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}
