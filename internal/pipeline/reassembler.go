package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/satriahrh/interpreter/domain"
	"github.com/satriahrh/interpreter/domain/entities"
)

// Reassembler releases synthesized segments strictly in sequence order.
// Out-of-order completions wait in a sparse table keyed by sequence number.
type Reassembler struct {
	limit     int
	release   func(entities.SynthesizedSegment)
	onBacklog func(backlogged bool)

	mu         sync.Mutex
	cursor     uint64
	pending    map[uint64]entities.SynthesizedSegment
	backlogged bool
	closed     bool
}

// NewReassembler creates a reassembler. release is called in sequence order
// with the reassembler locked and must not call back into it. onBacklog is
// called when the pending count reaches limit and again when it falls below.
func NewReassembler(limit int, release func(entities.SynthesizedSegment), onBacklog func(bool)) *Reassembler {
	if limit <= 0 {
		limit = 16
	}
	if onBacklog == nil {
		onBacklog = func(bool) {}
	}
	return &Reassembler{
		limit:     limit,
		release:   release,
		onBacklog: onBacklog,
		pending:   make(map[uint64]entities.SynthesizedSegment),
	}
}

// Submit accepts one result and releases everything that has become
// contiguous with the cursor. Results are never dropped; a sequence number
// that was already submitted is rejected.
func (r *Reassembler) Submit(segment entities.SynthesizedSegment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("submit seq %d: %w", segment.Sequence, domain.ErrSessionClosed)
	}
	if segment.Sequence < r.cursor {
		return fmt.Errorf("seq %d already released, cursor at %d", segment.Sequence, r.cursor)
	}
	if _, ok := r.pending[segment.Sequence]; ok {
		return fmt.Errorf("seq %d already pending", segment.Sequence)
	}

	r.pending[segment.Sequence] = segment
	for {
		next, ok := r.pending[r.cursor]
		if !ok {
			break
		}
		delete(r.pending, r.cursor)
		r.cursor++
		r.release(next)
	}

	switch {
	case !r.backlogged && len(r.pending) >= r.limit:
		r.backlogged = true
		r.onBacklog(true)
	case r.backlogged && len(r.pending) < r.limit:
		r.backlogged = false
		r.onBacklog(false)
	}
	return nil
}

// Cursor returns the next sequence number to be released
func (r *Reassembler) Cursor() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Pending returns how many results are waiting for an earlier sequence
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Backlogged reports whether the pending table is at its limit
func (r *Reassembler) Backlogged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backlogged
}

// Close rejects further submissions and returns the sequence numbers that
// were still pending, in ascending order
func (r *Reassembler) Close() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	seqs := make([]uint64, 0, len(r.pending))
	for seq := range r.pending {
		seqs = append(seqs, seq)
	}
	r.pending = nil
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
