// Package producer runs the slot-driven block-authoring loop: claim
// checking, proposer assembly from inherents and the transaction pool,
// baking, sealing, and announce.
package producer

import "sort"

// pooledExtrinsic is one extrinsic waiting in the pool, ranked by
// priority (higher first) then by arrival order for ties.
type pooledExtrinsic struct {
	data     []byte
	priority uint64
	seq      uint64
}

// Pool holds extrinsics awaiting inclusion in a produced block,
// draining them in priority order under a caller-supplied budget
// (spec.md §4.10, added by SPEC_FULL.md since spec.md names the pool
// without specifying its shape).
type Pool struct {
	items  []pooledExtrinsic
	nextSeq uint64
}

// NewPool creates an empty transaction pool.
func NewPool() *Pool {
	return &Pool{}
}

// Add stages an extrinsic at the given priority.
func (p *Pool) Add(data []byte, priority uint64) {
	p.items = append(p.items, pooledExtrinsic{data: append([]byte{}, data...), priority: priority, seq: p.nextSeq})
	p.nextSeq++
}

// Remove drops every pooled extrinsic whose bytes equal data (called
// once a block including it has been imported).
func (p *Pool) Remove(data []byte) {
	out := p.items[:0]
	for _, it := range p.items {
		if string(it.data) != string(data) {
			out = append(out, it)
		}
	}
	p.items = out
}

// Len reports how many extrinsics are currently pooled.
func (p *Pool) Len() int { return len(p.items) }

// Drain walks the pool in priority order (ties broken by arrival),
// calling accept for each candidate; accept returns false once the
// caller's budget (encoded-size or remaining-slot-time) is exhausted,
// at which point Drain stops and leaves the rest in the pool. Accepted
// extrinsics are removed.
func (p *Pool) Drain(accept func(data []byte) bool) [][]byte {
	ordered := append([]pooledExtrinsic{}, p.items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].seq < ordered[j].seq
	})

	var taken [][]byte
	takenSet := make(map[string]bool)
	for _, it := range ordered {
		if !accept(it.data) {
			break
		}
		taken = append(taken, it.data)
		takenSet[string(it.data)] = true
	}

	remaining := p.items[:0]
	for _, it := range p.items {
		if !takenSet[string(it.data)] {
			remaining = append(remaining, it)
		}
	}
	p.items = remaining
	return taken
}
