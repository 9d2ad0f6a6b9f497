package schedule

import (
	"container/heap"
	"sort"

	"alarmsched/internal/alarm"
)

// pendingItem is a heap slot. seq breaks fire-time ties by insertion order.
type pendingItem struct {
	entry     alarm.Entry
	seq       uint64
	heapIndex int
}

func (a *pendingItem) before(b *pendingItem) bool {
	if a.entry.FireTime.Equal(b.entry.FireTime) {
		return a.seq < b.seq
	}
	return a.entry.FireTime.Before(b.entry.FireTime)
}

// pendingHeap implements heap.Interface ordered by fire time.
type pendingHeap []*pendingItem

func (h pendingHeap) Len() int           { return len(h) }
func (h pendingHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *pendingHeap) Push(x any) {
	it := x.(*pendingItem) //nolint:forcetypeassert // heap.Interface contract guarantees type
	it.heapIndex = len(*h)
	*h = append(*h, it)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIndex = -1
	*h = old[:n-1]
	return it
}

// Pending is the ordered set of scheduled entries.
//
// Entries are kept in a min-heap by fire time with a secondary index from
// (owner, kind) to heap slot, so PeekMin is O(1) and both Insert and
// RemoveOwner are O(k log n) where k is the number of kinds.
//
// Pending is not safe for concurrent use; Engine serialises access to it.
type Pending struct {
	h     pendingHeap
	index map[alarm.Key]*pendingItem
	seq   uint64
}

func NewPending() *Pending {
	return &Pending{index: map[alarm.Key]*pendingItem{}}
}

func (p *Pending) Len() int      { return len(p.h) }
func (p *Pending) IsEmpty() bool { return len(p.h) == 0 }

// PeekMin returns the entry with the smallest fire time.
func (p *Pending) PeekMin() (alarm.Entry, bool) {
	if len(p.h) == 0 {
		return alarm.Entry{}, false
	}
	return p.h[0].entry, true
}

// Insert adds e, replacing any entry with the same (owner, kind). Inserting
// an entry that is already pending keeps its place among equal fire times.
func (p *Pending) Insert(e alarm.Entry) {
	if old, ok := p.index[e.Key]; ok {
		if old.entry.Same(e) {
			return
		}
		heap.Remove(&p.h, old.heapIndex)
		delete(p.index, e.Key)
	}
	p.seq++
	it := &pendingItem{entry: e, seq: p.seq}
	heap.Push(&p.h, it)
	p.index[e.Key] = it
}

// RemoveOwner removes every entry of owner regardless of kind and returns them
// in kind order. The result is nil when the owner had nothing pending.
func (p *Pending) RemoveOwner(owner int) []alarm.Entry {
	var removed []alarm.Entry
	for _, k := range alarm.Kinds() {
		key := alarm.Key{Owner: owner, Kind: k}
		it, ok := p.index[key]
		if !ok {
			continue
		}
		heap.Remove(&p.h, it.heapIndex)
		delete(p.index, key)
		removed = append(removed, it.entry)
	}
	return removed
}

// ReplaceOwner makes entries the complete pending set of owner. Kinds not in
// entries are dropped; unchanged entries stay where they are.
func (p *Pending) ReplaceOwner(owner int, entries []alarm.Entry) {
	keep := make(map[alarm.Kind]bool, len(entries))
	for _, e := range entries {
		keep[e.Kind] = true
	}
	for _, k := range alarm.Kinds() {
		key := alarm.Key{Owner: owner, Kind: k}
		it, ok := p.index[key]
		if !ok || keep[k] {
			continue
		}
		heap.Remove(&p.h, it.heapIndex)
		delete(p.index, key)
	}
	for _, e := range entries {
		p.Insert(e)
	}
}

// RemoveExact removes e only if the pending entry for its key has the same
// fire time.
func (p *Pending) RemoveExact(e alarm.Entry) bool {
	it, ok := p.index[e.Key]
	if !ok || !it.entry.Same(e) {
		return false
	}
	heap.Remove(&p.h, it.heapIndex)
	delete(p.index, e.Key)
	return true
}

// Owner returns the pending entries of owner in kind order.
func (p *Pending) Owner(owner int) []alarm.Entry {
	var out []alarm.Entry
	for _, k := range alarm.Kinds() {
		if it, ok := p.index[alarm.Key{Owner: owner, Kind: k}]; ok {
			out = append(out, it.entry)
		}
	}
	return out
}

// Entries returns a snapshot of every pending entry ordered by fire time.
// The snapshot is detached; mutate the store in a separate pass.
func (p *Pending) Entries() []alarm.Entry {
	items := make([]*pendingItem, len(p.h))
	copy(items, p.h)
	sort.Slice(items, func(i, j int) bool { return items[i].before(items[j]) })
	out := make([]alarm.Entry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out
}
