package strace

import "sort"

// Fragment is the buffered initiated half of a split call record.
type Fragment struct {
	Tag  Tag
	Call string
	// Prefix is the literal line text before the unfinished marker.
	Prefix string

	seq uint64
}

type fragmentKey struct {
	tag  Tag
	call string
}

// PendingTable holds initiated fragments awaiting their resumed half.
// Fragments sharing a (tag, call) key are kept in a FIFO queue so the
// oldest outstanding call is always matched first.
type PendingTable struct {
	queues map[fragmentKey][]Fragment
	size   int
	seq    uint64
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		queues: make(map[fragmentKey][]Fragment, 16),
	}
}

// Push appends a fragment behind any others with the same key.
func (p *PendingTable) Push(f Fragment) {
	p.seq++
	f.seq = p.seq

	key := fragmentKey{tag: f.Tag, call: f.Call}
	p.queues[key] = append(p.queues[key], f)
	p.size++
}

// Take removes and returns the oldest fragment for (tag, call).
func (p *PendingTable) Take(tag Tag, call string) (Fragment, bool) {
	key := fragmentKey{tag: tag, call: call}

	q := p.queues[key]
	if len(q) == 0 {
		return Fragment{}, false
	}

	f := q[0]

	if len(q) == 1 {
		delete(p.queues, key)
	} else {
		q[0] = Fragment{}
		p.queues[key] = q[1:]
	}

	p.size--

	return f, true
}

// Len returns the number of outstanding fragments.
func (p *PendingTable) Len() int {
	return p.size
}

// Drain empties the table and returns its fragments in insertion order.
func (p *PendingTable) Drain() []Fragment {
	if p.size == 0 {
		return nil
	}

	out := make([]Fragment, 0, p.size)
	for _, q := range p.queues {
		out = append(out, q...)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})

	p.queues = make(map[fragmentKey][]Fragment, 16)
	p.size = 0

	return out
}
