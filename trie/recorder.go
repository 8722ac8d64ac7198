package trie

// Recorder wraps trie reads, recording every node encoding actually
// loaded from the backing store exactly once (de-duplicated by Merkle
// value), plus a running byte total (spec.md §4.3 "On-read recorder").
type Recorder struct {
	seen    map[string]bool
	order   [][]byte // merkle values, in first-seen order
	entries map[string][]byte
	size    int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]bool), entries: make(map[string][]byte)}
}

func (r *Recorder) record(merkleValue, encoded []byte) {
	key := string(merkleValue)
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.order = append(r.order, append([]byte{}, merkleValue...))
	r.entries[key] = append([]byte{}, encoded...)
	r.size += len(encoded)
}

// Size returns the running total of recorded node bytes.
func (r *Recorder) Size() int { return r.size }

// ClassicProof returns the raw list of recorded node encodings, in
// first-seen (pre-order) order.
func (r *Recorder) ClassicProof() [][]byte {
	out := make([][]byte, len(r.order))
	for i, mv := range r.order {
		out[i] = r.entries[string(mv)]
	}
	return out
}

// WithRecorder returns a Trie view identical to t except that every
// node it loads from the node store during Get/NextKey navigation is
// also recorded into rec.
func (t *Trie) WithRecorder(rec *Recorder) *Trie {
	shadow := *t
	shadow.onLoad = rec.record
	return &shadow
}
