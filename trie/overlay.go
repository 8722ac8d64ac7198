package trie

import "sort"

// ChangesTracker receives one call per mutation committed from a
// WorkingState's overlay, attributing it to the extrinsic index current
// at the time of the write (spec.md §4.4).
type ChangesTracker interface {
	TrackChange(key []byte, extrinsicIndex uint32)
}

// unsetExtrinsicIndex is the sentinel recorded when a mutation happens
// outside of any extrinsic's execution (spec.md §4.4: "An unset key
// attributes to a sentinel index (all-ones)").
const unsetExtrinsicIndex uint32 = 0xFFFFFFFF

const extrinsicIndexKey = ":extrinsic_index"

// WorkingState layers an in-memory overlay of puts and removes on top of
// an underlying trie. Reads check the overlay first; writes accumulate
// until Commit flushes them in deterministic key order.
type WorkingState struct {
	trie    *Trie
	puts    map[string][]byte
	removes map[string]bool
}

// NewWorkingState opens a working view over trie.
func NewWorkingState(t *Trie) *WorkingState {
	return &WorkingState{trie: t, puts: make(map[string][]byte), removes: make(map[string]bool)}
}

// Get reads key, checking the overlay before falling through to the
// underlying trie.
func (w *WorkingState) Get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if w.removes[k] {
		return nil, false, nil
	}
	if v, ok := w.puts[k]; ok {
		return v, true, nil
	}
	return w.trie.Get(key)
}

// Put stages a write in the overlay.
func (w *WorkingState) Put(key, value []byte) {
	k := string(key)
	delete(w.removes, k)
	w.puts[k] = append([]byte{}, value...)
}

// Remove stages a deletion in the overlay.
func (w *WorkingState) Remove(key []byte) {
	k := string(key)
	delete(w.puts, k)
	w.removes[k] = true
}

// currentExtrinsicIndex reads the well-known :extrinsic_index key,
// falling back to the unset sentinel.
func (w *WorkingState) currentExtrinsicIndex() uint32 {
	v, ok, err := w.Get([]byte(extrinsicIndexKey))
	if err != nil || !ok || len(v) != 4 {
		return unsetExtrinsicIndex
	}
	return uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24
}

// Commit walks the overlay in deterministic (sorted-key) order, applies
// each mutation to the underlying trie, and forwards it to tracker
// before discarding the overlay.
func (w *WorkingState) Commit(tracker ChangesTracker) error {
	keys := make([]string, 0, len(w.puts)+len(w.removes))
	seen := make(map[string]bool)
	for k := range w.puts {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range w.removes {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	idx := w.currentExtrinsicIndex()
	for _, k := range keys {
		key := []byte(k)
		if v, ok := w.puts[k]; ok {
			if err := w.trie.Put(key, v); err != nil {
				return err
			}
		} else {
			if _, err := w.trie.Remove(key); err != nil {
				return err
			}
		}
		if tracker != nil && k != extrinsicIndexKey {
			tracker.TrackChange(key, idx)
		}
	}
	w.puts = make(map[string][]byte)
	w.removes = make(map[string]bool)
	return nil
}
