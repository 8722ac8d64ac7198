// Package changes builds the changes trie: a fresh per-block trie
// recording which extrinsics touched which storage keys, so a light
// client can prove "key K was last changed at block N" without
// downloading every block's full state.
package changes

import (
	"sort"

	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/scale"
	"github.com/relaynode/relay/storage"
	"github.com/relaynode/relay/trie"
)

// changeKind tags the three shapes of changes-trie key (spec.md §4.4).
type changeKind uint8

const (
	ExtrinsicsChange changeKind = 1
	BlocksChange     changeKind = 2
	ChildChange      changeKind = 3
)

// changeKey is the tagged variant wrapping (block_number, key_bytes)
// that is SCALE-encoded to form a changes-trie key.
type changeKey struct {
	Kind   changeKind
	Number uint64
	Key    []byte
}

// UnsetExtrinsicIndex is the sentinel attributed to a mutation made
// outside of any extrinsic's execution.
const UnsetExtrinsicIndex uint32 = 0xFFFFFFFF

// Tracker accumulates (key -> extrinsic indices) for a single block,
// implementing trie.ChangesTracker.
type Tracker struct {
	blockNumber uint64
	touched     map[string][]uint32
	order       []string
}

// NewTracker starts a fresh tracker for the block at number.
func NewTracker(number uint64) *Tracker {
	return &Tracker{blockNumber: number, touched: make(map[string][]uint32)}
}

// TrackChange records that key was mutated by the extrinsic at index
// (or UnsetExtrinsicIndex if attributed to no extrinsic).
func (t *Tracker) TrackChange(key []byte, index uint32) {
	k := string(key)
	if _, ok := t.touched[k]; !ok {
		t.order = append(t.order, k)
	}
	t.touched[k] = append(t.touched[k], index)
}

// Build constructs a fresh in-memory changes trie from the tracked
// mutations and returns its root. Keys are visited in sorted byte
// order so the root is deterministic regardless of mutation order.
func (t *Tracker) Build(h runtime.Hasher) (runtime.Hash, error) {
	keys := append([]string{}, t.order...)
	sort.Strings(keys)

	// The changes trie is rebuilt fresh for every block and only its
	// root is persisted (in the block digest), so an ephemeral
	// in-memory node store is sufficient here.
	tr := trie.NewTrie(trie.NewNodeDB(storage.NewMemoryDB()), h, 1)
	for _, k := range keys {
		ck := changeKey{Kind: ExtrinsicsChange, Number: t.blockNumber, Key: []byte(k)}
		encKey, err := scale.EncodeToBytes(ck)
		if err != nil {
			return runtime.Hash{}, err
		}
		encVal, err := scale.EncodeToBytes(t.touched[k])
		if err != nil {
			return runtime.Hash{}, err
		}
		if err := tr.Put(encKey, encVal); err != nil {
			return runtime.Hash{}, err
		}
	}
	return tr.Root()
}
