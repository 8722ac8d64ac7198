package trie

import (
	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/storage"
)

// GenerateProof runs get(key) for every key against t with a recorder
// attached, returning the classic proof (raw node encodings) covering
// every key's navigation path.
func GenerateProof(t *Trie, keys [][]byte) ([][]byte, error) {
	rec := NewRecorder()
	recording := t.WithRecorder(rec)
	for _, k := range keys {
		if _, _, err := recording.Get(k); err != nil {
			return nil, err
		}
	}
	return rec.ClassicProof(), nil
}

// GenerateCompactProof is GenerateProof followed by compact encoding of
// the recorded node set.
func GenerateCompactProof(t *Trie, keys [][]byte) ([]byte, error) {
	rec := NewRecorder()
	recording := t.WithRecorder(rec)
	for _, k := range keys {
		if _, _, err := recording.Get(k); err != nil {
			return nil, err
		}
	}
	return EncodeCompactProof(t, rec, t.root)
}

// VerifyClassicProof rebuilds a trie purely from the given node
// encodings (a throwaway in-memory node store with no ref-counting) and
// checks that its root matches expectedRoot, then answers Get against
// it. A proof missing a node needed for the walk surfaces
// ErrNodeNotFound from the underlying Get; a root mismatch yields
// ErrHashMismatch.
func VerifyClassicProof(h runtime.Hasher, proof [][]byte, expectedRoot runtime.Hash, key []byte) ([]byte, bool, error) {
	mem := storage.NewMemoryDB()
	var rootMV []byte
	for _, encoded := range proof {
		mv := merkleValue(h, encoded)
		if err := mem.Put(storage.NodeKey(mv), encoded); err != nil {
			return nil, false, err
		}
		if rootMV == nil {
			rootMV = mv
		}
	}

	var got runtime.Hash
	if len(rootMV) == 32 {
		copy(got[:], rootMV)
	} else {
		got = h.Hash(rootMV)
	}
	if got != expectedRoot {
		return nil, false, ErrHashMismatch
	}

	db := NewNodeDB(mem)
	tr := LoadTrie(db, h, 0, rootMV)
	return tr.Get(key)
}
