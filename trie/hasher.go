package trie

import "github.com/relaynode/relay/runtime"

// merkleValueThreshold is the cutoff below which an encoding is carried
// verbatim as its own Merkle value instead of being hashed. Spec.md §3:
// "iff that encoding is shorter than 32 bytes".
const merkleValueThreshold = 32

// merkleValue returns the Merkle value for an already-encoded node: the
// encoding itself if it is shorter than 32 bytes, else its hash. This
// rule is applied uniformly — short encodings are never hashed.
func merkleValue(h runtime.Hasher, encoded []byte) []byte {
	if len(encoded) < merkleValueThreshold {
		return append([]byte{}, encoded...)
	}
	digest := h.Hash(encoded)
	return digest[:]
}

// EmptyRootHash is the canonical root hash of a trie containing no
// entries: the hash of the single-byte empty-node encoding, used
// uniformly rather than a separate sentinel constant (spec.md §9 Open
// Questions #3).
func EmptyRootHash(h runtime.Hasher) runtime.Hash {
	return h.Hash([]byte{0x00})
}

// hashedValuePolicy reports whether value should be evicted to an
// external hashed slot under the given state version. Spec.md §4.1:
// "state version V1 ... when the node is freshly dirty, and the value
// is ≥ 33 bytes. Under state version V0, this transformation never
// fires."
const hashedValueMinLen = 33

func shouldHashValue(stateVersion int, dirty bool, value []byte) bool {
	return stateVersion >= 1 && dirty && len(value) >= hashedValueMinLen
}
