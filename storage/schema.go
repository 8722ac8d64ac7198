package storage

import "encoding/binary"

// Key prefixes for the block-tree and trie-node schema. Each data type
// uses a distinct single-byte prefix to avoid collisions, the same
// approach go-ethereum's rawdb schema uses, generalized to a
// content-addressed node store plus block-tree pointers instead of an
// account/receipt/tx-lookup schema.
var (
	// Trie nodes are content-addressed: key is the node's Merkle value
	// (usually a 32-byte hash, occasionally shorter for inlined nodes),
	// value is the node's encoding. refCountPrefix tracks how many live
	// references point at a given node so nodes can be pruned once their
	// count drops to zero.
	trieNodePrefix = []byte("t") // t + merkle value -> node encoding
	refCountPrefix = []byte("g") // g + merkle value -> 8-byte BE ref count

	// Block headers and bodies are keyed by block hash; a secondary
	// index maps block number to the canonical hash at that height.
	headerPrefix = []byte("h") // h + hash -> header (SCALE)
	bodyPrefix   = []byte("b") // b + hash -> body (SCALE)
	numberPrefix = []byte("n") // n + num (8 bytes BE) -> canonical hash
	heightPrefix = []byte("H") // H + hash -> num (8 bytes BE), reverse of numberPrefix

	// Chain pointers.
	bestBlockKey      = []byte("best")
	finalizedBlockKey = []byte("finalized")

	// journalPrefix stores one entry per commit, recording which nodes
	// were newly inserted and which were dereferenced, so a revert can
	// walk backwards without a full GC pass.
	journalPrefix = []byte("j") // j + num (8 bytes BE) -> journal entry (SCALE)
)

// encodeBlockNumber encodes a block number as an 8-byte big-endian value,
// so lexicographic key order matches numeric order.
func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func decodeBlockNumber(enc []byte) uint64 {
	return binary.BigEndian.Uint64(enc)
}

// NodeKey builds the storage key for a content-addressed trie node.
func NodeKey(merkleValue []byte) []byte {
	return append(append([]byte{}, trieNodePrefix...), merkleValue...)
}

// RefCountKey builds the storage key for a trie node's reference count.
func RefCountKey(merkleValue []byte) []byte {
	return append(append([]byte{}, refCountPrefix...), merkleValue...)
}

// HeaderKey builds the storage key for a block header.
func HeaderKey(hash [32]byte) []byte {
	return append(append([]byte{}, headerPrefix...), hash[:]...)
}

// BodyKey builds the storage key for a block body.
func BodyKey(hash [32]byte) []byte {
	return append(append([]byte{}, bodyPrefix...), hash[:]...)
}

// NumberKey builds the storage key mapping a block number to its
// canonical hash at that height.
func NumberKey(number uint64) []byte {
	return append(append([]byte{}, numberPrefix...), encodeBlockNumber(number)...)
}

// HeightKey builds the storage key mapping a block hash back to its number.
func HeightKey(hash [32]byte) []byte {
	return append(append([]byte{}, heightPrefix...), hash[:]...)
}

// BestBlockKey is the fixed key holding the current best block's hash.
func BestBlockKey() []byte { return bestBlockKey }

// FinalizedBlockKey is the fixed key holding the current finalized block's hash.
func FinalizedBlockKey() []byte { return finalizedBlockKey }

// JournalKey builds the storage key for the journal entry recorded by
// the commit at the given sequence number.
func JournalKey(seq uint64) []byte {
	return append(append([]byte{}, journalPrefix...), encodeBlockNumber(seq)...)
}
