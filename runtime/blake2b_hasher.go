package runtime

import "golang.org/x/crypto/blake2b"

// Blake2bHasher is the conventional default Hasher: blake2b-256.
type Blake2bHasher struct{}

// Hash returns the blake2b-256 digest of data.
func (Blake2bHasher) Hash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}
