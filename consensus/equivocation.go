package consensus

import "github.com/relaynode/relay/runtime"

// EquivocationProof pairs two headers that share a number, parent, and
// author/slot pre-digest, yet hash differently — proof the author
// signed two conflicting blocks for the same slot.
type EquivocationProof struct {
	Author    []byte
	Slot      uint64
	HeaderOne runtime.Hash
	HeaderTwo runtime.Hash
}

// claim is the subset of header state equivocation detection compares.
type claim struct {
	Number uint64
	Parent runtime.Hash
	Author []byte
	Slot   uint64
}

// DetectEquivocation compares two candidate claims for the same block
// height; if they agree on parent/author/slot but the caller-supplied
// hashes differ, it returns a proof. Equal hashes (the same block seen
// twice) are not an equivocation.
func DetectEquivocation(a, b claim, hashA, hashB runtime.Hash) (*EquivocationProof, bool) {
	if a.Number != b.Number || a.Parent != b.Parent || a.Slot != b.Slot {
		return nil, false
	}
	if string(a.Author) != string(b.Author) {
		return nil, false
	}
	if hashA == hashB {
		return nil, false
	}
	return &EquivocationProof{Author: a.Author, Slot: a.Slot, HeaderOne: hashA, HeaderTwo: hashB}, true
}

// NewClaim builds a claim from a header's identifying fields.
func NewClaim(number uint64, parent runtime.Hash, author []byte, slot uint64) claim {
	return claim{Number: number, Parent: parent, Author: author, Slot: slot}
}
