// Package block defines the header and body types, extrinsics-root
// computation, and block hashing shared by the importer, producer, and
// sync packages.
package block

import (
	"reflect"

	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/scale"
	"github.com/relaynode/relay/storage"
	"github.com/relaynode/relay/trie"
)

// DigestItemKind tags the shape of a single digest entry.
type DigestItemKind uint8

const (
	DigestPreRuntime DigestItemKind = iota
	DigestSeal
	DigestOther
)

// DigestItem is one entry in a header's digest: a BABE pre-runtime
// marker (slot + VRF proof), the authorship seal, or an opaque
// consensus-engine extension.
type DigestItem struct {
	Kind DigestItemKind
	Data []byte
}

// Header is the block header: spec.md §3 "{parent_hash, number,
// state_root, extrinsics_root, digest}".
type Header struct {
	ParentHash     runtime.Hash
	Number         uint64
	StateRoot      runtime.Hash
	ExtrinsicsRoot runtime.Hash
	Digest         []DigestItem
}

// Encode returns the SCALE encoding of h: "(parent_hash, compact(number),
// state_root, extrinsics_root, digest)" (spec.md §6 "Block wire format").
func (h *Header) Encode() ([]byte, error) {
	out := append([]byte{}, h.ParentHash[:]...)
	out = append(out, scale.EncodeCompact(h.Number)...)
	out = append(out, h.StateRoot[:]...)
	out = append(out, h.ExtrinsicsRoot[:]...)
	digestEnc, err := scale.EncodeToBytes(h.Digest)
	if err != nil {
		return nil, err
	}
	return append(out, digestEnc...), nil
}

// DecodeHeader parses a SCALE-encoded header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < 32 {
		return nil, scale.ErrInputTooShort
	}
	h := &Header{}
	copy(h.ParentHash[:], buf[:32])
	d := scale.NewDecoder(buf[32:])

	n, err := d.DecodeCompact()
	if err != nil {
		return nil, err
	}
	h.Number = n

	if err := d.DecodeValue(reflect.ValueOf(&h.StateRoot).Elem()); err != nil {
		return nil, err
	}
	if err := d.DecodeValue(reflect.ValueOf(&h.ExtrinsicsRoot).Elem()); err != nil {
		return nil, err
	}
	if err := d.DecodeValue(reflect.ValueOf(&h.Digest).Elem()); err != nil {
		return nil, err
	}
	return h, nil
}

// Hash returns the block hash: the hash of h's encoding under hasher.
func (h *Header) Hash(hasher runtime.Hasher) (runtime.Hash, error) {
	enc, err := h.Encode()
	if err != nil {
		return runtime.Hash{}, err
	}
	return hasher.Hash(enc), nil
}

// PreRuntimeData returns the BABE pre-digest bytes, if present.
func (h *Header) PreRuntimeData() ([]byte, bool) {
	for _, d := range h.Digest {
		if d.Kind == DigestPreRuntime {
			return d.Data, true
		}
	}
	return nil, false
}

// SealData returns the authorship seal bytes, if present. The seal is
// always the final digest item (spec.md §6 "Seal").
func (h *Header) SealData() ([]byte, bool) {
	if len(h.Digest) == 0 {
		return nil, false
	}
	last := h.Digest[len(h.Digest)-1]
	if last.Kind != DigestSeal {
		return nil, false
	}
	return last.Data, true
}

// WithoutSeal returns a copy of h with its trailing seal digest item
// removed — the form signed to produce the seal in the first place.
func (h *Header) WithoutSeal() *Header {
	c := *h
	if _, ok := h.SealData(); ok {
		c.Digest = h.Digest[:len(h.Digest)-1]
	}
	return &c
}

// Body is the ordered sequence of opaque extrinsic blobs making up a
// block.
type Body struct {
	Extrinsics [][]byte
}

// ExtrinsicsRoot computes the trie root of the mapping
// compact(index) -> encode(extrinsic) over body, built as an ordered
// trie over an ephemeral node store (spec.md §3).
func ExtrinsicsRoot(h runtime.Hasher, body Body) (runtime.Hash, error) {
	tr := trie.NewTrie(trie.NewNodeDB(storage.NewMemoryDB()), h, 1)
	for i, ext := range body.Extrinsics {
		key := scale.EncodeCompact(uint64(i))
		if err := tr.Put(key, scale.EncodeBytes(ext)); err != nil {
			return runtime.Hash{}, err
		}
	}
	return tr.Root()
}
