package trie

import (
	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/scale"
	"github.com/relaynode/relay/storage"
)

// EncodeCompactProof builds the compact proof for root given a Recorder
// that has already observed a navigation over it (spec.md §4.3 "Compact
// encoding"). It walks the recorded nodes in pre-order, replacing any
// child slot whose child was also recorded with an empty "consume-next"
// marker, and substituting a recorded external value with the reserved
// compact marker byte followed by its raw bytes.
func EncodeCompactProof(t *Trie, rec *Recorder, root childRef) ([]byte, error) {
	var out [][]byte
	if err := compactWalk(t, rec, root, &out); err != nil {
		return nil, err
	}
	enc := scale.EncodeCompact(uint64(len(out)))
	for _, item := range out {
		enc = append(enc, scale.EncodeBytes(item)...)
	}
	return enc, nil
}

func compactWalk(t *Trie, rec *Recorder, ref childRef, out *[][]byte) error {
	n, err := t.resolve(ref)
	if err != nil {
		return err
	}
	if n.variant == variantEmpty {
		return nil
	}
	recorded := ref.inline != nil || rec.seen[string(ref.stored)]
	if !recorded {
		// Not recorded: this subtree is external to the proof; its
		// Merkle value is left in place at the parent and nothing is
		// emitted for it here.
		return nil
	}

	header, err := encodeHeader(n.variant, len(n.partialKey))
	if err != nil {
		return err
	}
	encoded := append([]byte{}, header...)
	encoded = append(encoded, packNibbles(n.partialKey)...)

	isBranch := n.variant.isBranch()
	var childMerkles [16][]byte
	if isBranch {
		bitmap := childrenBitmap(n)
		encoded = append(encoded, byte(bitmap), byte(bitmap>>8))
		for i := 0; i < 16; i++ {
			if n.children[i].isEmpty() {
				continue
			}
			if n.children[i].inline != nil || rec.seen[string(n.children[i].stored)] {
				childMerkles[i] = []byte{} // consume-next marker
			} else {
				childMerkles[i] = n.children[i].stored
			}
		}
	}

	valueExternalized := n.value.kind == valueHashed && rec.seen[string(n.value.data)]
	switch n.variant {
	case variantLeaf, variantBranchWithValue:
		encoded = append(encoded, scale.EncodeBytes(n.value.data)...)
	case variantLeafContainingHashes, variantBranchContainingHashes:
		if valueExternalized {
			raw, err := t.db.Get(n.value.data)
			if err != nil {
				return err
			}
			encoded = append(encoded, compactMarkerByte)
			encoded = append(encoded, scale.EncodeBytes(raw)...)
		} else {
			encoded = append(encoded, n.value.data...)
		}
	}

	if isBranch {
		for i := 0; i < 16; i++ {
			if n.children[i].isEmpty() {
				continue
			}
			encoded = append(encoded, scale.EncodeBytes(childMerkles[i])...)
		}
	}

	*out = append(*out, encoded)

	if isBranch {
		for i := 0; i < 16; i++ {
			if n.children[i].isEmpty() {
				continue
			}
			if n.children[i].inline != nil || rec.seen[string(n.children[i].stored)] {
				if err := compactWalk(t, rec, n.children[i], out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// compactCursor pops successive byte-strings off a decoded compact
// proof list.
type compactCursor struct {
	items [][]byte
	pos   int
}

func (c *compactCursor) pop() ([]byte, error) {
	if c.pos >= len(c.items) {
		return nil, ErrIncompleteProof
	}
	v := c.items[c.pos]
	c.pos++
	return v, nil
}

// DecodeCompactProof parses a compact proof and reconstructs the root
// node's Merkle value. Each consumed child's Merkle value is recomputed
// from its reconstructed node and written into its parent's encoding;
// no per-node hash comparison is made and ErrHashMismatch is not
// returned here. The caller compares the returned hash against the
// block's state_root.
func DecodeCompactProof(h runtime.Hasher, buf []byte) (runtime.Hash, error) {
	return decodeCompactProof(h, buf, nil)
}

// DecodeCompactProofAndStore decodes and verifies buf exactly like
// DecodeCompactProof, additionally persisting every reconstructed node
// into db keyed by its Merkle value — the mechanism state sync uses to
// turn a sequence of compact proofs into a populated backing store
// (spec.md §4.8 "persist each encountered node into the local KV").
func DecodeCompactProofAndStore(h runtime.Hasher, buf []byte, db storage.Database) (runtime.Hash, error) {
	return decodeCompactProof(h, buf, db)
}

func decodeCompactProof(h runtime.Hasher, buf []byte, db storage.Database) (runtime.Hash, error) {
	d := scale.NewDecoder(buf)
	n, err := d.DecodeCompact()
	if err != nil {
		return runtime.Hash{}, err
	}
	items := make([][]byte, n)
	for i := range items {
		b, err := d.DecodeBytes()
		if err != nil {
			return runtime.Hash{}, err
		}
		items[i] = b
	}
	cursor := &compactCursor{items: items}
	_, mv, err := decodeCompactNode(h, cursor, db)
	if err != nil {
		return runtime.Hash{}, err
	}
	if len(mv) == 32 {
		var out runtime.Hash
		copy(out[:], mv)
		return out, nil
	}
	return h.Hash(mv), nil
}

// decodeCompactNode pops and reconstructs one node (recursing into any
// child slot marked "consume-next"), returning the node and its
// recomputed Merkle value. If the node's header/value field encodes
// the reserved compactMarkerByte in the value position, the following
// bytes in the same item are the raw external value instead of a
// 32-byte hash.
func decodeCompactNode(h runtime.Hasher, cursor *compactCursor, db storage.Database) (*node, []byte, error) {
	raw, err := cursor.pop()
	if err != nil {
		return nil, nil, err
	}

	v, nibbleCount, headerLen, err := decodeHeader(raw)
	if err != nil {
		return nil, nil, err
	}
	if v == variantEmpty {
		return &node{variant: variantEmpty}, []byte{}, nil
	}

	pos := headerLen
	packedLen := (nibbleCount + 1) / 2
	pk := unpackNibbles(raw[pos:pos+packedLen], nibbleCount)
	pos += packedLen

	n := &node{variant: v, partialKey: pk}
	isBranch := v.isBranch()
	var bitmap uint16
	if isBranch {
		bitmap = uint16(raw[pos]) | uint16(raw[pos+1])<<8
		pos += 2
	}

	var externalValue []byte
	switch v {
	case variantLeaf, variantBranchWithValue:
		dec := scale.NewDecoder(raw[pos:])
		val, err := dec.DecodeBytes()
		if err != nil {
			return nil, nil, err
		}
		n.value = nodeValue{kind: valueInline, data: val}
		pos += len(raw[pos:]) - dec.Remaining()
	case variantLeafContainingHashes, variantBranchContainingHashes:
		if raw[pos] == compactMarkerByte {
			pos++
			dec := scale.NewDecoder(raw[pos:])
			val, err := dec.DecodeBytes()
			if err != nil {
				return nil, nil, err
			}
			externalValue = val
			pos += len(raw[pos:]) - dec.Remaining()
		} else {
			n.value = nodeValue{kind: valueHashed, data: append([]byte{}, raw[pos:pos+32]...)}
			pos += 32
		}
	}

	var childMerkles [16][]byte
	if isBranch {
		for i := 0; i < 16; i++ {
			if bitmap&(1<<uint(i)) == 0 {
				continue
			}
			dec := scale.NewDecoder(raw[pos:])
			mv, err := dec.DecodeBytes()
			if err != nil {
				return nil, nil, err
			}
			pos += len(raw[pos:]) - dec.Remaining()
			if len(mv) == 0 {
				child, childMV, err := decodeCompactNode(h, cursor, db)
				if err != nil {
					return nil, nil, err
				}
				n.children[i] = inlineChild(child)
				childMerkles[i] = childMV
			} else {
				n.children[i] = storedChild(mv)
				childMerkles[i] = mv
			}
		}
	}

	if externalValue != nil {
		digest := h.Hash(externalValue)
		n.value = nodeValue{kind: valueHashed, data: append([]byte{}, digest[:]...)}
		switch n.variant {
		case variantLeaf:
			n.variant = variantLeafContainingHashes
		case variantBranchWithValue:
			n.variant = variantBranchContainingHashes
		}
		if db != nil {
			if err := db.Put(storage.NodeKey(digest[:]), externalValue); err != nil {
				return nil, nil, err
			}
		}
	}

	encoded, err := encodeNode(n, childMerkles)
	if err != nil {
		return nil, nil, err
	}
	mv := merkleValue(h, encoded)
	if db != nil {
		if err := db.Put(storage.NodeKey(mv), encoded); err != nil {
			return nil, nil, err
		}
	}
	return n, mv, nil
}
