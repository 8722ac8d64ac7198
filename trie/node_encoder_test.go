package trie

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		v variant
		n int
	}{
		{variantLeaf, 0},
		{variantLeaf, 63},
		{variantLeaf, 64},
		{variantBranchEmptyValue, 318},
		{variantBranchWithValue, 573},
		{variantLeafContainingHashes, 31},
		{variantBranchContainingHashes, 15},
	}
	for _, c := range cases {
		header, err := encodeHeader(c.v, c.n)
		if err != nil {
			t.Fatalf("encodeHeader(%v,%d): %v", c.v, c.n, err)
		}
		v, n, consumed, err := decodeHeader(header)
		if err != nil {
			t.Fatalf("decodeHeader: %v", err)
		}
		if v != c.v || n != c.n || consumed != len(header) {
			t.Fatalf("round trip mismatch: got (%v,%d,%d) want (%v,%d,%d)", v, n, consumed, c.v, c.n, len(header))
		}
	}
}

func TestTooManyNibbles(t *testing.T) {
	if _, err := encodeHeader(variantLeaf, maxNibbleLen+1); err != ErrTooManyNibbles {
		t.Fatalf("expected ErrTooManyNibbles, got %v", err)
	}
}

func TestEncodeDecodeLeaf(t *testing.T) {
	n := newLeaf(bytesToNibbles([]byte{0xAB, 0xCD}), []byte("hello"))
	encoded, err := encodeNode(n, [16][]byte{})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodeNode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.n.variant != variantLeaf {
		t.Fatalf("expected leaf, got %v", decoded.n.variant)
	}
	if !decoded.n.partialKey.equal(n.partialKey) {
		t.Fatalf("partial key mismatch: %v vs %v", decoded.n.partialKey, n.partialKey)
	}
	if string(decoded.n.value.data) != "hello" {
		t.Fatalf("value mismatch: %q", decoded.n.value.data)
	}
	if decoded.consumedBytes != len(encoded) {
		t.Fatalf("consumed %d, want %d", decoded.consumedBytes, len(encoded))
	}
}

func TestEncodeDecodeBranchNoValue(t *testing.T) {
	n := newBranch(bytesToNibbles([]byte{0x12}), nil, false)
	n.children[3] = storedChild([]byte{0xAA})
	n.children[9] = storedChild([]byte{0xBB})
	var merkles [16][]byte
	merkles[3] = []byte{0xAA}
	merkles[9] = []byte{0xBB}

	encoded, err := encodeNode(n, merkles)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodeNode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.n.variant != variantBranchEmptyValue {
		t.Fatalf("expected branch-no-value, got %v", decoded.n.variant)
	}
	if decoded.n.childCount() != 2 {
		t.Fatalf("expected 2 children, got %d", decoded.n.childCount())
	}
	if string(decoded.childMerkles[3]) != "\xAA" || string(decoded.childMerkles[9]) != "\xBB" {
		t.Fatalf("child merkle values not preserved")
	}
}
