package block

import (
	"bytes"
	"testing"

	"github.com/relaynode/relay/runtime"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := &Header{
		Number: 7,
		Digest: []DigestItem{{Kind: DigestPreRuntime, Data: []byte{1, 2, 3}}},
	}
	h.ParentHash[0] = 0xAA
	h.StateRoot[0] = 0xBB
	h.ExtrinsicsRoot[0] = 0xCC

	enc, err := h.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeHeader(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Number != h.Number || got.ParentHash != h.ParentHash ||
		got.StateRoot != h.StateRoot || got.ExtrinsicsRoot != h.ExtrinsicsRoot {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, h)
	}
	if len(got.Digest) != 1 || got.Digest[0].Kind != DigestPreRuntime || !bytes.Equal(got.Digest[0].Data, []byte{1, 2, 3}) {
		t.Fatalf("digest mismatch: %+v", got.Digest)
	}
}

func TestBodyEncodeDecodeRoundTrip(t *testing.T) {
	body := Body{Extrinsics: [][]byte{[]byte("tx1"), []byte("tx2"), {}}}
	enc := EncodeBody(body)
	got, err := DecodeBody(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Extrinsics) != 3 {
		t.Fatalf("got %d extrinsics, want 3", len(got.Extrinsics))
	}
	for i := range body.Extrinsics {
		if !bytes.Equal(got.Extrinsics[i], body.Extrinsics[i]) {
			t.Fatalf("extrinsic %d mismatch: %q vs %q", i, got.Extrinsics[i], body.Extrinsics[i])
		}
	}
}

func TestExtrinsicsRootDeterministic(t *testing.T) {
	h := runtime.Blake2bHasher{}
	body := Body{Extrinsics: [][]byte{[]byte("a"), []byte("b")}}
	r1, err := ExtrinsicsRoot(h, body)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := ExtrinsicsRoot(h, body)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Fatalf("extrinsics root not deterministic: %x vs %x", r1, r2)
	}
}

func TestBlockHash(t *testing.T) {
	h := &Header{Number: 1}
	hash1, err := h.Hash(runtime.Blake2bHasher{})
	if err != nil {
		t.Fatal(err)
	}
	h.Number = 2
	hash2, err := h.Hash(runtime.Blake2bHasher{})
	if err != nil {
		t.Fatal(err)
	}
	if hash1 == hash2 {
		t.Fatal("different headers hashed to the same value")
	}
}
