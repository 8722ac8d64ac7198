package scale

import (
	"bytes"
	"testing"
)

func TestCompactRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1 << 40}
	for _, c := range cases {
		enc := EncodeCompact(c)
		d := NewDecoder(enc)
		got, err := d.DecodeCompact()
		if err != nil {
			t.Fatalf("decode %d: %v", c, err)
		}
		if got != c {
			t.Fatalf("round trip %d -> %d", c, got)
		}
	}
}

type header struct {
	Parent [32]byte
	Number uint64
	Digest []byte
}

func TestStructRoundTrip(t *testing.T) {
	in := header{Number: 42, Digest: []byte{1, 2, 3}}
	in.Parent[0] = 0xAB

	enc, err := EncodeToBytes(in)
	if err != nil {
		t.Fatal(err)
	}
	var out header
	if err := Decode(enc, &out); err != nil {
		t.Fatal(err)
	}
	if out.Parent != in.Parent || out.Number != in.Number || !bytes.Equal(out.Digest, in.Digest) {
		t.Fatalf("mismatch: %+v vs %+v", out, in)
	}
	if out.Number != 42 || out.Parent[0] != 0xAB || !bytes.Equal(out.Digest, []byte{1, 2, 3}) {
		t.Fatalf("mismatch: %+v", out)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	in := []byte("hello trie")
	enc := EncodeBytes(in)
	d := NewDecoder(enc)
	got, err := d.DecodeBytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, in) {
		t.Fatalf("got %x want %x", got, in)
	}
}
