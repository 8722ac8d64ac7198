package sync

import (
	"bufio"
	"bytes"
	"testing"
)

func TestBlockRequestRoundTrip(t *testing.T) {
	req := &BlockRequest{
		ID:            7,
		Fields:        0x1F,
		FromNumber:    100,
		HasFromNumber: true,
		ToHash:        []byte{0xAA, 0xBB},
		Direction:     Descending,
		Max:           64,
	}
	got, err := DecodeBlockRequest(req.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != req.ID || got.Fields != req.Fields || got.FromNumber != req.FromNumber ||
		!got.HasFromNumber || got.Direction != req.Direction || got.Max != req.Max {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, req)
	}
	if !bytes.Equal(got.ToHash, req.ToHash) {
		t.Fatalf("to_hash mismatch: %x vs %x", got.ToHash, req.ToHash)
	}
}

func TestBlockRequestRejectsBadDirection(t *testing.T) {
	req := &BlockRequest{ID: 1, Direction: 2}
	if _, err := DecodeBlockRequest(req.Encode()); err != ErrBadDirection {
		t.Fatalf("expected ErrBadDirection, got %v", err)
	}
}

func TestBlockResponseRoundTrip(t *testing.T) {
	resp := &BlockResponse{
		ID: 3,
		Blocks: []*BlockData{
			{Hash: []byte("hash-one"), Header: []byte("header-one"), Body: []byte("body-one")},
			{Hash: []byte("hash-two"), Justification: []byte("justif-two")},
		},
	}
	got, err := DecodeBlockResponse(resp.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got.Blocks))
	}
	if !bytes.Equal(got.Blocks[0].Header, resp.Blocks[0].Header) {
		t.Fatalf("header mismatch")
	}
	if !bytes.Equal(got.Blocks[1].Justification, resp.Blocks[1].Justification) {
		t.Fatalf("justification mismatch")
	}
}

func TestStateRequestRoundTrip(t *testing.T) {
	req := &StateRequest{
		BlockHash: []byte("block-hash"),
		Start:     [][]byte{{0x12}, {0xA0}},
		NoProof:   true,
	}
	got, err := DecodeStateRequest(req.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.BlockHash, req.BlockHash) || !got.NoProof {
		t.Fatalf("mismatch: %+v", got)
	}
	if len(got.Start) != 2 || got.Start[0][0] != 0x12 || got.Start[1][0] != 0xA0 {
		t.Fatalf("start prefixes mismatch: %+v", got.Start)
	}
}

func TestStateResponseRoundTrip(t *testing.T) {
	resp := &StateResponse{
		Levels: []StateLevel{
			{
				StateRoot: []byte("root-one"),
				Entries: []StateEntry{
					{Key: []byte("k1"), Value: []byte("v1")},
					{Key: []byte("k2"), Value: []byte("v2")},
				},
				Complete: true,
			},
		},
		Proof: []byte("compact-proof-bytes"),
	}
	got, err := DecodeStateResponse(resp.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Levels) != 1 || len(got.Levels[0].Entries) != 2 || !got.Levels[0].Complete {
		t.Fatalf("levels mismatch: %+v", got.Levels)
	}
	if !bytes.Equal(got.Proof, resp.Proof) {
		t.Fatalf("proof mismatch")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a sync payload of arbitrary bytes")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("frame payload mismatch: %q vs %q", got, payload)
	}
}

func TestFingerprintStableAcrossEquivalentRequests(t *testing.T) {
	a := fingerprintRequest(0x1F, []byte("h"), 10, nil, Ascending, 50)
	b := fingerprintRequest(0x1F, []byte("h"), 10, nil, Ascending, 50)
	c := fingerprintRequest(0x1F, []byte("h"), 11, nil, Ascending, 50)
	if a != b {
		t.Fatal("identical requests should fingerprint identically")
	}
	if a == c {
		t.Fatal("different requests should not collide in this test's fixtures")
	}
}
