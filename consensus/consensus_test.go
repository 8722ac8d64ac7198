package consensus

import (
	"testing"
)

type fakeSigner struct{ sig []byte }

func (f fakeSigner) Sign(msg []byte) ([]byte, error) { return f.sig, nil }
func (f fakeSigner) Verify(pub, msg, sig []byte) bool {
	return string(sig) == string(f.sig)
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) [32]byte {
	var h [32]byte
	copy(h[:], data)
	return h
}

func TestThresholdMonotonicInWeight(t *testing.T) {
	low := Threshold(1, 1000, 1, 4)
	high := Threshold(500, 1000, 1, 4)
	if low.Cmp(high) >= 0 {
		t.Fatalf("threshold should grow with weight: low=%v high=%v", low, high)
	}
}

func TestEpochTreeSpliceAndLookup(t *testing.T) {
	genesis := &EpochNode{Number: 0, StartSlot: 0, SlotsPerEpoch: 100}
	tree := NewEpochTree(genesis)

	if err := tree.Splice(0, &EpochNode{Number: 1, StartSlot: 100, SlotsPerEpoch: 100}); err != nil {
		t.Fatal(err)
	}
	n, err := tree.EpochFor(150)
	if err != nil {
		t.Fatal(err)
	}
	if n.Number != 1 {
		t.Fatalf("expected epoch 1, got %d", n.Number)
	}

	if err := tree.Splice(99, &EpochNode{Number: 2}); err != ErrUnknownEpoch {
		t.Fatalf("expected ErrUnknownEpoch, got %v", err)
	}
}

func TestDetectEquivocation(t *testing.T) {
	c := NewClaim(10, [32]byte{1}, []byte("alice"), 5)
	h1 := [32]byte{0xAA}
	h2 := [32]byte{0xBB}

	proof, ok := DetectEquivocation(c, c, h1, h2)
	if !ok || proof.Author == nil {
		t.Fatalf("expected equivocation proof, got %v %v", proof, ok)
	}

	_, ok = DetectEquivocation(c, c, h1, h1)
	if ok {
		t.Fatal("identical hash should not be an equivocation")
	}
}
