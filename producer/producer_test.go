package producer

import (
	"context"
	"testing"
	"time"

	"github.com/relaynode/relay/block"
	"github.com/relaynode/relay/runtime"
)

type stubChain struct {
	best        runtime.Hash
	bestNumber  uint64
	finalized   uint64
	headers     map[runtime.Hash]*block.Header
	randomness  [32]byte
	totalWeight uint64
}

func (c *stubChain) Best() (runtime.Hash, uint64, error) { return c.best, c.bestNumber, nil }
func (c *stubChain) Finalized() (uint64, error)          { return c.finalized, nil }
func (c *stubChain) Header(hash runtime.Hash) (*block.Header, error) {
	return c.headers[hash], nil
}
func (c *stubChain) EpochRandomness(slot uint64) ([32]byte, uint64, error) {
	return c.randomness, c.totalWeight, nil
}

type stubInherents struct{ exts [][]byte }

func (s stubInherents) InherentExtrinsics(parent runtime.Hash, slot uint64) ([][]byte, error) {
	return s.exts, nil
}

type capturingAnnouncer struct {
	header *block.Header
	body   block.Body
}

func (a *capturingAnnouncer) Announce(h *block.Header, b block.Body) error {
	a.header = h
	a.body = b
	return nil
}

type stubSigner struct{ sig []byte }

func (s stubSigner) Sign(msg []byte) ([]byte, error) { return s.sig, nil }
func (s stubSigner) Verify(pub, msg, sig []byte) bool {
	return string(sig) == string(s.sig)
}

// fakeHasher copies its input's leading bytes verbatim into the digest
// instead of actually hashing, so a test can pin a VRF output (and
// hence its pass/fail against a threshold) by choosing the signer's
// signature bytes.
type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) runtime.Hash {
	var h runtime.Hash
	copy(h[:], data)
	return h
}

func newFixture(t *testing.T) (*stubChain, *Producer, *capturingAnnouncer) {
	t.Helper()
	hasher := fakeHasher{}
	parent := &block.Header{Number: 10}
	parentHash, err := parent.Hash(hasher)
	if err != nil {
		t.Fatal(err)
	}

	chain := &stubChain{
		best:        parentHash,
		bestNumber:  parent.Number,
		finalized:   parent.Number,
		headers:     map[runtime.Hash]*block.Header{parentHash: parent},
		totalWeight: 1,
	}
	announcer := &capturingAnnouncer{}
	pool := NewPool()
	pool.Add([]byte("tx-one"), 10)
	pool.Add([]byte("tx-two"), 5)

	// An all-zero signature, through fakeHasher, pins the VRF output at
	// the all-zero digest, which clears any positive threshold — this
	// authority always claims the slot in these tests.
	p := New(0, stubSigner{sig: make([]byte, 32)}, hasher, chain, stubInherents{exts: [][]byte{[]byte("inherent")}}, pool, announcer, 5)
	return chain, p, announcer
}

func TestRunSlotProducesAndAnnouncesBlock(t *testing.T) {
	chain, p, announcer := newFixture(t)

	budget := Budget{MaxEncodedSize: 1 << 20, SlotDeadline: time.Now().Add(time.Second)}
	blk, err := p.RunSlot(context.Background(), 1, budget)
	if err != nil {
		t.Fatal(err)
	}
	if blk == nil {
		t.Fatal("expected a produced block")
	}
	if blk.Header.Number != chain.bestNumber+1 {
		t.Fatalf("expected number %d, got %d", chain.bestNumber+1, blk.Header.Number)
	}
	if announcer.header == nil {
		t.Fatal("expected Announce to have been called")
	}
	if _, ok := blk.Header.SealData(); !ok {
		t.Fatal("expected a seal digest item")
	}
	if _, ok := blk.Header.PreRuntimeData(); !ok {
		t.Fatal("expected a pre-runtime digest item")
	}
	if len(blk.Body.Extrinsics) != 3 {
		t.Fatalf("expected 1 inherent + 2 pooled extrinsics, got %d", len(blk.Body.Extrinsics))
	}
	if p.pool.Len() != 0 {
		t.Fatalf("expected pool drained, got %d left", p.pool.Len())
	}
}

func TestRunSlotRespectsEncodedSizeBudget(t *testing.T) {
	_, p, _ := newFixture(t)

	budget := Budget{MaxEncodedSize: 1, SlotDeadline: time.Now().Add(time.Second)}
	blk, err := p.RunSlot(context.Background(), 1, budget)
	if err != nil {
		t.Fatal(err)
	}
	if blk == nil {
		t.Fatal("expected a produced block even with a tiny budget")
	}
	if len(blk.Body.Extrinsics) != 1 {
		t.Fatalf("expected only the inherent to fit, got %d extrinsics", len(blk.Body.Extrinsics))
	}
	if p.pool.Len() != 2 {
		t.Fatalf("expected both pooled extrinsics left behind, got %d", p.pool.Len())
	}
}

func TestRunSlotCancelledByContext(t *testing.T) {
	_, p, announcer := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	budget := Budget{MaxEncodedSize: 1 << 20, SlotDeadline: time.Now().Add(time.Second)}
	blk, err := p.RunSlot(ctx, 1, budget)
	if err != nil {
		t.Fatal(err)
	}
	if blk != nil {
		t.Fatal("expected a cancelled proposal to produce no block")
	}
	if announcer.header != nil {
		t.Fatal("expected Announce not to have been called")
	}
}

func TestBackoffSlots(t *testing.T) {
	if got := BackoffSlots(100, 100); got != 0 {
		t.Fatalf("expected no backoff when finality is current, got %d", got)
	}
	if got := BackoffSlots(150, 100); got != 0 {
		t.Fatalf("expected no backoff within slack, got %d", got)
	}
	if got := BackoffSlots(1000, 100); got != maxBackoffSlots {
		t.Fatalf("expected backoff capped at %d, got %d", maxBackoffSlots, got)
	}
}
