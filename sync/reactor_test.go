package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/relaynode/relay/block"
	"github.com/relaynode/relay/consensus"
	"github.com/relaynode/relay/importer"
	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/trie"
)

func TestSlotAt(t *testing.T) {
	period := 6 * time.Second
	a := slotAt(time.Unix(0, 0), period)
	b := slotAt(time.Unix(6, 0), period)
	if b != a+1 {
		t.Fatalf("expected consecutive slots 6s apart, got %d and %d", a, b)
	}
}

func TestOnEventShutdownStopsReactor(t *testing.T) {
	r := NewReactor(time.Second, nil, nil, nil)
	if err := r.onEvent(context.Background(), Event{Kind: EventShutdown}); err != ErrReactorStopped {
		t.Fatalf("expected ErrReactorStopped, got %v", err)
	}
}

func TestHandleSlotTickNoopWithoutProducer(t *testing.T) {
	r := NewReactor(time.Second, nil, nil, nil)
	if err := r.handleSlotTick(context.Background(), 1); err != nil {
		t.Fatalf("expected nil with no producer wired, got %v", err)
	}
}

func TestHandleAnnounceNoopWithoutImporter(t *testing.T) {
	r := NewReactor(time.Second, nil, nil, nil)
	if err := r.handleAnnounce(context.Background(), &BlockAnnounce{Header: &block.Header{}}); err != nil {
		t.Fatalf("expected nil with no importer wired, got %v", err)
	}
	if err := r.handleAnnounce(context.Background(), nil); err != nil {
		t.Fatalf("expected nil for a nil announce, got %v", err)
	}
}

// rejectingStore always reports the parent as unknown, driving every
// import straight to importer.ParentNotFound.
type rejectingStore struct{}

func (rejectingStore) GetHeader(hash runtime.Hash) (*block.Header, error) {
	return nil, errNotFoundStub
}
func (rejectingStore) PutHeader(hash runtime.Hash, h *block.Header) error    { return nil }
func (rejectingStore) PutBody(hash runtime.Hash, b block.Body) error         { return nil }
func (rejectingStore) SetNumberToHash(number uint64, hash runtime.Hash) error { return nil }
func (rejectingStore) SetBest(hash runtime.Hash) error                      { return nil }
func (rejectingStore) SetFinalized(hash runtime.Hash) error                 { return nil }

type stubBodyFetcher struct{}

func (stubBodyFetcher) FetchBody(blockHash runtime.Hash, parts importer.PartsBitfield) (block.Body, error) {
	return block.Body{}, errNotFoundStub
}

var errNotFoundStub = stubErr("reactor test: not found")

type stubErr string

func (e stubErr) Error() string { return string(e) }

// spyBlockFetcher records every peer/request it is asked to fetch, so
// the test can assert handleAnnounce's ParentNotFound path drove a
// sync attempt at the announcing peer.
type spyBlockFetcher struct {
	mu   gosync.Mutex
	reqs []runtime.PeerID
}

func (f *spyBlockFetcher) FetchBlocks(ctx context.Context, peer runtime.PeerID, req *BlockRequest) (*BlockResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, peer)
	f.mu.Unlock()
	return &BlockResponse{ID: req.ID, Blocks: []*BlockData{{Hash: req.FromHash}}}, nil
}

func TestHandleAnnounceParentNotFoundTriggersSync(t *testing.T) {
	im := importer.New(runtime.Blake2bHasher{}, nil, stubBodyFetcher{}, rejectingStore{}, (*consensus.EpochTree)(nil), (*trie.NodeDB)(nil), 1)
	fetcher := &spyBlockFetcher{}
	bs := NewBlockSyncer(fetcher, 10, DefaultBlockSyncTimeout)
	r := NewReactor(time.Second, nil, im, bs)

	parent := &block.Header{Number: 5}
	parentHash, err := parent.Hash(runtime.Blake2bHasher{})
	if err != nil {
		t.Fatal(err)
	}
	child := &block.Header{ParentHash: parentHash, Number: 6}

	if err := r.handleAnnounce(context.Background(), &BlockAnnounce{Peer: "peer-x", Header: child}); err != nil {
		t.Fatalf("handleAnnounce should swallow sync errors, got %v", err)
	}

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if len(fetcher.reqs) != 1 || fetcher.reqs[0] != "peer-x" {
		t.Fatalf("expected one fetch against peer-x, got %v", fetcher.reqs)
	}
}

func TestRunStopsOnShutdown(t *testing.T) {
	r := NewReactor(time.Hour, nil, nil, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	r.Shutdown()

	select {
	case err := <-done:
		if err != ErrReactorStopped {
			t.Fatalf("expected ErrReactorStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reactor did not stop after Shutdown")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := NewReactor(time.Hour, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a non-nil context error")
		}
	case <-time.After(time.Second):
		t.Fatal("reactor did not stop after context cancellation")
	}
}
