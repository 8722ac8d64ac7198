package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/relaynode/relay/block"
	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/storage"
	"github.com/relaynode/relay/trie"
)

type stubStore struct {
	headers map[runtime.Hash]*block.Header
	best    runtime.Hash
	final   runtime.Hash
}

func newStubStore() *stubStore {
	return &stubStore{headers: make(map[runtime.Hash]*block.Header)}
}

func (s *stubStore) GetHeader(hash runtime.Hash) (*block.Header, error) {
	h, ok := s.headers[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return h, nil
}
func (s *stubStore) PutHeader(hash runtime.Hash, h *block.Header) error {
	s.headers[hash] = h
	return nil
}
func (s *stubStore) PutBody(hash runtime.Hash, b block.Body) error        { return nil }
func (s *stubStore) SetNumberToHash(number uint64, hash runtime.Hash) error { return nil }
func (s *stubStore) SetBest(hash runtime.Hash) error                       { s.best = hash; return nil }
func (s *stubStore) SetFinalized(hash runtime.Hash) error                  { s.final = hash; return nil }

type stubFetcher struct{ body block.Body }

func (f stubFetcher) FetchBody(hash runtime.Hash, parts PartsBitfield) (block.Body, error) {
	return f.body, nil
}

type noopEngine struct{ wantRoot runtime.Hash }

func (e noopEngine) Call(ctx context.Context, view runtime.StateView, method string, args []byte) ([]byte, error) {
	return nil, nil
}

func TestImportRejectsBadStateRoot(t *testing.T) {
	hasher := runtime.Blake2bHasher{}
	mem := storage.NewMemoryDB()
	db := trie.NewNodeDB(mem)

	parent := &block.Header{Number: 0}
	parentHash, _ := parent.Hash(hasher)

	store := newStubStore()
	store.headers[parentHash] = parent

	h := &block.Header{
		ParentHash: parentHash,
		Number:     1,
		StateRoot:  runtime.Hash{0xFF}, // deliberately wrong
		Digest: []block.DigestItem{
			{Kind: block.DigestPreRuntime, Data: []byte{1}},
			{Kind: block.DigestSeal, Data: []byte{2}},
		},
	}

	im := New(hasher, noopEngine{}, stubFetcher{}, store, nil, db, 1)
	state, err := im.Import(h, &block.Body{})
	if err == nil {
		t.Fatal("expected error for bad state root")
	}
	ie, ok := err.(*ImportError)
	if !ok || ie.Kind != InvalidBlock {
		t.Fatalf("expected InvalidBlock ImportError, got %v (state=%v)", err, state)
	}
	if len(store.headers) != 1 {
		t.Fatalf("no header should have been persisted on rejection, got %d", len(store.headers))
	}
}
