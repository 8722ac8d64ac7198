package trie

import (
	"bytes"
	"testing"

	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/storage"
)

func newTestTrie(t *testing.T) *Trie {
	t.Helper()
	mem := storage.NewMemoryDB()
	db := NewNodeDB(mem)
	return NewTrie(db, runtime.Blake2bHasher{}, 1)
}

func TestGetPutRemove(t *testing.T) {
	tr := newTestTrie(t)
	entries := map[string]string{
		"dog":     "puppy",
		"doge":    "coin",
		"horse":   "stallion",
		"do":      "verb",
		"sparkle": "glitter",
	}
	for k, v := range entries {
		if err := tr.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("put %q: %v", k, err)
		}
	}
	for k, v := range entries {
		got, ok, err := tr.Get([]byte(k))
		if err != nil {
			t.Fatalf("get %q: %v", k, err)
		}
		if !ok || string(got) != v {
			t.Fatalf("get %q = %q,%v; want %q", k, got, ok, v)
		}
	}

	found, err := tr.Remove([]byte("doge"))
	if err != nil || !found {
		t.Fatalf("remove doge: found=%v err=%v", found, err)
	}
	if _, ok, err := tr.Get([]byte("doge")); err != nil || ok {
		t.Fatalf("doge should be gone: ok=%v err=%v", ok, err)
	}
	if got, ok, err := tr.Get([]byte("dog")); err != nil || !ok || string(got) != "puppy" {
		t.Fatalf("dog should survive removal of doge: %q %v %v", got, ok, err)
	}
}

func TestRootInsertionOrderIndependent(t *testing.T) {
	entries := []struct{ k, v string }{
		{"alpha", "1"}, {"beta", "2"}, {"gamma", "3"}, {"delta", "4"},
	}

	tr1 := newTestTrie(t)
	for _, e := range entries {
		if err := tr1.Put([]byte(e.k), []byte(e.v)); err != nil {
			t.Fatal(err)
		}
	}
	root1, err := tr1.Root()
	if err != nil {
		t.Fatal(err)
	}

	tr2 := newTestTrie(t)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := tr2.Put([]byte(e.k), []byte(e.v)); err != nil {
			t.Fatal(err)
		}
	}
	root2, err := tr2.Root()
	if err != nil {
		t.Fatal(err)
	}

	if root1 != root2 {
		t.Fatalf("root differs by insertion order: %x vs %x", root1, root2)
	}
}

func TestEmptyTrieRoot(t *testing.T) {
	tr := newTestTrie(t)
	root, err := tr.Root()
	if err != nil {
		t.Fatal(err)
	}
	want := EmptyRootHash(runtime.Blake2bHasher{})
	if root != want {
		t.Fatalf("empty trie root = %x, want %x", root, want)
	}
}

func TestCommitPersistsAndReloads(t *testing.T) {
	mem := storage.NewMemoryDB()
	db := NewNodeDB(mem)
	h := runtime.Blake2bHasher{}

	tr := NewTrie(db, h, 1)
	if err := tr.Put([]byte("foo"), []byte("bar")); err != nil {
		t.Fatal(err)
	}
	root, err := tr.Root()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Commit(nil); err != nil {
		t.Fatal(err)
	}

	reopened := LoadTrie(db, h, 1, root[:])
	got, ok, err := reopened.Get([]byte("foo"))
	if err != nil || !ok || !bytes.Equal(got, []byte("bar")) {
		t.Fatalf("reopened get = %q,%v,%v", got, ok, err)
	}
}

func TestClassicProofRoundTrip(t *testing.T) {
	mem := storage.NewMemoryDB()
	db := NewNodeDB(mem)
	h := runtime.Blake2bHasher{}

	tr := NewTrie(db, h, 1)
	for _, kv := range [][2]string{{"dog", "puppy"}, {"doge", "coin"}, {"horse", "stallion"}} {
		if err := tr.Put([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatal(err)
		}
	}
	root, err := tr.Root()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Commit(nil); err != nil {
		t.Fatal(err)
	}

	reopened := LoadTrie(db, h, 1, root[:])
	proof, err := GenerateProof(reopened, [][]byte{[]byte("doge")})
	if err != nil {
		t.Fatal(err)
	}
	if len(proof) == 0 {
		t.Fatal("expected non-empty proof")
	}

	val, ok, err := VerifyClassicProof(h, proof, root, []byte("doge"))
	if err != nil || !ok || string(val) != "coin" {
		t.Fatalf("verify proof: val=%q ok=%v err=%v", val, ok, err)
	}
}
