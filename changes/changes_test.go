package changes

import (
	"testing"

	"github.com/relaynode/relay/runtime"
)

func TestBuildDeterministicRoot(t *testing.T) {
	h := runtime.Blake2bHasher{}

	t1 := NewTracker(42)
	t1.TrackChange([]byte("alpha"), 0)
	t1.TrackChange([]byte("beta"), 1)
	r1, err := t1.Build(h)
	if err != nil {
		t.Fatal(err)
	}

	t2 := NewTracker(42)
	t2.TrackChange([]byte("beta"), 1)
	t2.TrackChange([]byte("alpha"), 0)
	r2, err := t2.Build(h)
	if err != nil {
		t.Fatal(err)
	}

	if r1 != r2 {
		t.Fatalf("changes-trie root depends on tracking order: %x vs %x", r1, r2)
	}
}

func TestUnsetExtrinsicIndexSentinel(t *testing.T) {
	if UnsetExtrinsicIndex != 0xFFFFFFFF {
		t.Fatalf("sentinel changed: %x", UnsetExtrinsicIndex)
	}
}
