// state_sync.go implements warp/fast state sync (spec.md §4.8): given a
// finalized header's state_root, drive the recursive cursor to
// reconstruct the full backing KV without replaying history.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/relaynode/relay/log"
	"github.com/relaynode/relay/metrics"
	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/storage"
	"github.com/relaynode/relay/trie"
)

// State sync errors.
var (
	ErrStateRootMismatch = errors.New("sync: reconstructed subtree root does not match expectation")
	ErrNoLevels          = errors.New("sync: response carried no cursor levels")
)

// DefaultStateSyncTimeout is the per-round-trip timeout for state
// requests (spec.md §5 "Sync requests: 10s per round-trip, default").
const DefaultStateSyncTimeout = 10 * time.Second

// StateFetcher performs the network round-trip for a StateRequest.
type StateFetcher interface {
	FetchState(ctx context.Context, peer runtime.PeerID, req *StateRequest) (*StateResponse, error)
}

// StateSyncer drives one warp-sync flow to completion, persisting
// reconstructed trie nodes and, when healing is enabled, scheduling
// the unresolved hash references it encounters along the way.
type StateSyncer struct {
	fetcher   StateFetcher
	db        storage.Database
	hasher    runtime.Hasher
	blockHash []byte
	timeout   time.Duration
	healing   bool

	cursor *Cursor
	logger *log.Logger
}

// NewStateSyncer begins a sync of blockHash's state, rooted at
// stateRoot, into db.
func NewStateSyncer(fetcher StateFetcher, db storage.Database, hasher runtime.Hasher, blockHash, stateRoot []byte) *StateSyncer {
	return &StateSyncer{
		fetcher:   fetcher,
		db:        db,
		hasher:    hasher,
		blockHash: blockHash,
		timeout:   DefaultStateSyncTimeout,
		cursor:    NewCursor(stateRoot),
		logger:    log.Default().Module("sync.state"),
	}
}

// SetHealing enables healing mode: every 32-byte entry value outside a
// child-storage key that is not already in the local store is
// scheduled as a new cursor level (spec.md §4.8 step 4-5). Healing is
// off by default; child-storage entries are pushed as child levels
// either way.
func (s *StateSyncer) SetHealing(enabled bool) { s.healing = enabled }

// Cursor exposes the syncer's cursor so its frames can be persisted for
// resumption across a restart (spec.md §8 "Sync resumption").
func (s *StateSyncer) Cursor() *Cursor { return s.cursor }

// Resume rebuilds a StateSyncer around an already-in-progress cursor,
// e.g. one reloaded after a crash.
func Resume(fetcher StateFetcher, db storage.Database, hasher runtime.Hasher, blockHash []byte, cursor *Cursor) *StateSyncer {
	return &StateSyncer{
		fetcher:   fetcher,
		db:        db,
		hasher:    hasher,
		blockHash: blockHash,
		timeout:   DefaultStateSyncTimeout,
		cursor:    cursor,
		logger:    log.Default().Module("sync.state"),
	}
}

// Run drives the cursor to completion against peer, issuing one
// StateRequest per round-trip until every level is exhausted.
func (s *StateSyncer) Run(ctx context.Context, peer runtime.PeerID) error {
	for !s.cursor.Done() {
		req := &StateRequest{
			BlockHash: s.blockHash,
			Start:     s.cursor.NextRequestPrefixes(),
		}
		reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := s.fetcher.FetchState(reqCtx, peer, req)
		cancel()
		if err != nil {
			return err
		}
		if err := s.onResponse(resp); err != nil {
			return err
		}
		s.logger.Debug("state sync round trip", "levels_remaining", len(s.cursor.frames))
	}
	return nil
}

// onResponse implements spec.md §4.8 steps 3-6: decode+persist the
// proof, then walk each delivered level, pushing child-trie levels and
// popping exhausted ones.
func (s *StateSyncer) onResponse(resp *StateResponse) error {
	if len(resp.Levels) == 0 {
		return ErrNoLevels
	}
	if len(resp.Proof) > 0 {
		metrics.ProofSize.Observe(float64(len(resp.Proof)))
		if _, err := trie.DecodeCompactProofAndStore(s.hasher, resp.Proof, s.db); err != nil {
			return err
		}
	}

	for _, lvl := range resp.Levels {
		for _, e := range lvl.Entries {
			if child, ok := trie.IsChildStorageKey(e.Key); ok && len(e.Value) == 32 {
				s.cursor.Push(append([]byte{}, e.Value...), tagChild, child)
				continue
			}
			if s.healing {
				s.healUnresolved(e.Value)
			}
		}
		if lvl.Complete {
			if err := s.cursor.Pop(); err != nil {
				return err
			}
		} else if len(lvl.Entries) > 0 {
			last := lvl.Entries[len(lvl.Entries)-1].Key
			s.cursor.Descend(nextNibbleAfter(last))
		}
	}
	return nil
}

// healUnresolved schedules a fresh cursor level for a 32-byte value
// that looks like an unresolved external-hash reference not already
// present in the local store (spec.md §4.8 step 5). onResponse calls
// it only after healing has been enabled with SetHealing.
func (s *StateSyncer) healUnresolved(value []byte) {
	if len(value) != 32 {
		return
	}
	if _, err := s.db.Get(storage.NodeKey(value)); err == nil {
		return // already known locally
	}
	s.cursor.Push(append([]byte{}, value...), tagMain, nil)
}

// nextNibbleAfter derives the high nibble of the byte following key,
// used to resume a partially-delivered level at the next unreturned
// position.
func nextNibbleAfter(key []byte) byte {
	if len(key) == 0 {
		return 0
	}
	return key[len(key)-1]&0x0F + 1
}
