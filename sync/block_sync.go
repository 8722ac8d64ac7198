// block_sync.go implements header-first block synchronization:
// fetching a contiguous ascending range of blocks from a peer in
// fixed-size batches (spec §4.7), plus the single-block variant used
// when an announce's parent is unknown. Batches are fanned out across
// peers concurrently; outstanding per-peer requests are deduplicated
// by a fingerprint of their parameters.
package sync

import (
	"context"
	"encoding/binary"
	"errors"
	gosync "sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/relaynode/relay/log"
	"github.com/relaynode/relay/metrics"
	"github.com/relaynode/relay/runtime"
)

// Block sync errors.
var (
	ErrNoPeers      = errors.New("sync: no peers available for block range")
	ErrBatchAborted = errors.New("sync: batch aborted on gap or bad parent")
	ErrBadRange     = errors.New("sync: from > to in block range")
)

// DefaultBlockBatchSize is the number of blocks requested per batch.
const DefaultBlockBatchSize = 128

// DefaultBlockSyncTimeout is the per-request round-trip timeout
// (spec §5 "Timeouts: Sync requests: 10s per round-trip, default").
const DefaultBlockSyncTimeout = 10 * time.Second

// BlockFetcher performs the actual network round-trip for a
// BlockRequest. Concrete implementations wrap a runtime.StreamTransport
// and the wire framing in this package.
type BlockFetcher interface {
	FetchBlocks(ctx context.Context, peer runtime.PeerID, req *BlockRequest) (*BlockResponse, error)
}

// BlockHandler applies delivered blocks in order; it returns
// ErrBatchAborted (or wraps it) on a gap or bad parent, at which point
// the batch stops early.
type BlockHandler func(blocks []*BlockData) error

// BlockSyncer coordinates batched ascending block range downloads
// across a peer set.
type BlockSyncer struct {
	fetcher   BlockFetcher
	batchSize int
	timeout   time.Duration

	mu        gosync.Mutex
	inFlight  map[runtime.PeerID]map[uint64]*blockFetchCall
	penalties map[runtime.PeerID]int

	logger *log.Logger
}

// NewBlockSyncer builds a BlockSyncer. batchSize and timeout default to
// DefaultBlockBatchSize / DefaultBlockSyncTimeout when zero.
func NewBlockSyncer(fetcher BlockFetcher, batchSize int, timeout time.Duration) *BlockSyncer {
	if batchSize <= 0 {
		batchSize = DefaultBlockBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultBlockSyncTimeout
	}
	return &BlockSyncer{
		fetcher:   fetcher,
		batchSize: batchSize,
		timeout:   timeout,
		inFlight:  make(map[runtime.PeerID]map[uint64]*blockFetchCall),
		penalties: make(map[runtime.PeerID]int),
		logger:    log.Default().Module("sync.block"),
	}
}

// batchRange is one [from, to] (inclusive) ascending sub-range of a sync.
type batchRange struct {
	index int
	from  uint64
	to    uint64
}

// SyncByBlockInfo fetches everything in [from, to] ascending, in
// fixed-size batches fanned out across peers, applying each batch to
// handler in ascending order (spec §4.7 "syncByBlockInfo").
func (s *BlockSyncer) SyncByBlockInfo(ctx context.Context, from, to uint64, peers []runtime.PeerID, handler BlockHandler) error {
	if from > to {
		return ErrBadRange
	}
	if len(peers) == 0 {
		return ErrNoPeers
	}

	metrics.SyncLag.Set(int64(to - from + 1))
	defer metrics.SyncLag.Set(0)

	var batches []batchRange
	for start, idx := from, 0; start <= to; idx++ {
		end := start + uint64(s.batchSize) - 1
		if end > to {
			end = to
		}
		batches = append(batches, batchRange{index: idx, from: start, to: end})
		start = end + 1
	}

	results := make([]*BlockResponse, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		peer := peers[i%len(peers)]
		g.Go(func() error {
			resp, err := s.fetchBatchWithRetry(gctx, batch, peer, peers)
			if err != nil {
				return err
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, resp := range results {
		if resp == nil {
			continue
		}
		if err := handler(resp.Blocks); err != nil {
			return err
		}
	}
	return nil
}

// SyncByBlockHeader fetches the single block identified by header's
// hash from peer — the variant used when an announce's parent is
// unknown (spec §4.7 "syncByBlockHeader").
func (s *BlockSyncer) SyncByBlockHeader(ctx context.Context, blockHash []byte, peer runtime.PeerID, handler BlockHandler) error {
	req := &BlockRequest{
		ID:        0,
		Fields:    0x1F, // all parts
		FromHash:  blockHash,
		Direction: Ascending,
		Max:       1,
	}
	resp, err := s.fetchWithDedup(ctx, peer, req)
	if err != nil {
		return err
	}
	return handler(resp.Blocks)
}

// fetchBatchWithRetry requests one batch from peer, falling back to
// the remaining peers on timeout (spec §4.7 "On timeout ... penalized;
// the fetch is retried against a different peer").
func (s *BlockSyncer) fetchBatchWithRetry(ctx context.Context, batch batchRange, peer runtime.PeerID, peers []runtime.PeerID) (*BlockResponse, error) {
	req := &BlockRequest{
		ID:            uint64(batch.index),
		Fields:        0x1F,
		FromNumber:    batch.from,
		HasFromNumber: true,
		Direction:     Ascending,
		Max:           uint32(batch.to - batch.from + 1),
	}

	tried := make(map[runtime.PeerID]bool)
	candidate := peer
	for {
		tried[candidate] = true
		resp, err := s.fetchWithDedup(ctx, candidate, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.penalize(candidate)
		next, ok := firstUntried(peers, tried)
		if !ok {
			return nil, err
		}
		candidate = next
	}
}

func firstUntried(peers []runtime.PeerID, tried map[runtime.PeerID]bool) (runtime.PeerID, bool) {
	for _, p := range peers {
		if !tried[p] {
			return p, true
		}
	}
	return "", false
}

// blockFetchCall is a single in-flight request shared by every caller
// that issues the same (peer, fingerprint) request before it completes.
type blockFetchCall struct {
	done chan struct{}
	resp *BlockResponse
	err  error
}

// fetchWithDedup issues req to peer, suppressing a duplicate concurrent
// request for the same fingerprint by handing the waiter the first
// caller's result instead of contacting the peer again (spec §4.7 "at
// most one in flight per peer per request fingerprint").
func (s *BlockSyncer) fetchWithDedup(ctx context.Context, peer runtime.PeerID, req *BlockRequest) (*BlockResponse, error) {
	fp := req.Fingerprint()

	s.mu.Lock()
	if s.inFlight[peer] == nil {
		s.inFlight[peer] = make(map[uint64]*blockFetchCall)
	}
	if call, ok := s.inFlight[peer][fp]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &blockFetchCall{done: make(chan struct{})}
	s.inFlight[peer][fp] = call
	s.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	metrics.BlockSyncRequests.Inc()
	resp, err := s.fetcher.FetchBlocks(reqCtx, peer, req)
	if err != nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		metrics.BlockSyncTimeouts.Inc()
		s.logger.Warn("block batch timed out", "peer", string(peer), "fingerprint", fp)
		err = context.DeadlineExceeded
	}
	call.resp, call.err = resp, err

	s.mu.Lock()
	delete(s.inFlight[peer], fp)
	s.mu.Unlock()
	close(call.done)

	return resp, err
}

func (s *BlockSyncer) penalize(peer runtime.PeerID) {
	s.mu.Lock()
	s.penalties[peer]++
	s.mu.Unlock()
}

// Penalty reports how many timeouts peer has accrued.
func (s *BlockSyncer) Penalty(peer runtime.PeerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.penalties[peer]
}

// fingerprintRequest hashes (fields, from, to, direction, max) with
// xxhash to produce the dedup key used by fetchWithDedup.
func fingerprintRequest(fields uint8, fromHash []byte, fromNumber uint64, toHash []byte, direction Direction, max uint32) uint64 {
	h := xxhash.New()
	h.Write([]byte{fields})
	h.Write(fromHash)
	var numBuf [8]byte
	binary.LittleEndian.PutUint64(numBuf[:], fromNumber)
	h.Write(numBuf[:])
	h.Write(toHash)
	h.Write([]byte{byte(direction)})
	var maxBuf [4]byte
	binary.LittleEndian.PutUint32(maxBuf[:], max)
	h.Write(maxBuf[:])
	return h.Sum64()
}
