package producer

import (
	"context"
	"time"

	"github.com/relaynode/relay/block"
	"github.com/relaynode/relay/consensus"
	"github.com/relaynode/relay/log"
	"github.com/relaynode/relay/metrics"
	"github.com/relaynode/relay/runtime"
)

// UnfinalizedSlack is the best-minus-finalized gap beyond which
// authoring backs off (spec.md §4.6).
const UnfinalizedSlack = 50

// maxBackoffSlots caps the backoff interval.
const maxBackoffSlots = 100

// BackoffSlots computes spec.md §4.6's backoff formula:
// (best - finalized - 50) / 2, capped at 100, or 0 if finality is not
// lagging.
func BackoffSlots(best, finalized uint64) uint64 {
	if best <= finalized+UnfinalizedSlack {
		return 0
	}
	interval := (best - finalized - UnfinalizedSlack) / 2
	if interval > maxBackoffSlots {
		return maxBackoffSlots
	}
	return interval
}

// ChainState reports the current best/finalized chain position, the
// epoch randomness and authority set current at a slot, and the
// current full header for a block hash.
type ChainState interface {
	Best() (runtime.Hash, uint64, error)
	Finalized() (uint64, error)
	Header(hash runtime.Hash) (*block.Header, error)
	EpochRandomness(slot uint64) ([32]byte, uint64, error) // randomness, authority total weight
}

// Inherents asks the runtime for the inherent extrinsics (timestamp,
// parachain bits, etc.) to open a proposal with.
type Inherents interface {
	InherentExtrinsics(parent runtime.Hash, slot uint64) ([][]byte, error)
}

// Announcer broadcasts a freshly baked block to the network.
type Announcer interface {
	Announce(h *block.Header, b block.Body) error
}

// Budget bounds how much of a slot a proposal may spend: an
// encoded-size ceiling and a wall-clock deadline.
type Budget struct {
	MaxEncodedSize int
	SlotDeadline   time.Time
}

// Producer runs the slot loop for a single authority.
type Producer struct {
	authorityIndex uint32
	signer         runtime.Signer
	hasher         runtime.Hasher
	chain          ChainState
	inherents      Inherents
	pool           *Pool
	announcer      Announcer

	// depthTolerance bounds how much deeper a new best block may
	// reorg past the in-flight proposal's parent before it is
	// abandoned (spec.md §4.6 "Cancellation").
	depthTolerance uint64

	logger *log.Logger
}

// New builds a Producer.
func New(authorityIndex uint32, signer runtime.Signer, hasher runtime.Hasher, chain ChainState, inherents Inherents, pool *Pool, announcer Announcer, depthTolerance uint64) *Producer {
	return &Producer{
		authorityIndex: authorityIndex,
		signer:         signer,
		hasher:         hasher,
		chain:          chain,
		inherents:      inherents,
		pool:           pool,
		announcer:      announcer,
		depthTolerance: depthTolerance,
		logger:         log.Default().Module("producer"),
	}
}

// RunSlot executes one iteration of the slot loop for the given slot:
// claim check, proposer assembly, drain, bake, seal, announce. It
// returns (nil, nil) when the authority is not slot leader or authoring
// is backed off.
func (p *Producer) RunSlot(ctx context.Context, slot uint64, budget Budget) (*block.Block, error) {
	best, bestNumber, err := p.chain.Best()
	if err != nil {
		return nil, err
	}
	finalized, err := p.chain.Finalized()
	if err != nil {
		return nil, err
	}
	if backoff := BackoffSlots(bestNumber, finalized); backoff > 0 && slot%backoff != 0 {
		p.logger.Debug("authoring backed off", "slot", slot, "backoff", backoff)
		return nil, nil
	}

	randomness, totalWeight, err := p.chain.EpochRandomness(slot)
	if err != nil {
		return nil, err
	}
	threshold := consensus.Threshold(1, totalWeight, 1, 4)
	proof, err := consensus.ClaimSlot(p.signer, p.hasher, randomness, slot, p.authorityIndex, threshold)
	if err == consensus.ErrVRFNotSlotLeader {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	metrics.SlotsClaimed.Inc()
	p.logger.Debug("claimed slot", "slot", slot, "authority", p.authorityIndex)

	parent, err := p.chain.Header(best)
	if err != nil {
		return nil, err
	}

	inherentExts, err := p.inherents.InherentExtrinsics(best, slot)
	if err != nil {
		return nil, err
	}

	var body block.Body
	body.Extrinsics = append(body.Extrinsics, inherentExts...)

	encodedSize := bodyEncodedSize(body)
	cancelled := false
	taken := p.pool.Drain(func(data []byte) bool {
		select {
		case <-ctx.Done():
			cancelled = true
			return false
		default:
		}
		if time.Now().After(budget.SlotDeadline) {
			return false
		}
		if budget.MaxEncodedSize > 0 && encodedSize+len(data) > budget.MaxEncodedSize {
			return false
		}
		if p.deepened(best) {
			cancelled = true
			return false
		}
		encodedSize += len(data)
		return true
	})
	body.Extrinsics = append(body.Extrinsics, taken...)
	if cancelled {
		p.logger.Debug("proposal cancelled", "slot", slot)
		return nil, nil
	}

	header, err := p.bake(parent, body, slot, proof)
	if err != nil {
		return nil, err
	}

	if err := p.announcer.Announce(header, body); err != nil {
		return nil, err
	}
	metrics.BlocksAnnounced.Inc()
	p.logger.Info("announced block", "slot", slot, "number", header.Number, "extrinsics", len(body.Extrinsics))
	return &block.Block{Header: header, Body: body}, nil
}

// deepened reports whether the chain's current best block has moved
// past parent by more than depthTolerance since the proposal opened —
// the cancellation trigger (spec.md §4.6).
func (p *Producer) deepened(parent runtime.Hash) bool {
	best, bestNumber, err := p.chain.Best()
	if err != nil || best == parent {
		return false
	}
	parentHeader, err := p.chain.Header(parent)
	if err != nil {
		return false
	}
	return bestNumber > parentHeader.Number+p.depthTolerance
}

// bake finalizes the block: computes extrinsics_root, appends the BABE
// pre-digest and a seal (signature over the header hash) to the digest.
// The body is not executed: state_root is copied from the parent.
func (p *Producer) bake(parent *block.Header, body block.Body, slot uint64, proof *consensus.VRFProof) (*block.Header, error) {
	extrinsicsRoot, err := block.ExtrinsicsRoot(p.hasher, body)
	if err != nil {
		return nil, err
	}

	h := &block.Header{
		Number:         parent.Number + 1,
		ExtrinsicsRoot: extrinsicsRoot,
		StateRoot:      parent.StateRoot, // the parent's root, carried unchanged into the announced header
	}
	h.ParentHash, err = parent.Hash(p.hasher)
	if err != nil {
		return nil, err
	}

	preDigest := encodePreDigest(slot, p.authorityIndex, proof)
	h.Digest = append(h.Digest, block.DigestItem{Kind: block.DigestPreRuntime, Data: preDigest})

	unsealedHash, err := h.Hash(p.hasher)
	if err != nil {
		return nil, err
	}
	sig, err := p.signer.Sign(unsealedHash[:])
	if err != nil {
		return nil, err
	}
	h.Digest = append(h.Digest, block.DigestItem{Kind: block.DigestSeal, Data: sig})
	return h, nil
}

func encodePreDigest(slot uint64, authorityIndex uint32, proof *consensus.VRFProof) []byte {
	out := make([]byte, 8+4)
	for i := 0; i < 8; i++ {
		out[i] = byte(slot >> (8 * uint(i)))
	}
	for i := 0; i < 4; i++ {
		out[8+i] = byte(authorityIndex >> (8 * uint(i)))
	}
	out = append(out, proof.Output[:]...)
	return append(out, proof.Proof...)
}

func bodyEncodedSize(b block.Body) int {
	return len(block.EncodeBody(b))
}
