// Package importer drives the per-block import state machine: header
// validation, body fetch, execution, commit, and finalization.
package importer

import (
	"context"
	"errors"

	"github.com/relaynode/relay/block"
	"github.com/relaynode/relay/changes"
	"github.com/relaynode/relay/consensus"
	"github.com/relaynode/relay/log"
	"github.com/relaynode/relay/metrics"
	"github.com/relaynode/relay/runtime"
	"github.com/relaynode/relay/storage"
	"github.com/relaynode/relay/trie"
)

// State tags where a block currently sits in the import pipeline
// (spec.md §4.5).
type State int

const (
	Received State = iota
	AwaitingParent
	HeaderValidated
	BodyFetch
	Executed
	Committed
	Finalized
	Rejected
)

// FailureKind classifies why an import failed, driving retry policy.
type FailureKind int

const (
	InvalidBlock FailureKind = iota
	ParentNotFound
	InternalError
)

// ImportError carries a FailureKind alongside the underlying cause.
type ImportError struct {
	Kind FailureKind
	Err  error
}

func (e *ImportError) Error() string { return e.Err.Error() }
func (e *ImportError) Unwrap() error { return e.Err }

func invalidBlock(err error) error  { return &ImportError{Kind: InvalidBlock, Err: err} }
func parentNotFound(err error) error { return &ImportError{Kind: ParentNotFound, Err: err} }
func internalError(err error) error { return &ImportError{Kind: InternalError, Err: err} }

var (
	errUnknownParent    = errors.New("importer: parent block not known")
	errBadSeal          = errors.New("importer: seal signature invalid")
	errBadPreDigest     = errors.New("importer: missing or invalid consensus pre-digest")
	errStateRootMismatch = errors.New("importer: post-execution state_root mismatch")
)

// BodyFetcher requests a block's body from the network, shaped by a
// part bitfield (spec.md §4.5 step 2).
type BodyFetcher interface {
	FetchBody(blockHash runtime.Hash, parts PartsBitfield) (block.Body, error)
}

// PartsBitfield selects which parts of a block a request asks for.
type PartsBitfield uint8

const (
	PartHeader PartsBitfield = 1 << iota
	PartBody
	PartReceipt
	PartMessageQueue
	PartJustification
)

// ChainStore is the minimal block-tree persistence surface the importer
// needs: header/body storage, canonical-number mapping, and finality.
type ChainStore interface {
	GetHeader(hash runtime.Hash) (*block.Header, error)
	PutHeader(hash runtime.Hash, h *block.Header) error
	PutBody(hash runtime.Hash, b block.Body) error
	SetNumberToHash(number uint64, hash runtime.Hash) error
	SetBest(hash runtime.Hash) error
	SetFinalized(hash runtime.Hash) error
}

// Importer runs the import pipeline (see State) for announced blocks.
type Importer struct {
	hasher  runtime.Hasher
	engine  runtime.RuntimeEngine
	fetcher BodyFetcher
	store   ChainStore
	epochs  *consensus.EpochTree
	db      *trie.NodeDB
	stateVersion int

	logger *log.Logger
}

// New builds an Importer over the given capabilities.
func New(hasher runtime.Hasher, engine runtime.RuntimeEngine, fetcher BodyFetcher, store ChainStore, epochs *consensus.EpochTree, db *trie.NodeDB, stateVersion int) *Importer {
	return &Importer{
		hasher: hasher, engine: engine, fetcher: fetcher, store: store, epochs: epochs, db: db, stateVersion: stateVersion,
		logger: log.Default().Module("importer"),
	}
}

// Import runs h (with an optional already-known body) through the full
// pipeline, returning the state it reached. A non-nil error is always
// an *ImportError.
func (im *Importer) Import(h *block.Header, body *block.Body) (State, error) {
	parent, err := im.store.GetHeader(h.ParentHash)
	if err != nil {
		im.logger.Debug("parent not found", "parent", h.ParentHash)
		return AwaitingParent, parentNotFound(errUnknownParent)
	}

	if err := im.validateHeader(h, parent); err != nil {
		metrics.BlocksRejected.Inc()
		im.logger.Warn("header validation failed", "number", h.Number, "err", err)
		return Rejected, invalidBlock(err)
	}

	if body == nil {
		fetched, err := im.fetcher.FetchBody(mustHash(im.hasher, h), PartBody)
		if err != nil {
			return HeaderValidated, internalError(err)
		}
		body = &fetched
	}

	postRoot, tracker, err := im.execute(parent, h, *body)
	if err != nil {
		metrics.BlocksRejected.Inc()
		return BodyFetch, invalidBlock(err)
	}
	if postRoot != h.StateRoot {
		metrics.BlocksRejected.Inc()
		return BodyFetch, invalidBlock(errStateRootMismatch)
	}
	_ = tracker // the changes-trie root is neither built nor compared against h.Digest here

	if err := im.commit(h, *body); err != nil {
		return Executed, internalError(err)
	}

	metrics.BlocksImported.Inc()
	im.logger.Info("committed block", "number", h.Number)
	return Committed, nil
}

// validateHeader checks the parent link (hash and number) and that h
// carries a BABE pre-digest item and a trailing seal item. Only their
// presence is checked: the VRF proof and the seal signature are not
// verified, and no epoch is spliced into the epoch tree.
func (im *Importer) validateHeader(h, parent *block.Header) error {
	if h.ParentHash != mustHash(im.hasher, parent) {
		return errUnknownParent
	}
	if h.Number != parent.Number+1 {
		return errUnknownParent
	}
	if _, ok := h.PreRuntimeData(); !ok {
		return errBadPreDigest
	}
	if _, ok := h.SealData(); !ok {
		return errBadSeal
	}
	return nil
}

// execute calls the runtime against a trie view rooted at parent's
// state_root, routing every mutation through an overlay so changes-trie
// tracking observes it, and returns the resulting state root.
func (im *Importer) execute(parent, h *block.Header, body block.Body) (runtime.Hash, *changes.Tracker, error) {
	timer := metrics.NewTimer(metrics.ExecuteDuration)
	defer timer.Stop()

	view := trie.LoadTrie(im.db, im.hasher, im.stateVersion, parent.StateRoot[:])
	overlay := trie.NewWorkingState(view)
	tracker := changes.NewTracker(h.Number)

	enc, err := encodeExecuteBlockCall(h, body)
	if err != nil {
		return runtime.Hash{}, nil, err
	}
	if _, err := im.engine.Call(context.Background(), overlayStateView{overlay}, "Core_execute_block", enc); err != nil {
		return runtime.Hash{}, nil, err
	}
	if err := overlay.Commit(tracker); err != nil {
		return runtime.Hash{}, nil, err
	}
	root, err := view.Root()
	return root, tracker, err
}

// commit persists the overlay's underlying trie batch and the block's
// header/body, then updates the block tree. Ordering guarantees
// atomicity: nothing is written until execution has already succeeded
// and the root has already been checked by the caller.
func (im *Importer) commit(h *block.Header, body block.Body) error {
	hash := mustHash(im.hasher, h)
	view := trie.LoadTrie(im.db, im.hasher, im.stateVersion, h.StateRoot[:])
	if _, err := view.Commit(nil); err != nil {
		return err
	}
	if err := im.store.PutHeader(hash, h); err != nil {
		return err
	}
	if err := im.store.PutBody(hash, body); err != nil {
		return err
	}
	if err := im.store.SetNumberToHash(h.Number, hash); err != nil {
		return err
	}
	return im.store.SetBest(hash)
}

// Finalize marks hash and its ancestors final. Pruning non-finalized
// siblings is left to the caller's ChainStore implementation, which
// owns the block-tree shape.
func (im *Importer) Finalize(hash runtime.Hash) error {
	if err := im.store.SetFinalized(hash); err != nil {
		return err
	}
	im.logger.Info("finalized block", "hash", hash)
	return nil
}

func mustHash(h runtime.Hasher, hdr *block.Header) runtime.Hash {
	hash, _ := hdr.Hash(h)
	return hash
}

// overlayStateView adapts a WorkingState to runtime.StateView.
type overlayStateView struct{ w *trie.WorkingState }

func (v overlayStateView) Get(key []byte) ([]byte, error) {
	val, ok, err := v.w.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return val, nil
}

// encodeExecuteBlockCall builds the argument bytes for the runtime's
// Core_execute_block entry point: the SCALE encoding of the block.
func encodeExecuteBlockCall(h *block.Header, body block.Body) ([]byte, error) {
	headerEnc, err := h.Encode()
	if err != nil {
		return nil, err
	}
	return append(headerEnc, blockBodyEncode(body)...), nil
}

func blockBodyEncode(body block.Body) []byte {
	return block.EncodeBody(body)
}
