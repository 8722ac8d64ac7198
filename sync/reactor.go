// reactor.go implements the single cooperative reactor that owns the
// network and the slot timer (spec.md §5 "Scheduling"). Every event —
// a slot tick, a peer's block announcement, a completed sync round —
// flows through one explicit on_event dispatch rather than nested
// callbacks, so the control flow stays traceable under concurrent I/O.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/relaynode/relay/block"
	"github.com/relaynode/relay/importer"
	"github.com/relaynode/relay/log"
	"github.com/relaynode/relay/producer"
	"github.com/relaynode/relay/runtime"
)

// ErrReactorStopped is returned by Run once the reactor has been asked
// to shut down.
var ErrReactorStopped = errors.New("sync: reactor stopped")

// EventKind tags what woke the reactor up.
type EventKind int

const (
	EventSlotTick EventKind = iota
	EventBlockAnnounced
	EventImportDone
	EventShutdown
)

// BlockAnnounce is a peer telling the reactor about a new head.
type BlockAnnounce struct {
	Peer   runtime.PeerID
	Header *block.Header
	Body   *block.Body
}

// Event is one unit of work the reactor dispatches.
type Event struct {
	Kind     EventKind
	Slot     uint64
	Announce *BlockAnnounce
}

// Reactor drives slot production and block import/sync from a single
// goroutine. Slot production, block import (execution included) and
// parent fetches all run on that goroutine; there are no worker
// goroutines.
type Reactor struct {
	events      chan Event
	slotPeriod  time.Duration
	producer    *producer.Producer
	importer    *importer.Importer
	blockSync   *BlockSyncer
	budget      producer.Budget
	logger      *log.Logger
}

// NewReactor builds a Reactor. slotPeriod drives the synthetic slot
// clock that emits EventSlotTick.
func NewReactor(slotPeriod time.Duration, p *producer.Producer, im *importer.Importer, bs *BlockSyncer) *Reactor {
	return &Reactor{
		events:     make(chan Event, 64),
		slotPeriod: slotPeriod,
		producer:   p,
		importer:   im,
		blockSync:  bs,
		logger:     log.Default().Module("sync.reactor"),
	}
}

// Announce enqueues a peer's block announcement for processing on the
// reactor goroutine.
func (r *Reactor) Announce(a *BlockAnnounce) {
	r.events <- Event{Kind: EventBlockAnnounced, Announce: a}
}

// Shutdown asks Run to return after draining any already-queued event.
func (r *Reactor) Shutdown() {
	r.events <- Event{Kind: EventShutdown}
}

// Run is the reactor's single event loop: a slot ticker feeds
// EventSlotTick, external callers feed EventBlockAnnounced/EventShutdown
// via Announce/Shutdown, and every event is dispatched through onEvent.
// Run returns ErrReactorStopped on a clean shutdown, or ctx.Err() if ctx
// is cancelled first.
func (r *Reactor) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.slotPeriod)
	defer ticker.Stop()

	var slot uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			slot = slotAt(t, r.slotPeriod)
			if err := r.onEvent(ctx, Event{Kind: EventSlotTick, Slot: slot}); err != nil {
				return err
			}
		case ev := <-r.events:
			if err := r.onEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// onEvent is the reactor's single dispatch point (spec.md §9 "explicit
// on_event state machine, not nested callbacks").
func (r *Reactor) onEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventSlotTick:
		return r.handleSlotTick(ctx, ev.Slot)
	case EventBlockAnnounced:
		return r.handleAnnounce(ctx, ev.Announce)
	case EventImportDone:
		return nil
	case EventShutdown:
		return ErrReactorStopped
	default:
		return nil
	}
}

func (r *Reactor) handleSlotTick(ctx context.Context, slot uint64) error {
	if r.producer == nil {
		return nil
	}
	budget := r.budget
	if budget.SlotDeadline.IsZero() {
		budget.SlotDeadline = time.Now().Add(r.slotPeriod)
	}
	blk, err := r.producer.RunSlot(ctx, slot, budget)
	if err != nil {
		r.logger.Error("slot production failed", "slot", slot, "err", err)
		return nil
	}
	if blk != nil {
		r.logger.Info("produced block", "slot", slot, "number", blk.Header.Number)
	}
	return nil
}

func (r *Reactor) handleAnnounce(ctx context.Context, a *BlockAnnounce) error {
	if a == nil || r.importer == nil {
		return nil
	}
	_, err := r.importer.Import(a.Header, a.Body)
	if err == nil {
		return nil
	}
	ie, ok := err.(*importer.ImportError)
	if !ok {
		r.logger.Error("import failed", "err", err)
		return nil
	}
	switch ie.Kind {
	case importer.ParentNotFound:
		if r.blockSync == nil {
			return nil
		}
		if syncErr := r.blockSync.SyncByBlockHeader(ctx, a.Header.ParentHash[:], a.Peer, func(blocks []*BlockData) error {
			return nil // the fetched parent is not imported here
		}); syncErr != nil {
			r.logger.Warn("parent fetch failed", "peer", string(a.Peer), "err", syncErr)
		}
	case importer.InvalidBlock:
		r.logger.Warn("rejected invalid block announcement", "peer", string(a.Peer), "err", ie.Err)
	default:
		r.logger.Error("import failed", "err", ie.Err)
	}
	return nil
}

func slotAt(t time.Time, period time.Duration) uint64 {
	return uint64(t.UnixNano()) / uint64(period.Nanoseconds())
}
