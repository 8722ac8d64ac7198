package trie

import (
	"encoding/binary"
	"sync"

	"github.com/relaynode/relay/log"
	"github.com/relaynode/relay/scale"
	"github.com/relaynode/relay/storage"
)

var dbLogger = log.Default().Module("trie.db")

// NodeDB is the ref-counted, content-addressed node store backing a
// trie: keys are Merkle values, values are node encodings. A node is
// physically deleted only once its reference count reaches zero, and
// every commit records a journal entry so a later revert can undo it
// without a full GC pass (spec.md §4.2 "Ref-counting").
type NodeDB struct {
	mu  sync.Mutex
	kv  storage.Database
	seq uint64
}

// NewNodeDB wraps a storage.Database as a ref-counted node store. seq
// starts at 0; callers that reopen an existing store should restore it
// from the highest journal key observed (left to the caller, since
// NodeDB has no way to distinguish "fresh" from "empty but used" stores).
func NewNodeDB(kv storage.Database) *NodeDB {
	return &NodeDB{kv: kv}
}

// Get returns the encoded bytes for the node addressed by merkleValue.
func (d *NodeDB) Get(merkleValue []byte) ([]byte, error) {
	val, err := d.kv.Get(storage.NodeKey(merkleValue))
	if err == storage.ErrNotFound {
		return nil, ErrNodeNotFound
	}
	return val, err
}

// journalEntry records one commit's effect on ref counts, so Revert can
// walk it backwards.
type journalEntry struct {
	Inserted [][]byte
	Released [][]byte
}

// CommitBatch atomically applies a commit's node insertions and
// releases: each inserted merkle value has its ref count incremented
// (writing the node bytes the first time its count goes 0->1); each
// released value has its ref count decremented, and is deleted once the
// count reaches zero. A journal entry is written recording exactly what
// happened, and its sequence number is returned so the caller can later
// pass it to Revert.
func (d *NodeDB) CommitBatch(inserted map[string][]byte, released [][]byte) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.kv.NewBatch()
	entry := journalEntry{}

	for mv, encoded := range inserted {
		count, err := d.refCount([]byte(mv))
		if err != nil {
			return 0, err
		}
		if count == 0 {
			if err := batch.Put(storage.NodeKey([]byte(mv)), encoded); err != nil {
				return 0, err
			}
		}
		count++
		if err := batch.Put(storage.RefCountKey([]byte(mv)), encodeRefCount(count)); err != nil {
			return 0, err
		}
		entry.Inserted = append(entry.Inserted, []byte(mv))
	}

	for _, mv := range released {
		count, err := d.refCount(mv)
		if err != nil {
			return 0, err
		}
		if count == 0 {
			continue // already absent; nothing to release
		}
		count--
		if count == 0 {
			if err := batch.Delete(storage.RefCountKey(mv)); err != nil {
				return 0, err
			}
			if err := batch.Delete(storage.NodeKey(mv)); err != nil {
				return 0, err
			}
		} else {
			if err := batch.Put(storage.RefCountKey(mv), encodeRefCount(count)); err != nil {
				return 0, err
			}
		}
		entry.Released = append(entry.Released, mv)
	}

	d.seq++
	seq := d.seq
	journalBytes, err := scale.EncodeToBytes(entry)
	if err != nil {
		return 0, err
	}
	if err := batch.Put(storage.JournalKey(seq), journalBytes); err != nil {
		return 0, err
	}

	return seq, batch.Write()
}

// Revert undoes the commit recorded at the given journal sequence
// number: nodes it inserted are released, and nodes it released are
// re-inserted (their bytes are recovered from the still-present node
// entry if its ref count had not yet hit zero, otherwise the caller
// must supply them again via CommitBatch — reverting past a physical
// deletion requires the deleted bytes from elsewhere, e.g. a peer).
func (d *NodeDB) Revert(seq uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.kv.Get(storage.JournalKey(seq))
	if err != nil {
		return err
	}
	var entry journalEntry
	if err := scale.Decode(raw, &entry); err != nil {
		return err
	}

	batch := d.kv.NewBatch()
	for _, mv := range entry.Inserted {
		count, err := d.refCount(mv)
		if err != nil {
			return err
		}
		if count <= 1 {
			if err := batch.Delete(storage.RefCountKey(mv)); err != nil {
				return err
			}
			if err := batch.Delete(storage.NodeKey(mv)); err != nil {
				return err
			}
		} else {
			if err := batch.Put(storage.RefCountKey(mv), encodeRefCount(count-1)); err != nil {
				return err
			}
		}
	}
	for _, mv := range entry.Released {
		count, err := d.refCount(mv)
		if err != nil {
			return err
		}
		if err := batch.Put(storage.RefCountKey(mv), encodeRefCount(count+1)); err != nil {
			return err
		}
	}
	if err := batch.Delete(storage.JournalKey(seq)); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	dbLogger.Warn("reverted commit", "seq", seq, "inserted", len(entry.Inserted), "released", len(entry.Released))
	return nil
}

func (d *NodeDB) refCount(merkleValue []byte) (uint64, error) {
	raw, err := d.kv.Get(storage.RefCountKey(merkleValue))
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeRefCount(n uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, n)
	return out
}
