package storage

import (
	"errors"

	"github.com/gofrs/flock"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/relaynode/relay/metrics"
)

// LevelDBStore is a disk-backed KeyValueIterator over goleveldb, guarded
// by an advisory flock on the data directory so two node processes never
// open the same store concurrently.
type LevelDBStore struct {
	db   *leveldb.DB
	lock *flock.Flock
}

// OpenLevelDBStore opens (creating if absent) a goleveldb database at dir,
// after acquiring an exclusive advisory lock on dir+"/LOCK".
func OpenLevelDBStore(dir string) (*LevelDBStore, error) {
	lock := flock.New(dir + "/LOCK")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrDataDirLocked
	}

	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &LevelDBStore{db: db, lock: lock}, nil
}

func (s *LevelDBStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	val, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *LevelDBStore) Put(key, value []byte) error {
	metrics.StorageWrites.Inc()
	return s.db.Put(key, value, nil)
}

func (s *LevelDBStore) Delete(key []byte) error {
	metrics.StorageWrites.Inc()
	return s.db.Delete(key, nil)
}

func (s *LevelDBStore) Close() error {
	closeErr := s.db.Close()
	if err := s.lock.Unlock(); err != nil && closeErr == nil {
		return err
	}
	return closeErr
}

// NewBatch creates a new batch writer.
func (s *LevelDBStore) NewBatch() Batch {
	return &levelDBBatch{db: s.db, batch: new(leveldb.Batch)}
}

// NewIterator returns an iterator over all keys with the given prefix.
func (s *LevelDBStore) NewIterator(prefix []byte) Iterator {
	return &levelDBIterator{it: s.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

// ErrDataDirLocked is returned when another process already holds the
// data directory's advisory lock.
var ErrDataDirLocked = errors.New("storage: data directory is locked by another process")

type levelDBBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
	size  int
}

func (b *levelDBBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelDBBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelDBBatch) ValueSize() int { return b.size }

func (b *levelDBBatch) Write() error {
	metrics.StorageBatchBytes.Observe(float64(b.size))
	return b.db.Write(b.batch, nil)
}

func (b *levelDBBatch) Reset() {
	b.batch.Reset()
	b.size = 0
}

type levelDBIterator struct {
	it iterator.Iterator
}

func (it *levelDBIterator) Next() bool    { return it.it.Next() }
func (it *levelDBIterator) Key() []byte   { return it.it.Key() }
func (it *levelDBIterator) Value() []byte { return it.it.Value() }
func (it *levelDBIterator) Release()      { it.it.Release() }
