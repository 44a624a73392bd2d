package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

func init() {
	Register("leveldb", func(opts Options) (Store, error) {
		return NewLevelDB(opts)
	})
}

// levelStore is an alternative persistent backend for deployments that
// prefer leveldb's on-disk format. It shares the value envelope with
// the pebble backend.
type levelStore struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions
	compress  bool
	open      int32
	log       *zap.Logger
}

// NewLevelDB opens (or creates) a leveldb-backed store at opts.Path.
func NewLevelDB(opts Options) (Store, error) {
	db, err := leveldb.OpenFile(opts.Path, &opt.Options{
		Filter:                 filter.NewBloomFilter(10),
		BlockCacheCapacity:     32 << 20,
		WriteBuffer:            16 << 20,
		OpenFilesCacheCapacity: 256,
		NoSync:                 opts.NoSync,
	})
	if err != nil {
		return nil, storeErr("leveldb", "open", err)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("leveldb store opened",
		zap.String("path", opts.Path),
		zap.Bool("no_sync", opts.NoSync))

	return &levelStore{
		db:        db,
		writeOpts: &opt.WriteOptions{Sync: !opts.NoSync},
		compress:  opts.Compressor != "none",
		open:      1,
		log:       log,
	}, nil
}

func (l *levelStore) Name() string { return "leveldb" }

func (l *levelStore) checkOpen() error {
	if atomic.LoadInt32(&l.open) == 0 {
		return storeErr("leveldb", "access", ErrStoreClosed)
	}
	return nil
}

func (l *levelStore) Get(ctx context.Context, class Class, key []byte) ([]byte, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pk := physicalKey(class, key)
	raw, err := l.db.Get(pk, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, storeErr("leveldb", "get", err)
	}
	value, deadline, derr := decodeEnvelope(raw)
	if derr != nil {
		return nil, storeErr("leveldb", "get", derr)
	}
	if expired(deadline, time.Now()) {
		_ = l.db.Delete(pk, l.writeOpts)
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (l *levelStore) Put(ctx context.Context, class Class, key []byte, value []byte) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	env := encodeEnvelope(value, 0, l.compress)
	if err := l.db.Put(physicalKey(class, key), env, l.writeOpts); err != nil {
		return storeErr("leveldb", "put", err)
	}
	return nil
}

func (l *levelStore) PutTTL(ctx context.Context, key []byte, value []byte, ttl time.Duration) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	env := encodeEnvelope(value, deadlineFrom(time.Now(), ttl), l.compress)
	if err := l.db.Put(physicalKey(ClassTemporary, key), env, l.writeOpts); err != nil {
		return storeErr("leveldb", "put_ttl", err)
	}
	return nil
}

func (l *levelStore) ExtendTTL(ctx context.Context, key []byte, ttl time.Duration) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	pk := physicalKey(ClassTemporary, key)
	raw, err := l.db.Get(pk, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ErrKeyNotFound
		}
		return storeErr("leveldb", "extend_ttl", err)
	}
	if len(raw) < envelopeHeaderSize {
		return storeErr("leveldb", "extend_ttl", ErrCorruptValue)
	}
	current := int64(binary.BigEndian.Uint64(raw[:8]))
	if expired(current, now) {
		_ = l.db.Delete(pk, l.writeOpts)
		return ErrKeyNotFound
	}
	deadline := deadlineFrom(now, ttl)
	if deadline <= current {
		return nil
	}
	binary.BigEndian.PutUint64(raw[:8], uint64(deadline))
	if err := l.db.Put(pk, raw, l.writeOpts); err != nil {
		return storeErr("leveldb", "extend_ttl", err)
	}
	return nil
}

func (l *levelStore) Delete(ctx context.Context, class Class, key []byte) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Delete(physicalKey(class, key), l.writeOpts); err != nil {
		return storeErr("leveldb", "delete", err)
	}
	return nil
}

func (l *levelStore) Apply(ctx context.Context, ops []Op) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	batch := new(leveldb.Batch)
	for _, op := range ops {
		pk := physicalKey(op.Class, op.Key)
		switch op.Type {
		case OpPut:
			var deadline int64
			if op.Class == ClassTemporary {
				deadline = deadlineFrom(now, op.TTL)
			}
			batch.Put(pk, encodeEnvelope(op.Value, deadline, l.compress))
		case OpDelete:
			batch.Delete(pk)
		}
	}
	if err := l.db.Write(batch, l.writeOpts); err != nil {
		return storeErr("leveldb", "batch", err)
	}
	return nil
}

func (l *levelStore) Sweep(ctx context.Context) (int, error) {
	if err := l.checkOpen(); err != nil {
		return 0, err
	}

	now := time.Now()
	iter := l.db.NewIterator(util.BytesPrefix([]byte{'t'}), nil)

	var dead [][]byte
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			iter.Release()
			return 0, err
		}
		raw := iter.Value()
		if len(raw) < envelopeHeaderSize {
			continue
		}
		if expired(int64(binary.BigEndian.Uint64(raw[:8])), now) {
			pk := make([]byte, len(iter.Key()))
			copy(pk, iter.Key())
			dead = append(dead, pk)
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, storeErr("leveldb", "sweep", err)
	}
	if len(dead) == 0 {
		return 0, nil
	}

	batch := new(leveldb.Batch)
	for _, pk := range dead {
		batch.Delete(pk)
	}
	if err := l.db.Write(batch, l.writeOpts); err != nil {
		return 0, storeErr("leveldb", "sweep", err)
	}
	l.log.Debug("swept expired entries", zap.Int("removed", len(dead)))
	return len(dead), nil
}

func (l *levelStore) Close() error {
	if !atomic.CompareAndSwapInt32(&l.open, 1, 0) {
		return nil
	}
	if err := l.db.Close(); err != nil {
		return storeErr("leveldb", "close", err)
	}
	return nil
}
