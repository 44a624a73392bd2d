package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"go.uber.org/zap"
)

func init() {
	Register("pebble", func(opts Options) (Store, error) {
		return NewPebble(opts)
	})
}

// pebbleStore is the default persistent backend.
type pebbleStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	compress  bool
	open      int32
	log       *zap.Logger
}

// NewPebble opens (or creates) a pebble-backed store at opts.Path.
func NewPebble(opts Options) (Store, error) {
	db, err := pebble.Open(opts.Path, buildPebbleOptions(opts))
	if err != nil {
		return nil, storeErr("pebble", "open", err)
	}

	writeOpts := pebble.Sync
	if opts.NoSync {
		writeOpts = pebble.NoSync
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("pebble store opened",
		zap.String("path", opts.Path),
		zap.Bool("no_sync", opts.NoSync),
		zap.String("compressor", opts.Compressor))

	return &pebbleStore{
		db:        db,
		writeOpts: writeOpts,
		compress:  opts.Compressor != "none",
		open:      1,
		log:       log,
	}, nil
}

// buildPebbleOptions tunes pebble for the oracle's workload: small
// values, point lookups dominating, and a modest working set.
func buildPebbleOptions(opts Options) *pebble.Options {
	po := &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20),
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       32,
		MaxOpenFiles:                512,
	}
	po.Levels = make([]pebble.LevelOptions, 4)
	for i := range po.Levels {
		l := &po.Levels[i]
		l.BlockSize = 8 << 10
		l.FilterPolicy = bloom.FilterPolicy(10)
		l.FilterType = pebble.TableFilter
		if i > 0 {
			l.TargetFileSize = po.Levels[i-1].TargetFileSize * 2
		}
		l.EnsureDefaults()
	}
	if opts.Logger != nil {
		po.Logger = opts.Logger.Sugar()
	}
	return po
}

func (p *pebbleStore) Name() string { return "pebble" }

func (p *pebbleStore) checkOpen() error {
	if atomic.LoadInt32(&p.open) == 0 {
		return storeErr("pebble", "access", ErrStoreClosed)
	}
	return nil
}

func (p *pebbleStore) Get(ctx context.Context, class Class, key []byte) ([]byte, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pk := physicalKey(class, key)
	raw, closer, err := p.db.Get(pk)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, storeErr("pebble", "get", err)
	}
	value, deadline, derr := decodeEnvelope(raw)
	_ = closer.Close()
	if derr != nil {
		return nil, storeErr("pebble", "get", derr)
	}
	if expired(deadline, time.Now()) {
		// Lazy removal; Sweep handles the rest.
		_ = p.db.Delete(pk, p.writeOpts)
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (p *pebbleStore) Put(ctx context.Context, class Class, key []byte, value []byte) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	env := encodeEnvelope(value, 0, p.compress)
	if err := p.db.Set(physicalKey(class, key), env, p.writeOpts); err != nil {
		return storeErr("pebble", "put", err)
	}
	return nil
}

func (p *pebbleStore) PutTTL(ctx context.Context, key []byte, value []byte, ttl time.Duration) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	env := encodeEnvelope(value, deadlineFrom(time.Now(), ttl), p.compress)
	if err := p.db.Set(physicalKey(ClassTemporary, key), env, p.writeOpts); err != nil {
		return storeErr("pebble", "put_ttl", err)
	}
	return nil
}

func (p *pebbleStore) ExtendTTL(ctx context.Context, key []byte, ttl time.Duration) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	pk := physicalKey(ClassTemporary, key)
	raw, closer, err := p.db.Get(pk)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrKeyNotFound
		}
		return storeErr("pebble", "extend_ttl", err)
	}
	if len(raw) < envelopeHeaderSize {
		_ = closer.Close()
		return storeErr("pebble", "extend_ttl", ErrCorruptValue)
	}
	current := int64(binary.BigEndian.Uint64(raw[:8]))
	if expired(current, now) {
		_ = closer.Close()
		_ = p.db.Delete(pk, p.writeOpts)
		return ErrKeyNotFound
	}
	deadline := deadlineFrom(now, ttl)
	if deadline <= current {
		_ = closer.Close()
		return nil
	}
	// Patch the deadline in place; the payload bytes are unchanged.
	env := make([]byte, len(raw))
	copy(env, raw)
	_ = closer.Close()
	binary.BigEndian.PutUint64(env[:8], uint64(deadline))
	if err := p.db.Set(pk, env, p.writeOpts); err != nil {
		return storeErr("pebble", "extend_ttl", err)
	}
	return nil
}

func (p *pebbleStore) Delete(ctx context.Context, class Class, key []byte) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.db.Delete(physicalKey(class, key), p.writeOpts); err != nil {
		return storeErr("pebble", "delete", err)
	}
	return nil
}

func (p *pebbleStore) Apply(ctx context.Context, ops []Op) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	batch := p.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		pk := physicalKey(op.Class, op.Key)
		switch op.Type {
		case OpPut:
			var deadline int64
			if op.Class == ClassTemporary {
				deadline = deadlineFrom(now, op.TTL)
			}
			if err := batch.Set(pk, encodeEnvelope(op.Value, deadline, p.compress), nil); err != nil {
				return storeErr("pebble", "batch", err)
			}
		case OpDelete:
			if err := batch.Delete(pk, nil); err != nil {
				return storeErr("pebble", "batch", err)
			}
		}
	}
	if err := batch.Commit(p.writeOpts); err != nil {
		return storeErr("pebble", "batch", err)
	}
	return nil
}

func (p *pebbleStore) Sweep(ctx context.Context) (int, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}

	now := time.Now()
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'t'},
		UpperBound: []byte{'u'},
	})
	if err != nil {
		return 0, storeErr("pebble", "sweep", err)
	}

	var dead [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			_ = iter.Close()
			return 0, err
		}
		raw := iter.Value()
		if len(raw) < envelopeHeaderSize {
			continue
		}
		if expired(int64(binary.BigEndian.Uint64(raw[:8])), now) {
			dead = append(dead, bytes.Clone(iter.Key()))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, storeErr("pebble", "sweep", err)
	}
	if len(dead) == 0 {
		return 0, nil
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	for _, pk := range dead {
		if err := batch.Delete(pk, nil); err != nil {
			return 0, storeErr("pebble", "sweep", err)
		}
	}
	if err := batch.Commit(p.writeOpts); err != nil {
		return 0, storeErr("pebble", "sweep", err)
	}
	p.log.Debug("swept expired entries", zap.Int("removed", len(dead)))
	return len(dead), nil
}

func (p *pebbleStore) Close() error {
	if !atomic.CompareAndSwapInt32(&p.open, 1, 0) {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return storeErr("pebble", "close", err)
	}
	return nil
}
