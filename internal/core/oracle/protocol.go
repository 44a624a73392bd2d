package oracle

import (
	"context"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

// Protocol versions. Version 1 stored prices under per-asset legacy
// keys; version 2 stores one record per period plus the history mask.
const (
	legacyProtocol  uint32 = 1
	currentProtocol uint32 = 2
)

// dayMs is the grace window before a scheduled migration activates.
const dayMs = 24 * 60 * 60 * 1000

func (o *Oracle) protocolVersion(ctx context.Context) (uint32, error) {
	return o.getU32(ctx, keyProtocol, legacyProtocol)
}

// atLatestProtocol reports whether the current protocol is active.
// For legacy state it lazily schedules the migration: the first call
// records the current time, and the version flips once a full day has
// passed, giving readers of the legacy layout time to drain.
func (o *Oracle) atLatestProtocol(ctx context.Context) (bool, error) {
	version, err := o.protocolVersion(ctx)
	if err != nil {
		return false, err
	}
	if version == currentProtocol {
		return true, nil
	}

	now := o.nowMs()
	scheduled, err := o.getU64(ctx, keyProtocolUpdate, 0)
	if err != nil {
		return false, err
	}
	if scheduled == 0 {
		err := o.store.Put(ctx, kv.ClassInstance, []byte(keyProtocolUpdate), encodeU64(now))
		return false, err
	}
	if scheduled+dayMs < now {
		ops := []kv.Op{
			putOp(keyProtocol, encodeU32(currentProtocol)),
			putOp(keyProtocolUpdate, encodeU64(0)),
		}
		if err := o.store.Apply(ctx, ops); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
