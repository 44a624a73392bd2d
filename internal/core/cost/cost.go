// Package cost estimates invocation charges for oracle queries. Every
// query method maps to a complexity class; the per-class base costs
// and the multi-period modifier live in a single stored table that the
// administrator can replace at runtime. Estimation is informational,
// fee settlement happens elsewhere.
package cost

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/stelliform/go-oracled/internal/core/oracle"
	"github.com/stelliform/go-oracled/internal/storage/kv"
)

// Class indexes the cost table.
type Class uint32

const (
	// ClassModifier is the table slot holding the per-period cost
	// modifier, not a chargeable class itself.
	ClassModifier Class = iota
	ClassPrice
	ClassTWAP
	ClassCrossPrice
	ClassCrossTWAP
)

// scale normalizes the modifier math: a modifier of scale doubles the
// cost for every extra period.
const scale = 10_000_000

const costKey = "cost"

func defaultTable() []uint64 {
	return []uint64{2_000_000, 10_000_000, 15_000_000, 20_000_000, 30_000_000}
}

// FeeSource reports the active fee configuration. Estimation is free
// of charge whenever fees are disabled.
type FeeSource interface {
	FeeConfig(ctx context.Context) (*oracle.FeeConfig, error)
}

// Model reads and updates the stored cost table.
type Model struct {
	store kv.Store
	fees  FeeSource
}

func NewModel(store kv.Store, fees FeeSource) *Model {
	return &Model{store: store, fees: fees}
}

// Costs returns the active cost table, falling back to the defaults
// when none was ever stored.
func (m *Model) Costs(ctx context.Context) ([]uint64, error) {
	raw, err := m.store.Get(ctx, kv.ClassInstance, []byte(costKey))
	if err != nil {
		if kv.IsNotFound(err) {
			return defaultTable(), nil
		}
		return nil, err
	}
	return decodeTable(raw)
}

// SetCosts replaces the cost table.
func (m *Model) SetCosts(ctx context.Context, costs []uint64) error {
	return m.store.Put(ctx, kv.ClassInstance, []byte(costKey), encodeTable(costs))
}

// Estimate returns the charge for one invocation of the given class
// spanning the given number of periods.
func (m *Model) Estimate(ctx context.Context, class Class, periods uint32) (uint64, error) {
	fc, err := m.fees.FeeConfig(ctx)
	if err != nil {
		return 0, err
	}
	if fc == nil {
		return 0, nil
	}

	costs, err := m.Costs(ctx)
	if err != nil {
		return 0, err
	}
	var base uint64
	if int(class) < len(costs) {
		base = costs[class]
	}
	if base < 1 {
		return 0, nil
	}
	if periods > 1 {
		modifier := costs[ClassModifier]
		if modifier > 0 {
			base = base * (scale + uint64(periods-1)*modifier) / scale
		}
	}
	return base, nil
}

func encodeTable(costs []uint64) []byte {
	dst := binary.BigEndian.AppendUint16(nil, uint16(len(costs)))
	for _, c := range costs {
		dst = binary.BigEndian.AppendUint64(dst, c)
	}
	return dst
}

func decodeTable(buf []byte) ([]uint64, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("decode cost table: truncated header")
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) != n*8 {
		return nil, fmt.Errorf("decode cost table: want %d entries, have %d bytes", n, len(buf))
	}
	costs := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		costs = append(costs, binary.BigEndian.Uint64(buf[i*8:]))
	}
	return costs, nil
}
