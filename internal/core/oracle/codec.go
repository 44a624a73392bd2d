package oracle

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Binary codecs for persisted engine state. All integers are
// big-endian; prices are 16-byte two's complement (128-bit signed);
// variable-length fields carry a u16 length prefix.

var (
	i128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	i128Min = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	i128Mod = new(big.Int).Lsh(big.NewInt(1), 128)
)

// fitsInt128 reports whether x is representable as a 128-bit signed integer.
func fitsInt128(x *big.Int) bool {
	return x != nil && x.Cmp(i128Min) >= 0 && x.Cmp(i128Max) <= 0
}

func appendInt128(dst []byte, x *big.Int) []byte {
	v := x
	if x.Sign() < 0 {
		v = new(big.Int).Add(i128Mod, x)
	}
	var out [16]byte
	v.FillBytes(out[:])
	return append(dst, out[:]...)
}

func appendU16(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

func appendU64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

func appendString(dst []byte, s string) []byte {
	dst = appendU16(dst, uint16(len(s)))
	return append(dst, s...)
}

func encodeU32(v uint32) []byte { return appendU32(nil, v) }

func encodeU64(v uint64) []byte { return appendU64(nil, v) }

// reader walks a buffer sequentially, failing on truncation.
type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("truncated value: need %d bytes at offset %d of %d", n, r.off, len(r.buf))
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) int128() (*big.Int, error) {
	b, err := r.take(16)
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(b)
	if b[0]&0x80 != 0 {
		v.Sub(v, i128Mod)
	}
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeU32(buf []byte) (uint32, error) {
	r := reader{buf: buf}
	return r.u32()
}

func decodeU64(buf []byte) (uint64, error) {
	r := reader{buf: buf}
	return r.u64()
}

func decodeInt128(buf []byte) (*big.Int, error) {
	r := reader{buf: buf}
	return r.int128()
}

func encodeAsset(dst []byte, a Asset) []byte {
	dst = append(dst, byte(a.Kind))
	return appendString(dst, a.ID)
}

func (r *reader) asset() (Asset, error) {
	kind, err := r.take(1)
	if err != nil {
		return Asset{}, err
	}
	id, err := r.str()
	if err != nil {
		return Asset{}, err
	}
	return Asset{Kind: AssetKind(kind[0]), ID: id}, nil
}

func encodeAssets(assets []Asset) []byte {
	dst := appendU16(nil, uint16(len(assets)))
	for _, a := range assets {
		dst = encodeAsset(dst, a)
	}
	return dst
}

func decodeAssets(buf []byte) ([]Asset, error) {
	r := reader{buf: buf}
	n, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}
	assets := make([]Asset, 0, n)
	for i := 0; i < int(n); i++ {
		a, err := r.asset()
		if err != nil {
			return nil, fmt.Errorf("decode assets: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

func encodeExpirations(exp []uint64) []byte {
	dst := appendU16(nil, uint16(len(exp)))
	for _, ts := range exp {
		dst = appendU64(dst, ts)
	}
	return dst
}

func decodeExpirations(buf []byte) ([]uint64, error) {
	r := reader{buf: buf}
	n, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("decode expirations: %w", err)
	}
	exp := make([]uint64, 0, n)
	for i := 0; i < int(n); i++ {
		ts, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("decode expirations: %w", err)
		}
		exp = append(exp, ts)
	}
	return exp, nil
}

const (
	feeConfigNone byte = 0
	feeConfigSome byte = 1
)

func encodeFeeConfig(fc *FeeConfig) []byte {
	if fc == nil {
		return []byte{feeConfigNone}
	}
	dst := []byte{feeConfigSome}
	dst = appendString(dst, fc.Token)
	return appendInt128(dst, fc.Fee)
}

func decodeFeeConfig(buf []byte) (*FeeConfig, error) {
	r := reader{buf: buf}
	variant, err := r.take(1)
	if err != nil {
		return nil, fmt.Errorf("decode fee config: %w", err)
	}
	switch variant[0] {
	case feeConfigNone:
		return nil, nil
	case feeConfigSome:
		token, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("decode fee config: %w", err)
		}
		fee, err := r.int128()
		if err != nil {
			return nil, fmt.Errorf("decode fee config: %w", err)
		}
		return &FeeConfig{Token: token, Fee: fee}, nil
	default:
		return nil, fmt.Errorf("decode fee config: unknown variant %d", variant[0])
	}
}

func encodeUpdate(dst []byte, u *PriceUpdate) []byte {
	dst = append(dst, u.Mask[:]...)
	dst = appendU16(dst, uint16(len(u.Prices)))
	for _, p := range u.Prices {
		dst = appendInt128(dst, p)
	}
	return dst
}

func (r *reader) update() (*PriceUpdate, error) {
	mask, err := r.take(32)
	if err != nil {
		return nil, err
	}
	u := &PriceUpdate{}
	copy(u.Mask[:], mask)
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	u.Prices = make([]*big.Int, 0, n)
	for i := 0; i < int(n); i++ {
		p, err := r.int128()
		if err != nil {
			return nil, err
		}
		u.Prices = append(u.Prices, p)
	}
	return u, nil
}

func decodeUpdate(buf []byte) (*PriceUpdate, error) {
	r := reader{buf: buf}
	u, err := r.update()
	if err != nil {
		return nil, fmt.Errorf("decode price record: %w", err)
	}
	return u, nil
}

// cacheEntry is one element of the persisted recency cache, newest first.
type cacheEntry struct {
	timestamp uint64
	update    *PriceUpdate
}

func encodeCache(entries []cacheEntry) []byte {
	dst := appendU16(nil, uint16(len(entries)))
	for _, e := range entries {
		dst = appendU64(dst, e.timestamp)
		dst = encodeUpdate(dst, e.update)
	}
	return dst
}

func decodeCache(buf []byte) ([]cacheEntry, error) {
	r := reader{buf: buf}
	n, err := r.u16()
	if err != nil {
		return nil, fmt.Errorf("decode record cache: %w", err)
	}
	entries := make([]cacheEntry, 0, n)
	for i := 0; i < int(n); i++ {
		ts, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("decode record cache: %w", err)
		}
		u, err := r.update()
		if err != nil {
			return nil, fmt.Errorf("decode record cache: %w", err)
		}
		entries = append(entries, cacheEntry{timestamp: ts, update: u})
	}
	return entries, nil
}
