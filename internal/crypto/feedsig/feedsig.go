// Package feedsig authenticates price updates submitted by a feeder.
// The feeder signs the canonical digest of an update with its
// secp256k1 key; the daemon verifies the DER signature against the
// configured feed public key before the update reaches the engine.
package feedsig

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/stelliform/go-oracled/internal/core/oracle"
)

// UpdatePrefix is the domain separator prepended to the signing data
// of a price update ("UPD\0").
var UpdatePrefix = []byte{0x55, 0x50, 0x44, 0x00}

var (
	// ErrInvalidPublicKey is returned when the feed key is not a
	// 33-byte compressed secp256k1 point.
	ErrInvalidPublicKey = errors.New("invalid feed public key")
)

// compressedKeyLen is the length of a compressed secp256k1 public key.
const compressedKeyLen = 33

var twoPow128 = new(big.Int).Lsh(big.NewInt(1), 128)

// Verifier checks update signatures against a fixed feed public key.
type Verifier struct {
	key *btcec.PublicKey
}

// NewVerifier parses a hex-encoded compressed public key.
func NewVerifier(compressedHex string) (*Verifier, error) {
	raw, err := hex.DecodeString(compressedHex)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	if len(raw) != compressedKeyLen {
		return nil, ErrInvalidPublicKey
	}
	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return &Verifier{key: key}, nil
}

// Key returns the verifier's public key.
func (v *Verifier) Key() *btcec.PublicKey { return v.key }

// VerifyUpdate reports whether sig is a valid DER-encoded ECDSA
// signature over the canonical digest of the update.
func (v *Verifier) VerifyUpdate(update oracle.PriceUpdate, timestampMs uint64, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := Digest(update, timestampMs)
	return parsed.Verify(digest[:], v.key)
}

// Sign produces the DER-encoded signature a feeder submits alongside
// an update.
func Sign(priv *btcec.PrivateKey, update oracle.PriceUpdate, timestampMs uint64) []byte {
	digest := Digest(update, timestampMs)
	return ecdsa.Sign(priv, digest[:]).Serialize()
}

// Digest hashes the canonical signing data of an update.
func Digest(update oracle.PriceUpdate, timestampMs uint64) [32]byte {
	return sha256.Sum256(SigningData(update, timestampMs))
}

// SigningData builds the canonical byte layout covered by an update
// signature: domain prefix, timestamp, update mask, and each price as
// a 128-bit two's-complement value.
func SigningData(update oracle.PriceUpdate, timestampMs uint64) []byte {
	data := make([]byte, 0, len(UpdatePrefix)+8+len(update.Mask)+2+16*len(update.Prices))
	data = append(data, UpdatePrefix...)
	data = binary.BigEndian.AppendUint64(data, timestampMs)
	data = append(data, update.Mask[:]...)
	data = binary.BigEndian.AppendUint16(data, uint16(len(update.Prices)))
	for _, price := range update.Prices {
		data = appendPrice(data, price)
	}
	return data
}

func appendPrice(dst []byte, price *big.Int) []byte {
	var buf [16]byte
	v := new(big.Int)
	if price != nil {
		v.Set(price)
	}
	if v.Sign() < 0 {
		v.Add(v, twoPow128)
	}
	v.FillBytes(buf[:])
	return append(dst, buf[:]...)
}
