// Package ledger is the interface to the external settlement ledger: address
// derivation, the binary instruction codec, and transaction submission. The
// ledger program itself is opaque; this package only reproduces its wire
// contract bit-exact.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var errAddressLength = errors.New("ledger: address must be 32 bytes")

// DerivationVersion is folded into every derived address. Bump it if seed
// order or content ever changes; old and new addresses must never collide
// silently.
const DerivationVersion = 1

// Fixed seed tags. Both sides of the bridge derive the same addresses from
// these without coordination.
var (
	seedAccount  = []byte("account")
	seedMarket   = []byte("market")
	seedPosition = []byte("position")
)

// Address is a 32-byte ledger account address.
type Address [32]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// ParseAddress decodes a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, errAddressLength
	}
	copy(a[:], b)
	return a, nil
}

// derive hashes the program ID, the derivation version, a seed tag, and the
// length-prefixed parts. Length prefixes keep ("ab","c") and ("a","bc")
// distinct. A part longer than 255 bytes is folded to its digest before
// prefixing, so the 1-byte length never truncates; parts that fit derive
// exactly as they always have.
func derive(programID string, tag []byte, parts ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(programID))
	h.Write([]byte{DerivationVersion})
	h.Write(tag)
	for _, p := range parts {
		if len(p) > 255 {
			sum := sha256.Sum256(p)
			p = sum[:]
		}
		h.Write([]byte{byte(len(p))})
		h.Write(p)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// DeriveAccount returns the owner's collateral account address.
func DeriveAccount(programID, owner string) Address {
	return derive(programID, seedAccount, []byte(owner))
}

// DeriveMarket returns the market account address for an instrument index.
func DeriveMarket(programID string, instrumentIndex uint8) Address {
	return derive(programID, seedMarket, []byte{instrumentIndex})
}

// DerivePosition returns the position account address for an owner and
// instrument. One position per (owner, instrument) pair.
func DerivePosition(programID, owner string, instrumentIndex uint8) Address {
	return derive(programID, seedPosition, []byte(owner), []byte{instrumentIndex})
}
