// Package crypto verifies agent wallet signatures on mutating requests.
// Agents sign request payloads with the secp256k1 key behind their wallet
// address; key custody itself lives outside this system.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// personal-sign prefix per EIP-191.
const messagePrefix = "\x19Ethereum Signed Message:\n"

// Digest returns the EIP-191 digest of a request payload.
func Digest(message []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(fmt.Sprintf("%s%d", messagePrefix, len(message))),
		message,
	)
}

// VerifySignature checks that sigHex is wallet's signature over message.
// The signature is the hex-encoded 65-byte r || s || v form, v in {0,1} or
// {27,28}. Any failure maps onto domain.ErrBadSignature.
func VerifySignature(wallet string, message []byte, sigHex string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %v: %w", err, domain.ErrBadSignature)
	}
	if len(sig) != 65 {
		return fmt.Errorf("crypto: signature is %d bytes, want 65: %w", len(sig), domain.ErrBadSignature)
	}

	// Normalize the recovery byte for go-ethereum.
	recovered := make([]byte, 65)
	copy(recovered, sig)
	if recovered[64] >= 27 {
		recovered[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(Digest(message), recovered)
	if err != nil {
		return fmt.Errorf("crypto: recover public key: %v: %w", err, domain.ErrBadSignature)
	}

	signer := ethcrypto.PubkeyToAddress(*pub)
	if signer != common.HexToAddress(wallet) {
		return fmt.Errorf("crypto: signature from %s, want %s: %w", signer.Hex(), wallet, domain.ErrBadSignature)
	}
	return nil
}
