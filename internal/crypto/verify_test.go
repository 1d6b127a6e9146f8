package crypto

import (
	"encoding/hex"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

func signWith(t *testing.T, message []byte) (wallet, sigHex string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := ethcrypto.Sign(Digest(message), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

func TestVerifySignature(t *testing.T) {
	message := []byte(`{"instrument":"BTC-PERP","direction":"long","size":1000}`)
	wallet, sig := signWith(t, message)

	if err := VerifySignature(wallet, message, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySignatureLegacyRecoveryByte(t *testing.T) {
	message := []byte("payload")
	wallet, sig := signWith(t, message)

	// Shift v into the {27,28} form wallets commonly emit.
	raw, _ := hex.DecodeString(sig[2:])
	raw[64] += 27
	shifted := "0x" + hex.EncodeToString(raw)

	if err := VerifySignature(wallet, message, shifted); err != nil {
		t.Fatalf("v in {27,28} rejected: %v", err)
	}
}

func TestVerifySignatureWrongWallet(t *testing.T) {
	message := []byte("payload")
	_, sig := signWith(t, message)
	otherWallet, _ := signWith(t, message)

	err := VerifySignature(otherWallet, message, sig)
	if !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestVerifySignatureTamperedMessage(t *testing.T) {
	message := []byte(`{"size":1000}`)
	wallet, sig := signWith(t, message)

	err := VerifySignature(wallet, []byte(`{"size":9000}`), sig)
	if !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestVerifySignatureMalformed(t *testing.T) {
	for _, sig := range []string{"", "0x1234", "not-hex"} {
		if err := VerifySignature("0xabc", []byte("m"), sig); !errors.Is(err, domain.ErrBadSignature) {
			t.Errorf("signature %q: got %v, want ErrBadSignature", sig, err)
		}
	}
}
