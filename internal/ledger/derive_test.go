package ledger

import (
	"strings"
	"testing"
)

const testProgram = "perp-program-v1"

func TestDeriveReproducible(t *testing.T) {
	a1 := DeriveAccount(testProgram, "wallet-a")
	a2 := DeriveAccount(testProgram, "wallet-a")
	if a1 != a2 {
		t.Fatalf("same inputs derived different addresses: %s vs %s", a1, a2)
	}
}

func TestDeriveDistinct(t *testing.T) {
	seen := map[Address]string{}
	cases := map[string]Address{
		"account wallet-a":     DeriveAccount(testProgram, "wallet-a"),
		"account wallet-b":     DeriveAccount(testProgram, "wallet-b"),
		"market 0":             DeriveMarket(testProgram, 0),
		"market 1":             DeriveMarket(testProgram, 1),
		"position wallet-a/0":  DerivePosition(testProgram, "wallet-a", 0),
		"position wallet-a/1":  DerivePosition(testProgram, "wallet-a", 1),
		"position wallet-b/0":  DerivePosition(testProgram, "wallet-b", 0),
		"other program account": DeriveAccount("other-program", "wallet-a"),
	}
	for name, addr := range cases {
		if prev, dup := seen[addr]; dup {
			t.Errorf("%s collides with %s: %s", name, prev, addr)
		}
		seen[addr] = name
	}
}

func TestDeriveTagSeparatesKinds(t *testing.T) {
	// The account for a wallet and the position for the same wallet must
	// differ even when the instrument byte could alias into the identity.
	if DeriveAccount(testProgram, "w") == DerivePosition(testProgram, "w", 0) {
		t.Fatal("account and position addresses collide")
	}
}

func TestDeriveLongIdentities(t *testing.T) {
	// Identities longer than a 1-byte length prefix can express must still
	// derive deterministic, distinct addresses instead of aliasing on a
	// truncated prefix.
	longA := strings.Repeat("a", 300)
	longB := strings.Repeat("a", 299) + "b"

	if DeriveAccount(testProgram, longA) != DeriveAccount(testProgram, longA) {
		t.Fatal("long identity derivation is not deterministic")
	}
	if DeriveAccount(testProgram, longA) == DeriveAccount(testProgram, longB) {
		t.Fatal("distinct long identities derived the same address")
	}

	// A 300-byte identity and its 44-byte wrap-around length twin must not
	// collide either.
	if DeriveAccount(testProgram, longA) == DeriveAccount(testProgram, strings.Repeat("a", 300%256)) {
		t.Fatal("long identity collides with its truncated-length twin")
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	addr := DeriveMarket(testProgram, 2)
	parsed, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatalf("round trip changed address: %s vs %s", parsed, addr)
	}

	if _, err := ParseAddress("abcd"); err == nil {
		t.Error("short address accepted")
	}
	if _, err := ParseAddress("zz"); err == nil {
		t.Error("non-hex address accepted")
	}
}
