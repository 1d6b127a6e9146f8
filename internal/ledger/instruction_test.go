package ledger

import (
	"encoding/binary"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		schema *Schema
		vals   map[string]int64
	}{
		{
			name:   "open long",
			schema: OpenPosition,
			vals: map[string]int64{
				"instrument":  0,
				"size":        10_000_000_000, // $10,000 exposure
				"entry_price": 70_000_000_000, // $70,000
				"margin":      1_000_000_000,  // $1,000
			},
		},
		{
			name:   "open short negative size",
			schema: OpenPosition,
			vals: map[string]int64{
				"instrument":  2,
				"size":        -5_000_000_000,
				"entry_price": 150_000_000,
				"margin":      500_000_000,
			},
		},
		{
			name:   "close",
			schema: ClosePosition,
			vals: map[string]int64{
				"instrument": 1,
				"exit_price": 3_500_000_000,
			},
		},
		{
			name:   "deposit",
			schema: Deposit,
			vals:   map[string]int64{"amount": 42_000_000},
		},
		{
			name:   "withdraw",
			schema: Withdraw,
			vals:   map[string]int64{"amount": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := tt.schema.Encode(tt.vals)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if len(payload) != tt.schema.Size() {
				t.Fatalf("payload %d bytes, schema size %d", len(payload), tt.schema.Size())
			}

			decoded, err := tt.schema.Decode(payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			for k, want := range tt.vals {
				if decoded[k] != want {
					t.Errorf("field %q = %d, want %d", k, decoded[k], want)
				}
			}

			schema, vals2, err := DecodePayload(payload)
			if err != nil {
				t.Fatalf("decode by discriminator: %v", err)
			}
			if schema != tt.schema {
				t.Fatalf("dispatched to %s, want %s", schema.Name, tt.schema.Name)
			}
			if vals2["instrument"] != tt.vals["instrument"] {
				t.Errorf("dispatch decode mismatch on instrument")
			}
		})
	}
}

func TestEncodeWireLayout(t *testing.T) {
	payload, err := OpenPosition.Encode(map[string]int64{
		"instrument":  3,
		"size":        -1,
		"entry_price": 7,
		"margin":      9,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if [8]byte(payload[:8]) != OpenPosition.Discriminator {
		t.Error("payload does not start with the discriminator")
	}
	if payload[8] != 3 {
		t.Errorf("instrument byte = %d, want 3", payload[8])
	}
	if got := int64(binary.LittleEndian.Uint64(payload[9:17])); got != -1 {
		t.Errorf("size = %d, want -1 (two's complement)", got)
	}
	if got := binary.LittleEndian.Uint64(payload[17:25]); got != 7 {
		t.Errorf("entry_price = %d, want 7", got)
	}
	if got := binary.LittleEndian.Uint64(payload[25:33]); got != 9 {
		t.Errorf("margin = %d, want 9", got)
	}
}

func TestDiscriminatorsDistinct(t *testing.T) {
	seen := map[[8]byte]string{}
	for _, s := range []*Schema{OpenPosition, ClosePosition, Deposit, Withdraw} {
		if prev, dup := seen[s.Discriminator]; dup {
			t.Errorf("%s and %s share a discriminator", s.Name, prev)
		}
		seen[s.Discriminator] = s.Name
	}
}

func TestEncodeRejects(t *testing.T) {
	if _, err := Deposit.Encode(map[string]int64{"amount": -1}); err == nil {
		t.Error("negative value accepted for u64 field")
	}
	if _, err := ClosePosition.Encode(map[string]int64{"instrument": 256, "exit_price": 1}); err == nil {
		t.Error("out-of-range value accepted for u8 field")
	}
	if _, err := ClosePosition.Encode(map[string]int64{"instrument": 1}); err == nil {
		t.Error("missing field accepted")
	}
	if _, err := Deposit.Encode(map[string]int64{"amount": 1, "extra": 2}); err == nil {
		t.Error("extra field accepted")
	}
}

func TestDecodeRejects(t *testing.T) {
	payload, err := Deposit.Encode(map[string]int64{"amount": 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := Deposit.Decode(payload[:len(payload)-1]); err == nil {
		t.Error("truncated payload accepted")
	}
	if _, err := Withdraw.Decode(payload); err == nil {
		t.Error("wrong-discriminator payload accepted")
	}
	if _, _, err := DecodePayload([]byte{1, 2, 3}); err == nil {
		t.Error("short payload accepted by dispatcher")
	}

	garbage := make([]byte, Deposit.Size())
	if _, _, err := DecodePayload(garbage); err == nil {
		t.Error("unknown discriminator accepted")
	}
}
