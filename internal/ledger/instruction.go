package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// DiscriminatorLen is the length of the operation discriminator prefixing
// every instruction payload.
const DiscriminatorLen = 8

// FieldKind is the wire encoding of one instruction field.
type FieldKind int

const (
	// KindU8 is a single unsigned byte.
	KindU8 FieldKind = iota
	// KindU64 is an 8-byte little-endian unsigned integer.
	KindU64
	// KindI64 is an 8-byte little-endian two's-complement signed integer.
	KindI64
)

func (k FieldKind) width() int {
	if k == KindU8 {
		return 1
	}
	return 8
}

// Field is one named, fixed-width field of an instruction.
type Field struct {
	Name string
	Kind FieldKind
}

// Schema declares an instruction's wire layout: an 8-byte discriminator
// followed by its fields in order. Values are carried as int64 in both
// directions; unsigned fields reject negatives at encode time.
type Schema struct {
	Name          string
	Discriminator [DiscriminatorLen]byte
	Fields        []Field
}

// discriminator derives the 8-byte operation tag from the instruction name.
func discriminator(name string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte("instruction:" + name))
	var d [DiscriminatorLen]byte
	copy(d[:], sum[:DiscriminatorLen])
	return d
}

func newSchema(name string, fields ...Field) *Schema {
	return &Schema{
		Name:          name,
		Discriminator: discriminator(name),
		Fields:        fields,
	}
}

// The ledger program's instruction set. Prices and USD amounts are in
// micro-units (10^6 per dollar); sizes are signed, positive for long.
var (
	OpenPosition = newSchema("open_position",
		Field{Name: "instrument", Kind: KindU8},
		Field{Name: "size", Kind: KindI64},
		Field{Name: "entry_price", Kind: KindU64},
		Field{Name: "margin", Kind: KindU64},
	)
	ClosePosition = newSchema("close_position",
		Field{Name: "instrument", Kind: KindU8},
		Field{Name: "exit_price", Kind: KindU64},
	)
	Deposit = newSchema("deposit",
		Field{Name: "amount", Kind: KindU64},
	)
	Withdraw = newSchema("withdraw",
		Field{Name: "amount", Kind: KindU64},
	)
)

var schemas = []*Schema{OpenPosition, ClosePosition, Deposit, Withdraw}

// Size returns the encoded payload length including the discriminator.
func (s *Schema) Size() int {
	n := DiscriminatorLen
	for _, f := range s.Fields {
		n += f.Kind.width()
	}
	return n
}

// Encode serializes vals into the schema's fixed little-endian layout. Every
// declared field must be present; extra keys are rejected.
func (s *Schema) Encode(vals map[string]int64) ([]byte, error) {
	if len(vals) != len(s.Fields) {
		return nil, fmt.Errorf("ledger: %s: got %d values, schema has %d fields", s.Name, len(vals), len(s.Fields))
	}

	buf := make([]byte, 0, s.Size())
	buf = append(buf, s.Discriminator[:]...)

	for _, f := range s.Fields {
		v, ok := vals[f.Name]
		if !ok {
			return nil, fmt.Errorf("ledger: %s: missing field %q", s.Name, f.Name)
		}
		switch f.Kind {
		case KindU8:
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("ledger: %s: field %q value %d out of u8 range", s.Name, f.Name, v)
			}
			buf = append(buf, byte(v))
		case KindU64:
			if v < 0 {
				return nil, fmt.Errorf("ledger: %s: field %q value %d is negative for u64", s.Name, f.Name, v)
			}
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		case KindI64:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	}
	return buf, nil
}

// Decode parses a payload against this schema, checking the discriminator
// and the exact length.
func (s *Schema) Decode(payload []byte) (map[string]int64, error) {
	if len(payload) != s.Size() {
		return nil, fmt.Errorf("ledger: %s: payload is %d bytes, want %d", s.Name, len(payload), s.Size())
	}
	if [DiscriminatorLen]byte(payload[:DiscriminatorLen]) != s.Discriminator {
		return nil, fmt.Errorf("ledger: payload discriminator does not match %s", s.Name)
	}

	vals := make(map[string]int64, len(s.Fields))
	off := DiscriminatorLen
	for _, f := range s.Fields {
		switch f.Kind {
		case KindU8:
			vals[f.Name] = int64(payload[off])
		case KindU64, KindI64:
			vals[f.Name] = int64(binary.LittleEndian.Uint64(payload[off:]))
		}
		off += f.Kind.width()
	}
	return vals, nil
}

// DecodePayload identifies a payload by its discriminator and decodes it.
func DecodePayload(payload []byte) (*Schema, map[string]int64, error) {
	if len(payload) < DiscriminatorLen {
		return nil, nil, fmt.Errorf("ledger: payload too short for discriminator")
	}
	d := [DiscriminatorLen]byte(payload[:DiscriminatorLen])
	for _, s := range schemas {
		if s.Discriminator == d {
			vals, err := s.Decode(payload)
			return s, vals, err
		}
	}
	return nil, nil, fmt.Errorf("ledger: unknown discriminator %x", d)
}
