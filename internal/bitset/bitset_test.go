package bitset

import (
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := New()
	s.Add([]bool{true, false, true})
	s.Add([]bool{false, false, true})
	s.Add([]bool{true, true})

	data := s.Encode()
	cur := wire.NewCursor(data)
	got, err := Decode(cur)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(got.Vectors(3)) != 2 {
		t.Errorf("length-3 bin has %d vectors, want 2", len(got.Vectors(3)))
	}
	if len(got.Vectors(2)) != 1 {
		t.Errorf("length-2 bin has %d vectors, want 1", len(got.Vectors(2)))
	}
}

func TestDecodeStopsAtExactByteBoundary(t *testing.T) {
	s := New()
	s.Add([]bool{true, false, true})
	data := s.Encode()

	// Frame-like context: more bytes follow the bitset in the cursor.
	trailing := []byte{0xde, 0xad, 0xbe, 0xef}
	cur := wire.NewCursor(append(append([]byte{}, data...), trailing...))

	if _, err := Decode(cur); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cur.Remaining() != len(trailing) {
		t.Errorf("Decode consumed into trailing data: %d bytes left, want %d", cur.Remaining(), len(trailing))
	}
}

func TestEmptySetRoundTrip(t *testing.T) {
	s := New()
	data := s.Encode()
	cur := wire.NewCursor(data)
	got, err := Decode(cur)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	empty := true
	got.ForEachLength(func(length int, vecs [][]bool) {
		if len(vecs) > 0 {
			empty = false
		}
	})
	if !empty {
		t.Error("expected no vectors in round-tripped empty set")
	}
}

func TestDecodeRejectsNonZeroTrailingBits(t *testing.T) {
	s := New()
	s.Add([]bool{true, false, true})
	data := s.Encode()
	// The 3-bit vector leaves five padding bits; set the highest of them.
	if len(data) > 0 {
		data[len(data)-1] |= 0x80
	}
	cur := wire.NewCursor(data)
	if _, err := Decode(cur); err == nil {
		t.Error("expected rejection of non-zero padding bits in the final byte")
	}
}
