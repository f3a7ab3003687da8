package corpus

import (
	"bytes"
	"encoding/hex"
	"io"
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

func sampleTxID(b byte) wire.TxID {
	var id wire.TxID
	id[0] = b
	return id
}

func TestBlockLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	bl := &BlockLine{BlockNum: 700000, Overhead: 80, TxIDs: []wire.TxID{sampleTxID(1), sampleTxID(2)}}
	if err := w.WriteBlockLine(bl); err != nil {
		t.Fatal(err)
	}

	got, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatal(err)
	}
	parsed, ok := got.(*BlockLine)
	if !ok {
		t.Fatalf("got %T, want *BlockLine", got)
	}
	if parsed.BlockNum != bl.BlockNum || parsed.Overhead != bl.Overhead || len(parsed.TxIDs) != 2 {
		t.Errorf("mismatch: %+v", parsed)
	}
}

func TestMempoolLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ml := &MempoolLine{PeerName: "peer0", TxIDs: []wire.TxID{sampleTxID(9)}}
	if err := w.WriteMempoolLine(ml); err != nil {
		t.Fatal(err)
	}

	got, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatal(err)
	}
	parsed, ok := got.(*MempoolLine)
	if !ok {
		t.Fatalf("got %T, want *MempoolLine", got)
	}
	if parsed.PeerName != "peer0" || len(parsed.TxIDs) != 1 {
		t.Errorf("mismatch: %+v", parsed)
	}
}

func TestIbltLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payload := []byte{0xaa, 0xbb, 0xcc}
	if err := w.WriteIbltLine(42, 352792, payload); err != nil {
		t.Fatal(err)
	}

	got, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatal(err)
	}
	parsed, ok := got.(*IbltLine)
	if !ok {
		t.Fatalf("got %T, want *IbltLine", got)
	}
	if parsed.BucketCount != 42 || parsed.Seed != 352792 || !bytes.Equal(parsed.RawPayload, payload) {
		t.Errorf("mismatch: %+v", parsed)
	}
}

// TestIbltLineRejectsNonZeroSeedUpperHalf exercises the strict-reject
// resolution: a 16-byte seed field whose upper 8 bytes aren't all zero
// is treated as corrupt, not as a future wider seed.
func TestIbltLineRejectsNonZeroSeedUpperHalf(t *testing.T) {
	buf := wire.PutVarInt(nil, 1)
	var seedField [16]byte
	seedField[0] = 7
	seedField[8] = 0xff // non-zero upper half
	buf = append(buf, seedField[:]...)

	line := "iblt:" + hex.EncodeToString(buf) + "\n"
	_, err := NewReader(bytes.NewBufferString(line)).Next()
	if err == nil {
		t.Error("expected rejection of non-zero seed upper half")
	}
}

func TestReaderReturnsEOFAtEnd(t *testing.T) {
	r := NewReader(bytes.NewBufferString(""))
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}

func TestReaderRejectsUnrecognizedPrefix(t *testing.T) {
	r := NewReader(bytes.NewBufferString("garbage,1,2\n"))
	if _, err := r.Next(); err == nil {
		t.Error("expected error for unrecognized line prefix")
	}
}
