// Package corpus reads and writes the line-oriented text format spec §6
// declares as the codec's replay input surface: block/mempool/iblt lines
// used by surrounding tooling, not by the codec itself.
package corpus

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// maxLineSize bounds a single corpus line, guarding against an endless
// line with no newline terminator.
const maxLineSize = 16 * 1024 * 1024

// BlockLine is a parsed "block,<num>,<overhead>[,<txid_hex>]*" line.
type BlockLine struct {
	BlockNum uint64
	Overhead uint64
	TxIDs    []wire.TxID
}

// MempoolLine is a parsed "mempool,<peername>[,<txid_hex>]*" line.
type MempoolLine struct {
	PeerName string
	TxIDs    []wire.TxID
}

// IbltLine is a parsed "iblt:<hex>" line: varint(bucket_count), a 16-byte
// seed field (8-byte LE seed, 8 zero bytes), then the raw-IBLT payload.
type IbltLine struct {
	BucketCount uint64
	Seed        uint64
	RawPayload  []byte
}

// Reader scans a corpus stream line by line.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for corpus scanning.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next reads the next line and returns one of *BlockLine, *MempoolLine,
// or *IbltLine depending on its prefix, or (nil, io.EOF) at end of stream.
func (r *Reader) Next() (interface{}, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, fmt.Errorf("corpus read: %w", err)
		}
		return nil, io.EOF
	}
	line := r.scanner.Text()

	switch {
	case strings.HasPrefix(line, "block,"):
		return parseBlockLine(line)
	case strings.HasPrefix(line, "mempool,"):
		return parseMempoolLine(line)
	case strings.HasPrefix(line, "iblt:"):
		return parseIbltLine(line)
	default:
		return nil, codecerr.New(codecerr.ParseInvalid, "unrecognized corpus line prefix: %q", line)
	}
}

func parseTxIDField(field string) (wire.TxID, error) {
	b, err := hex.DecodeString(field)
	if err != nil || len(b) != 32 {
		return wire.TxID{}, codecerr.New(codecerr.ParseInvalid, "bad txid hex %q", field)
	}
	var id wire.TxID
	copy(id[:], b)
	return id, nil
}

func parseBlockLine(line string) (*BlockLine, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 || fields[0] != "block" {
		return nil, codecerr.New(codecerr.ParseInvalid, "bad block line: %q", line)
	}
	num, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, codecerr.New(codecerr.ParseInvalid, "bad blocknum: %v", err)
	}
	overhead, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, codecerr.New(codecerr.ParseInvalid, "bad overhead: %v", err)
	}
	bl := &BlockLine{BlockNum: num, Overhead: overhead}
	for _, f := range fields[3:] {
		id, err := parseTxIDField(f)
		if err != nil {
			return nil, err
		}
		bl.TxIDs = append(bl.TxIDs, id)
	}
	return bl, nil
}

func parseMempoolLine(line string) (*MempoolLine, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || fields[0] != "mempool" {
		return nil, codecerr.New(codecerr.ParseInvalid, "bad mempool line: %q", line)
	}
	ml := &MempoolLine{PeerName: fields[1]}
	for _, f := range fields[2:] {
		id, err := parseTxIDField(f)
		if err != nil {
			return nil, err
		}
		ml.TxIDs = append(ml.TxIDs, id)
	}
	return ml, nil
}

func parseIbltLine(line string) (*IbltLine, error) {
	hexBody := strings.TrimPrefix(line, "iblt:")
	raw, err := hex.DecodeString(hexBody)
	if err != nil {
		return nil, codecerr.New(codecerr.ParseInvalid, "bad iblt hex: %v", err)
	}

	cur := wire.NewCursor(raw)
	bucketCount, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	seedField, err := cur.Pull(16)
	if err != nil {
		return nil, err
	}
	seed := uint64(0)
	for i := 7; i >= 0; i-- {
		seed = (seed << 8) | uint64(seedField[i])
	}
	// Open question 1: reject rather than silently tolerate a non-zero
	// upper half, since this codec has no version field to distinguish a
	// future 128-bit seed from plain corruption.
	for _, b := range seedField[8:] {
		if b != 0 {
			return nil, codecerr.New(codecerr.ParseInvalid, "non-zero seed upper half")
		}
	}

	payload, err := cur.Pull(cur.Remaining())
	if err != nil {
		return nil, err
	}

	return &IbltLine{BucketCount: bucketCount, Seed: seed, RawPayload: payload}, nil
}

// Writer emits corpus lines in the original's format.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for corpus emission.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteBlockLine writes a "block,..." line.
func (w *Writer) WriteBlockLine(bl *BlockLine) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block,%d,%d", bl.BlockNum, bl.Overhead)
	for _, id := range bl.TxIDs {
		sb.WriteByte(',')
		sb.WriteString(hex.EncodeToString(id[:]))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w.w, sb.String())
	return err
}

// WriteMempoolLine writes a "mempool,..." line.
func (w *Writer) WriteMempoolLine(ml *MempoolLine) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mempool,%s", ml.PeerName)
	for _, id := range ml.TxIDs {
		sb.WriteByte(',')
		sb.WriteString(hex.EncodeToString(id[:]))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w.w, sb.String())
	return err
}

// WriteIbltLine writes an "iblt:<hex>" line: varint(bucket_count), a
// 16-byte seed field (8-byte LE seed, 8 zero bytes), then rawPayload.
func (w *Writer) WriteIbltLine(bucketCount, seed uint64, rawPayload []byte) error {
	buf := wire.PutVarInt(nil, bucketCount)
	var seedField [16]byte
	for i := 0; i < 8; i++ {
		seedField[i] = byte(seed >> (8 * i))
	}
	buf = append(buf, seedField[:]...)
	buf = append(buf, rawPayload...)

	_, err := io.WriteString(w.w, "iblt:"+hex.EncodeToString(buf)+"\n")
	return err
}
