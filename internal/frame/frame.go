// Package frame assembles and parses the composite wire message of
// spec §6: the sender's seed, fee threshold, bucket count, coinbase,
// added/removed bit-prefix sets, and raw IBLT payload.
package frame

import (
	"github.com/rustyrussell/bitcoin-iblt/internal/bitset"
	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/iblt"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// MaxBucketData caps declared IBLT size to a sanity bound (spec §5):
// decode aborts early rather than allocating an attacker-chosen amount.
const MaxBucketData = 100 * 1024 * 1024

// Frame is the parsed composite message.
type Frame struct {
	Seed          uint64
	MinFeePerByte uint64
	BucketCount   uint64
	Coinbase      *wire.Tx
	Added         *bitset.Set
	Removed       *bitset.Set
	IBLT          *iblt.RawIBLT
}

// Encode serializes f per the wire layout in spec §6. SliceSize must match
// the deployment's configured slice payload size.
func Encode(f *Frame, sliceSize int) []byte {
	out := []byte{}
	out = wire.PutVarInt(out, f.Seed)
	out = wire.PutVarInt(out, f.MinFeePerByte)
	out = wire.PutVarInt(out, f.BucketCount)
	out = append(out, f.Coinbase.Linearize()...)
	out = append(out, f.Added.Encode()...)
	out = append(out, f.Removed.Encode()...)
	out = append(out, f.IBLT.Write()...)
	return out
}

// Decode parses a Frame from data, given the deployment's slice payload
// size. Any truncation or out-of-range field fails per spec §7.
func Decode(data []byte, sliceSize int) (*Frame, error) {
	cur := wire.NewCursor(data)

	seed, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	if seed == 0 {
		return nil, codecerr.New(codecerr.ParseInvalid, "seed must be non-zero")
	}

	minFee, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}

	bucketCount, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	if bucketCount > MaxBucketData {
		return nil, codecerr.New(codecerr.ParseInvalid, "declared bucket count %d exceeds sanity cap", bucketCount)
	}
	bucketDataLen := bucketCount*2 + bucketCount*uint64(8+sliceSize)
	if bucketDataLen > MaxBucketData {
		return nil, codecerr.New(codecerr.ParseInvalid, "declared IBLT size %d exceeds sanity cap", bucketDataLen)
	}

	coinbase, err := wire.ParseTx(cur)
	if err != nil {
		return nil, err
	}

	added, err := bitset.Decode(cur)
	if err != nil {
		return nil, err
	}
	removed, err := bitset.Decode(cur)
	if err != nil {
		return nil, err
	}

	rawBytes, err := cur.Pull(int(bucketDataLen))
	if err != nil {
		return nil, err
	}
	rawIblt, err := iblt.Read(rawBytes, int(bucketCount), sliceSize)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Seed:          seed,
		MinFeePerByte: minFee,
		BucketCount:   bucketCount,
		Coinbase:      coinbase,
		Added:         added,
		Removed:       removed,
		IBLT:          rawIblt,
	}, nil
}
