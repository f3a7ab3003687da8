package gossip

import (
	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<20))
)

// CompressBlob zstd-compresses an encoded reconciliation blob before it
// goes out over gossipsub.
func CompressBlob(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressBlob reverses CompressBlob. If data doesn't start with the
// zstd magic bytes it's returned as-is, for forward compatibility with
// uncompressed blobs.
func DecompressBlob(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}
