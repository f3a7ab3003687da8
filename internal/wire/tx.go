package wire

import (
	"encoding/binary"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/pkg/util"
)

// TxID is a full 32-byte double-SHA256 transaction id, in natural
// (transmission) byte order. Display conventions reverse it; the codec
// never does so internally.
type TxID [32]byte

// TxInput is the wire subset of a transaction input the codec touches.
type TxInput struct {
	PrevTxID  TxID
	Index     uint32
	Script    []byte
	Sequence  uint32
}

// TxOutput is the wire subset of a transaction output the codec touches.
type TxOutput struct {
	Amount uint64
	Script []byte
}

// Tx is a plain-old-data Bitcoin transaction, linearized and hashed the
// same way regardless of where its bytes came from.
type Tx struct {
	Version  uint32
	Inputs   []TxInput
	Outputs  []TxOutput
	LockTime uint32
}

// Linearize serializes tx into its canonical wire bytes.
func (tx *Tx) Linearize() []byte {
	buf := make([]byte, 0, 64*(len(tx.Inputs)+len(tx.Outputs))+16)

	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], tx.Version)
	buf = append(buf, tmp[:]...)

	buf = PutVarInt(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevTxID[:]...)
		binary.LittleEndian.PutUint32(tmp[:], in.Index)
		buf = append(buf, tmp[:]...)
		buf = PutVarInt(buf, uint64(len(in.Script)))
		buf = append(buf, in.Script...)
		binary.LittleEndian.PutUint32(tmp[:], in.Sequence)
		buf = append(buf, tmp[:]...)
	}

	buf = PutVarInt(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], out.Amount)
		buf = append(buf, tmp8[:]...)
		buf = PutVarInt(buf, uint64(len(out.Script)))
		buf = append(buf, out.Script...)
	}

	binary.LittleEndian.PutUint32(tmp[:], tx.LockTime)
	buf = append(buf, tmp[:]...)
	return buf
}

// Length returns len(tx.Linearize()) without allocating the full buffer
// twice; used for fee-per-byte computation on hot paths.
func (tx *Tx) Length() int {
	return len(tx.Linearize())
}

// TxIDOf computes the double-SHA256 txid of tx's linearization.
func TxIDOf(tx *Tx) TxID {
	return TxID(util.DoubleSHA256(tx.Linearize()))
}

// ParseTx decodes a transaction from cur, consuming exactly its wire bytes.
// Any short read is reported as ParseTruncated per spec.
func ParseTx(cur *Cursor) (*Tx, error) {
	tx := &Tx{}

	v, err := cur.PullLE32()
	if err != nil {
		return nil, err
	}
	tx.Version = v

	inCount, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	tx.Inputs = make([]TxInput, inCount)
	for i := range tx.Inputs {
		prev, err := cur.Pull(32)
		if err != nil {
			return nil, err
		}
		copy(tx.Inputs[i].PrevTxID[:], prev)

		idx, err := cur.PullLE32()
		if err != nil {
			return nil, err
		}
		tx.Inputs[i].Index = idx

		slen, err := cur.PullVarInt()
		if err != nil {
			return nil, err
		}
		script, err := cur.Pull(int(slen))
		if err != nil {
			return nil, err
		}
		tx.Inputs[i].Script = append([]byte(nil), script...)

		seq, err := cur.PullLE32()
		if err != nil {
			return nil, err
		}
		tx.Inputs[i].Sequence = seq
	}

	outCount, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	tx.Outputs = make([]TxOutput, outCount)
	for i := range tx.Outputs {
		amt, err := cur.PullLE64()
		if err != nil {
			return nil, err
		}
		tx.Outputs[i].Amount = amt

		slen, err := cur.PullVarInt()
		if err != nil {
			return nil, err
		}
		script, err := cur.Pull(int(slen))
		if err != nil {
			return nil, err
		}
		tx.Outputs[i].Script = append([]byte(nil), script...)
	}

	lock, err := cur.PullLE32()
	if err != nil {
		return nil, err
	}
	tx.LockTime = lock

	return tx, nil
}

// ParseTxExact decodes a transaction from the full span data and fails
// with ParseInvalid if trailing bytes remain (used when parsing a
// standalone, length-known blob such as a block-template transaction or a
// cached record body; a reassembled slice payload carries zero padding and
// is parsed with ParseTx instead).
func ParseTxExact(data []byte) (*Tx, error) {
	cur := NewCursor(data)
	tx, err := ParseTx(cur)
	if err != nil {
		return nil, err
	}
	if cur.Remaining() != 0 {
		return nil, codecerr.New(codecerr.ParseInvalid, "%d trailing bytes after transaction", cur.Remaining())
	}
	return tx, nil
}
