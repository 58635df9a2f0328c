package runestone

import (
	"errors"

	"github.com/holiman/uint256"
)

const maxVarintLen = 19 // ceil(128 / 7)

var (
	ErrVarintOverflow  = errors.New("varint exceeds 128 bits")
	ErrVarintTruncated = errors.New("varint truncated")
)

// appendVarint appends the LEB128 encoding of v, which must fit in 128 bits.
func appendVarint(buf []byte, v *uint256.Int) ([]byte, error) {
	if v.BitLen() > 128 {
		return nil, ErrVarintOverflow
	}
	n := v.Clone()
	for !n.LtUint64(0x80) {
		buf = append(buf, byte(n.Uint64()&0x7f)|0x80)
		n.Rsh(n, 7)
	}
	return append(buf, byte(n.Uint64())), nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	out, _ := appendVarint(buf, uint256.NewInt(v))
	return out
}

// readVarint decodes one LEB128 value from the head of data and returns the
// number of bytes consumed.
func readVarint(data []byte) (*uint256.Int, int, error) {
	res := new(uint256.Int)
	for i := 0; i < len(data); i++ {
		if i == maxVarintLen {
			return nil, 0, ErrVarintOverflow
		}
		b := data[i]
		part := uint64(b & 0x7f)
		if i == maxVarintLen-1 && part > 0x03 {
			return nil, 0, ErrVarintOverflow
		}
		res.Or(res, new(uint256.Int).Lsh(uint256.NewInt(part), uint(7*i)))
		if b&0x80 == 0 {
			return res, i + 1, nil
		}
	}
	return nil, 0, ErrVarintTruncated
}
