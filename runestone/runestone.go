// Package runestone encodes and decodes the edict list carried in the
// OP_RETURN output of a custody transaction.
package runestone

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
)

const (
	MagicNumber = txscript.OP_13
	MaxPushSize = txscript.MaxScriptElementSize

	tagBody = 0
)

var (
	ErrNotRunestone     = errors.New("script is not a runestone")
	ErrNonPushOpcode    = errors.New("runestone contains a non-push opcode")
	ErrMisalignedChunk  = errors.New("runestone push does not end on a field boundary")
	ErrUnsupportedTag   = errors.New("runestone tag not supported")
	ErrTruncatedEdict   = errors.New("runestone edict is truncated")
	ErrRuneIdOverflow   = errors.New("rune id overflow")
	ErrFieldOverflow    = errors.New("runestone field out of range")
	ErrOutputOutOfRange = errors.New("edict output out of range")
	ErrInvalidRuneId    = errors.New("invalid rune id")
)

// RuneId is the etching position of a rune: block height and tx index.
type RuneId struct {
	Block uint64 `json:"block"`
	Tx    uint32 `json:"tx"`
}

func ParseRuneId(s string) (RuneId, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return RuneId{}, fmt.Errorf("%w: %q", ErrInvalidRuneId, s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return RuneId{}, fmt.Errorf("%w: %q", ErrInvalidRuneId, s)
	}
	tx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return RuneId{}, fmt.Errorf("%w: %q", ErrInvalidRuneId, s)
	}
	return RuneId{Block: block, Tx: uint32(tx)}, nil
}

func (r RuneId) String() string {
	return fmt.Sprintf("%d:%d", r.Block, r.Tx)
}

func (r RuneId) Less(o RuneId) bool {
	if r.Block != o.Block {
		return r.Block < o.Block
	}
	return r.Tx < o.Tx
}

// delta encodes next relative to r. The tx field is absolute when the block changes.
func (r RuneId) delta(next RuneId) (uint64, uint64) {
	if next.Block == r.Block {
		return 0, uint64(next.Tx - r.Tx)
	}
	return next.Block - r.Block, uint64(next.Tx)
}

func (r RuneId) next(blockDelta, tx uint64) (RuneId, error) {
	if blockDelta > math.MaxUint64-r.Block {
		return RuneId{}, ErrRuneIdOverflow
	}
	if blockDelta == 0 {
		tx += uint64(r.Tx)
	}
	if tx > math.MaxUint32 {
		return RuneId{}, ErrRuneIdOverflow
	}
	return RuneId{Block: r.Block + blockDelta, Tx: uint32(tx)}, nil
}

// Edict moves Amount of rune Id to output Output.
type Edict struct {
	Id     RuneId       `json:"id"`
	Amount *uint256.Int `json:"amount"`
	Output uint32       `json:"output"`
}

type Runestone struct {
	Edicts []Edict
}

// Validate checks every edict against the number of outputs of the transaction.
func (rs *Runestone) Validate(numOutputs int) error {
	for _, e := range rs.Edicts {
		if int(e.Output) >= numOutputs {
			return fmt.Errorf("%w: %d >= %d", ErrOutputOutOfRange, e.Output, numOutputs)
		}
		if e.Amount == nil || e.Amount.BitLen() > 128 {
			return fmt.Errorf("%w: amount of %s", ErrFieldOverflow, e.Id)
		}
	}
	return nil
}

// sortedEdicts returns a copy ordered by rune id; equal ids keep their order.
func sortedEdicts(edicts []Edict) []Edict {
	out := make([]Edict, len(edicts))
	copy(out, edicts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Id.Less(out[j].Id)
	})
	return out
}

// fields returns each integer of the payload as its own varint encoding.
func (rs *Runestone) fields() ([][]byte, error) {
	fields := [][]byte{appendUvarint(nil, tagBody)}

	prev := RuneId{}
	for _, e := range sortedEdicts(rs.Edicts) {
		if e.Amount == nil {
			return nil, fmt.Errorf("%w: nil amount for %s", ErrFieldOverflow, e.Id)
		}
		blockDelta, tx := prev.delta(e.Id)
		amount, err := appendVarint(nil, e.Amount)
		if err != nil {
			return nil, err
		}
		fields = append(fields,
			appendUvarint(nil, blockDelta),
			appendUvarint(nil, tx),
			amount,
			appendUvarint(nil, uint64(e.Output)),
		)
		prev = e.Id
	}
	return fields, nil
}

// Pushes packs the payload into data pushes of at most MaxPushSize bytes.
// A varint is never split across two pushes.
func (rs *Runestone) Pushes() ([][]byte, error) {
	fields, err := rs.fields()
	if err != nil {
		return nil, err
	}

	var pushes [][]byte
	var cur []byte
	for _, f := range fields {
		if len(cur)+len(f) > MaxPushSize {
			pushes = append(pushes, cur)
			cur = nil
		}
		cur = append(cur, f...)
	}
	return append(pushes, cur), nil
}

// Encipher returns the OP_RETURN script carrying the runestone.
func (rs *Runestone) Encipher() ([]byte, error) {
	pushes, err := rs.Pushes()
	if err != nil {
		return nil, err
	}

	script := []byte{txscript.OP_RETURN, MagicNumber}
	for _, p := range pushes {
		script = appendPush(script, p)
	}
	return script, nil
}

// appendPush writes a plain data push. Small-integer opcodes are never used,
// since decoders only accept data pushes.
func appendPush(script, data []byte) []byte {
	n := len(data)
	switch {
	case n <= txscript.OP_DATA_75:
		script = append(script, byte(n))
	case n <= math.MaxUint8:
		script = append(script, txscript.OP_PUSHDATA1, byte(n))
	default:
		script = append(script, txscript.OP_PUSHDATA2, byte(n), byte(n>>8))
	}
	return append(script, data...)
}

// IsRunestone reports whether the script starts with OP_RETURN and the magic number.
func IsRunestone(script []byte) bool {
	return len(script) >= 2 && script[0] == txscript.OP_RETURN && script[1] == MagicNumber
}

// Decipher parses a runestone script. Any malformed input is an error,
// never a partial result.
func Decipher(script []byte) (*Runestone, error) {
	if !IsRunestone(script) {
		return nil, ErrNotRunestone
	}

	var ints []*uint256.Int
	tokenizer := txscript.MakeScriptTokenizer(0, script[2:])
	for tokenizer.Next() {
		if tokenizer.Opcode() > txscript.OP_PUSHDATA4 {
			return nil, ErrNonPushOpcode
		}
		data := tokenizer.Data()
		for len(data) > 0 {
			v, n, err := readVarint(data)
			if errors.Is(err, ErrVarintTruncated) {
				return nil, ErrMisalignedChunk
			}
			if err != nil {
				return nil, err
			}
			ints = append(ints, v)
			data = data[n:]
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("tokenize runestone: %w", err)
	}

	if len(ints) == 0 {
		return &Runestone{}, nil
	}
	if !ints[0].IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTag, ints[0].Dec())
	}
	body := ints[1:]
	if len(body)%4 != 0 {
		return nil, ErrTruncatedEdict
	}

	rs := &Runestone{}
	prev := RuneId{}
	for i := 0; i < len(body); i += 4 {
		if !body[i].IsUint64() || !body[i+1].IsUint64() || !body[i+3].IsUint64() || body[i+3].Uint64() > math.MaxUint32 {
			return nil, ErrFieldOverflow
		}
		id, err := prev.next(body[i].Uint64(), body[i+1].Uint64())
		if err != nil {
			return nil, err
		}
		rs.Edicts = append(rs.Edicts, Edict{
			Id:     id,
			Amount: body[i+2],
			Output: uint32(body[i+3].Uint64()),
		})
		prev = id
	}
	return rs, nil
}

// FindInTx returns the runestone of the first runestone output of tx.
func FindInTx(tx *wire.MsgTx) (*Runestone, int, error) {
	for i, out := range tx.TxOut {
		if IsRunestone(out.PkScript) {
			rs, err := Decipher(out.PkScript)
			return rs, i, err
		}
	}
	return nil, -1, ErrNotRunestone
}
