package runestone

import (
	"encoding/hex"
	"math/rand"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestEncipherKnownBytes(t *testing.T) {
	rs := &Runestone{Edicts: []Edict{
		{Id: RuneId{Block: 840000, Tx: 3}, Amount: u(1000), Output: 1},
	}}

	script, err := rs.Encipher()
	require.NoError(t, err)
	// OP_RETURN OP_13 OP_DATA_8 | tag=0 | 840000 | 3 | 1000 | 1
	assert.Equal(t, "6a5d0800c0a23303e80701", hex.EncodeToString(script))

	got, err := Decipher(script)
	require.NoError(t, err)
	assert.Equal(t, rs.Edicts, got.Edicts)
}

func TestDeltaEncoding(t *testing.T) {
	rs := &Runestone{Edicts: []Edict{
		{Id: RuneId{Block: 840001, Tx: 1}, Amount: u(7), Output: 3},
		{Id: RuneId{Block: 840000, Tx: 3}, Amount: u(5), Output: 1},
		{Id: RuneId{Block: 840000, Tx: 5}, Amount: u(6), Output: 2},
	}}

	pushes, err := rs.Pushes()
	require.NoError(t, err)
	require.Len(t, pushes, 1)

	var ints []uint64
	data := pushes[0]
	for len(data) > 0 {
		v, n, err := readVarint(data)
		require.NoError(t, err)
		ints = append(ints, v.Uint64())
		data = data[n:]
	}
	assert.Equal(t, []uint64{
		0,
		840000, 3, 5, 1,
		0, 2, 6, 2, // same block: tx is a delta
		1, 1, 7, 3, // new block: tx is absolute
	}, ints)

	// caller's slice is left untouched
	assert.Equal(t, uint64(840001), rs.Edicts[0].Id.Block)

	script, err := rs.Encipher()
	require.NoError(t, err)
	got, err := Decipher(script)
	require.NoError(t, err)
	assert.Equal(t, []RuneId{{840000, 3}, {840000, 5}, {840001, 1}},
		[]RuneId{got.Edicts[0].Id, got.Edicts[1].Id, got.Edicts[2].Id})
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		n := rng.Intn(300)
		edicts := make([]Edict, 0, n)
		id := RuneId{Block: uint64(rng.Intn(1000)), Tx: uint32(rng.Intn(10))}
		for i := 0; i < n; i++ {
			if rng.Intn(3) == 0 {
				id.Block += uint64(rng.Intn(5) + 1)
				id.Tx = uint32(rng.Intn(100))
			} else {
				id.Tx += uint32(rng.Intn(4))
			}
			amount := new(uint256.Int).Lsh(u(rng.Uint64()), uint(rng.Intn(64)))
			edicts = append(edicts, Edict{Id: id, Amount: amount, Output: uint32(rng.Intn(50))})
		}
		rs := &Runestone{Edicts: edicts}

		pushes, err := rs.Pushes()
		require.NoError(t, err)
		for _, p := range pushes {
			assert.LessOrEqual(t, len(p), MaxPushSize)
		}

		script, err := rs.Encipher()
		require.NoError(t, err)
		got, err := Decipher(script)
		require.NoError(t, err)
		if n == 0 {
			assert.Empty(t, got.Edicts)
			continue
		}
		assert.Equal(t, edicts, got.Edicts)
	}
}

func TestMaxAmount(t *testing.T) {
	max := new(uint256.Int).Sub(new(uint256.Int).Lsh(u(1), 128), u(1))
	rs := &Runestone{Edicts: []Edict{{Id: RuneId{1, 0}, Amount: max, Output: 0}}}

	script, err := rs.Encipher()
	require.NoError(t, err)
	got, err := Decipher(script)
	require.NoError(t, err)
	assert.True(t, max.Eq(got.Edicts[0].Amount))

	tooBig := new(uint256.Int).Lsh(u(1), 128)
	rs = &Runestone{Edicts: []Edict{{Id: RuneId{1, 0}, Amount: tooBig, Output: 0}}}
	_, err = rs.Encipher()
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func script(pushes ...string) []byte {
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddOp(MagicNumber)
	s, _ := b.Script()
	for _, p := range pushes {
		data, _ := hex.DecodeString(p)
		s = appendPush(s, data)
	}
	return s
}

func TestDecipherErrors(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
		err    error
	}{
		{"not op_return", []byte{txscript.OP_DUP}, ErrNotRunestone},
		{"wrong magic", []byte{txscript.OP_RETURN, txscript.OP_14}, ErrNotRunestone},
		{"split varint", script("00c0", "a23303e80701"), ErrMisalignedChunk},
		{"truncated varint", script("00c0a23303e887"), ErrMisalignedChunk},
		{"truncated edict", script("00c0a23303e807"), ErrTruncatedEdict},
		{"unknown tag", script("02c0a23303e80701"), ErrUnsupportedTag},
		{"varint overflow", script("00" + strings.Repeat("ff", 18) + "7f"), ErrVarintOverflow},
		{"output overflow", script("000100018080808010"), ErrFieldOverflow},
		{"small int opcode", append(script("00"), txscript.OP_1), ErrNonPushOpcode},
	}

	for _, tt := range tests {
		_, err := Decipher(tt.script)
		assert.ErrorIs(t, err, tt.err, tt.name)
	}
}

func TestAlignedMultiplePushes(t *testing.T) {
	// fields may be spread over several pushes as long as none is split
	got, err := Decipher(script("00c0a233", "03e807", "01"))
	require.NoError(t, err)
	require.Len(t, got.Edicts, 1)
	assert.Equal(t, RuneId{840000, 3}, got.Edicts[0].Id)
	assert.Equal(t, uint64(1000), got.Edicts[0].Amount.Uint64())
}

func TestValidateAndFind(t *testing.T) {
	rs := &Runestone{Edicts: []Edict{{Id: RuneId{840000, 3}, Amount: u(1), Output: 2}}}
	assert.NoError(t, rs.Validate(3))
	assert.ErrorIs(t, rs.Validate(2), ErrOutputOutOfRange)

	s, err := rs.Encipher()
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(546, []byte{txscript.OP_TRUE}))
	tx.AddTxOut(wire.NewTxOut(0, s))

	got, idx, err := FindInTx(tx)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, rs.Edicts, got.Edicts)
}

func TestParseRuneId(t *testing.T) {
	id, err := ParseRuneId("840000:3")
	require.NoError(t, err)
	assert.Equal(t, RuneId{840000, 3}, id)
	assert.Equal(t, "840000:3", id.String())

	for _, s := range []string{"", "1", "a:b", "1:4294967296", "1:2:3"} {
		_, err := ParseRuneId(s)
		assert.ErrorIs(t, err, ErrInvalidRuneId, s)
	}
}
