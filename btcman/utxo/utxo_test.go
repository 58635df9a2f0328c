package utxo

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
)

func mk(tx string, vout uint32, amount int64) *UTXO {
	return &UTXO{TxId: tx, Vout: vout, Amount: amount}
}

func TestSelectLargestFirst(t *testing.T) {
	pool := []*UTXO{
		mk("aa", 0, 1000),
		mk("bb", 1, 5000),
		mk("bb", 0, 5000),
		mk("cc", 0, 20000),
	}

	// fixed fee of 100 per input
	selected, sum, err := SelectLargestFirst(pool, func(n int) int64 { return 24000 + int64(n)*100 })
	require.NoError(t, err)
	assert.Equal(t, int64(25000), sum)
	require.Len(t, selected, 2)
	assert.Equal(t, Outpoint{"cc", 0}, selected[0].Outpoint())
	// equal amounts: lower outpoint wins
	assert.Equal(t, Outpoint{"bb", 0}, selected[1].Outpoint())

	// the caller's order does not change the result
	reversed := []*UTXO{pool[3], pool[2], pool[1], pool[0]}
	again, _, err := SelectLargestFirst(reversed, func(n int) int64 { return 24000 + int64(n)*100 })
	require.NoError(t, err)
	assert.Equal(t, selected, again)
	assert.Equal(t, "aa", pool[0].TxId)

	_, _, err = SelectLargestFirst(pool, func(n int) int64 { return 31000 })
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestSelectRunes(t *testing.T) {
	id := runestone.RuneId{Block: 840000, Tx: 3}
	other := runestone.RuneId{Block: 840000, Tx: 4}
	withRunes := func(tx string, id runestone.RuneId, amt uint64) *UTXO {
		u := mk(tx, 0, DustLimit)
		u.Runes = &RuneBalance{Id: id, Amount: uint256.NewInt(amt)}
		return u
	}
	pool := []*UTXO{
		withRunes("a1", id, 300),
		withRunes("a2", id, 700),
		withRunes("a3", other, 5000),
		mk("a4", 0, 100000),
	}

	selected, total, err := SelectRunes(pool, id, uint256.NewInt(800))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), total.Uint64())
	require.Len(t, selected, 2)
	assert.Equal(t, "a2", selected[0].TxId)

	_, total, err = SelectRunes(pool, id, uint256.NewInt(1001))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, uint64(1000), total.Uint64())
}

func TestOutpointWire(t *testing.T) {
	txid := "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	op, err := Outpoint{TxId: txid, Vout: 2}.Wire()
	require.NoError(t, err)
	assert.Equal(t, txid, op.Hash.String())
	assert.Equal(t, uint32(2), op.Index)

	_, err = Outpoint{TxId: "zz"}.Wire()
	assert.Error(t, err)
}
