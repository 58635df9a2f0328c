package assembler

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
	"github.com/octopus-network/omnity-interoperability-sub003/signer"
)

var params = &chaincfg.RegressionNetParams

type testEnv struct {
	ctx    context.Context
	op     *SignerOperator
	ass    *Assembler
	main   common.Destination
	script []byte
}

func newTestEnv(t *testing.T) *testEnv {
	s, err := signer.NewLocalSigner([]byte("assembler-test-seed-assembler-test"), params)
	require.NoError(t, err)
	op := NewSignerOperator(s, params)
	main := common.MainDestination("Bitcoin")
	_, script, err := op.Address(context.Background(), main)
	require.NoError(t, err)
	return &testEnv{ctx: context.Background(), op: op, ass: NewAssembler(params), main: main, script: script}
}

func (env *testEnv) utxo(t *testing.T, owner common.Destination, amount int64) *utxo.UTXO {
	_, script, err := env.op.Address(env.ctx, owner)
	require.NoError(t, err)
	return &utxo.UTXO{TxId: common.RandTxId(), Vout: 0, Amount: amount, PkScript: script, Owner: owner}
}

// signedTx crafts b and signs every input.
func (env *testEnv) signedTx(b *Batch) (*Built, error) {
	built, err := env.ass.Craft(b)
	if err != nil {
		return nil, err
	}
	if err := env.op.Unlock(env.ctx, built.Tx, built.Inputs); err != nil {
		return nil, err
	}
	return built, nil
}

func randAddress(t *testing.T, taproot bool) string {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	if taproot {
		addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(priv.PubKey()), params)
		require.NoError(t, err)
		return addr.EncodeAddress()
	}
	addr, err := CustodyAddress(priv.PubKey().SerializeCompressed(), params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func verifyInputs(t *testing.T, tx *wire.MsgTx, inputs []*utxo.UTXO) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range inputs {
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, wire.NewTxOut(in.Amount, in.PkScript))
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range inputs {
		vm, err := txscript.NewEngine(in.PkScript, tx, i, txscript.StandardVerifyFlags, nil, hashes, in.Amount, fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

func checkFee(t *testing.T, built *Built) {
	var inSum, outSum int64
	for _, in := range built.Inputs {
		inSum += in.Amount
	}
	for _, out := range built.Tx.TxOut {
		outSum += out.Value
	}
	assert.Equal(t, inSum-outSum, built.Fee)

	actual := mempool.GetTxVirtualSize(btcutil.NewTx(built.Tx))
	assert.LessOrEqual(t, actual, built.VSize)
	assert.GreaterOrEqual(t, built.Fee, actual*int64(built.FeeRate))
}

func TestNativeBatch(t *testing.T) {
	env := newTestEnv(t)
	deposit := common.Destination{TargetChainId: "eICP", Receiver: "alice"}
	candidates := []*utxo.UTXO{
		env.utxo(t, env.main, 40_000),
		env.utxo(t, deposit, 100_000),
		env.utxo(t, env.main, 30_000),
	}
	r1, r2 := randAddress(t, false), randAddress(t, true)

	built, err := env.signedTx(&Batch{
		Recipients: []Recipient{
			{Address: r1, Amount: 50_000},
			{Address: r2, Amount: 20_000},
		},
		FeeRate:      5,
		Candidates:   candidates,
		ChangeOwner:  env.main,
		ChangeScript: env.script,
	})
	require.NoError(t, err)

	// largest first: 100k covers 70k + fee
	require.Len(t, built.Inputs, 1)
	assert.Equal(t, int64(100_000), built.Inputs[0].Amount)
	require.Len(t, built.Tx.TxOut, 3)
	assert.Equal(t, int64(50_000), built.Tx.TxOut[0].Value)
	assert.Equal(t, int64(20_000), built.Tx.TxOut[1].Value)
	for _, in := range built.Tx.TxIn {
		assert.Equal(t, uint32(RBFSequence), in.Sequence)
	}

	require.Len(t, built.Change, 1)
	assert.Equal(t, uint32(2), built.Change[0].Vout)
	assert.Equal(t, built.TxId, built.Change[0].TxId)
	assert.Equal(t, env.main, built.Change[0].Owner)
	assert.Equal(t, built.Tx.TxOut[2].Value, built.Change[0].Amount)

	// witnesses do not change the id
	assert.Equal(t, built.TxId, built.Tx.TxHash().String())
	verifyInputs(t, built.Tx, built.Inputs)
	checkFee(t, built)
}

func TestNativeBatchDustChange(t *testing.T) {
	env := newTestEnv(t)
	in := env.utxo(t, env.main, 10_000)
	r := randAddress(t, false)

	// leave a little more than the fee, less than dust
	outs := []*wire.TxOut{wire.NewTxOut(0, make([]byte, 22)), wire.NewTxOut(0, env.script)}
	fee := FeeFor(1, outs, 2)
	amount := 10_000 - fee - 100

	built, err := env.signedTx(&Batch{
		Recipients:   []Recipient{{Address: r, Amount: amount}},
		FeeRate:      2,
		Candidates:   []*utxo.UTXO{in},
		ChangeOwner:  env.main,
		ChangeScript: env.script,
	})
	require.NoError(t, err)
	assert.Len(t, built.Tx.TxOut, 1)
	assert.Empty(t, built.Change)
	assert.Equal(t, 10_000-amount, built.Fee)
	verifyInputs(t, built.Tx, built.Inputs)
	checkFee(t, built)
}

func TestRuneBatch(t *testing.T) {
	env := newTestEnv(t)
	id := runestone.RuneId{Block: 840000, Tx: 3}
	holder := env.utxo(t, common.Destination{TargetChainId: "eICP", Receiver: "bob", Token: "Bitcoin-runes-X"}, utxo.DustLimit)
	holder.Runes = &utxo.RuneBalance{Id: id, Amount: uint256.NewInt(1000)}
	foreign := env.utxo(t, env.main, 90_000)
	foreign.Runes = &utxo.RuneBalance{Id: runestone.RuneId{Block: 1, Tx: 1}, Amount: uint256.NewInt(5)}
	fees := env.utxo(t, env.main, 20_000)

	r1, r2 := randAddress(t, false), randAddress(t, true)
	built, err := env.signedTx(&Batch{
		RuneId: &id,
		Recipients: []Recipient{
			{Address: r1, Runes: uint256.NewInt(300)},
			{Address: r2, Runes: uint256.NewInt(200)},
		},
		FeeRate:      3,
		Candidates:   []*utxo.UTXO{foreign, fees, holder},
		ChangeOwner:  env.main,
		ChangeScript: env.script,
	})
	require.NoError(t, err)

	require.Len(t, built.Inputs, 2)
	assert.Equal(t, holder.Outpoint(), built.Inputs[0].Outpoint())
	assert.Equal(t, fees.Outpoint(), built.Inputs[1].Outpoint())

	require.Len(t, built.Tx.TxOut, 5)
	rs, idx, err := runestone.FindInTx(built.Tx)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	require.Len(t, rs.Edicts, 2)
	assert.Equal(t, uint32(2), rs.Edicts[0].Output)
	assert.Equal(t, uint64(300), rs.Edicts[0].Amount.Uint64())
	assert.Equal(t, uint32(3), rs.Edicts[1].Output)

	require.Len(t, built.Change, 2)
	assert.Equal(t, uint32(0), built.Change[0].Vout)
	assert.Equal(t, uint64(500), built.Change[0].Runes.Amount.Uint64())
	assert.Equal(t, uint32(4), built.Change[1].Vout)
	assert.Nil(t, built.Change[1].Runes)

	verifyInputs(t, built.Tx, built.Inputs)
	checkFee(t, built)

	_, err = env.ass.Craft(&Batch{
		RuneId:       &id,
		Recipients:   []Recipient{{Address: r1, Runes: uint256.NewInt(1001)}},
		FeeRate:      3,
		Candidates:   []*utxo.UTXO{fees, holder},
		ChangeOwner:  env.main,
		ChangeScript: env.script,
	})
	assert.ErrorIs(t, err, ErrInsufficientRunes)
}

func TestReplacementKeepsInputs(t *testing.T) {
	env := newTestEnv(t)
	r := randAddress(t, false)
	a := env.utxo(t, env.main, 60_000)
	b := env.utxo(t, env.main, 50_000)

	batch := &Batch{
		Recipients:   []Recipient{{Address: r, Amount: 59_500}},
		FeeRate:      5,
		Candidates:   []*utxo.UTXO{a, b},
		ChangeOwner:  env.main,
		ChangeScript: env.script,
	}
	first, err := env.ass.Craft(batch)
	require.NoError(t, err)
	require.Len(t, first.Inputs, 2)

	// same inputs, higher rate, nothing else available
	batch.Required = first.Inputs
	batch.Candidates = nil
	batch.FeeRate = 8
	second, err := env.signedTx(batch)
	require.NoError(t, err)
	assert.Equal(t, first.Inputs, second.Inputs)
	assert.Greater(t, second.Fee, first.Fee)
	assert.NotEqual(t, first.TxId, second.TxId)
	verifyInputs(t, second.Tx, second.Inputs)
	checkFee(t, second)

	// a rate the inputs cannot pay pulls in an extra candidate
	extra := env.utxo(t, env.main, 80_000)
	batch.Candidates = []*utxo.UTXO{extra}
	batch.FeeRate = 400
	third, err := env.ass.Craft(batch)
	require.NoError(t, err)
	require.Len(t, third.Inputs, 3)
	assert.Equal(t, extra.Outpoint(), third.Inputs[2].Outpoint())

	batch.Candidates = nil
	_, err = env.ass.Craft(batch)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestCraftErrors(t *testing.T) {
	env := newTestEnv(t)
	in := env.utxo(t, env.main, 100_000)

	_, err := env.ass.Craft(&Batch{Recipients: []Recipient{{Address: randAddress(t, false), Amount: 1000}}, Candidates: []*utxo.UTXO{in}, ChangeScript: env.script})
	assert.ErrorIs(t, err, ErrZeroFeeRate)

	_, err = env.ass.Craft(&Batch{FeeRate: 1, Candidates: []*utxo.UTXO{in}, ChangeScript: env.script})
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = env.ass.Craft(&Batch{Recipients: []Recipient{{Address: randAddress(t, false), Amount: 100}}, FeeRate: 1, Candidates: []*utxo.UTXO{in}, ChangeScript: env.script})
	assert.ErrorIs(t, err, ErrDustOutput)

	_, err = env.ass.Craft(&Batch{Recipients: []Recipient{{Address: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", Amount: 1000}}, FeeRate: 1, Candidates: []*utxo.UTXO{in}, ChangeScript: env.script})
	assert.ErrorIs(t, err, ErrWrongNetwork)
}

func TestUnlockKeyMismatch(t *testing.T) {
	env := newTestEnv(t)
	in := env.utxo(t, env.main, 100_000)
	in.Owner = common.Destination{TargetChainId: "eICP", Receiver: "mallory"}

	_, err := env.signedTx(&Batch{
		Recipients:   []Recipient{{Address: randAddress(t, false), Amount: 10_000}},
		FeeRate:      1,
		Candidates:   []*utxo.UTXO{in},
		ChangeOwner:  env.main,
		ChangeScript: env.script,
	})
	assert.ErrorIs(t, err, ErrKeyMismatch)
}
