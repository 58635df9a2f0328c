package rpc

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
)

func TestFeeRateConversion(t *testing.T) {
	tests := []struct {
		btcPerKvb float64
		want      uint64
	}{
		{0.00001, 1},
		{0.00005, 5},
		{0.000051, 6}, // 5.1 sat/vB rounds up
		{0.001, 100},
	}
	for _, tt := range tests {
		got, err := btcPerKvbToSatPerVb(tt.btcPerKvb)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.btcPerKvb)
	}

	_, err := btcPerKvbToSatPerVb(0)
	assert.Error(t, err)
}

func TestSimChain(t *testing.T) {
	ctx := context.Background()
	sim := NewSimChain(5)

	sim.AddUtxo("addr", &utxo.UTXO{TxId: "aa", Vout: 1, Amount: 1000})
	got, err := sim.GetUtxos(ctx, "addr", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].Amount = 0
	again, _ := sim.GetUtxos(ctx, "addr", 1)
	assert.Equal(t, int64(1000), again[0].Amount)

	rate, err := sim.EstimateFeeRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rate)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	id, err := sim.Broadcast(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash().String(), id)

	n, err := sim.GetConfirmations(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
	sim.Confirm(id, 6)
	n, _ = sim.GetConfirmations(ctx, id)
	assert.Equal(t, uint32(6), n)

	_, err = sim.GetConfirmations(ctx, "unknown")
	assert.ErrorIs(t, err, ErrTxNotFound)

	down := errors.New("relay down")
	sim.Fail("Broadcast", down)
	_, err = sim.Broadcast(ctx, tx)
	assert.ErrorIs(t, err, down)
	sim.Fail("Broadcast", nil)
	_, err = sim.Broadcast(ctx, tx)
	assert.NoError(t, err)
	assert.Len(t, sim.Broadcasted(), 1)
}

// Runs against a regtest node when BTC_RPC_SERVER is set.
func TestRpcClientRegtest(t *testing.T) {
	server := os.Getenv("BTC_RPC_SERVER")
	if server == "" {
		t.Skip("BTC_RPC_SERVER not set")
	}
	r, err := NewRpcClient(&RpcClientConfig{
		ServerAddr:  server,
		Port:        os.Getenv("BTC_RPC_PORT"),
		Username:    os.Getenv("BTC_RPC_USERNAME"),
		Pwd:         os.Getenv("BTC_RPC_PWD"),
		ChainConfig: &chaincfg.RegressionNetParams,
	})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetLatestBlockHeight()
	assert.NoError(t, err)

	rate, err := r.EstimateFeeRate(context.Background())
	assert.NoError(t, err)
	assert.Greater(t, rate, uint64(0))

	_, err = r.GetConfirmations(context.Background(), "0000000000000000000000000000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, ErrTxNotFound)
}
