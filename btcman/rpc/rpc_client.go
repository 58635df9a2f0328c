package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
)

const (
	CONFIRM_SAFE = 6 // minimum confirm threshold to consider Tx is finalized.
	MAX_CONFIRM  = 9999999

	defaultConfTarget      = 6
	defaultFallbackFeeRate = 2 // sat/vbyte, used when the node has no estimate (regtest)
)

type RpcClientConfig struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Username   string
	Pwd        string

	ChainConfig     *chaincfg.Params
	ConfTarget      int64  // blocks, for estimatesmartfee
	FallbackFeeRate uint64 // sat/vbyte
}

// Wrapper of btc rpc client.
type RpcClient struct {
	cfg    *RpcClientConfig
	client *rpcclient.Client
}

func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   true, // original bitcoin does not support TLS
	}, nil)
	if err != nil {
		return nil, err
	}

	if rcc.ConfTarget == 0 {
		rcc.ConfTarget = defaultConfTarget
	}
	if rcc.FallbackFeeRate == 0 {
		rcc.FallbackFeeRate = defaultFallbackFeeRate
	}
	return &RpcClient{cfg: rcc, client: client}, nil
}

func (r *RpcClient) Close() {
	r.client.Shutdown()
}

func (r *RpcClient) GetLatestBlockHeight() (int64, error) {
	return r.client.GetBlockCount()
}

// GetUtxos needs the address imported (watch-only) into the node's wallet.
func (r *RpcClient) GetUtxos(ctx context.Context, address string, minConf int) ([]*utxo.UTXO, error) {
	addr, err := btcutil.DecodeAddress(address, r.cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	unspent, err := r.client.ListUnspentMinMaxAddresses(minConf, MAX_CONFIRM, []btcutil.Address{addr})
	if err != nil {
		return nil, err
	}

	utxos := make([]*utxo.UTXO, 0, len(unspent))
	for _, item := range unspent {
		amount, err := btcutil.NewAmount(item.Amount)
		if err != nil {
			return nil, fmt.Errorf("amount of %s:%d: %w", item.TxID, item.Vout, err)
		}
		script, err := hex.DecodeString(item.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("script of %s:%d: %w", item.TxID, item.Vout, err)
		}
		utxos = append(utxos, &utxo.UTXO{
			TxId:     item.TxID,
			Vout:     item.Vout,
			Amount:   int64(amount),
			PkScript: script,
		})
	}
	return utxos, nil
}

func (r *RpcClient) EstimateFeeRate(ctx context.Context) (uint64, error) {
	mode := btcjson.EstimateModeConservative
	res, err := r.client.EstimateSmartFee(r.cfg.ConfTarget, &mode)
	if err != nil {
		return 0, err
	}
	if res.FeeRate == nil {
		logger.WithField("errors", res.Errors).Debug("no fee estimate, using fallback")
		return r.cfg.FallbackFeeRate, nil
	}
	return btcPerKvbToSatPerVb(*res.FeeRate)
}

// btcPerKvbToSatPerVb rounds up so the rate never falls below the estimate.
func btcPerKvbToSatPerVb(rate float64) (uint64, error) {
	perKvb, err := btcutil.NewAmount(rate)
	if err != nil {
		return 0, err
	}
	if perKvb <= 0 {
		return 0, fmt.Errorf("non-positive fee rate %v", rate)
	}
	return uint64(math.Ceil(float64(perKvb) / 1000)), nil
}

func (r *RpcClient) Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error) {
	// allowHighFees=true: replacements may legitimately pay a high rate
	txHash, err := r.client.SendRawTransaction(tx, true)
	if err != nil {
		return "", err
	}
	return txHash.String(), nil
}

func (r *RpcClient) GetConfirmations(ctx context.Context, txId string) (uint32, error) {
	hash, err := chainhash.NewHashFromStr(txId)
	if err != nil {
		return 0, err
	}
	res, err := r.client.GetRawTransactionVerbose(hash)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return 0, ErrTxNotFound
		}
		return 0, err
	}
	if res.Confirmations > math.MaxUint32 {
		return math.MaxUint32, nil
	}
	return uint32(res.Confirmations), nil
}
