package rpc

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/wire"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
)

var ErrTxNotFound = errors.New("transaction not found")

// ChainRPC is the relay to the bitcoin network the custody engine needs.
type ChainRPC interface {
	// GetUtxos lists the outputs of address with at least minConf confirmations.
	// Owner is left empty; the caller knows who owns the address.
	GetUtxos(ctx context.Context, address string, minConf int) ([]*utxo.UTXO, error)
	// EstimateFeeRate returns the current fee rate in sat/vbyte.
	EstimateFeeRate(ctx context.Context) (uint64, error)
	// Broadcast relays a signed transaction and returns its id.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error)
	// GetConfirmations returns 0 for a mempool transaction and
	// ErrTxNotFound when the node does not know it.
	GetConfirmations(ctx context.Context, txId string) (uint32, error)
}
