package assembler

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
)

var zeroHash chainhash.Hash

// Upper bound of a P2WPKH witness: DER signature with sighash byte, then the key.
var placeholderWitness = wire.TxWitness{make([]byte, 73), make([]byte, 33)}

// EstimateVSize returns the virtual size of a tx spending nInputs P2WPKH
// outputs into outs, using the largest possible witness per input.
func EstimateVSize(nInputs int, outs []*wire.TxOut) int64 {
	tx := wire.NewMsgTx(TxVersion)
	for i := 0; i < nInputs; i++ {
		in := wire.NewTxIn(wire.NewOutPoint(&zeroHash, uint32(i)), nil, placeholderWitness)
		in.Sequence = RBFSequence
		tx.AddTxIn(in)
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	return mempool.GetTxVirtualSize(btcutil.NewTx(tx))
}

// FeeFor is the fee paying feeRate sat/vbyte for the estimated size.
func FeeFor(nInputs int, outs []*wire.TxOut, feeRate uint64) int64 {
	return EstimateVSize(nInputs, outs) * int64(feeRate)
}
