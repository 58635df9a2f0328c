/*
Unlocker produces the unlocking part of a Tx (the witnesses of its inputs).
Always create the "lock" part (outputs) and add every input first, then unlock.
Otherwise the signatures commit to the wrong transaction.
*/
package assembler

import (
	"context"

	"github.com/btcsuite/btcd/wire"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
)

type Unlocker interface {
	// Unlock signs input i of tx as a spend of prevOutputs[i].
	Unlock(ctx context.Context, tx *wire.MsgTx, prevOutputs []*utxo.UTXO) error
}
