/*
Low-level UTXO structures shared by the ledger and the transaction builder.
*/
package utxo

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
)

// Outputs below this value are not relayed.
const DustLimit = 546

type Outpoint struct {
	TxId string `json:"tx_id"`
	Vout uint32 `json:"vout"`
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxId, o.Vout)
}

func (o Outpoint) Less(other Outpoint) bool {
	if o.TxId != other.TxId {
		return o.TxId < other.TxId
	}
	return o.Vout < other.Vout
}

func (o Outpoint) Wire() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(o.TxId)
	if err != nil {
		return nil, fmt.Errorf("bad tx id %q: %w", o.TxId, err)
	}
	return wire.NewOutPoint(hash, o.Vout), nil
}

// RuneBalance is the amount of one rune held by an output.
type RuneBalance struct {
	Id     runestone.RuneId `json:"id"`
	Amount *uint256.Int     `json:"amount"`
}

// UTXO is an unspent output controlled by a custody address.
type UTXO struct {
	TxId     string             `json:"tx_id"`
	Vout     uint32             `json:"vout"`
	Amount   int64              `json:"amount"` // satoshi
	PkScript []byte             `json:"pk_script"`
	Owner    common.Destination `json:"owner"`
	Runes    *RuneBalance       `json:"runes,omitempty"`
}

func (u *UTXO) Outpoint() Outpoint {
	return Outpoint{TxId: u.TxId, Vout: u.Vout}
}

func (u *UTXO) HasRunes() bool {
	return u.Runes != nil && !u.Runes.Amount.IsZero()
}

func (u *UTXO) Clone() *UTXO {
	c := *u
	c.PkScript = append([]byte(nil), u.PkScript...)
	if u.Runes != nil {
		c.Runes = &RuneBalance{Id: u.Runes.Id, Amount: u.Runes.Amount.Clone()}
	}
	return &c
}
