package assembler

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
)

var (
	ErrZeroFeeRate       = errors.New("fee rate must be positive")
	ErrNoRecipients      = errors.New("no recipients")
	ErrDustOutput        = errors.New("output below dust limit")
	ErrInsufficientRunes = errors.New("insufficient rune balance")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWrongNetwork      = errors.New("address is for another network")
	ErrInputMismatch     = errors.New("inputs do not match previous outputs")
	ErrUnsupportedScript = errors.New("input is not P2WPKH")
	ErrKeyMismatch       = errors.New("custody key does not match input script")
)

type Recipient struct {
	Address string
	Amount  int64        // satoshi, native batches
	Runes   *uint256.Int // rune batches; the output carries DustLimit sats
}

// Batch describes one outbound transaction.
type Batch struct {
	RuneId     *runestone.RuneId // nil for a native batch
	Recipients []Recipient
	FeeRate    uint64 // sat/vbyte

	Required   []*utxo.UTXO // spent no matter what (the inputs of a replaced tx)
	Candidates []*utxo.UTXO // may be added to cover the amount and the fee

	ChangeOwner  common.Destination
	ChangeScript []byte
}

// Built is an assembled transaction and the bookkeeping the ledger needs.
type Built struct {
	Tx      *wire.MsgTx
	TxId    string
	Inputs  []*utxo.UTXO
	Change  []*utxo.UTXO // outputs paying back to custody
	Fee     int64
	VSize   int64
	FeeRate uint64
}

// Assembler crafts unsigned release transactions; an Unlocker signs them.
type Assembler struct {
	ChainConfig *chaincfg.Params // which BTC chain it is on. (mainnet, testnet, regtest)
}

func NewAssembler(params *chaincfg.Params) *Assembler {
	return &Assembler{ChainConfig: params}
}

// Craft lays out the outputs of b, picks inputs and computes fee and change.
// The returned tx has no witnesses yet; its txid is already final.
//
// Native layout: [recipients..., change]
// Rune layout:   [rune change, OP_RETURN runestone, recipients..., change]
// Unallocated runes go to the first non-OP_RETURN output, the rune change.
func (myAss *Assembler) Craft(b *Batch) (*Built, error) {
	if b.FeeRate == 0 {
		return nil, ErrZeroFeeRate
	}
	if len(b.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	inputs := append([]*utxo.UTXO(nil), b.Required...)
	spent := make(map[utxo.Outpoint]bool, len(inputs))
	for _, in := range inputs {
		spent[in.Outpoint()] = true
	}

	var outs []*wire.TxOut
	var change []*utxo.UTXO
	if b.RuneId == nil {
		for _, r := range b.Recipients {
			if r.Amount < utxo.DustLimit {
				return nil, fmt.Errorf("%w: %d to %s", ErrDustOutput, r.Amount, r.Address)
			}
			script, err := PayToAddress(r.Address, myAss.ChainConfig)
			if err != nil {
				return nil, fmt.Errorf("recipient %s: %w", r.Address, err)
			}
			outs = append(outs, wire.NewTxOut(r.Amount, script))
		}
	} else {
		runeOuts, runeInputs, runeChange, err := myAss.craftRuneOutputs(b, inputs, spent)
		if err != nil {
			return nil, err
		}
		outs = runeOuts
		inputs = append(inputs, runeInputs...)
		change = append(change, runeChange)
	}

	var outSum int64
	for _, o := range outs {
		outSum += o.Value
	}
	withChange := func() []*wire.TxOut {
		return append(append([]*wire.TxOut(nil), outs...), wire.NewTxOut(0, b.ChangeScript))
	}

	// fund with outputs free of runes so no rune balance is moved by accident
	inSum := utxo.Sum(inputs)
	if inSum < outSum+FeeFor(len(inputs), withChange(), b.FeeRate) {
		var pool []*utxo.UTXO
		for _, c := range b.Candidates {
			if !spent[c.Outpoint()] && !c.HasRunes() {
				pool = append(pool, c)
			}
		}
		base := len(inputs)
		extra, _, err := utxo.SelectLargestFirst(pool, func(n int) int64 {
			return outSum + FeeFor(base+n, withChange(), b.FeeRate) - inSum
		})
		if err != nil {
			return nil, fmt.Errorf("%w: have %d sats, outputs %d sats at %d sat/vB", ErrInsufficientFunds, inSum+utxo.Sum(pool), outSum, b.FeeRate)
		}
		inputs = append(inputs, extra...)
		inSum += utxo.Sum(extra)
	}

	tx := wire.NewMsgTx(TxVersion)
	for _, in := range inputs {
		op, err := in.Outpoint().Wire()
		if err != nil {
			return nil, err
		}
		txIn := wire.NewTxIn(op, nil, nil)
		txIn.Sequence = RBFSequence
		tx.AddTxIn(txIn)
	}
	for _, o := range outs {
		tx.AddTxOut(o)
	}

	fee := FeeFor(len(inputs), withChange(), b.FeeRate)
	if left := inSum - outSum - fee; left >= utxo.DustLimit {
		tx.AddTxOut(wire.NewTxOut(left, b.ChangeScript))
		change = append(change, &utxo.UTXO{
			Vout:     uint32(len(tx.TxOut) - 1),
			Amount:   left,
			PkScript: b.ChangeScript,
			Owner:    b.ChangeOwner,
		})
	} else {
		// dust change is left to the miners
		fee = inSum - outSum
	}

	txId := tx.TxHash().String()
	for _, c := range change {
		c.TxId = txId
	}

	return &Built{
		Tx:      tx,
		TxId:    txId,
		Inputs:  inputs,
		Change:  change,
		Fee:     fee,
		VSize:   EstimateVSize(len(inputs), tx.TxOut),
		FeeRate: b.FeeRate,
	}, nil
}

// craftRuneOutputs returns the rune change, runestone and recipient outputs,
// the rune inputs selected beyond the required ones and the rune change UTXO.
func (myAss *Assembler) craftRuneOutputs(b *Batch, required []*utxo.UTXO, spent map[utxo.Outpoint]bool) ([]*wire.TxOut, []*utxo.UTXO, *utxo.UTXO, error) {
	id := *b.RuneId

	want := new(uint256.Int)
	rs := &runestone.Runestone{}
	recipientOuts := make([]*wire.TxOut, 0, len(b.Recipients))
	for i, r := range b.Recipients {
		if r.Runes == nil || r.Runes.IsZero() {
			return nil, nil, nil, fmt.Errorf("%w: zero rune amount to %s", ErrDustOutput, r.Address)
		}
		script, err := PayToAddress(r.Address, myAss.ChainConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("recipient %s: %w", r.Address, err)
		}
		recipientOuts = append(recipientOuts, wire.NewTxOut(utxo.DustLimit, script))
		rs.Edicts = append(rs.Edicts, runestone.Edict{Id: id, Amount: r.Runes.Clone(), Output: uint32(2 + i)})
		want.Add(want, r.Runes)
	}

	have := new(uint256.Int)
	for _, in := range required {
		if in.HasRunes() && in.Runes.Id == id {
			have.Add(have, in.Runes.Amount)
		}
	}

	var selected []*utxo.UTXO
	if have.Lt(want) {
		var pool []*utxo.UTXO
		for _, c := range b.Candidates {
			if !spent[c.Outpoint()] {
				pool = append(pool, c)
			}
		}
		missing := new(uint256.Int).Sub(want, have)
		picked, total, err := utxo.SelectRunes(pool, id, missing)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %s needs %s more, %s available", ErrInsufficientRunes, id, missing.Dec(), total.Dec())
		}
		for _, p := range picked {
			spent[p.Outpoint()] = true
		}
		selected = picked
		have.Add(have, total)
	}

	opReturn, err := rs.Encipher()
	if err != nil {
		return nil, nil, nil, err
	}

	outs := []*wire.TxOut{
		wire.NewTxOut(utxo.DustLimit, b.ChangeScript),
		wire.NewTxOut(0, opReturn),
	}
	outs = append(outs, recipientOuts...)
	if err := rs.Validate(len(outs)); err != nil {
		return nil, nil, nil, err
	}

	runeChange := &utxo.UTXO{
		Vout:     0,
		Amount:   utxo.DustLimit,
		PkScript: b.ChangeScript,
		Owner:    b.ChangeOwner,
	}
	if left := new(uint256.Int).Sub(have, want); !left.IsZero() {
		runeChange.Runes = &utxo.RuneBalance{Id: id, Amount: left}
	}
	return outs, selected, runeChange, nil
}
