package assembler

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common/lru"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/signer"
)

const pubKeyCacheSize = 4096

var _ Unlocker = (*SignerOperator)(nil)

// SignerOperator unlocks P2WPKH custody outputs with keys held by the
// signing service. The key of an output is found from its owner destination.
type SignerOperator struct {
	Signer      signer.Signer
	ChainConfig *chaincfg.Params

	pubKeys *lru.Cache[string, []byte]
}

func NewSignerOperator(s signer.Signer, params *chaincfg.Params) *SignerOperator {
	return &SignerOperator{
		Signer:      s,
		ChainConfig: params,
		pubKeys:     lru.NewCache[string, []byte](pubKeyCacheSize),
	}
}

// PublicKey returns the custody key of dest, asking the signing service once.
func (op *SignerOperator) PublicKey(ctx context.Context, dest common.Destination) ([]byte, error) {
	id := dest.String()
	if pub, ok := op.pubKeys.Get(id); ok {
		return pub, nil
	}
	pub, err := op.Signer.PublicKey(ctx, dest.KeyPath())
	if err != nil {
		return nil, err
	}
	if _, err := signer.ParsePublicKey(pub); err != nil {
		return nil, err
	}
	op.pubKeys.Add(id, pub)
	return pub, nil
}

// Address returns the custody address of dest and its locking script.
func (op *SignerOperator) Address(ctx context.Context, dest common.Destination) (string, []byte, error) {
	pub, err := op.PublicKey(ctx, dest)
	if err != nil {
		return "", nil, err
	}
	addr, err := CustodyAddress(pub, op.ChainConfig)
	if err != nil {
		return "", nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, err
	}
	return addr.EncodeAddress(), script, nil
}

func (op *SignerOperator) Unlock(ctx context.Context, tx *wire.MsgTx, prevOutputs []*utxo.UTXO) error {
	if len(tx.TxIn) != len(prevOutputs) {
		return fmt.Errorf("%w: %d inputs, %d previous outputs", ErrInputMismatch, len(tx.TxIn), len(prevOutputs))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, prev := range prevOutputs {
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, wire.NewTxOut(prev.Amount, prev.PkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, prev := range prevOutputs {
		if !txscript.IsPayToWitnessPubKeyHash(prev.PkScript) {
			return fmt.Errorf("%w: input %d (%s)", ErrUnsupportedScript, i, prev.Outpoint())
		}
		pub, err := op.PublicKey(ctx, prev.Owner)
		if err != nil {
			return fmt.Errorf("public key of %s: %w", prev.Owner, err)
		}
		if !bytes.Equal(btcutil.Hash160(pub), prev.PkScript[2:]) {
			return fmt.Errorf("%w: input %d owned by %s", ErrKeyMismatch, i, prev.Owner)
		}

		digest, err := txscript.CalcWitnessSigHash(prev.PkScript, sigHashes, txscript.SigHashAll, tx, i, prev.Amount)
		if err != nil {
			return err
		}
		sig, err := op.Signer.Sign(ctx, prev.Owner.KeyPath(), digest)
		if err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}
		der, err := signer.ToDER(sig)
		if err != nil {
			return err
		}
		tx.TxIn[i].Witness = wire.TxWitness{append(der, byte(txscript.SigHashAll)), pub}
	}
	return nil
}
