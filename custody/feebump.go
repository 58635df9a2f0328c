package custody

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/assembler"
	"github.com/octopus-network/omnity-interoperability-sub003/btcman/rpc"
	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

// openTx is what the scans need of an open transaction, copied out of the state.
type openTx struct {
	txId        string
	rawTx       string
	feeRate     uint64
	fee         int64
	submittedAt int64
	runeId      *runestone.RuneId
	inputs      []*utxo.UTXO
	requests    []string
	versions    []string // newest first
}

func (e *Engine) openTxs() []*openTx {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res []*openTx
	for _, tx := range e.state.OpenTxs() {
		o := &openTx{
			txId:        tx.TxId,
			rawTx:       tx.RawTx,
			feeRate:     tx.FeeRate(),
			fee:         tx.Fee,
			submittedAt: tx.SubmittedAt,
			runeId:      tx.RuneId,
			requests:    append([]string(nil), tx.Requests...),
		}
		for _, in := range tx.Inputs {
			o.inputs = append(o.inputs, in.Clone())
		}
		versions := e.state.Versions(tx.TxId)
		for i := len(versions) - 1; i >= 0; i-- {
			o.versions = append(o.versions, versions[i].TxId)
		}
		res = append(res, o)
	}
	return res
}

// BumpFees rebroadcasts open transactions the node does not know and
// replaces the ones stuck longer than the timeout when the network fee rate
// went above theirs.
func (e *Engine) BumpFees(ctx context.Context) error {
	open := e.openTxs()
	if len(open) == 0 {
		return nil
	}

	now := e.cfg.now()
	var rate uint64
	for _, tx := range open {
		conf, err := e.rpc.GetConfirmations(ctx, tx.txId)
		if errors.Is(err, rpc.ErrTxNotFound) {
			e.rebroadcast(ctx, tx)
			continue
		}
		if err != nil {
			logger.WithField("tx_id", tx.txId).Warnf("failed to get confirmations: %v", err)
			continue
		}
		if conf > 0 || now.Sub(time.Unix(tx.submittedAt, 0)) < e.cfg.StuckTimeout {
			continue
		}

		if rate == 0 {
			if rate, err = e.estimateFeeRate(ctx); err != nil {
				return err
			}
		}
		if tx.feeRate >= rate {
			logger.WithFields(logger.Fields{"tx_id": tx.txId, "fee_rate": tx.feeRate, "estimate": rate}).Debug("stuck tx already pays the current rate")
			continue
		}
		if err := e.replace(ctx, tx, rate); err != nil {
			logger.WithField("tx_id", tx.txId).Errorf("failed to replace stuck tx: %v", err)
		}
	}
	return nil
}

func (e *Engine) rebroadcast(ctx context.Context, tx *openTx) {
	msg, err := deserialize(tx.rawTx)
	if err != nil {
		logger.WithField("tx_id", tx.txId).Panicf("%v: recorded tx does not decode: %v", state.ErrInvariant, err)
	}
	if _, err := e.rpc.Broadcast(ctx, msg); err != nil {
		logger.WithField("tx_id", tx.txId).Warnf("rebroadcast failed: %v", err)
		return
	}
	logger.WithField("tx_id", tx.txId).Info("tx rebroadcast")
}

// replace spends the inputs of tx again at rate, adding inputs when the
// change cannot absorb the higher fee.
func (e *Engine) replace(ctx context.Context, tx *openTx, rate uint64) error {
	main := common.MainDestination(e.cfg.OwnChain)
	_, changeScript, err := e.op.Address(ctx, main)
	if err != nil {
		return wrapCall("public_key", err)
	}

	e.mu.Lock()
	if cur, ok := e.state.Txs[tx.txId]; !ok || !cur.IsOpen() {
		e.mu.Unlock()
		return nil
	}
	reqs := make([]*state.OutboundRequest, len(tx.requests))
	for i, id := range tx.requests {
		reqs[i] = e.state.Outbound[id].Clone()
	}
	built, err := e.ass.Craft(&assembler.Batch{
		RuneId:       tx.runeId,
		Recipients:   recipients(reqs),
		FeeRate:      rate,
		Required:     tx.inputs,
		Candidates:   e.candidatesLocked(),
		ChangeOwner:  main,
		ChangeScript: changeScript,
	})
	if err != nil {
		e.mu.Unlock()
		return err
	}
	// a replacement pays the old fee plus one sat per vbyte of its own;
	// dust change dropped into the old fee can eat the higher rate
	if built.Fee < tx.fee+built.VSize {
		e.mu.Unlock()
		logger.WithFields(logger.Fields{"tx_id": tx.txId, "fee": built.Fee, "old_fee": tx.fee}).Debug("replacement would not pay more than the stuck tx")
		return nil
	}
	e.lockInputsLocked(built)
	e.mu.Unlock()
	defer e.unlockInputs(built)

	if err := e.op.Unlock(ctx, built.Tx, built.Inputs); err != nil {
		return wrapCall("sign", err)
	}
	raw, err := serialize(built.Tx)
	if err != nil {
		return err
	}

	feeRate := built.FeeRate
	next := &state.SubmittedTransaction{
		TxId:        built.TxId,
		RawTx:       raw,
		RuneId:      tx.runeId,
		Inputs:      built.Inputs,
		Change:      built.Change,
		Requests:    tx.requests,
		Fee:         built.Fee,
		FeePerVbyte: &feeRate,
		SubmittedAt: e.cfg.now().Unix(),
	}
	if err := e.commit(state.ReplacedTransaction{OldTxId: tx.txId, NewTx: next}); err != nil {
		return err
	}
	logger.WithFields(logger.Fields{
		"old_tx_id": tx.txId,
		"tx_id":     built.TxId,
		"fee_rate":  feeRate,
		"old_rate":  tx.feeRate,
	}).Info("stuck tx replaced")

	if _, err := e.rpc.Broadcast(ctx, built.Tx); err != nil {
		logger.WithField("tx_id", built.TxId).Warnf("broadcast failed: %v", err)
	}
	e.reportTxHash(ctx, tx.requests, built.TxId)
	return nil
}
