package custody

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/rpc"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

// ConfirmScan looks for a version of every open replacement chain with
// enough confirmations.
func (e *Engine) ConfirmScan(ctx context.Context) error {
	for _, tx := range e.openTxs() {
		for _, id := range tx.versions {
			conf, err := e.rpc.GetConfirmations(ctx, id)
			if errors.Is(err, rpc.ErrTxNotFound) {
				continue
			}
			if err != nil {
				logger.WithField("tx_id", id).Warnf("failed to get confirmations: %v", err)
				continue
			}
			if conf < e.cfg.Confirmations {
				continue
			}
			if err := e.Confirm(ctx, id); err != nil {
				logger.WithField("tx_id", id).Errorf("failed to confirm: %v", err)
			}
			break
		}
	}
	return nil
}

// Confirm records that txId has enough confirmations: its inputs are spent
// for good, its change becomes spendable and its requests are confirmed.
func (e *Engine) Confirm(ctx context.Context, txId string) error {
	if err := e.commit(state.ConfirmedTransaction{TxId: txId}); err != nil {
		if errors.Is(err, state.ErrTxNotFound) {
			return fmt.Errorf("%w: tx %s", ErrRequestNotFound, txId)
		}
		return err
	}
	logger.WithField("tx_id", txId).Info("release tx confirmed")

	e.finalizeReleases(ctx)
	return nil
}
