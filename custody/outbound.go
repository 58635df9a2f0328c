package custody

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/assembler"
	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

// Native amounts above this cannot exist.
const maxSats = 21_000_000 * 100_000_000

// ReleaseToken accepts a release ticket. Nothing is sent to the network here;
// the submit task picks up pending requests.
func (e *Engine) ReleaseToken(ctx context.Context, ticket *common.Ticket) error {
	amount, err := common.ParseAmount(ticket.Amount)
	if err != nil {
		return err
	}
	if _, err := assembler.DecodeAddress(ticket.Receiver, e.params); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, ticket.Receiver, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.state.Outbound[ticket.TicketId]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, ticket.TicketId)
	}
	token, ok := e.state.Tokens[ticket.Token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, ticket.Token)
	}
	runeId, err := e.runeIdOf(token)
	if err != nil {
		return err
	}
	if runeId == nil {
		if floor := minRelease(e.state.MinReleaseAmount); amount.Lt(uint256.NewInt(floor)) {
			return fmt.Errorf("%w: %s < %d", ErrAmountTooLow, amount.Dec(), floor)
		}
		if amount.Gt(uint256.NewInt(maxSats)) {
			return fmt.Errorf("%w: %s sats", ErrInvalidAmount, amount.Dec())
		}
	}
	if !e.state.Active {
		return fmt.Errorf("%w: %s", ErrChainDeactivated, e.cfg.OwnChain)
	}
	if n := e.state.NonTerminalOutbound(); n >= e.state.MaxPendingRequests {
		return fmt.Errorf("%w: %d requests in flight", ErrTemporarilyUnavailable, n)
	}

	req := &state.OutboundRequest{
		TicketId:   ticket.TicketId,
		Token:      ticket.Token,
		RuneId:     runeId,
		Address:    ticket.Receiver,
		Amount:     amount,
		ReceivedAt: e.cfg.now().Unix(),
		Status:     state.OutboundPending,
	}
	if err := e.commitLocked(state.AcceptedReleaseTokenRequest{Request: req}); err != nil {
		return err
	}
	logger.WithFields(logger.Fields{"ticket_id": ticket.TicketId, "token": ticket.Token, "amount": amount.Dec()}).Info("release request accepted")
	return nil
}

// minRelease is the configured minimum, never below what the network relays.
func minRelease(configured uint64) uint64 {
	if configured < utxo.DustLimit {
		return utxo.DustLimit
	}
	return configured
}

func recipients(reqs []*state.OutboundRequest) []assembler.Recipient {
	res := make([]assembler.Recipient, len(reqs))
	for i, r := range reqs {
		if r.RuneId == nil {
			res[i] = assembler.Recipient{Address: r.Address, Amount: int64(r.Amount.Uint64())}
		} else {
			res[i] = assembler.Recipient{Address: r.Address, Runes: r.Amount.Clone()}
		}
	}
	return res
}

func ticketIds(reqs []*state.OutboundRequest) []string {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.TicketId
	}
	return ids
}

// candidatesLocked returns spendable outputs neither reserved nor picked by
// a tx being built.
func (e *Engine) candidatesLocked() []*utxo.UTXO {
	var res []*utxo.UTXO
	for _, u := range e.state.AvailableUtxos() {
		if _, ok := e.locked[u.Outpoint().String()]; !ok {
			res = append(res, u.Clone())
		}
	}
	return res
}

func (e *Engine) lockInputsLocked(built *assembler.Built) {
	for _, in := range built.Inputs {
		e.locked[in.Outpoint().String()] = built.TxId
	}
}

func (e *Engine) unlockInputs(built *assembler.Built) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, in := range built.Inputs {
		if e.locked[in.Outpoint().String()] == built.TxId {
			delete(e.locked, in.Outpoint().String())
		}
	}
}

func (e *Engine) setInflight(ids []string, status state.OutboundStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if status == state.OutboundUnknown {
			delete(e.inflight, id)
		} else {
			e.inflight[id] = status
		}
	}
}

func (e *Engine) estimateFeeRate(ctx context.Context) (uint64, error) {
	var rate uint64
	err := e.retry(ctx, "estimate_fee_rate", func() error {
		var err error
		rate, err = e.rpc.EstimateFeeRate(ctx)
		return wrapCall("estimate_fee_rate", err)
	})
	if err == nil && rate == 0 {
		return 0, &CallError{Method: "estimate_fee_rate", Reason: AppError, Err: assembler.ErrZeroFeeRate}
	}
	return rate, err
}

// SubmitPending builds, signs, records and broadcasts one transaction per
// token for the pending release requests.
func (e *Engine) SubmitPending(ctx context.Context) error {
	e.mu.Lock()
	groups := e.state.PendingOutbound()
	e.mu.Unlock()
	if len(groups) == 0 {
		return nil
	}

	rate, err := e.estimateFeeRate(ctx)
	if err != nil {
		return err
	}
	main := common.MainDestination(e.cfg.OwnChain)
	_, changeScript, err := e.op.Address(ctx, main)
	if err != nil {
		return wrapCall("public_key", err)
	}

	tokens := make([]string, 0, len(groups))
	for t := range groups {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	var errs []error
	for _, t := range tokens {
		if err := e.submitBatch(ctx, groups[t], rate, changeScript); err != nil {
			logger.WithField("token", t).Errorf("failed to submit batch: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) submitBatch(ctx context.Context, pending []*state.OutboundRequest, rate uint64, changeScript []byte) error {
	main := common.MainDestination(e.cfg.OwnChain)

	e.mu.Lock()
	var reqs []*state.OutboundRequest
	for _, r := range pending {
		if _, busy := e.inflight[r.TicketId]; !busy && e.state.Outbound[r.TicketId].Status == state.OutboundPending {
			reqs = append(reqs, r.Clone())
		}
	}
	if len(reqs) == 0 {
		e.mu.Unlock()
		return nil
	}
	candidates := e.candidatesLocked()

	// oldest first; a request that cannot join the batch waits for the next
	// tick without holding back the ones behind it
	var built *assembler.Built
	var batch []*state.OutboundRequest
	var lastErr error
	for _, r := range reqs {
		next := append(append([]*state.OutboundRequest(nil), batch...), r)
		b, err := e.ass.Craft(&assembler.Batch{
			RuneId:       r.RuneId,
			Recipients:   recipients(next),
			FeeRate:      rate,
			Candidates:   candidates,
			ChangeOwner:  main,
			ChangeScript: changeScript,
		})
		switch {
		case err == nil:
			built, batch = b, next
		case errors.Is(err, assembler.ErrInsufficientFunds) || errors.Is(err, assembler.ErrInsufficientRunes):
			logger.WithField("ticket_id", r.TicketId).Warnf("release waits for funds: %v", err)
		default:
			logger.WithField("ticket_id", r.TicketId).Errorf("release cannot be built: %v", err)
			lastErr = err
		}
	}
	if built == nil {
		e.mu.Unlock()
		return lastErr
	}
	reqs = batch
	e.lockInputsLocked(built)
	ids := ticketIds(reqs)
	for _, id := range ids {
		e.inflight[id] = state.OutboundSigning
	}
	e.mu.Unlock()

	defer e.unlockInputs(built)
	defer e.setInflight(ids, state.OutboundUnknown)

	if err := e.op.Unlock(ctx, built.Tx, built.Inputs); err != nil {
		return wrapCall("sign", err)
	}
	e.setInflight(ids, state.OutboundSending)

	raw, err := serialize(built.Tx)
	if err != nil {
		return err
	}
	feeRate := built.FeeRate
	tx := &state.SubmittedTransaction{
		TxId:        built.TxId,
		RawTx:       raw,
		RuneId:      reqs[0].RuneId,
		Inputs:      built.Inputs,
		Change:      built.Change,
		Requests:    ids,
		Fee:         built.Fee,
		FeePerVbyte: &feeRate,
		SubmittedAt: e.cfg.now().Unix(),
	}
	if err := e.commit(state.SentTransaction{Tx: tx}); err != nil {
		return err
	}
	logger.WithFields(logger.Fields{
		"tx_id":    built.TxId,
		"requests": len(ids),
		"fee":      built.Fee,
		"fee_rate": feeRate,
	}).Info("release transaction recorded")

	// a failed broadcast is repeated by the fee bump scan
	if _, err := e.rpc.Broadcast(ctx, built.Tx); err != nil {
		logger.WithField("tx_id", built.TxId).Warnf("broadcast failed: %v", err)
	}
	e.reportTxHash(ctx, ids, built.TxId)
	return nil
}

// reportTxHash tells the hub which tx carries the release. Best effort.
func (e *Engine) reportTxHash(ctx context.Context, ids []string, txId string) {
	for _, id := range ids {
		err := e.retry(ctx, "update_tx_hash", func() error {
			return wrapCall("update_tx_hash", e.hub.UpdateTxHash(ctx, id, txId))
		})
		if err != nil {
			logger.WithFields(logger.Fields{"ticket_id": id, "tx_id": txId}).Warnf("failed to report tx hash: %v", err)
		}
	}
}

func serialize(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserialize(raw string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}

// GetStatus returns the status of a release request, OutboundUnknown if
// the ticket was never accepted.
func (e *Engine) GetStatus(ticketId string) (state.OutboundStatus, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.inflight[ticketId]; ok {
		return s, ""
	}
	req, ok := e.state.Outbound[ticketId]
	if !ok {
		return state.OutboundUnknown, ""
	}
	return req.Status, req.TxId
}
