package custody

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

const guardInbound = "inbound"

type GenTicketArgs struct {
	TargetChainId common.ChainId `json:"target_chain_id"`
	Receiver      string         `json:"receiver"`
	Token         common.TokenId `json:"token"`
	TxId          string         `json:"tx_id"`
	Amount        string         `json:"amount"`
}

type UpdateBalanceArgs struct {
	TxId   string `json:"tx_id"`
	Vout   uint32 `json:"vout"`
	RuneId string `json:"rune_id,omitempty"` // empty for native bitcoin
	Amount string `json:"amount"`
}

// runeIdOf returns the rune of token, nil for the native token.
func (e *Engine) runeIdOf(token *common.Token) (*runestone.RuneId, error) {
	if token.TokenId == common.NativeTokenId(e.cfg.OwnChain) {
		return nil, nil
	}
	raw, ok := token.Metadata[common.MetadataRuneId]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no rune id", ErrUnknownToken, token.TokenId)
	}
	id, err := runestone.ParseRuneId(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownToken, token.TokenId, err)
	}
	return &id, nil
}

// validateDestinationLocked checks the target chain and the receiver on it.
func (e *Engine) validateDestinationLocked(dest common.Destination) error {
	if dest.TargetChainId == e.cfg.OwnChain && dest.Receiver == common.MainReceiver {
		return nil
	}
	chain, ok := e.state.Chains[dest.TargetChainId]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, dest.TargetChainId)
	}
	if err := common.ValidateReceiver(chain.Family, dest.Receiver, e.params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// RegisterDestinationUtxos fetches the outputs at the custody address of
// dest and records the ones never seen before. It returns how many were new.
func (e *Engine) RegisterDestinationUtxos(ctx context.Context, dest common.Destination) (int, error) {
	addr, script, err := e.op.Address(ctx, dest)
	if err != nil {
		return 0, wrapCall("public_key", err)
	}
	observed, err := e.rpc.GetUtxos(ctx, addr, int(e.cfg.Confirmations))
	if err != nil {
		return 0, wrapCall("get_utxos", err)
	}
	for _, u := range observed {
		u.Owner = dest
		u.PkScript = script
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fresh := e.state.NewUtxos(observed)
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := e.commitLocked(state.ReceivedUtxos{Destination: dest, Utxos: fresh}); err != nil {
		return 0, err
	}
	logger.WithFields(logger.Fields{"destination": dest.String(), "new": len(fresh)}).Info("utxos received")
	return len(fresh), nil
}

// GenerateTicket accepts a deposit made to the custody address of the
// destination. ErrNoNewUtxos means the deposit is not visible yet.
func (e *Engine) GenerateTicket(ctx context.Context, args *GenTicketArgs) error {
	dest := common.Destination{TargetChainId: args.TargetChainId, Receiver: args.Receiver, Token: args.Token}
	if !common.IsTxId(args.TxId) {
		return fmt.Errorf("%w: %q", ErrInvalidTxId, args.TxId)
	}
	amount, err := common.ParseAmount(args.Amount)
	if err != nil {
		return err
	}

	e.mu.Lock()
	token, ok := e.state.Tokens[args.Token]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownToken, args.Token)
	}
	runeId, err := e.runeIdOf(token)
	if err == nil {
		err = e.validateDestinationLocked(dest)
	}
	if err == nil && e.state.InboundStatus(args.TxId) != state.InboundUnknown && e.state.InboundStatus(args.TxId) != state.InboundRejected {
		err = fmt.Errorf("%w: %s", ErrAlreadyProcessing, args.TxId)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	g, err := e.guards.AcquireKey(guardInbound, args.TxId)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessing, args.TxId)
	}
	defer g.Release()

	if _, err := e.RegisterDestinationUtxos(ctx, dest); err != nil {
		return err
	}

	e.mu.Lock()
	if e.state.HasLiveInbound(args.TxId) || e.state.InboundStatus(args.TxId) == state.InboundFinalized {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyProcessing, args.TxId)
	}
	claimed := e.state.UnclaimedOutputs(dest, args.TxId)
	if len(claimed) == 0 {
		e.mu.Unlock()
		return ErrNoNewUtxos
	}

	var fee uint64
	if runeId == nil {
		fee, _ = e.state.ServiceFee(dest.TargetChainId)
		if !amount.Gt(uint256.NewInt(fee)) {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s does not cover fee %d", ErrAmountTooLow, amount.Dec(), fee)
		}
	}
	outpoints := make([]utxo.Outpoint, len(claimed))
	for i, u := range claimed {
		outpoints[i] = u.Outpoint()
	}
	req := &state.InboundRequest{
		TxId:        args.TxId,
		Token:       args.Token,
		RuneId:      runeId,
		Amount:      amount,
		Fee:         fee,
		Destination: dest,
		Outpoints:   outpoints,
		ReceivedAt:  e.cfg.now().Unix(),
		Status:      state.InboundPending,
	}
	if err := e.commitLocked(state.AcceptedGenTicketRequest{Request: req}); err != nil {
		e.mu.Unlock()
		return err
	}
	logger.WithFields(logger.Fields{"tx_id": args.TxId, "token": args.Token, "amount": amount.Dec()}).Info("inbound request accepted")

	// native deposits carry their own balance
	if runeId == nil {
		err = e.reportBalanceLocked(args.TxId, outpoints[0], nil, uint256.NewInt(uint64(utxo.Sum(claimed))))
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if runeId != nil {
		return nil
	}

	if err := e.forwardInbound(ctx, args.TxId); err != nil {
		logger.WithField("tx_id", args.TxId).Warnf("ticket not forwarded yet: %v", err)
	}
	return nil
}

// UpdateBalance is the balance report for a pending rune deposit.
func (e *Engine) UpdateBalance(ctx context.Context, args *UpdateBalanceArgs) error {
	observed, err := common.ParseAmount(args.Amount)
	if err != nil {
		return err
	}
	var runeId *runestone.RuneId
	if args.RuneId != "" {
		id, err := runestone.ParseRuneId(args.RuneId)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownToken, err)
		}
		runeId = &id
	}

	g, err := e.guards.AcquireKey(guardInbound, args.TxId)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessing, args.TxId)
	}
	defer g.Release()

	e.mu.Lock()
	err = e.reportBalanceLocked(args.TxId, utxo.Outpoint{TxId: args.TxId, Vout: args.Vout}, runeId, observed)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if err := e.forwardInbound(ctx, args.TxId); err != nil {
		logger.WithField("tx_id", args.TxId).Warnf("ticket not forwarded yet: %v", err)
	}
	return nil
}

// reportBalanceLocked confirms the pending request of txId when the observed
// balance matches what was expected, and drops it otherwise.
func (e *Engine) reportBalanceLocked(txId string, op utxo.Outpoint, runeId *runestone.RuneId, observed *uint256.Int) error {
	req, ok := e.state.Inbound[txId]
	if !ok || req.Status != state.InboundPending {
		return fmt.Errorf("%w: pending inbound %s", ErrRequestNotFound, txId)
	}
	if e.state.Claims[op.String()] != txId {
		return fmt.Errorf("%w: %s", ErrUtxoNotFound, op)
	}

	if !sameRune(req.RuneId, runeId) || !req.Amount.Eq(observed) {
		reason := fmt.Sprintf("balance mismatch: expected %s of %s, observed %s of %s",
			req.Amount.Dec(), runeName(req.RuneId), observed.Dec(), runeName(runeId))
		if err := e.commitLocked(state.RemovedTicketRequest{TxId: txId, Reason: reason}); err != nil {
			return err
		}
		logger.WithField("tx_id", txId).Warn(reason)
		return fmt.Errorf("%w: %s", ErrMismatchWithPendingReq, reason)
	}

	ev := state.UpdatedBalance{TxId: txId, Outpoint: op, Observed: observed}
	if runeId != nil {
		ev.Rune = &utxo.RuneBalance{Id: *runeId, Amount: observed}
	}
	return e.commitLocked(ev)
}

func sameRune(a, b *runestone.RuneId) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func runeName(id *runestone.RuneId) string {
	if id == nil {
		return "BTC"
	}
	return id.String()
}

// forwardInbound sends the ticket of a confirmed request to the hub and
// finalizes the request once the hub accepted it.
func (e *Engine) forwardInbound(ctx context.Context, txId string) error {
	e.mu.Lock()
	req, ok := e.state.Inbound[txId]
	if !ok || req.Status != state.InboundConfirmed {
		e.mu.Unlock()
		return nil
	}
	ticket := common.Ticket{
		TicketId:   txId,
		TicketType: common.TicketNormal,
		TicketTime: uint64(e.cfg.now().UnixNano()),
		SrcChain:   e.cfg.OwnChain,
		DstChain:   req.Destination.TargetChainId,
		Action:     common.ActionTransfer,
		Token:      req.Token,
		Amount:     req.TicketAmount().Dec(),
		Receiver:   req.Destination.Receiver,
	}
	e.mu.Unlock()

	if err := e.hub.SendTicket(ctx, ticket); err != nil {
		return wrapCall("send_ticket", err)
	}

	err := e.commit(state.FinalizedTicketRequest{TxId: txId})
	if err != nil && !errors.Is(err, state.ErrBadTransition) {
		return err
	}
	logger.WithFields(logger.Fields{"tx_id": txId, "amount": ticket.Amount, "dst": ticket.DstChain}).Info("inbound ticket forwarded")
	return nil
}

// ExpireInbound drops pending requests older than the inbound timeout.
func (e *Engine) ExpireInbound(ctx context.Context) error {
	deadline := e.cfg.now().Add(-e.cfg.InboundTimeout).Unix()

	e.mu.Lock()
	var expired []string
	for _, req := range e.state.PendingInbound() {
		if req.ReceivedAt <= deadline {
			expired = append(expired, req.TxId)
		}
	}
	e.mu.Unlock()

	for _, txId := range expired {
		g, err := e.guards.AcquireKey(guardInbound, txId)
		if err != nil {
			continue
		}
		e.mu.Lock()
		if e.state.InboundStatus(txId) == state.InboundPending {
			reason := "timeout after " + strconv.FormatInt(int64(e.cfg.InboundTimeout.Seconds()), 10) + "s"
			if err := e.commitLocked(state.RemovedTicketRequest{TxId: txId, Reason: reason}); err == nil {
				logger.WithField("tx_id", txId).Info("inbound request expired")
			}
		}
		e.mu.Unlock()
		g.Release()
	}
	return nil
}
