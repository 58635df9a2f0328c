package state

import (
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

var (
	ErrInvariant          = errors.New("state invariant violated")
	ErrNotInitialized     = errors.New("state not initialized")
	ErrAlreadyInitialized = errors.New("state already initialized")
	ErrVersionDowngrade   = errors.New("version downgrade")
	ErrUnknownChain       = errors.New("unknown chain")
	ErrUnknownFactor      = errors.New("unknown fee factor kind")
	ErrEmptyEvent         = errors.New("event carries no data")
	ErrKnownUtxo          = errors.New("utxo already recorded")
	ErrDuplicateRequest   = errors.New("request already exists")
	ErrRequestNotFound    = errors.New("request not found")
	ErrBadTransition      = errors.New("invalid status transition")
	ErrUtxoNotClaimable   = errors.New("utxo cannot be claimed")
	ErrUtxoNotFound       = errors.New("utxo not found")
	ErrUtxoUnavailable    = errors.New("utxo not available for spending")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrTxNotOpen          = errors.New("transaction not open")
	ErrKnownTx            = errors.New("transaction already recorded")
	ErrMissingFeeRate     = errors.New("replacement without fee rate")
	ErrFeeNotIncreasing   = errors.New("replacement fee rate not higher")
	ErrRequestSetChanged  = errors.New("replacement covers other requests")
	ErrInputsNotKept      = errors.New("replacement does not spend every input of the replaced tx")
)

// Apply validates ev and folds it into s. It is the only way state changes.
// An event that does not validate here was either appended by mistake or
// read from a log that does not match the code, so Apply panics.
func (s *State) Apply(ev Event) {
	if err := s.Validate(ev); err != nil {
		logger.WithField("kind", ev.Kind()).Panicf("%v: %v", ErrInvariant, err)
	}
	s.mutate(ev)
}

// Validate checks ev against s without modifying it.
func (s *State) Validate(ev Event) error {
	if _, isInit := ev.(Init); !isInit && !s.Initialized {
		return ErrNotInitialized
	}

	switch e := ev.(type) {
	case Init:
		if s.Initialized {
			return ErrAlreadyInitialized
		}
		if e.Args.ChainId == "" {
			return fmt.Errorf("%w: chain id", ErrEmptyEvent)
		}
		if _, err := common.NetworkParams(e.Args.Network); err != nil {
			return err
		}
		return nil

	case Upgrade:
		if e.Version < s.Version {
			return fmt.Errorf("%w: %d < %d", ErrVersionDowngrade, e.Version, s.Version)
		}
		return nil

	case AddedChain:
		if e.Chain.ChainId == "" {
			return fmt.Errorf("%w: chain id", ErrEmptyEvent)
		}
		return nil

	case AddedToken:
		if e.Token.TokenId == "" {
			return fmt.Errorf("%w: token id", ErrEmptyEvent)
		}
		return nil

	case ToggledChainState:
		if e.Action != common.ToggleActivate && e.Action != common.ToggleDeactivate {
			return fmt.Errorf("%w: toggle action %q", ErrBadTransition, e.Action)
		}
		if e.ChainId == s.OwnChain {
			return nil
		}
		if _, ok := s.Chains[e.ChainId]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChain, e.ChainId)
		}
		return nil

	case UpdatedFee:
		switch e.Factor.Kind {
		case common.TargetChainFactor:
			if e.Factor.TargetChainId == "" {
				return fmt.Errorf("%w: target chain", ErrEmptyEvent)
			}
		case common.FeeTokenFactor:
			if e.Factor.FeeToken == "" {
				return fmt.Errorf("%w: fee token", ErrEmptyEvent)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownFactor, e.Factor.Kind)
		}
		return nil

	case ReceivedUtxos:
		if len(e.Utxos) == 0 {
			return fmt.Errorf("%w: utxos", ErrEmptyEvent)
		}
		seen := make(map[string]bool)
		for _, u := range e.Utxos {
			k := u.Outpoint().String()
			if seen[k] || s.IsKnownOutpoint(u.Outpoint()) {
				return fmt.Errorf("%w: %s", ErrKnownUtxo, k)
			}
			if u.Owner != e.Destination {
				return fmt.Errorf("%w: %s owned by %s", ErrUtxoNotClaimable, k, u.Owner)
			}
			seen[k] = true
		}
		return nil

	case AcceptedGenTicketRequest:
		req := e.Request
		if req == nil || req.Amount == nil {
			return fmt.Errorf("%w: request", ErrEmptyEvent)
		}
		if s.HasLiveInbound(req.TxId) {
			return fmt.Errorf("%w: inbound %s", ErrDuplicateRequest, req.TxId)
		}
		if req.Status != InboundPending {
			return fmt.Errorf("%w: new inbound in %s", ErrBadTransition, req.Status)
		}
		if len(req.Outpoints) == 0 {
			return fmt.Errorf("%w: outpoints", ErrEmptyEvent)
		}
		for _, op := range req.Outpoints {
			k := op.String()
			u, ok := s.Observed[k]
			if !ok || u.TxId != req.TxId || u.Owner != req.Destination {
				return fmt.Errorf("%w: %s", ErrUtxoNotClaimable, k)
			}
			if _, claimed := s.Claims[k]; claimed {
				return fmt.Errorf("%w: %s already claimed", ErrUtxoNotClaimable, k)
			}
		}
		return nil

	case UpdatedBalance:
		req, ok := s.Inbound[e.TxId]
		if !ok {
			return fmt.Errorf("%w: inbound %s", ErrRequestNotFound, e.TxId)
		}
		if req.Status != InboundPending {
			return fmt.Errorf("%w: balance for inbound in %s", ErrBadTransition, req.Status)
		}
		if s.Claims[e.Outpoint.String()] != e.TxId {
			return fmt.Errorf("%w: %s", ErrUtxoNotFound, e.Outpoint)
		}
		return nil

	case FinalizedTicketRequest:
		req, ok := s.Inbound[e.TxId]
		if !ok {
			return fmt.Errorf("%w: inbound %s", ErrRequestNotFound, e.TxId)
		}
		if req.Status != InboundConfirmed {
			return fmt.Errorf("%w: finalize inbound in %s", ErrBadTransition, req.Status)
		}
		return nil

	case RemovedTicketRequest:
		if !s.HasLiveInbound(e.TxId) {
			return fmt.Errorf("%w: live inbound %s", ErrRequestNotFound, e.TxId)
		}
		return nil

	case AcceptedReleaseTokenRequest:
		req := e.Request
		if req == nil || req.Amount == nil {
			return fmt.Errorf("%w: request", ErrEmptyEvent)
		}
		if _, ok := s.Outbound[req.TicketId]; ok {
			return fmt.Errorf("%w: outbound %s", ErrDuplicateRequest, req.TicketId)
		}
		if req.Status != OutboundPending {
			return fmt.Errorf("%w: new outbound in %s", ErrBadTransition, req.Status)
		}
		return nil

	case SentTransaction:
		tx := e.Tx
		if tx == nil || len(tx.Inputs) == 0 || len(tx.Requests) == 0 {
			return fmt.Errorf("%w: transaction", ErrEmptyEvent)
		}
		if _, ok := s.Txs[tx.TxId]; ok {
			return fmt.Errorf("%w: %s", ErrKnownTx, tx.TxId)
		}
		for _, in := range tx.Inputs {
			if err := s.checkSpendable(in.Outpoint(), ""); err != nil {
				return err
			}
		}
		for _, id := range tx.Requests {
			req, ok := s.Outbound[id]
			if !ok {
				return fmt.Errorf("%w: outbound %s", ErrRequestNotFound, id)
			}
			if req.Status != OutboundPending {
				return fmt.Errorf("%w: send outbound %s in %s", ErrBadTransition, id, req.Status)
			}
		}
		return nil

	case ReplacedTransaction:
		old, ok := s.Txs[e.OldTxId]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTxNotFound, e.OldTxId)
		}
		if !old.IsOpen() {
			return fmt.Errorf("%w: %s", ErrTxNotOpen, e.OldTxId)
		}
		tx := e.NewTx
		if tx == nil || len(tx.Inputs) == 0 {
			return fmt.Errorf("%w: transaction", ErrEmptyEvent)
		}
		if tx.FeePerVbyte == nil {
			return ErrMissingFeeRate
		}
		if *tx.FeePerVbyte <= old.FeeRate() {
			return fmt.Errorf("%w: %d <= %d", ErrFeeNotIncreasing, *tx.FeePerVbyte, old.FeeRate())
		}
		if _, ok := s.Txs[tx.TxId]; ok {
			return fmt.Errorf("%w: %s", ErrKnownTx, tx.TxId)
		}
		if !sameSet(old.Requests, tx.Requests) {
			return ErrRequestSetChanged
		}
		newInputs := make(map[utxo.Outpoint]bool, len(tx.Inputs))
		for _, in := range tx.Inputs {
			newInputs[in.Outpoint()] = true
		}
		for _, in := range old.Inputs {
			if !newInputs[in.Outpoint()] {
				return fmt.Errorf("%w: %s dropped", ErrInputsNotKept, in.Outpoint())
			}
		}
		chain := make(map[string]bool)
		for _, v := range s.Versions(e.OldTxId) {
			chain[v.TxId] = true
		}
		for _, in := range tx.Inputs {
			if err := s.checkSpendable(in.Outpoint(), ""); err == nil {
				continue
			}
			if holder := s.Reserved[in.Outpoint().String()]; !chain[holder] {
				return fmt.Errorf("%w: %s", ErrUtxoUnavailable, in.Outpoint())
			}
		}
		return nil

	case ConfirmedTransaction:
		tx, ok := s.Txs[e.TxId]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTxNotFound, e.TxId)
		}
		for _, v := range s.Versions(e.TxId) {
			if v.Confirmed {
				return fmt.Errorf("%w: %s already confirmed as %s", ErrTxNotOpen, tx.TxId, v.TxId)
			}
		}
		return nil

	case FinalizedReleaseRequest:
		req, ok := s.Outbound[e.TicketId]
		if !ok {
			return fmt.Errorf("%w: outbound %s", ErrRequestNotFound, e.TicketId)
		}
		if req.Status != OutboundConfirmed || req.Finalized {
			return fmt.Errorf("%w: finalize outbound in %s", ErrBadTransition, req.Status)
		}
		return nil

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// checkSpendable fails unless op is spendable and not reserved by another tx.
func (s *State) checkSpendable(op utxo.Outpoint, by string) error {
	k := op.String()
	if _, ok := s.Utxos[k]; !ok {
		return fmt.Errorf("%w: %s", ErrUtxoUnavailable, k)
	}
	if holder, reserved := s.Reserved[k]; reserved && holder != by {
		return fmt.Errorf("%w: %s reserved by %s", ErrUtxoUnavailable, k, holder)
	}
	return nil
}

func (s *State) mutate(ev Event) {
	switch e := ev.(type) {
	case Init:
		s.Initialized = true
		s.OwnChain = e.Args.ChainId
		s.Network = e.Args.Network
		s.MinReleaseAmount = e.Args.MinReleaseAmount
		s.MaxPendingRequests = e.Args.MaxPendingRequests
		s.Active = true

	case Upgrade:
		s.Version = e.Version
		if e.MinReleaseAmount != 0 {
			s.MinReleaseAmount = e.MinReleaseAmount
		}
		if e.MaxPendingRequests != 0 {
			s.MaxPendingRequests = e.MaxPendingRequests
		}

	case AddedChain:
		c := e.Chain
		s.Chains[c.ChainId] = &c

	case AddedToken:
		t := e.Token
		s.Tokens[t.TokenId] = &t

	case ToggledChainState:
		if e.ChainId == s.OwnChain {
			s.Active = e.Action == common.ToggleActivate
			if c, ok := s.Chains[e.ChainId]; ok {
				c.ChainState = toggled(e.Action)
			}
			return
		}
		s.Chains[e.ChainId].ChainState = toggled(e.Action)

	case UpdatedFee:
		if e.Factor.Kind == common.TargetChainFactor {
			s.TargetChainFactors[e.Factor.TargetChainId] = e.Factor.Value
		} else {
			s.FeeTokenFactors[e.Factor.FeeToken] = e.Factor.Value
		}

	case ReceivedUtxos:
		for _, u := range e.Utxos {
			s.Observed[u.Outpoint().String()] = u.Clone()
		}

	case AcceptedGenTicketRequest:
		req := e.Request.Clone()
		s.Inbound[req.TxId] = req
		for _, op := range req.Outpoints {
			s.Claims[op.String()] = req.TxId
		}

	case UpdatedBalance:
		req := s.Inbound[e.TxId]
		req.Status = InboundConfirmed
		if e.Rune != nil {
			s.Observed[e.Outpoint.String()].Runes = &utxo.RuneBalance{Id: e.Rune.Id, Amount: e.Rune.Amount.Clone()}
		}

	case FinalizedTicketRequest:
		req := s.Inbound[e.TxId]
		req.Status = InboundFinalized
		for _, op := range req.Outpoints {
			k := op.String()
			s.Utxos[k] = s.Observed[k]
			delete(s.Observed, k)
			delete(s.Claims, k)
		}

	case RemovedTicketRequest:
		req := s.Inbound[e.TxId]
		req.Status = InboundRejected
		req.Reason = e.Reason
		for _, op := range req.Outpoints {
			delete(s.Claims, op.String())
		}

	case AcceptedReleaseTokenRequest:
		s.Outbound[e.Request.TicketId] = e.Request.Clone()

	case SentTransaction:
		tx := cloneTx(e.Tx)
		s.Txs[tx.TxId] = tx
		for _, in := range tx.Inputs {
			s.Reserved[in.Outpoint().String()] = tx.TxId
		}
		for _, id := range tx.Requests {
			req := s.Outbound[id]
			req.Status = OutboundSubmitted
			req.TxId = tx.TxId
		}

	case ReplacedTransaction:
		old := s.Txs[e.OldTxId]
		tx := cloneTx(e.NewTx)
		tx.Replaces = old.TxId
		old.ReplacedBy = tx.TxId
		s.Txs[tx.TxId] = tx
		// inputs of older versions stay reserved by them until the chain confirms
		for _, in := range tx.Inputs {
			s.Reserved[in.Outpoint().String()] = tx.TxId
		}
		for _, id := range tx.Requests {
			s.Outbound[id].TxId = tx.TxId
		}

	case ConfirmedTransaction:
		confirmed := s.Txs[e.TxId]
		spent := make(map[string]bool)
		for _, in := range confirmed.Inputs {
			k := in.Outpoint().String()
			spent[k] = true
			delete(s.Utxos, k)
			delete(s.Reserved, k)
			s.Spent[k] = confirmed.TxId
		}
		for _, v := range s.Versions(e.TxId) {
			v.Settled = true
			for _, in := range v.Inputs {
				k := in.Outpoint().String()
				if !spent[k] && s.Reserved[k] == v.TxId {
					delete(s.Reserved, k)
				}
			}
		}
		confirmed.Confirmed = true
		for _, c := range confirmed.Change {
			s.Utxos[c.Outpoint().String()] = c.Clone()
		}
		for _, id := range confirmed.Requests {
			req := s.Outbound[id]
			req.Status = OutboundConfirmed
			req.TxId = confirmed.TxId
		}

	case FinalizedReleaseRequest:
		s.Outbound[e.TicketId].Finalized = true

	default:
		logger.Panicf("%v: unhandled event %T", ErrInvariant, ev)
	}
}

func toggled(a common.ToggleAction) common.ChainState {
	if a == common.ToggleActivate {
		return common.ChainActive
	}
	return common.ChainDeactivated
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	m := make(map[string]int, len(a))
	for _, x := range a {
		m[x]++
	}
	for _, x := range b {
		if m[x] == 0 {
			return false
		}
		m[x]--
	}
	return true
}

func cloneTx(tx *SubmittedTransaction) *SubmittedTransaction {
	c := *tx
	c.Inputs = make([]*utxo.UTXO, len(tx.Inputs))
	for i, in := range tx.Inputs {
		c.Inputs[i] = in.Clone()
	}
	c.Change = make([]*utxo.UTXO, len(tx.Change))
	for i, ch := range tx.Change {
		c.Change[i] = ch.Clone()
	}
	c.Requests = append([]string(nil), tx.Requests...)
	if tx.FeePerVbyte != nil {
		rate := *tx.FeePerVbyte
		c.FeePerVbyte = &rate
	}
	if tx.RuneId != nil {
		id := *tx.RuneId
		c.RuneId = &id
	}
	return &c
}
