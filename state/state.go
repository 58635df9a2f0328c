/*
Package state holds the custody state and the only function that derives it
from events. The live engine and the replay at boot go through the same Apply.
*/
package state

import (
	"sort"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

type State struct {
	Initialized        bool           `json:"initialized"`
	OwnChain           common.ChainId `json:"own_chain"`
	Network            string         `json:"network"`
	MinReleaseAmount   uint64         `json:"min_release_amount"`
	MaxPendingRequests int            `json:"max_pending_requests"`
	Version            uint32         `json:"version"`
	Active             bool           `json:"active"` // own chain accepts new outbound requests

	Chains             map[common.ChainId]*common.Chain `json:"chains"`
	Tokens             map[common.TokenId]*common.Token `json:"tokens"`
	TargetChainFactors map[common.ChainId]uint64        `json:"target_chain_factors"`
	FeeTokenFactors    map[common.TokenId]uint64        `json:"fee_token_factors"`

	// Outputs seen at custody addresses that are not spendable yet,
	// keyed by outpoint string.
	Observed map[string]*utxo.UTXO `json:"observed"`
	// Observed outpoint -> tx id of the inbound request claiming it.
	Claims map[string]string `json:"claims"`
	// Spendable outputs, reserved ones included.
	Utxos map[string]*utxo.UTXO `json:"utxos"`
	// Outpoint -> id of the submitted tx spending it.
	Reserved map[string]string `json:"reserved"`
	// Outpoint -> id of the confirmed tx that spent it.
	Spent map[string]string `json:"spent"`

	Inbound  map[string]*InboundRequest       `json:"inbound"`  // by external tx id
	Outbound map[string]*OutboundRequest      `json:"outbound"` // by ticket id
	Txs      map[string]*SubmittedTransaction `json:"txs"`      // every version ever sent
}

func NewState() *State {
	return &State{
		Chains:             make(map[common.ChainId]*common.Chain),
		Tokens:             make(map[common.TokenId]*common.Token),
		TargetChainFactors: make(map[common.ChainId]uint64),
		FeeTokenFactors:    make(map[common.TokenId]uint64),
		Observed:           make(map[string]*utxo.UTXO),
		Claims:             make(map[string]string),
		Utxos:              make(map[string]*utxo.UTXO),
		Reserved:           make(map[string]string),
		Spent:              make(map[string]string),
		Inbound:            make(map[string]*InboundRequest),
		Outbound:           make(map[string]*OutboundRequest),
		Txs:                make(map[string]*SubmittedTransaction),
	}
}

// IsKnownOutpoint reports whether op was ever recorded.
func (s *State) IsKnownOutpoint(op utxo.Outpoint) bool {
	k := op.String()
	_, observed := s.Observed[k]
	_, spendable := s.Utxos[k]
	_, spent := s.Spent[k]
	return observed || spendable || spent
}

// NewUtxos filters the outputs never recorded before.
func (s *State) NewUtxos(observed []*utxo.UTXO) []*utxo.UTXO {
	var fresh []*utxo.UTXO
	seen := make(map[string]bool)
	for _, u := range observed {
		k := u.Outpoint().String()
		if seen[k] || s.IsKnownOutpoint(u.Outpoint()) {
			continue
		}
		seen[k] = true
		fresh = append(fresh, u)
	}
	return fresh
}

// UnclaimedOutputs returns the observed outputs of txId at dest that no
// live or finalized inbound request claims.
func (s *State) UnclaimedOutputs(dest common.Destination, txId string) []*utxo.UTXO {
	var res []*utxo.UTXO
	for k, u := range s.Observed {
		if u.TxId != txId || u.Owner != dest {
			continue
		}
		if _, claimed := s.Claims[k]; claimed {
			continue
		}
		res = append(res, u)
	}
	sortByOutpoint(res)
	return res
}

// HasLiveInbound reports a pending or confirmed request for txId.
func (s *State) HasLiveInbound(txId string) bool {
	req, ok := s.Inbound[txId]
	return ok && (req.Status == InboundPending || req.Status == InboundConfirmed)
}

func (s *State) InboundStatus(txId string) InboundStatus {
	req, ok := s.Inbound[txId]
	if !ok {
		return InboundUnknown
	}
	return req.Status
}

// PendingInbound returns the requests still waiting for a balance report,
// oldest first.
func (s *State) PendingInbound() []*InboundRequest {
	return s.inboundWith(InboundPending)
}

// ConfirmedInbound returns the requests waiting for the hub, oldest first.
func (s *State) ConfirmedInbound() []*InboundRequest {
	return s.inboundWith(InboundConfirmed)
}

func (s *State) inboundWith(status InboundStatus) []*InboundRequest {
	var res []*InboundRequest
	for _, r := range s.Inbound {
		if r.Status == status {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ReceivedAt != res[j].ReceivedAt {
			return res[i].ReceivedAt < res[j].ReceivedAt
		}
		return res[i].TxId < res[j].TxId
	})
	return res
}

// NonTerminalOutbound counts the outbound requests not confirmed yet.
func (s *State) NonTerminalOutbound() int {
	n := 0
	for _, r := range s.Outbound {
		if !r.IsTerminal() {
			n++
		}
	}
	return n
}

// PendingOutbound groups the pending requests by token, oldest first.
func (s *State) PendingOutbound() map[common.TokenId][]*OutboundRequest {
	res := make(map[common.TokenId][]*OutboundRequest)
	for _, r := range s.Outbound {
		if r.Status == OutboundPending {
			res[r.Token] = append(res[r.Token], r)
		}
	}
	for _, reqs := range res {
		sortOutbound(reqs)
	}
	return res
}

// UnreportedOutbound returns the confirmed requests the hub has not acknowledged.
func (s *State) UnreportedOutbound() []*OutboundRequest {
	var res []*OutboundRequest
	for _, r := range s.Outbound {
		if r.Status == OutboundConfirmed && !r.Finalized {
			res = append(res, r)
		}
	}
	sortOutbound(res)
	return res
}

func sortOutbound(reqs []*OutboundRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].ReceivedAt != reqs[j].ReceivedAt {
			return reqs[i].ReceivedAt < reqs[j].ReceivedAt
		}
		return reqs[i].TicketId < reqs[j].TicketId
	})
}

// AvailableUtxos returns the spendable outputs no open tx reserves,
// ordered by outpoint.
func (s *State) AvailableUtxos() []*utxo.UTXO {
	var res []*utxo.UTXO
	for k, u := range s.Utxos {
		if _, reserved := s.Reserved[k]; !reserved {
			res = append(res, u)
		}
	}
	sortByOutpoint(res)
	return res
}

// OpenTxs returns the latest version of every unconfirmed replacement chain,
// oldest submission first.
func (s *State) OpenTxs() []*SubmittedTransaction {
	var res []*SubmittedTransaction
	for _, tx := range s.Txs {
		if tx.IsOpen() {
			res = append(res, tx)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SubmittedAt != res[j].SubmittedAt {
			return res[i].SubmittedAt < res[j].SubmittedAt
		}
		return res[i].TxId < res[j].TxId
	})
	return res
}

// Versions returns every version of the replacement chain txId belongs to,
// first submission first.
func (s *State) Versions(txId string) []*SubmittedTransaction {
	tx, ok := s.Txs[txId]
	if !ok {
		return nil
	}
	for tx.Replaces != "" {
		tx = s.Txs[tx.Replaces]
	}
	var res []*SubmittedTransaction
	for tx != nil {
		res = append(res, tx)
		if tx.ReplacedBy == "" {
			break
		}
		tx = s.Txs[tx.ReplacedBy]
	}
	return res
}

// ServiceFee is fee_token_factor × target_chain_factor in sats.
// The fee token is the target chain's one, the native token by default.
func (s *State) ServiceFee(target common.ChainId) (uint64, bool) {
	chainFactor, ok := s.TargetChainFactors[target]
	if !ok {
		return 0, false
	}
	feeToken := common.NativeTokenId(s.OwnChain)
	if c, ok := s.Chains[target]; ok && c.FeeToken != "" {
		feeToken = c.FeeToken
	}
	tokenFactor, ok := s.FeeTokenFactors[feeToken]
	if !ok {
		return 0, false
	}
	return tokenFactor * chainFactor, true
}

func sortByOutpoint(utxos []*utxo.UTXO) {
	sort.Slice(utxos, func(i, j int) bool {
		return utxos[i].Outpoint().Less(utxos[j].Outpoint())
	})
}
