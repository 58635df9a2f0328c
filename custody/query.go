package custody

import (
	"context"
	"fmt"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

// GetCustodyAddress returns the deposit address of dest.
func (e *Engine) GetCustodyAddress(ctx context.Context, dest common.Destination) (string, error) {
	e.mu.Lock()
	err := e.validateDestinationLocked(dest)
	if err == nil && dest.Token != "" {
		if _, ok := e.state.Tokens[dest.Token]; !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownToken, dest.Token)
		}
	}
	e.mu.Unlock()
	if err != nil {
		return "", err
	}

	addr, _, err := e.op.Address(ctx, dest)
	if err != nil {
		return "", wrapCall("public_key", err)
	}
	return addr, nil
}

// GetServiceFee returns the fee, in sats, kept from deposits to target.
func (e *Engine) GetServiceFee(target common.ChainId) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.Chains[target]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownChain, target)
	}
	fee, _ := e.state.ServiceFee(target)
	return fee, nil
}

func (e *Engine) GetInboundStatus(txId string) state.InboundStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.InboundStatus(txId)
}

// Summary is a small overview of the ledger.
type Summary struct {
	OwnChain        common.ChainId `json:"own_chain"`
	Version         uint32         `json:"version"`
	Active          bool           `json:"active"`
	Chains          int            `json:"chains"`
	Tokens          int            `json:"tokens"`
	SpendableUtxos  int            `json:"spendable_utxos"`
	ReservedUtxos   int            `json:"reserved_utxos"`
	PendingInbound  int            `json:"pending_inbound"`
	PendingOutbound int            `json:"pending_outbound"`
	OpenTxs         int            `json:"open_txs"`
	LastSeq         uint64         `json:"last_seq"`
}

func Summarize(st *state.State) *Summary {
	pending := 0
	for _, reqs := range st.PendingOutbound() {
		pending += len(reqs)
	}
	return &Summary{
		OwnChain:        st.OwnChain,
		Version:         st.Version,
		Active:          st.Active,
		Chains:          len(st.Chains),
		Tokens:          len(st.Tokens),
		SpendableUtxos:  len(st.AvailableUtxos()),
		ReservedUtxos:   len(st.Reserved),
		PendingInbound:  len(st.PendingInbound()),
		PendingOutbound: pending,
		OpenTxs:         len(st.OpenTxs()),
	}
}

func (e *Engine) Summary() *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Summarize(e.state)
	s.LastSeq = e.store.LastSeq()
	return s
}
