package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

var ErrUnknownEvent = errors.New("unknown event kind")

// Event is a state mutation. Every kind is handled by Apply.
type Event interface {
	Kind() string
	isEvent()
}

type InitArgs struct {
	ChainId            common.ChainId `json:"chain_id"`
	Network            string         `json:"network"`
	MinReleaseAmount   uint64         `json:"min_release_amount"`
	MaxPendingRequests int            `json:"max_pending_requests"`
}

type Init struct {
	Args      InitArgs `json:"args"`
	Timestamp int64    `json:"timestamp"`
}

// Upgrade is recorded at every boot. Non-zero limits replace the current ones.
type Upgrade struct {
	Version            uint32 `json:"version"`
	MinReleaseAmount   uint64 `json:"min_release_amount,omitempty"`
	MaxPendingRequests int    `json:"max_pending_requests,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

// AddedChain is recorded for both AddChain and UpdateChain.
type AddedChain struct {
	Chain common.Chain `json:"chain"`
}

// AddedToken is recorded for both AddToken and UpdateToken.
type AddedToken struct {
	Token common.Token `json:"token"`
}

type ToggledChainState struct {
	ChainId common.ChainId      `json:"chain_id"`
	Action  common.ToggleAction `json:"action"`
}

type UpdatedFee struct {
	Factor common.Factor `json:"factor"`
}

type ReceivedUtxos struct {
	Destination common.Destination `json:"destination"`
	Utxos       []*utxo.UTXO       `json:"utxos"`
}

type AcceptedGenTicketRequest struct {
	Request *InboundRequest `json:"request"`
}

// UpdatedBalance confirms an inbound request. Rune is set for rune deposits
// and is written to the reported output.
type UpdatedBalance struct {
	TxId     string            `json:"tx_id"`
	Outpoint utxo.Outpoint     `json:"outpoint"`
	Rune     *utxo.RuneBalance `json:"rune,omitempty"`
	Observed *uint256.Int      `json:"observed"`
}

type FinalizedTicketRequest struct {
	TxId string `json:"tx_id"`
}

type RemovedTicketRequest struct {
	TxId   string `json:"tx_id"`
	Reason string `json:"reason"`
}

type AcceptedReleaseTokenRequest struct {
	Request *OutboundRequest `json:"request"`
}

type SentTransaction struct {
	Tx *SubmittedTransaction `json:"tx"`
}

type ReplacedTransaction struct {
	OldTxId string                `json:"old_tx_id"`
	NewTx   *SubmittedTransaction `json:"new_tx"`
}

// ConfirmedTransaction records that TxId, one version of a replacement
// chain, reached the confirmation threshold.
type ConfirmedTransaction struct {
	TxId string `json:"tx_id"`
}

type FinalizedReleaseRequest struct {
	TicketId string `json:"ticket_id"`
}

func (Init) Kind() string                        { return "init" }
func (Upgrade) Kind() string                     { return "upgrade" }
func (AddedChain) Kind() string                  { return "added_chain" }
func (AddedToken) Kind() string                  { return "added_token" }
func (ToggledChainState) Kind() string           { return "toggled_chain_state" }
func (UpdatedFee) Kind() string                  { return "updated_fee" }
func (ReceivedUtxos) Kind() string               { return "received_utxos" }
func (AcceptedGenTicketRequest) Kind() string    { return "accepted_gen_ticket_request" }
func (UpdatedBalance) Kind() string              { return "updated_balance" }
func (FinalizedTicketRequest) Kind() string      { return "finalized_ticket_request" }
func (RemovedTicketRequest) Kind() string        { return "removed_ticket_request" }
func (AcceptedReleaseTokenRequest) Kind() string { return "accepted_release_token_request" }
func (SentTransaction) Kind() string             { return "sent_transaction" }
func (ReplacedTransaction) Kind() string         { return "replaced_transaction" }
func (ConfirmedTransaction) Kind() string        { return "confirmed_transaction" }
func (FinalizedReleaseRequest) Kind() string     { return "finalized_release_request" }

func (Init) isEvent()                        {}
func (Upgrade) isEvent()                     {}
func (AddedChain) isEvent()                  {}
func (AddedToken) isEvent()                  {}
func (ToggledChainState) isEvent()           {}
func (UpdatedFee) isEvent()                  {}
func (ReceivedUtxos) isEvent()               {}
func (AcceptedGenTicketRequest) isEvent()    {}
func (UpdatedBalance) isEvent()              {}
func (FinalizedTicketRequest) isEvent()      {}
func (RemovedTicketRequest) isEvent()        {}
func (AcceptedReleaseTokenRequest) isEvent() {}
func (SentTransaction) isEvent()             {}
func (ReplacedTransaction) isEvent()         {}
func (ConfirmedTransaction) isEvent()        {}
func (FinalizedReleaseRequest) isEvent()     {}

// EncodeEvent returns the kind and JSON payload of ev.
func EncodeEvent(ev Event) (string, []byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return ev.Kind(), payload, nil
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(kind string, payload []byte) (Event, error) {
	var err error
	var ev Event
	switch kind {
	case "init":
		var e Init
		err = json.Unmarshal(payload, &e)
		ev = e
	case "upgrade":
		var e Upgrade
		err = json.Unmarshal(payload, &e)
		ev = e
	case "added_chain":
		var e AddedChain
		err = json.Unmarshal(payload, &e)
		ev = e
	case "added_token":
		var e AddedToken
		err = json.Unmarshal(payload, &e)
		ev = e
	case "toggled_chain_state":
		var e ToggledChainState
		err = json.Unmarshal(payload, &e)
		ev = e
	case "updated_fee":
		var e UpdatedFee
		err = json.Unmarshal(payload, &e)
		ev = e
	case "received_utxos":
		var e ReceivedUtxos
		err = json.Unmarshal(payload, &e)
		ev = e
	case "accepted_gen_ticket_request":
		var e AcceptedGenTicketRequest
		err = json.Unmarshal(payload, &e)
		ev = e
	case "updated_balance":
		var e UpdatedBalance
		err = json.Unmarshal(payload, &e)
		ev = e
	case "finalized_ticket_request":
		var e FinalizedTicketRequest
		err = json.Unmarshal(payload, &e)
		ev = e
	case "removed_ticket_request":
		var e RemovedTicketRequest
		err = json.Unmarshal(payload, &e)
		ev = e
	case "accepted_release_token_request":
		var e AcceptedReleaseTokenRequest
		err = json.Unmarshal(payload, &e)
		ev = e
	case "sent_transaction":
		var e SentTransaction
		err = json.Unmarshal(payload, &e)
		ev = e
	case "replaced_transaction":
		var e ReplacedTransaction
		err = json.Unmarshal(payload, &e)
		ev = e
	case "confirmed_transaction":
		var e ConfirmedTransaction
		err = json.Unmarshal(payload, &e)
		ev = e
	case "finalized_release_request":
		var e FinalizedReleaseRequest
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ev, nil
}
