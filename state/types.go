package state

import (
	"github.com/holiman/uint256"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
)

type InboundStatus string

const (
	InboundUnknown   InboundStatus = "unknown"
	InboundPending   InboundStatus = "pending"
	InboundConfirmed InboundStatus = "confirmed"
	InboundFinalized InboundStatus = "finalized"
	InboundRejected  InboundStatus = "rejected"
)

// InboundRequest is a generate-ticket request for a deposit to a custody address.
type InboundRequest struct {
	TxId        string             `json:"tx_id"`
	Token       common.TokenId     `json:"token"`
	RuneId      *runestone.RuneId  `json:"rune_id,omitempty"` // nil for the native token
	Amount      *uint256.Int       `json:"amount"`            // expected deposit
	Fee         uint64             `json:"fee"`               // service fee kept from native deposits
	Destination common.Destination `json:"destination"`
	Outpoints   []utxo.Outpoint    `json:"outpoints"` // claimed outputs of TxId at the custody address
	ReceivedAt  int64              `json:"received_at"`
	Status      InboundStatus      `json:"status"`
	Reason      string             `json:"reason,omitempty"`
}

// TicketAmount is what the hub mints on the target chain.
func (r *InboundRequest) TicketAmount() *uint256.Int {
	fee := uint256.NewInt(r.Fee)
	if r.Amount.Lt(fee) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(r.Amount, fee)
}

func (r *InboundRequest) Clone() *InboundRequest {
	c := *r
	c.Amount = r.Amount.Clone()
	c.Outpoints = append([]utxo.Outpoint(nil), r.Outpoints...)
	if r.RuneId != nil {
		id := *r.RuneId
		c.RuneId = &id
	}
	return &c
}

type OutboundStatus string

const (
	OutboundUnknown   OutboundStatus = "unknown"
	OutboundPending   OutboundStatus = "pending"
	OutboundSigning   OutboundStatus = "signing"
	OutboundSending   OutboundStatus = "sending"
	OutboundSubmitted OutboundStatus = "submitted"
	OutboundConfirmed OutboundStatus = "confirmed"
)

// OutboundRequest is a release request from a ticket.
// Signing and Sending are never persisted; they exist only while a
// submission is in flight.
type OutboundRequest struct {
	TicketId   string            `json:"ticket_id"`
	Token      common.TokenId    `json:"token"`
	RuneId     *runestone.RuneId `json:"rune_id,omitempty"`
	Address    string            `json:"address"`
	Amount     *uint256.Int      `json:"amount"`
	ReceivedAt int64             `json:"received_at"`
	Status     OutboundStatus    `json:"status"`
	TxId       string            `json:"tx_id,omitempty"`
	Finalized  bool              `json:"finalized"` // acknowledged by the hub
}

func (r *OutboundRequest) IsTerminal() bool {
	return r.Status == OutboundConfirmed
}

func (r *OutboundRequest) Clone() *OutboundRequest {
	c := *r
	c.Amount = r.Amount.Clone()
	if r.RuneId != nil {
		id := *r.RuneId
		c.RuneId = &id
	}
	return &c
}

// SubmittedTransaction is one version of a release transaction.
type SubmittedTransaction struct {
	TxId        string            `json:"tx_id"`
	RawTx       string            `json:"raw_tx"` // hex of the signed tx
	RuneId      *runestone.RuneId `json:"rune_id,omitempty"`
	Inputs      []*utxo.UTXO      `json:"inputs"`
	Change      []*utxo.UTXO      `json:"change"`
	Requests    []string          `json:"requests"` // ticket ids
	Fee         int64             `json:"fee"`
	FeePerVbyte *uint64           `json:"fee_per_vbyte,omitempty"` // unset for an unknown rate
	SubmittedAt int64             `json:"submitted_at"`
	ReplacedBy  string            `json:"replaced_by,omitempty"`
	Replaces    string            `json:"replaces,omitempty"`
	Confirmed   bool              `json:"confirmed"` // this version made it into the chain
	Settled     bool              `json:"settled"`   // some version of the chain confirmed
}

// FeeRate returns the rate, 0 when unset.
func (tx *SubmittedTransaction) FeeRate() uint64 {
	if tx.FeePerVbyte == nil {
		return 0
	}
	return *tx.FeePerVbyte
}

func (tx *SubmittedTransaction) IsOpen() bool {
	return tx.ReplacedBy == "" && !tx.Settled
}
