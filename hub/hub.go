/*
Package hub is the client side of the central hub that orders tickets and
directives for every chain.
*/
package hub

import (
	"context"
	"encoding/json"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

type Hub interface {
	QueryTickets(ctx context.Context, offset uint64, limit int) ([]SeqTicket, error)
	QueryDirectives(ctx context.Context, offset uint64, limit int) ([]SeqDirective, error)
	SendTicket(ctx context.Context, ticket common.Ticket) error
	UpdateTxHash(ctx context.Context, ticketId string, txHash string) error
	FinalizeTicket(ctx context.Context, ticketId string) error
}

type SeqTicket struct {
	Seq    uint64        `json:"seq"`
	Ticket common.Ticket `json:"ticket"`
}

type SeqDirective struct {
	Seq       uint64
	Directive common.Directive
}

type wireDirective struct {
	Seq       uint64          `json:"seq"`
	Directive json.RawMessage `json:"directive"`
}

func (d SeqDirective) MarshalJSON() ([]byte, error) {
	raw, err := common.EncodeDirective(d.Directive)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDirective{Seq: d.Seq, Directive: raw})
}

func (d *SeqDirective) UnmarshalJSON(data []byte) error {
	var w wireDirective
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	dir, err := common.DecodeDirective(w.Directive)
	if err != nil {
		return err
	}
	d.Seq = w.Seq
	d.Directive = dir
	return nil
}
