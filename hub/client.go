package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

const serviceName = "custody.hub.v1.Hub"

const (
	methodQueryTickets    = "/" + serviceName + "/QueryTickets"
	methodQueryDirectives = "/" + serviceName + "/QueryDirectives"
	methodSendTicket      = "/" + serviceName + "/SendTicket"
	methodUpdateTxHash    = "/" + serviceName + "/UpdateTxHash"
	methodFinalizeTicket  = "/" + serviceName + "/FinalizeTicket"
)

type queryRequest struct {
	ChainId common.ChainId `json:"chain_id"`
	Offset  uint64         `json:"offset"`
	Limit   int            `json:"limit"`
}

type ticketRequest struct {
	ChainId  common.ChainId `json:"chain_id"`
	Ticket   *common.Ticket `json:"ticket,omitempty"`
	TicketId string         `json:"ticket_id,omitempty"`
	TxHash   string         `json:"tx_hash,omitempty"`
}

// Client is the gRPC hub client for one chain. Requests and replies are
// JSON documents in BytesValue messages.
type Client struct {
	conn    *grpc.ClientConn
	chainId common.ChainId
}

func NewClient(addr string, chainId common.ChainId, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", addr, err)
	}
	return &Client{conn: conn, chainId: chainId}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req any, reply any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	out := &wrapperspb.BytesValue{}
	if err := c.conn.Invoke(ctx, method, wrapperspb.Bytes(payload), out); err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(out.GetValue(), reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

func (c *Client) QueryTickets(ctx context.Context, offset uint64, limit int) ([]SeqTicket, error) {
	var res []SeqTicket
	err := c.call(ctx, methodQueryTickets, &queryRequest{ChainId: c.chainId, Offset: offset, Limit: limit}, &res)
	return res, err
}

func (c *Client) QueryDirectives(ctx context.Context, offset uint64, limit int) ([]SeqDirective, error) {
	var res []SeqDirective
	err := c.call(ctx, methodQueryDirectives, &queryRequest{ChainId: c.chainId, Offset: offset, Limit: limit}, &res)
	return res, err
}

func (c *Client) SendTicket(ctx context.Context, ticket common.Ticket) error {
	return c.call(ctx, methodSendTicket, &ticketRequest{ChainId: c.chainId, Ticket: &ticket}, nil)
}

func (c *Client) UpdateTxHash(ctx context.Context, ticketId string, txHash string) error {
	return c.call(ctx, methodUpdateTxHash, &ticketRequest{ChainId: c.chainId, TicketId: ticketId, TxHash: txHash}, nil)
}

func (c *Client) FinalizeTicket(ctx context.Context, ticketId string) error {
	return c.call(ctx, methodFinalizeTicket, &ticketRequest{ChainId: c.chainId, TicketId: ticketId}, nil)
}
