package hub

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

func newTestClient(t *testing.T, impl Hub) *Client {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterHubService(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewClient("passthrough:///bufnet", "Bitcoin",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func ticket(id string) common.Ticket {
	return common.Ticket{
		TicketId: id, TicketType: common.TicketNormal, SrcChain: "Ethereum", DstChain: "Bitcoin",
		Action: common.ActionRedeem, Token: "Bitcoin-native-BTC", Amount: "20000", Receiver: "bcrt1q",
	}
}

func TestSimHubWindow(t *testing.T) {
	ctx := context.Background()
	h := NewSimHub()
	for _, id := range []string{"a", "b", "c"} {
		h.AddTicket(ticket(id))
	}

	got, err := h.QueryTickets(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, "c", got[1].Ticket.TicketId)

	got, err = h.QueryTickets(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	h.Fail("QueryTickets", status.Error(codes.Unavailable, "down"))
	_, err = h.QueryTickets(ctx, 0, 10)
	assert.Error(t, err)
	h.Fail("QueryTickets", nil)
	_, err = h.QueryTickets(ctx, 0, 10)
	assert.NoError(t, err)
	assert.Equal(t, 3, h.Calls("QueryTickets"))
}

func TestClientOverGrpc(t *testing.T) {
	ctx := context.Background()
	sim := NewSimHub()
	c := newTestClient(t, sim)

	sim.AddTicket(ticket("t1"))
	sim.AddDirective(common.AddChain{Chain: common.Chain{ChainId: "Ethereum", Family: common.FamilyEvm}})
	sim.AddDirective(common.UpdateFee{Factor: common.Factor{Kind: common.TargetChainFactor, TargetChainId: "Ethereum", Value: 7}})

	tickets, err := c.QueryTickets(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, ticket("t1"), tickets[0].Ticket)

	dirs, err := c.QueryDirectives(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, uint64(1), dirs[1].Seq)
	fee, ok := dirs[1].Directive.(common.UpdateFee)
	require.True(t, ok)
	assert.Equal(t, uint64(7), fee.Factor.Value)

	require.NoError(t, c.SendTicket(ctx, ticket("in1")))
	require.NoError(t, c.UpdateTxHash(ctx, "t1", "ab"))
	require.NoError(t, c.FinalizeTicket(ctx, "t1"))
	assert.Equal(t, []common.Ticket{ticket("in1")}, sim.Sent())
	assert.Equal(t, []string{"ab"}, sim.TxHashes("t1"))
	assert.True(t, sim.IsFinalized("t1"))

	sim.Fail("SendTicket", status.Error(codes.ResourceExhausted, "queue full"))
	err = c.SendTicket(ctx, ticket("in2"))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	sim.Fail("FinalizeTicket", ErrUnknownTicket)
	err = c.FinalizeTicket(ctx, "nope")
	assert.Equal(t, codes.NotFound, status.Code(err))
}
