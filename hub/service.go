package hub

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RegisterHubService exposes impl on s with the wire format Client uses.
// It serves a single chain; the chain id in requests is not checked.
func RegisterHubService(s *grpc.Server, impl Hub) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*Hub)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "QueryTickets", Handler: queryTicketsHandler},
			{MethodName: "QueryDirectives", Handler: queryDirectivesHandler},
			{MethodName: "SendTicket", Handler: sendTicketHandler},
			{MethodName: "UpdateTxHash", Handler: updateTxHashHandler},
			{MethodName: "FinalizeTicket", Handler: finalizeTicketHandler},
		},
	}, impl)
}

func decode(dec func(any) error, req any) error {
	in := &wrapperspb.BytesValue{}
	if err := dec(in); err != nil {
		return err
	}
	if err := json.Unmarshal(in.GetValue(), req); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	return nil
}

func reply(v any, err error) (any, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	if v == nil {
		return wrapperspb.Bytes(nil), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// toStatus keeps status errors and maps the rest to Internal.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, ErrUnknownTicket) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func queryTicketsHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := &queryRequest{}
	if err := decode(dec, req); err != nil {
		return nil, err
	}
	res, err := srv.(Hub).QueryTickets(ctx, req.Offset, req.Limit)
	return reply(res, err)
}

func queryDirectivesHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := &queryRequest{}
	if err := decode(dec, req); err != nil {
		return nil, err
	}
	res, err := srv.(Hub).QueryDirectives(ctx, req.Offset, req.Limit)
	return reply(res, err)
}

func sendTicketHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := &ticketRequest{}
	if err := decode(dec, req); err != nil {
		return nil, err
	}
	if req.Ticket == nil {
		return nil, status.Error(codes.InvalidArgument, "missing ticket")
	}
	return reply(nil, srv.(Hub).SendTicket(ctx, *req.Ticket))
}

func updateTxHashHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := &ticketRequest{}
	if err := decode(dec, req); err != nil {
		return nil, err
	}
	return reply(nil, srv.(Hub).UpdateTxHash(ctx, req.TicketId, req.TxHash))
}

func finalizeTicketHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := &ticketRequest{}
	if err := decode(dec, req); err != nil {
		return nil, err
	}
	return reply(nil, srv.(Hub).FinalizeTicket(ctx, req.TicketId))
}
