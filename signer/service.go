package signer

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RegisterSignerService exposes impl on s with the wire format RemoteSigner uses.
func RegisterSignerService(s *grpc.Server, impl Signer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "custody.signer.v1.Signer",
		HandlerType: (*Signer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "PublicKey", Handler: publicKeyHandler},
			{MethodName: "Sign", Handler: signHandler},
		},
	}, impl)
}

func decodeRequest(dec func(any) error) (*signRequest, error) {
	in := &wrapperspb.BytesValue{}
	if err := dec(in); err != nil {
		return nil, err
	}
	req := &signRequest{}
	if err := json.Unmarshal(in.GetValue(), req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	return req, nil
}

func publicKeyHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}
	pub, err := srv.(Signer).PublicKey(ctx, req.KeyPath)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(pub), nil
}

func signHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req, err := decodeRequest(dec)
	if err != nil {
		return nil, err
	}
	if len(req.Digest) != 32 {
		return nil, status.Error(codes.InvalidArgument, "digest must be 32 bytes")
	}
	sig, err := srv.(Signer).Sign(ctx, req.KeyPath, req.Digest)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(sig), nil
}
