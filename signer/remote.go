package signer

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	methodPublicKey = "/custody.signer.v1.Signer/PublicKey"
	methodSign      = "/custody.signer.v1.Signer/Sign"
)

type signRequest struct {
	KeyPath []uint32 `json:"key_path"`
	Digest  []byte   `json:"digest,omitempty"`
}

// RemoteSigner talks to the signing service over gRPC. Requests and replies
// are JSON documents carried in BytesValue messages.
type RemoteSigner struct {
	conn *grpc.ClientConn
}

func NewRemoteSigner(addr string, opts ...grpc.DialOption) (*RemoteSigner, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial signer %s: %w", addr, err)
	}
	return &RemoteSigner{conn: conn}, nil
}

func (rs *RemoteSigner) Close() error {
	return rs.conn.Close()
}

func (rs *RemoteSigner) call(ctx context.Context, method string, req *signRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	out := &wrapperspb.BytesValue{}
	if err := rs.conn.Invoke(ctx, method, wrapperspb.Bytes(payload), out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (rs *RemoteSigner) PublicKey(ctx context.Context, keyPath []uint32) ([]byte, error) {
	pub, err := rs.call(ctx, methodPublicKey, &signRequest{KeyPath: keyPath})
	if err != nil {
		return nil, err
	}
	if _, err := ParsePublicKey(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

func (rs *RemoteSigner) Sign(ctx context.Context, keyPath []uint32, digest []byte) ([]byte, error) {
	sig, err := rs.call(ctx, methodSign, &signRequest{KeyPath: keyPath, Digest: digest})
	if err != nil {
		return nil, err
	}
	if len(sig) != 64 {
		return nil, ErrBadSignature
	}
	return sig, nil
}
