// Package signer abstracts the threshold signing service that holds the
// custody keys. Keys are addressed by a derivation path.
package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

var (
	ErrBadSignature = errors.New("signature must be 64 bytes r||s")
	ErrBadPublicKey = errors.New("public key must be 33 bytes compressed")
)

// Signer produces ECDSA signatures over message digests.
type Signer interface {
	// PublicKey returns the compressed public key at keyPath.
	PublicKey(ctx context.Context, keyPath []uint32) ([]byte, error)
	// Sign returns a 64-byte r||s signature of digest by the key at keyPath.
	Sign(ctx context.Context, keyPath []uint32, digest []byte) ([]byte, error)
}

// ToDER converts a 64-byte r||s signature to DER, normalizing s to the lower half.
func ToDER(sig []byte) ([]byte, error) {
	if len(sig) != 64 {
		return nil, ErrBadSignature
	}
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return nil, fmt.Errorf("%w: r out of range", ErrBadSignature)
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
		return nil, fmt.Errorf("%w: s out of range", ErrBadSignature)
	}
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}

func ParsePublicKey(pub []byte) (*btcec.PublicKey, error) {
	if len(pub) != btcec.PubKeyBytesLenCompressed {
		return nil, ErrBadPublicKey
	}
	return btcec.ParsePubKey(pub)
}
