package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// LocalSigner derives every custody key from one HD master key.
// Only derivation is local; the interface is the same as the remote service.
type LocalSigner struct {
	master *hdkeychain.ExtendedKey

	mu   sync.Mutex
	keys map[string]*btcec.PrivateKey
}

func NewLocalSigner(seed []byte, params *chaincfg.Params) (*LocalSigner, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &LocalSigner{master: master, keys: make(map[string]*btcec.PrivateKey)}, nil
}

func (ls *LocalSigner) privKey(keyPath []uint32) (*btcec.PrivateKey, error) {
	id := fmt.Sprint(keyPath)

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if k, ok := ls.keys[id]; ok {
		return k, nil
	}

	key := ls.master
	for _, idx := range keyPath {
		child, err := key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive %v: %w", keyPath, err)
		}
		key = child
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	ls.keys[id] = priv
	return priv, nil
}

func (ls *LocalSigner) PublicKey(ctx context.Context, keyPath []uint32) ([]byte, error) {
	priv, err := ls.privKey(keyPath)
	if err != nil {
		return nil, err
	}
	return priv.PubKey().SerializeCompressed(), nil
}

func (ls *LocalSigner) Sign(ctx context.Context, keyPath []uint32, digest []byte) ([]byte, error) {
	priv, err := ls.privKey(keyPath)
	if err != nil {
		return nil, err
	}
	compact := ecdsa.SignCompact(priv, digest, true)
	// drop the recovery byte
	return compact[1:], nil
}
