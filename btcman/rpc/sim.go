package rpc

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/wire"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/utxo"
)

// SimChain is an in-memory relay used by tests and local runs.
type SimChain struct {
	mu            sync.Mutex
	utxos         map[string][]*utxo.UTXO
	feeRate       uint64
	broadcasted   map[string]*wire.MsgTx
	order         []string
	confirmations map[string]uint32
	failures      map[string]error
}

func NewSimChain(feeRate uint64) *SimChain {
	return &SimChain{
		utxos:         make(map[string][]*utxo.UTXO),
		feeRate:       feeRate,
		broadcasted:   make(map[string]*wire.MsgTx),
		confirmations: make(map[string]uint32),
		failures:      make(map[string]error),
	}
}

// AddUtxo makes u visible at address.
func (s *SimChain) AddUtxo(address string, u *utxo.UTXO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxos[address] = append(s.utxos[address], u.Clone())
}

func (s *SimChain) SetFeeRate(rate uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeRate = rate
}

// Confirm sets the confirmation count of a broadcast transaction.
func (s *SimChain) Confirm(txId string, n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations[txId] = n
}

// Fail makes every call of method return err until cleared with a nil err.
func (s *SimChain) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *SimChain) Broadcasted() []*wire.MsgTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wire.MsgTx, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.broadcasted[id])
	}
	return out
}

func (s *SimChain) GetUtxos(ctx context.Context, address string, minConf int) ([]*utxo.UTXO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["GetUtxos"]; err != nil {
		return nil, err
	}
	out := make([]*utxo.UTXO, 0, len(s.utxos[address]))
	for _, u := range s.utxos[address] {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (s *SimChain) EstimateFeeRate(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["EstimateFeeRate"]; err != nil {
		return 0, err
	}
	return s.feeRate, nil
}

func (s *SimChain) Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Broadcast"]; err != nil {
		return "", err
	}
	id := tx.TxHash().String()
	if _, ok := s.broadcasted[id]; !ok {
		s.order = append(s.order, id)
	}
	s.broadcasted[id] = tx.Copy()
	return id, nil
}

func (s *SimChain) GetConfirmations(ctx context.Context, txId string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["GetConfirmations"]; err != nil {
		return 0, err
	}
	if _, ok := s.broadcasted[txId]; !ok {
		return 0, ErrTxNotFound
	}
	return s.confirmations[txId], nil
}
