/*
Package custody is the custody ledger of the bitcoin bridge: it tracks
deposits and releases, builds and tracks release transactions, and records
every change as an event before applying it.

Calls to the hub, the chain relay and the signing service happen without
holding the state lock. Anything checked before such a call and acted on
after it is protected by a guard.
*/
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/assembler"
	"github.com/octopus-network/omnity-interoperability-sub003/btcman/rpc"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/eventstore"
	"github.com/octopus-network/omnity-interoperability-sub003/guard"
	"github.com/octopus-network/omnity-interoperability-sub003/hub"
	"github.com/octopus-network/omnity-interoperability-sub003/signer"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

type Engine struct {
	cfg    *Config
	params *chaincfg.Params

	mu    sync.Mutex
	state *state.State
	// statuses of requests being signed or sent, never persisted
	inflight map[string]state.OutboundStatus
	// outpoints picked by a tx that is being built
	locked map[string]string

	guards    *guard.Set
	store     *eventstore.Store
	snapshots *eventstore.SnapshotStore
	rpc       rpc.ChainRPC
	op        *assembler.SignerOperator
	ass       *assembler.Assembler
	hub       hub.Hub
}

// New wires an engine. snapshots may be nil. Boot must run before anything else.
func New(cfg *Config, store *eventstore.Store, snapshots *eventstore.SnapshotStore, chain rpc.ChainRPC, s signer.Signer, h hub.Hub) (*Engine, error) {
	params, err := common.NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	op := assembler.NewSignerOperator(s, params)
	return &Engine{
		cfg:       cfg,
		params:    params,
		inflight:  make(map[string]state.OutboundStatus),
		locked:    make(map[string]string),
		guards:    guard.NewSet(),
		store:     store,
		snapshots: snapshots,
		rpc:       chain,
		op:        op,
		ass:       assembler.NewAssembler(params),
		hub:       h,
	}, nil
}

// Boot replays the log, initializes an empty one, records the upgrade and
// refreshes the snapshot. No operation may be served before it returns nil.
func (e *Engine) Boot() error {
	st, n, err := state.Replay(e.store.Iterate())
	if err != nil {
		return err
	}
	logger.WithFields(logger.Fields{"events": n, "chain": e.cfg.OwnChain}).Info("state replayed")

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st

	if e.snapshots != nil {
		e.checkSnapshot()
	}

	now := e.cfg.now().Unix()
	if !st.Initialized {
		err := e.commitLocked(state.Init{Args: state.InitArgs{
			ChainId:            e.cfg.OwnChain,
			Network:            e.cfg.Network,
			MinReleaseAmount:   e.cfg.MinReleaseAmount,
			MaxPendingRequests: e.cfg.MaxPendingRequests,
		}, Timestamp: now})
		if err != nil {
			return err
		}
	} else if st.OwnChain != e.cfg.OwnChain || st.Network != e.cfg.Network {
		return fmt.Errorf("log belongs to %s on %s, configured %s on %s", st.OwnChain, st.Network, e.cfg.OwnChain, e.cfg.Network)
	}

	upgrade := state.Upgrade{
		Version:            e.cfg.Version,
		MinReleaseAmount:   e.cfg.MinReleaseAmount,
		MaxPendingRequests: e.cfg.MaxPendingRequests,
		Timestamp:          now,
	}
	if err := e.commitLocked(upgrade); err != nil {
		return err
	}

	if e.snapshots != nil {
		snap := &eventstore.Snapshot{Version: e.cfg.Version, Seq: e.store.LastSeq(), State: e.state}
		if err := e.snapshots.Save(snap); err != nil {
			logger.WithError(err).Error("failed to save snapshot")
		}
	}
	return nil
}

// checkSnapshot compares the stored snapshot with the state replayed up to
// the same position. The log wins on a mismatch.
func (e *Engine) checkSnapshot() {
	snap, err := e.snapshots.Load()
	if err != nil {
		logger.WithError(err).Warn("failed to load snapshot")
		return
	}
	if snap == nil {
		return
	}
	at, _, err := state.Replay(state.Prefix(e.store.Iterate(), snap.Seq))
	if err != nil {
		logger.WithError(err).Warn("failed to replay up to snapshot")
		return
	}
	a, errA := json.Marshal(at)
	b, errB := json.Marshal(snap.State)
	if errA != nil || errB != nil || !bytes.Equal(a, b) {
		logger.WithFields(logger.Fields{"version": snap.Version, "seq": snap.Seq}).Error("snapshot differs from replayed state")
		return
	}
	logger.WithFields(logger.Fields{"version": snap.Version, "seq": snap.Seq}).Debug("snapshot matches log")
}

// commitLocked validates, appends and applies ev. The caller holds e.mu.
// A validation error leaves log and state untouched. A failed append is fatal.
func (e *Engine) commitLocked(ev state.Event) error {
	if err := e.state.Validate(ev); err != nil {
		logger.WithField("kind", ev.Kind()).Warnf("event rejected: %v", err)
		return err
	}
	seq, err := e.store.Append(ev)
	if err != nil {
		logger.WithField("kind", ev.Kind()).Fatalf("failed to append event: %v", err)
	}
	e.state.Apply(ev)
	logger.WithFields(logger.Fields{"seq": seq, "kind": ev.Kind()}).Debug("event committed")
	return nil
}

func (e *Engine) commit(ev state.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitLocked(ev)
}

// View runs fn on the current state under the state lock. fn must not keep
// references into the state or block.
func (e *Engine) View(fn func(st *state.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

func (e *Engine) Params() *chaincfg.Params {
	return e.params
}

// retry runs a collaborator call with the task retry policy. Errors that are
// not a CallError stop the retries.
func (e *Engine) retry(ctx context.Context, name string, fn func() error) error {
	return common.Retry(ctx, name, e.cfg.RetryAttempts, e.cfg.RetryBackoff, func(err error) bool {
		_, isCall := err.(*CallError)
		return !isCall
	}, fn)
}
