package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octopus-network/omnity-interoperability-sub003/btcman/assembler"
	"github.com/octopus-network/omnity-interoperability-sub003/btcman/rpc"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/custody"
	"github.com/octopus-network/omnity-interoperability-sub003/database"
	"github.com/octopus-network/omnity-interoperability-sub003/eventstore"
	"github.com/octopus-network/omnity-interoperability-sub003/guard"
	"github.com/octopus-network/omnity-interoperability-sub003/hub"
	"github.com/octopus-network/omnity-interoperability-sub003/logconfig"
	"github.com/octopus-network/omnity-interoperability-sub003/signer"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

const ownChain = "Bitcoin"

// fakeLedger applies everything except the tickets and directive kinds it
// was told to fail.
type fakeLedger struct {
	guards     *guard.Set
	ticketErrs map[string]error
	kindErrs   map[string]error
	released   []string
	directives []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		guards:     guard.NewSet(),
		ticketErrs: make(map[string]error),
		kindErrs:   make(map[string]error),
	}
}

func (l *fakeLedger) ReleaseToken(_ context.Context, ticket *common.Ticket) error {
	if err := l.ticketErrs[ticket.TicketId]; err != nil {
		return err
	}
	l.released = append(l.released, ticket.TicketId)
	return nil
}

func (l *fakeLedger) ApplyDirective(d common.Directive) error {
	if err := l.kindErrs[d.Kind()]; err != nil {
		return err
	}
	l.directives = append(l.directives, d.Kind())
	return nil
}

func (l *fakeLedger) RunTask(ctx context.Context, name string, fn func(context.Context) error) error {
	g, err := l.guards.AcquireTask(name)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

type testEnv struct {
	hub    *hub.SimHub
	db     *state.StateDB
	ledger *fakeLedger
	s      *Syncer
}

func newStateDB(t *testing.T) *state.StateDB {
	sqlDB, err := database.OpenSQLite(database.MemoryDSN)
	require.NoError(t, err)
	db, err := state.NewStateDB(sqlDB)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		sqlDB.Close()
	})
	return db
}

func newTestEnv(t *testing.T, limit int) *testEnv {
	logconfig.ConfigDebugLogger()
	env := &testEnv{
		hub:    hub.NewSimHub(),
		db:     newStateDB(t),
		ledger: newFakeLedger(),
	}
	s, err := New(&Config{OwnChain: ownChain, Hub: env.hub, StateDB: env.db, Ledger: env.ledger, BatchLimit: limit})
	require.NoError(t, err)
	env.s = s
	return env
}

func (env *testEnv) cursor(t *testing.T, stream string) uint64 {
	c, err := env.db.GetCursor(stream)
	require.NoError(t, err)
	return c
}

func ticket(id string) common.Ticket {
	return common.Ticket{TicketId: id, SrcChain: "Ethereum", DstChain: ownChain, Action: common.ActionRedeem, Amount: "20000"}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(&Config{OwnChain: ownChain})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestSyncTicketsInBatches(t *testing.T) {
	env := newTestEnv(t, 2)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		env.hub.AddTicket(ticket(id))
	}

	require.NoError(t, env.s.SyncTickets(context.Background()))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, env.ledger.released)
	assert.Equal(t, uint64(5), env.cursor(t, state.TicketStream))
	assert.Equal(t, 3, env.hub.Calls("QueryTickets"))

	// nothing new, nothing applied twice
	require.NoError(t, env.s.SyncTickets(context.Background()))
	assert.Len(t, env.ledger.released, 5)
	assert.Equal(t, uint64(5), env.cursor(t, state.TicketStream))
}

func TestSyncSkipsInvalidTickets(t *testing.T) {
	env := newTestEnv(t, 10)
	env.hub.AddTicket(ticket("a"))
	env.hub.AddTicket(ticket("bad"))
	other := ticket("other")
	other.DstChain = "Dogecoin"
	env.hub.AddTicket(other)
	env.hub.AddTicket(ticket("dup"))
	env.hub.AddTicket(ticket("c"))
	env.ledger.ticketErrs["bad"] = custody.ErrInvalidAddress
	env.ledger.ticketErrs["dup"] = custody.ErrAlreadySubmitted

	require.NoError(t, env.s.SyncTickets(context.Background()))
	assert.Equal(t, []string{"a", "c"}, env.ledger.released)
	assert.Equal(t, uint64(5), env.cursor(t, state.TicketStream))
}

func TestSyncStopsOnTransientFailure(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	env.hub.AddTicket(ticket("a"))
	env.hub.AddTicket(ticket("busy"))
	env.hub.AddTicket(ticket("c"))
	env.ledger.ticketErrs["busy"] = custody.ErrTemporarilyUnavailable

	err := env.s.SyncTickets(ctx)
	assert.ErrorIs(t, err, custody.ErrTemporarilyUnavailable)
	assert.Equal(t, []string{"a"}, env.ledger.released)
	assert.Equal(t, uint64(1), env.cursor(t, state.TicketStream))

	delete(env.ledger.ticketErrs, "busy")
	require.NoError(t, env.s.SyncTickets(ctx))
	assert.Equal(t, []string{"a", "busy", "c"}, env.ledger.released)
	assert.Equal(t, uint64(3), env.cursor(t, state.TicketStream))
}

func TestSyncFetchFailureKeepsCursor(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	env.hub.AddTicket(ticket("a"))
	env.hub.Fail("QueryTickets", errors.New("hub unreachable"))

	assert.Error(t, env.s.SyncTickets(ctx))
	assert.Equal(t, uint64(0), env.cursor(t, state.TicketStream))

	env.hub.Fail("QueryTickets", nil)
	require.NoError(t, env.s.SyncTickets(ctx))
	assert.Equal(t, uint64(1), env.cursor(t, state.TicketStream))
}

// replayingHub serves its first tickets whatever the offset asked.
type replayingHub struct {
	*hub.SimHub
}

func (h *replayingHub) QueryTickets(ctx context.Context, _ uint64, limit int) ([]hub.SeqTicket, error) {
	return h.SimHub.QueryTickets(ctx, 0, limit)
}

func TestSyncStopsOnStalePage(t *testing.T) {
	env := newTestEnv(t, 2)
	stale := &replayingHub{SimHub: env.hub}
	s, err := New(&Config{OwnChain: ownChain, Hub: stale, StateDB: env.db, Ledger: env.ledger, BatchLimit: 2})
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		env.hub.AddTicket(ticket(id))
	}

	require.NoError(t, s.SyncTickets(context.Background()))
	assert.Equal(t, []string{"a", "b"}, env.ledger.released)
	assert.Equal(t, uint64(2), env.cursor(t, state.TicketStream))
	assert.Equal(t, 2, env.hub.Calls("QueryTickets"))
}

func TestSyncDirectives(t *testing.T) {
	env := newTestEnv(t, 10)
	env.hub.AddDirective(common.AddChain{Chain: common.Chain{ChainId: "Ethereum", Family: common.FamilyEvm}})
	env.hub.AddDirective(common.ToggleChainState{ChainId: "Osmosis", Action: common.ToggleDeactivate})
	env.hub.AddDirective(common.UpdateFee{Factor: common.Factor{Kind: common.TargetChainFactor, TargetChainId: "Ethereum", Value: 3}})
	env.ledger.kindErrs["toggle_chain_state"] = custody.ErrUnknownChain

	require.NoError(t, env.s.SyncOnce(context.Background()))
	assert.Equal(t, []string{"add_chain", "update_fee"}, env.ledger.directives)
	assert.Equal(t, uint64(3), env.cursor(t, state.DirectiveStream))
}

func TestSyncOnceDoesNotOverlap(t *testing.T) {
	env := newTestEnv(t, 10)
	env.hub.AddTicket(ticket("a"))

	g, err := env.ledger.guards.AcquireTask(TaskSyncTickets)
	require.NoError(t, err)
	err = env.s.SyncOnce(context.Background())
	assert.ErrorIs(t, err, guard.ErrAlreadyInProgress)
	assert.Empty(t, env.ledger.released)
	g.Release()

	require.NoError(t, env.s.SyncOnce(context.Background()))
	assert.Equal(t, []string{"a"}, env.ledger.released)
}

func TestSyncLoopStops(t *testing.T) {
	env := newTestEnv(t, 10)
	env.hub.AddTicket(ticket("a"))
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := env.s.Sync(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"a"}, env.ledger.released)
}

func TestSyncIntoEngine(t *testing.T) {
	logconfig.ConfigDebugLogger()
	sqlDB, err := database.OpenSQLite(database.MemoryDSN)
	require.NoError(t, err)
	defer sqlDB.Close()
	store, err := eventstore.New(sqlDB)
	require.NoError(t, err)
	defer store.Close()

	h := hub.NewSimHub()
	s, err := signer.NewLocalSigner([]byte("syncer-test-seed-0123456789abcdef"), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	cfg := custody.DefaultConfig(ownChain, "regtest")
	e, err := custody.New(cfg, store, nil, rpc.NewSimChain(5), s, h)
	require.NoError(t, err)
	require.NoError(t, e.Boot())

	native := common.NativeTokenId(ownChain)
	h.AddDirective(common.AddToken{Token: common.Token{TokenId: native, Symbol: "BTC", Decimals: 8, IssueChain: ownChain}})
	good := ticket("t1")
	good.Token = native
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := assembler.CustodyAddress(priv.PubKey().SerializeCompressed(), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	good.Receiver = addr.EncodeAddress()
	h.AddTicket(good)
	bad := ticket("t2")
	bad.Token = native
	bad.Receiver = "not-an-address"
	h.AddTicket(bad)

	syn, err := New(&Config{OwnChain: ownChain, Hub: h, StateDB: newStateDB(t), Ledger: e})
	require.NoError(t, err)
	require.NoError(t, syn.SyncOnce(context.Background()))

	status, _ := e.GetStatus("t1")
	assert.Equal(t, state.OutboundPending, status)
	status, _ = e.GetStatus("t2")
	assert.Equal(t, state.OutboundUnknown, status)
	c, err := syn.db.GetCursor(state.TicketStream)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c)
}
