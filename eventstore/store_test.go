package eventstore

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/database"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	sqlDB, err := database.OpenSQLite(database.MemoryDSN)
	require.NoError(t, err)
	st, err := New(sqlDB)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		sqlDB.Close()
	})
	return st, sqlDB
}

func testEvents() []state.Event {
	evs := []state.Event{
		state.Init{Args: state.InitArgs{ChainId: "Bitcoin", Network: "regtest", MinReleaseAmount: 10_000, MaxPendingRequests: 10}, Timestamp: 1},
		state.Upgrade{Version: 1, Timestamp: 2},
	}
	for _, id := range []string{"Ethereum", "Aptos", "Osmosis", "Near", "Solana"} {
		evs = append(evs, state.AddedChain{Chain: common.Chain{ChainId: id, ChainState: common.ChainActive}})
		evs = append(evs, state.UpdatedFee{Factor: common.Factor{Kind: common.TargetChainFactor, TargetChainId: id, Value: 3}})
	}
	return evs
}

func appendAll(t *testing.T, st *Store, evs []state.Event) {
	for i, ev := range evs {
		seq, err := st.Append(ev)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestAppendIterate(t *testing.T) {
	st, _ := newTestStore(t)
	st.pageSize = 3
	evs := testEvents()
	appendAll(t, st, evs)
	assert.Equal(t, uint64(len(evs)), st.LastSeq())

	var got []state.Event
	it := st.Iterate()
	for it.Next() {
		got = append(got, it.Event())
		assert.Equal(t, uint64(len(got)), it.Seq())
	}
	assert.NoError(t, it.Err())
	assert.Equal(t, evs, got)

	// restartable
	it = st.Iterate()
	s, n, err := state.Replay(it)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(evs)), n)
	assert.Len(t, s.Chains, 5)
}

func TestEmptyLog(t *testing.T) {
	st, _ := newTestStore(t)
	it := st.Iterate()
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	assert.Equal(t, uint64(0), st.LastSeq())
}

func TestReopenContinuesChain(t *testing.T) {
	st, sqlDB := newTestStore(t)
	evs := testEvents()
	appendAll(t, st, evs[:4])

	reopened, err := New(sqlDB)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), reopened.LastSeq())
	for _, ev := range evs[4:] {
		_, err := reopened.Append(ev)
		require.NoError(t, err)
	}

	_, n, err := state.Replay(reopened.Iterate())
	require.NoError(t, err)
	assert.Equal(t, uint64(len(evs)), n)
}

func TestCorruptedLog(t *testing.T) {
	st, sqlDB := newTestStore(t)
	appendAll(t, st, testEvents())

	_, err := sqlDB.Exec(`UPDATE events SET payload = ? WHERE seq = 3`, []byte(`{"chain":{"chain_id":"Evil"}}`))
	require.NoError(t, err)

	it := st.Iterate()
	n := 0
	for it.Next() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, it.Err(), ErrCorruptedLog)
	assert.Nil(t, it.Event())

	_, _, err = state.Replay(st.Iterate())
	assert.ErrorIs(t, err, ErrCorruptedLog)
}

func TestUndecodableRecord(t *testing.T) {
	st, sqlDB := newTestStore(t)
	appendAll(t, st, testEvents()[:1])

	kind, payload := "mystery", []byte(`{}`)
	_, err := sqlDB.Exec(`INSERT INTO events (id, kind, payload, checksum) VALUES (?, ?, ?, ?)`,
		"00000000-0000-0000-0000-000000000001", kind, payload, checksum(st.lastSum, kind, payload))
	require.NoError(t, err)

	it := st.Iterate()
	assert.True(t, it.Next())
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrCorruptedLog)
}

func TestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	snaps, err := OpenSnapshotStore(path)
	require.NoError(t, err)

	got, err := snaps.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	s := state.NewState()
	require.NoError(t, state.Fold(s, testEvents()...))
	require.NoError(t, snaps.Save(&Snapshot{Version: 1, Seq: 12, State: s}))
	require.NoError(t, snaps.Close())

	snaps, err = OpenSnapshotStore(path)
	require.NoError(t, err)
	defer snaps.Close()
	got, err = snaps.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.Version)
	assert.Equal(t, uint64(12), got.Seq)
	assert.Equal(t, s, got.State)

	// truncated body
	require.NoError(t, snaps.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put(keyState, make([]byte, 25))
	}))
	_, err = snaps.Load()
	assert.ErrorIs(t, err, ErrBadSnapshot)
}
