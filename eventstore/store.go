/*
Package eventstore keeps the append-only event log in sqlite.

Every record carries checksum = blake2b(prev_checksum || kind || payload),
so a record that was altered, dropped or reordered breaks the chain and is
reported as a corrupted log while iterating.
*/
package eventstore

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/octopus-network/omnity-interoperability-sub003/database"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

const defaultPageSize = 256

var ErrCorruptedLog = errors.New("corrupted event log")

type Store struct {
	mu        sync.Mutex
	stmtCache *database.StmtCache
	lastSeq   uint64
	lastSum   []byte
	pageSize  int
}

func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(eventsTable); err != nil {
		return nil, err
	}

	st := &Store{
		stmtCache: database.NewStmtCache(db),
		lastSum:   make([]byte, blake2b.Size256),
		pageSize:  defaultPageSize,
	}

	var seq uint64
	var sum []byte
	err := db.QueryRow(`SELECT seq, checksum FROM events ORDER BY seq DESC LIMIT 1`).Scan(&seq, &sum)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		st.lastSeq = seq
		st.lastSum = sum
	}

	return st, nil
}

func (st *Store) Close() {
	st.stmtCache.Clear()
}

func checksum(prev []byte, kind string, payload []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(prev)
	h.Write([]byte(kind))
	h.Write(payload)
	return h.Sum(nil)
}

// Append durably writes ev and returns its sequence number.
func (st *Store) Append(ev state.Event) (uint64, error) {
	kind, payload, err := state.EncodeEvent(ev)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	stmt, err := st.stmtCache.Prepare(`INSERT INTO events (id, kind, payload, checksum) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}

	sum := checksum(st.lastSum, kind, payload)
	res, err := stmt.Exec(uuid.NewString(), kind, payload, sum)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", kind, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	st.lastSeq = uint64(seq)
	st.lastSum = sum
	logger.WithFields(logger.Fields{"seq": seq, "kind": kind}).Debug("event appended")
	return st.lastSeq, nil
}

// LastSeq is the sequence number of the last appended event, 0 for an empty log.
func (st *Store) LastSeq() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSeq
}

// Iterate returns a lazy iterator over the whole log. Each call starts from
// the first record again.
func (st *Store) Iterate() *Iterator {
	return &Iterator{st: st, prevSum: make([]byte, blake2b.Size256)}
}

type record struct {
	seq      uint64
	kind     string
	payload  []byte
	checksum []byte
}

func (st *Store) page(after uint64) ([]record, error) {
	stmt, err := st.stmtCache.Prepare(`SELECT seq, kind, payload, checksum FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(after, st.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.seq, &r.kind, &r.payload, &r.checksum); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// Iterator reads the log a page at a time and checks the hash chain.
type Iterator struct {
	st      *Store
	buf     []record
	lastSeq uint64
	prevSum []byte
	cur     state.Event
	done    bool
	err     error
}

func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if len(it.buf) == 0 {
		page, err := it.st.page(it.lastSeq)
		if err != nil {
			it.fail(err)
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.buf = page
	}

	r := it.buf[0]
	it.buf = it.buf[1:]

	if want := checksum(it.prevSum, r.kind, r.payload); !bytes.Equal(want, r.checksum) {
		it.fail(fmt.Errorf("%w: checksum mismatch at seq %d", ErrCorruptedLog, r.seq))
		return false
	}
	ev, err := state.DecodeEvent(r.kind, r.payload)
	if err != nil {
		it.fail(fmt.Errorf("%w: seq %d: %v", ErrCorruptedLog, r.seq, err))
		return false
	}

	it.cur = ev
	it.lastSeq = r.seq
	it.prevSum = r.checksum
	return true
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.done = true
	it.cur = nil
}

func (it *Iterator) Event() state.Event { return it.cur }
func (it *Iterator) Seq() uint64        { return it.lastSeq }
func (it *Iterator) Err() error         { return it.err }
