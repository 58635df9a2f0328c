package state

import (
	"database/sql"
	"encoding/binary"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/octopus-network/omnity-interoperability-sub003/database"
)

// Stream names of the hub cursors.
const (
	TicketStream    = "tickets"
	DirectiveStream = "directives"
)

// StateDB keeps values outside the event log, the sync cursors.
type StateDB struct {
	stmtCache *database.StmtCache
}

func NewStateDB(db *sql.DB) (*StateDB, error) {
	if _, err := db.Exec(kvTable); err != nil {
		return nil, err
	}

	return &StateDB{
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (st *StateDB) Close() {
	st.stmtCache.Clear()
}

func (st *StateDB) GetKeyedValue(key ethcommon.Hash) (ethcommon.Hash, bool, error) {
	query := `SELECT value FROM kv WHERE key = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return ethcommon.Hash{}, false, err
	}

	var value string
	keyHex := key.String()[2:]
	if err := stmt.QueryRow(keyHex).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return ethcommon.Hash{}, false, nil
		}
		return ethcommon.Hash{}, false, err
	}

	return ethcommon.HexToHash(value), true, nil
}

func (st *StateDB) SetKeyedValue(key, value ethcommon.Hash) error {
	query := `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	keyHex := key.String()[2:]
	valueHex := value.String()[2:]
	if _, err := stmt.Exec(keyHex, valueHex); err != nil {
		return err
	}

	return nil
}

func cursorKey(stream string) ethcommon.Hash {
	return crypto.Keccak256Hash([]byte("cursor/" + stream))
}

// GetCursor returns the next offset to pull from stream, 0 if never set.
func (st *StateDB) GetCursor(stream string) (uint64, error) {
	v, ok, err := st.GetKeyedValue(cursorKey(stream))
	if err != nil || !ok {
		return 0, err
	}
	return binary.BigEndian.Uint64(v[24:]), nil
}

func (st *StateDB) SetCursor(stream string, next uint64) error {
	var v ethcommon.Hash
	binary.BigEndian.PutUint64(v[24:], next)
	return st.SetKeyedValue(cursorKey(stream), v)
}
