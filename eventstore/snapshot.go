package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

var (
	bucketSnapshot = []byte("snapshot")
	keyState       = []byte("state")

	ErrBadSnapshot = errors.New("malformed snapshot")
)

// SnapshotStore keeps one full-state snapshot written at an upgrade.
// It bridges versions only; the log stays the source of truth.
type SnapshotStore struct {
	db *bolt.DB
}

func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshot)
		return err
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("create bucket %s: %w", string(bucketSnapshot), err)
	}

	return &SnapshotStore{db: bdb}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Snapshot is a state together with the log position it was taken at.
type Snapshot struct {
	Version uint32
	Seq     uint64
	State   *state.State
}

// Save writes version(4) | seq(8) | len(8) | json(state).
func (s *SnapshotStore) Save(snap *Snapshot) error {
	body, err := json.Marshal(snap.State)
	if err != nil {
		return err
	}
	buf := make([]byte, 20, 20+len(body))
	binary.BigEndian.PutUint32(buf[0:4], snap.Version)
	binary.BigEndian.PutUint64(buf[4:12], snap.Seq)
	binary.BigEndian.PutUint64(buf[12:20], uint64(len(body)))
	buf = append(buf, body...)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put(keyState, buf)
	})
}

// Load returns the stored snapshot, nil if none was written.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	var raw []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSnapshot).Get(keyState); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	if len(raw) < 20 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadSnapshot, len(raw))
	}
	n := binary.BigEndian.Uint64(raw[12:20])
	if uint64(len(raw)-20) != n {
		return nil, fmt.Errorf("%w: length %d, body %d", ErrBadSnapshot, n, len(raw)-20)
	}
	st := state.NewState()
	if err := json.Unmarshal(raw[20:], st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return &Snapshot{
		Version: binary.BigEndian.Uint32(raw[0:4]),
		Seq:     binary.BigEndian.Uint64(raw[4:12]),
		State:   st,
	}, nil
}
