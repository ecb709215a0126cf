package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"dualstake/core/events"
	"dualstake/core/types"
	"dualstake/storage"
)

func TestUpdateCommitsWritesAndEmitsEvents(t *testing.T) {
	db := storage.NewMemDB()
	sink := new(events.Sink)
	m := NewManager(db)
	m.SetEmitter(sink)

	err := m.Update(func(s *State) error {
		require.NoError(t, s.KVPut([]byte("k"), big.NewInt(42)))
		s.AppendEvent(&types.Event{Type: "test.committed"})
		return nil
	})
	require.NoError(t, err)

	err = m.View(func(s *State) error {
		got := new(big.Int)
		ok, err := s.KVGet([]byte("k"), got)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, got.Cmp(big.NewInt(42)))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, sink.Events(), 1)
	require.Equal(t, "test.committed", sink.Events()[0].Type)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	db := storage.NewMemDB()
	sink := new(events.Sink)
	m := NewManager(db)
	m.SetEmitter(sink)

	boom := errors.New("boom")
	err := m.Update(func(s *State) error {
		require.NoError(t, s.KVPut([]byte("k"), big.NewInt(1)))
		s.AppendEvent(&types.Event{Type: "test.discarded"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = m.View(func(s *State) error {
		ok, err := s.KVGet([]byte("k"), nil)
		require.NoError(t, err)
		require.False(t, ok, "failed transaction must leave no trace")
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, sink.Events(), "failed transaction must emit nothing")
}

// faultDB fails the batch commit while leaving reads intact, standing in for
// a backend that runs out of disk mid-flush.
type faultDB struct {
	*storage.MemDB
	commitErr error
}

func (db *faultDB) WriteBatch(writes map[string][]byte) error {
	if db.commitErr != nil {
		return db.commitErr
	}
	return db.MemDB.WriteBatch(writes)
}

func TestUpdateFailedCommitPersistsNothing(t *testing.T) {
	db := &faultDB{MemDB: storage.NewMemDB(), commitErr: errors.New("disk full")}
	sink := new(events.Sink)
	m := NewManager(db)
	m.SetEmitter(sink)

	err := m.Update(func(s *State) error {
		require.NoError(t, s.KVPut([]byte("a"), big.NewInt(1)))
		require.NoError(t, s.KVPut([]byte("b"), big.NewInt(2)))
		s.AppendEvent(&types.Event{Type: "test.discarded"})
		return nil
	})
	require.ErrorIs(t, err, db.commitErr)

	err = m.View(func(s *State) error {
		for _, key := range []string{"a", "b"} {
			ok, err := s.KVGet([]byte(key), nil)
			require.NoError(t, err)
			require.False(t, ok, "key %q must not survive a failed commit", key)
		}
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, sink.Events(), "failed commit must emit nothing")
}

func TestOverlayReadsItsOwnWrites(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	err := m.Update(func(s *State) error {
		require.NoError(t, s.KVPut([]byte("k"), big.NewInt(7)))
		got := new(big.Int)
		ok, err := s.KVGet([]byte("k"), got)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, got.Cmp(big.NewInt(7)))
		return nil
	})
	require.NoError(t, err)
}

func TestViewIsReadOnly(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	err := m.View(func(s *State) error {
		require.ErrorIs(t, s.KVPut([]byte("k"), big.NewInt(1)), ErrReadOnly)
		require.ErrorIs(t, s.KVAppend([]byte("l"), []byte{1}), ErrReadOnly)
		return nil
	})
	require.NoError(t, err)
}

func TestKVAppendAndList(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	err := m.Update(func(s *State) error {
		require.NoError(t, s.KVAppend([]byte("list"), []byte{1}))
		require.NoError(t, s.KVAppend([]byte("list"), []byte{2}))
		return nil
	})
	require.NoError(t, err)

	err = m.View(func(s *State) error {
		list, err := s.KVList([]byte("list"))
		require.NoError(t, err)
		require.Equal(t, [][]byte{{1}, {2}}, list)

		empty, err := s.KVList([]byte("missing"))
		require.NoError(t, err)
		require.Empty(t, empty)
		return nil
	})
	require.NoError(t, err)
}

func TestRoles(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := common.HexToAddress("0x01")
	err := m.Update(func(s *State) error {
		require.False(t, s.HasRole("ROLE_ADMIN", addr))
		require.NoError(t, s.GrantRole("ROLE_ADMIN", addr))
		require.True(t, s.HasRole("ROLE_ADMIN", addr))
		return nil
	})
	require.NoError(t, err)

	err = m.View(func(s *State) error {
		require.True(t, s.HasRole("ROLE_ADMIN", addr))
		require.False(t, s.HasRole("ROLE_CUSTODIAN", addr))
		return nil
	})
	require.NoError(t, err)
}
