// internal/ledger/sqlite_test.go
package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)

	key := newKey()
	owner := newKey()
	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Owner: owner, Lamports: 1234, Data: []byte{9, 8, 7}})
	}))

	require.NoError(t, s.View(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, key, acct.Key)
		require.Equal(t, owner, acct.Owner)
		require.Equal(t, uint64(1234), acct.Lamports)
		require.Equal(t, []byte{9, 8, 7}, acct.Data)
		return nil
	}))
}

func TestSQLiteStoreMissingAccount(t *testing.T) {
	s := newSQLiteStore(t)
	err := s.View(func(tx Tx) error {
		_, err := tx.Get(newKey())
		return err
	})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSQLiteStoreUpsert(t *testing.T) {
	s := newSQLiteStore(t)
	key := newKey()

	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Owner: newKey(), Lamports: 1, Data: []byte{1}})
	}))
	newOwner := newKey()
	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Owner: newOwner, Lamports: 2, Data: []byte{2, 2}})
	}))

	require.NoError(t, s.View(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, newOwner, acct.Owner)
		require.Equal(t, uint64(2), acct.Lamports)
		require.Equal(t, []byte{2, 2}, acct.Data)
		return nil
	}))
}

func TestSQLiteStoreRollbackOnError(t *testing.T) {
	s := newSQLiteStore(t)
	key := newKey()

	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Owner: newKey(), Lamports: 10, Data: []byte{}})
	}))

	boom := errors.New("boom")
	err := s.Update(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		acct.Lamports = 999
		require.NoError(t, tx.Put(acct))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, uint64(10), acct.Lamports)
		return nil
	}))
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	key := newKey()
	owner := newKey()
	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Owner: owner, Lamports: 77, Data: []byte{5}})
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, owner, acct.Owner)
		require.Equal(t, uint64(77), acct.Lamports)
		return nil
	}))
}
