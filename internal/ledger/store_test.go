// internal/ledger/store_test.go
package ledger

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func newKey() solana.PublicKey {
	return solana.NewWallet().PrivateKey.PublicKey()
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	key := newKey()
	owner := newKey()
	err := s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Owner: owner, Lamports: 42, Data: []byte{1, 2, 3}})
	})
	require.NoError(t, err)

	err = s.View(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, owner, acct.Owner)
		require.Equal(t, uint64(42), acct.Lamports)
		require.Equal(t, []byte{1, 2, 3}, acct.Data)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreMissingAccount(t *testing.T) {
	s := NewMemoryStore()
	err := s.View(func(tx Tx) error {
		_, err := tx.Get(newKey())
		return err
	})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemoryStoreRollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	key := newKey()

	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Lamports: 10})
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

func TestMemoryStoreReadsOwnWrites(t *testing.T) {
	s := NewMemoryStore()
	key := newKey()

	require.NoError(t, s.Update(func(tx Tx) error {
		require.NoError(t, tx.Put(&Account{Key: key, Lamports: 1}))
		acct, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, uint64(1), acct.Lamports)
		return nil
	}))
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	key := newKey()

	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(&Account{Key: key, Data: []byte{7}})
	}))

	// mutating a fetched account must not leak into the store without
	// a Put
	require.NoError(t, s.View(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		acct.Data[0] = 99
		return nil
	}))
	require.NoError(t, s.View(func(tx Tx) error {
		acct, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, byte(7), acct.Data[0])
		return nil
	}))
}

func TestMinimumBalance(t *testing.T) {
	// solana's documented rate: (128 + size) bytes, two years at 3480
	// lamports per byte year
	require.Equal(t, uint64((128+0)*3480*2), MinimumBalance(0))
	require.Equal(t, uint64((128+100)*3480*2), MinimumBalance(100))
	require.Greater(t, MinimumBalance(200), MinimumBalance(100))
}

func TestLamportsToSOL(t *testing.T) {
	require.Equal(t, "1", LamportsToSOL(LamportsPerSOL).String())
	require.Equal(t, "0.5", LamportsToSOL(LamportsPerSOL/2).String())
	require.Equal(t, "0.000000001", LamportsToSOL(1).String())
}
