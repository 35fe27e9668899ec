// internal/ledger/store.go
package ledger

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var ErrAccountNotFound = errors.New("account not found")

// Account is one entry in the deterministic address space: raw data plus
// the program that owns it and the lamports funding its storage.
type Account struct {
	Key      solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = make([]byte, len(a.Data))
	copy(c.Data, a.Data)
	return &c
}

// Tx is the view of the store inside one unit of work. Mutations made
// through Put are only visible outside once the enclosing Update commits.
type Tx interface {
	Get(key solana.PublicKey) (*Account, error)
	Put(acct *Account) error
}

// Store is the account storage the engine runs against. Update applies
// fn atomically: if fn returns an error every Put it made is discarded.
type Store interface {
	View(fn func(Tx) error) error
	Update(fn func(Tx) error) error
	Close() error
}
