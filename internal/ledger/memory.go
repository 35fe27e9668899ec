// internal/ledger/memory.go
package ledger

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MemoryStore keeps accounts in a map. Update runs against an overlay
// that is merged into the base map only on success.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[solana.PublicKey]*Account),
	}
}

type memoryTx struct {
	base    map[solana.PublicKey]*Account
	overlay map[solana.PublicKey]*Account
}

func (tx *memoryTx) Get(key solana.PublicKey) (*Account, error) {
	if acct, ok := tx.overlay[key]; ok {
		return acct.Clone(), nil
	}
	if acct, ok := tx.base[key]; ok {
		return acct.Clone(), nil
	}
	return nil, ErrAccountNotFound
}

func (tx *memoryTx) Put(acct *Account) error {
	tx.overlay[acct.Key] = acct.Clone()
	return nil
}

func (s *MemoryStore) View(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{base: s.accounts, overlay: make(map[solana.PublicKey]*Account)}
	return fn(tx)
}

func (s *MemoryStore) Update(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{base: s.accounts, overlay: make(map[solana.PublicKey]*Account)}
	if err := fn(tx); err != nil {
		return err
	}
	for key, acct := range tx.overlay {
		s.accounts[key] = acct
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
