// internal/ledger/sqlite.go
package ledger

import (
	"database/sql"
	"fmt"

	"github.com/gagliardetto/solana-go"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists accounts in a single SQLite table. Each Update
// runs inside one SQL transaction so a failed operation leaves no trace.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open account db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		lamports INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner);
	`

	_, err := s.db.Exec(schema)
	return err
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(key solana.PublicKey) (*Account, error) {
	var ownerStr string
	var lamports int64
	var data []byte
	err := t.tx.QueryRow(
		"SELECT owner, lamports, data FROM accounts WHERE key = ?",
		key.String(),
	).Scan(&ownerStr, &lamports, &data)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", key, err)
	}

	owner, err := solana.PublicKeyFromBase58(ownerStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt owner key for account %s: %w", key, err)
	}

	return &Account{
		Key:      key,
		Owner:    owner,
		Lamports: uint64(lamports),
		Data:     data,
	}, nil
}

func (t *sqliteTx) Put(acct *Account) error {
	_, err := t.tx.Exec(
		`INSERT INTO accounts (key, owner, lamports, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET owner = ?, lamports = ?, data = ?`,
		acct.Key.String(), acct.Owner.String(), int64(acct.Lamports), acct.Data,
		acct.Owner.String(), int64(acct.Lamports), acct.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to store account %s: %w", acct.Key, err)
	}
	return nil
}

func (s *SQLiteStore) View(fn func(Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin read: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqliteTx{tx: tx})
}

func (s *SQLiteStore) Update(fn func(Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin update: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
