package keystore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TebbeUbben/remora/pkg/crypto"
)

// Schema for the wrapped key table. Keys never hit disk in the clear: each
// is sealed under the process master key before insertion.
const schema = `
CREATE TABLE IF NOT EXISTS wrapped_keys (
    alias       TEXT PRIMARY KEY,
    usage       INTEGER NOT NULL,
    nonce       BLOB NOT NULL,
    wrapped     BLOB NOT NULL
);
`

// SQLite is a KeyStore backed by a SQLite database with master-key
// wrapping. The database file is created with owner-only permissions.
type SQLite struct {
	db        *sql.DB
	masterKey []byte
}

// OpenSQLite opens or creates the wrapped key database at the given path.
// The master key wraps every stored key with AES-GCM; it is expected to
// come from an OS-protected location (not from this database).
func OpenSQLite(path string, masterKey []byte) (*SQLite, error) {
	if len(masterKey) != crypto.AESGCMKeySize {
		return nil, ErrInvalidMasterKey
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create key store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply key store schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("restrict key store permissions: %w", err)
	}

	mk := make([]byte, len(masterKey))
	copy(mk, masterKey)
	return &SQLite{db: db, masterKey: mk}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Store wraps the key under the master key and persists it.
func (s *SQLite) Store(alias string, key []byte, usage Usage) error {
	if len(key) != crypto.SymmetricKeySize {
		return ErrInvalidKeySize
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return fmt.Errorf("generate wrap nonce: %w", err)
	}
	// The alias participates as AAD so a wrapped blob cannot be moved to
	// a different alias on disk without detection.
	wrapped, err := crypto.AESGCMSeal(s.masterKey, nonce, key, []byte(alias))
	if err != nil {
		return fmt.Errorf("wrap key: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO wrapped_keys (alias, usage, nonce, wrapped) VALUES (?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET usage = excluded.usage, nonce = excluded.nonce, wrapped = excluded.wrapped`,
		alias, int(usage), nonce, wrapped,
	)
	if err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	return nil
}

// KeyForSeal retrieves a key for encryption.
func (s *SQLite) KeyForSeal(alias string) ([]byte, error) {
	return s.key(alias, UsageSeal)
}

// KeyForOpen retrieves a key for decryption.
func (s *SQLite) KeyForOpen(alias string) ([]byte, error) {
	return s.key(alias, UsageOpen)
}

func (s *SQLite) key(alias string, want Usage) ([]byte, error) {
	var usage int
	var nonce, wrapped []byte
	err := s.db.QueryRow(
		`SELECT usage, nonce, wrapped FROM wrapped_keys WHERE alias = ?`, alias,
	).Scan(&usage, &nonce, &wrapped)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}

	if Usage(usage) != want && Usage(usage) != UsageSealOpen {
		return nil, ErrUsageViolation
	}

	key, err := crypto.AESGCMOpen(s.masterKey, nonce, wrapped, []byte(alias))
	if err != nil {
		return nil, fmt.Errorf("unwrap key %q: %w", alias, err)
	}
	return key, nil
}

// Delete removes keys by alias.
func (s *SQLite) Delete(aliases ...string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	for _, alias := range aliases {
		if _, err := tx.Exec(`DELETE FROM wrapped_keys WHERE alias = ?`, alias); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete key %q: %w", alias, err)
		}
	}
	return tx.Commit()
}
