// Package history implements the passphrase-keyed, per-record AEAD-encrypted
// message log (component F).
package history

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	_ "modernc.org/sqlite"
)

const (
	saltSize = 16
	keySize  = 32

	// Argon2id parameters. There is no single "default" exposed by
	// golang.org/x/crypto/argon2; these follow the package's own
	// recommended interactive parameters (time=1, 64 MiB, 4 threads),
	// matching the memory-hardness ballpark xendarboh-katzenpost uses for
	// its statefile key (time=3, 32 MiB, 4 threads) scaled to the
	// lighter, more frequent per-process open this store performs.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// sentinel is sealed under the derived key at creation time and re-opened on
// every subsequent Open to detect a wrong passphrase without ever exposing
// user data, per the GLOSSARY's "verifier blob".
const sentinel = "circuitchat"

// Direction is the provenance of a stored message.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// ErrWrongPassphrase is returned by Open when the verifier fails to open
// under the supplied passphrase. Per spec §4.6 this must never be treated
// as corruption to retry.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// Message is one decrypted row from the history log.
type Message struct {
	Direction Direction
	Content   []byte
	Timestamp time.Time
}

// Store owns the encrypted history database connection and key material for
// the process lifetime.
type Store struct {
	db  *sql.DB
	key [keySize]byte
}

// Open opens (creating if necessary) the encrypted history database at
// path under the given passphrase.
func Open(path, passphrase string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err := store.initKey(passphrase); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			verifier BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			direction TEXT NOT NULL,
			content BLOB NOT NULL,
			timestamp INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// initKey implements the Open(passphrase) contract from §4.6: create on
// first run, verify on every later run.
func (s *Store) initKey(passphrase string) error {
	var salt, verifier []byte
	err := s.db.QueryRow(`SELECT salt, verifier FROM meta WHERE id = 1`).Scan(&salt, &verifier)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.createMeta(passphrase)
	case err != nil:
		return fmt.Errorf("read meta: %w", err)
	}

	key := deriveKey(passphrase, salt)
	if _, err := open(key, verifier); err != nil {
		return ErrWrongPassphrase
	}
	s.key = key
	return nil
}

func (s *Store) createMeta(passphrase string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	verifier, err := seal(key, []byte(sentinel))
	if err != nil {
		return fmt.Errorf("seal verifier: %w", err)
	}

	if _, err := s.db.Exec(`INSERT INTO meta (id, salt, verifier) VALUES (1, ?, ?)`, salt, verifier); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	s.key = key
	return nil
}

func deriveKey(passphrase string, salt []byte) [keySize]byte {
	derived := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
	var key [keySize]byte
	copy(key[:], derived)
	return key
}

// Save seals plaintext under the store key with a fresh nonce and inserts a
// row. Timestamp is seconds since epoch, per §4.6.
func (s *Store) Save(direction Direction, plaintext []byte) error {
	ciphertext, err := seal(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (direction, content, timestamp) VALUES (?, ?, ?)`,
		string(direction), ciphertext, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LoadHistory returns every stored message in timestamp-ascending order. If
// any row fails to decrypt, the load aborts entirely: per §4.6 that signals
// tampering or a salt mismatch, not a record to skip.
func (s *Store) LoadHistory() ([]Message, error) {
	rows, err := s.db.Query(`SELECT direction, content, timestamp FROM messages ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var direction string
		var content []byte
		var ts int64
		if err := rows.Scan(&direction, &content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		plaintext, err := open(s.key, content)
		if err != nil {
			return nil, fmt.Errorf("decrypt message: %w", err)
		}

		out = append(out, Message{
			Direction: Direction(direction),
			Content:   plaintext,
			Timestamp: time.Unix(ts, 0),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Close releases the database connection and zeroes the store key.
func (s *Store) Close() error {
	for i := range s.key {
		s.key[i] = 0
	}
	return s.db.Close()
}

// seal encrypts plaintext with a fresh random nonce. Wire form is
// nonce(24) || ciphertext_with_tag per §4.6's AEAD contract.
func seal(key [keySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// open decrypts a nonce(24) || ciphertext_with_tag blob. Any blob shorter
// than the nonce size is rejected.
func open(key [keySize]byte, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}

	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
