// Package settings persists operator-mutable settings (frontend URL, API
// base) that admin commands write and status commands read. Values are
// encrypted at rest with AES-256-GCM in SQLite, and every write is recorded
// in an audit table with the requester that made it.
package settings

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	opsotel "github.com/gcolon75/Project-Valine-sub002/internal/otel"
)

// Well-known setting names.
const (
	KeyFrontendURL = "frontend_url"
	KeyAPIBase     = "api_base"
)

var (
	// ErrNotFound is returned when a setting has never been written.
	ErrNotFound = errors.New("setting not found")
	// ErrWritesDisabled is returned when the process runs without
	// ALLOW_SECRET_WRITES.
	ErrWritesDisabled = errors.New("setting writes are disabled")
	// ErrInvalidEncryptionKey is returned when the key is not 32 bytes.
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
)

var tracer = opsotel.Tracer("github.com/gcolon75/Project-Valine-sub002/internal/settings")

// Store is the encrypted settings store.
type Store struct {
	db          *sql.DB
	gcm         cipher.AEAD
	allowWrites bool
}

// ChangeRecord is one audit entry for a setting write.
type ChangeRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RequesterID string    `json:"requester_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewStore opens (creating if needed) the settings database. The encryption
// key must be 32 raw bytes or 64 hex characters. When allowWrites is false
// Set returns ErrWritesDisabled and nothing is mutated.
func NewStore(dbPath, encryptionKey string, allowWrites bool) (*Store, error) {
	keyBytes, err := resolveEncryptionKey(encryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening settings database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		encrypted_value TEXT NOT NULL,
		nonce TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings_change_log (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_change_log_name ON settings_change_log(name);
	CREATE INDEX IF NOT EXISTS idx_change_log_timestamp ON settings_change_log(timestamp);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating settings schema: %w", err)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Store{db: db, gcm: gcm, allowWrites: allowWrites}, nil
}

func resolveEncryptionKey(key string) ([]byte, error) {
	if len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("encryption key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidEncryptionKey)
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set writes a setting and records the change with the requester id.
func (s *Store) Set(ctx context.Context, name, value, requesterID string) error {
	ctx, span := tracer.Start(ctx, "settings.set",
		trace.WithAttributes(attribute.String("setting.name", name)))
	defer span.End()

	if !s.allowWrites {
		return ErrWritesDisabled
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := s.gcm.Seal(nil, nonce, []byte(value), nil)

	query := `
		INSERT INTO settings (name, encrypted_value, nonce, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			nonce = excluded.nonce,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		name,
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(nonce),
		time.Now().UTC(),
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing setting: %w", err)
	}

	s.logChange(ctx, name, requesterID)
	return nil
}

// Get reads and decrypts a setting.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	ctx, span := tracer.Start(ctx, "settings.get",
		trace.WithAttributes(attribute.String("setting.name", name)))
	defer span.End()

	var encryptedValue, nonceB64 string
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted_value, nonce FROM settings WHERE name = ?`, name,
	).Scan(&encryptedValue, &nonceB64)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("querying setting: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("decoding nonce: %w", err)
	}
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting setting: %w", err)
	}
	return string(plaintext), nil
}

// ChangeLog returns the most recent writes, newest first. Limit <= 0 means
// no limit.
func (s *Store) ChangeLog(ctx context.Context, limit int) ([]ChangeRecord, error) {
	query := `SELECT id, name, requester_id, timestamp FROM settings_change_log ORDER BY timestamp DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change log: %w", err)
	}
	defer rows.Close()

	var records []ChangeRecord
	for rows.Next() {
		var r ChangeRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.RequesterID, &r.Timestamp); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) logChange(ctx context.Context, name, requesterID string) {
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO settings_change_log (id, name, requester_id, timestamp) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), name, requesterID, time.Now().UTC(),
	)
}
