package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oabridge/oabridge/pkg/logger"
)

// Store persists Official Account credentials and access tokens in sqlite,
// so restarts neither lose configuration nor burn token quota.
type Store struct {
	db *sql.DB
}

// Account is a stored Official Account credential set.
type Account struct {
	AppID          string
	AppSecret      string
	Token          string
	EncodingAESKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Open creates the database file (and parent directory) if needed and
// applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	logger.InfoCF("store", "Opened database", map[string]any{"path": path})
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wechat_config (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_id TEXT NOT NULL UNIQUE,
		app_secret TEXT NOT NULL,
		token TEXT NOT NULL,
		encoding_aes_key TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS access_token (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_id TEXT NOT NULL UNIQUE,
		access_token TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAccount inserts or updates the credentials for an AppID.
func (s *Store) SaveAccount(a Account) error {
	_, err := s.db.Exec(`
		INSERT INTO wechat_config (app_id, app_secret, token, encoding_aes_key, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(app_id) DO UPDATE SET
			app_secret = excluded.app_secret,
			token = excluded.token,
			encoding_aes_key = excluded.encoding_aes_key,
			updated_at = CURRENT_TIMESTAMP`,
		a.AppID, a.AppSecret, a.Token, a.EncodingAESKey)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount loads the credentials for an AppID. A missing row returns
// (nil, nil).
func (s *Store) GetAccount(appID string) (*Account, error) {
	var a Account
	err := s.db.QueryRow(`
		SELECT app_id, app_secret, token, COALESCE(encoding_aes_key, ''), created_at, updated_at
		FROM wechat_config WHERE app_id = ?`, appID).
		Scan(&a.AppID, &a.AppSecret, &a.Token, &a.EncodingAESKey, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &a, nil
}

// DefaultAccount returns the most recently updated account, or (nil, nil)
// when none has been configured yet.
func (s *Store) DefaultAccount() (*Account, error) {
	var a Account
	err := s.db.QueryRow(`
		SELECT app_id, app_secret, token, COALESCE(encoding_aes_key, ''), created_at, updated_at
		FROM wechat_config ORDER BY updated_at DESC, id DESC LIMIT 1`).
		Scan(&a.AppID, &a.AppSecret, &a.Token, &a.EncodingAESKey, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &a, nil
}

// SaveToken implements wechat.TokenStore.
func (s *Store) SaveToken(appID, token string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO access_token (app_id, access_token, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			access_token = excluded.access_token,
			expires_at = excluded.expires_at`,
		appID, token, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// LoadToken implements wechat.TokenStore. A missing row returns an empty
// token without error.
func (s *Store) LoadToken(appID string) (string, time.Time, error) {
	var token string
	var expiresAt time.Time
	err := s.db.QueryRow(`
		SELECT access_token, expires_at FROM access_token WHERE app_id = ?`, appID).
		Scan(&token, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load token: %w", err)
	}
	return token, expiresAt, nil
}

// DeleteToken drops the cached token for an AppID, forcing a refresh.
func (s *Store) DeleteToken(appID string) error {
	_, err := s.db.Exec(`DELETE FROM access_token WHERE app_id = ?`, appID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
