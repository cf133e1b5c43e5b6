package keystore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"warden/internal/auth"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// SQLiteStore keeps Basic users (bcrypt hashed passwords) and HMAC keys in a
// SQLite database. It implements both auth.CredentialValidator and
// auth.KeyResolver.
type SQLiteStore struct {
	Db *sql.DB

	// dummyHash is compared against when a user does not exist, so unknown
	// and known users take about the same time to reject.
	dummyHash []byte
	cost      int
}

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.DebugContext(ctx, "Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	return openSQLiteStore(ctx, path, bcrypt.DefaultCost)
}

func openSQLiteStore(ctx context.Context, path string, cost int) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	dummyHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &SQLiteStore{Db: db, dummyHash: dummyHash, cost: cost}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.Db.Close()
}

// withTransaction runs a function within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// CreateUser adds a Basic user.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string, password string) error {
	if name == "" || password == "" {
		return errors.New("user name and password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.Db.ExecContext(ctx,
		`INSERT INTO users(name, password_hash, created_at) VALUES(?, ?, ?)`,
		name, hash, time.Now().UTC(),
	)
	if isConstraintError(err) {
		return fmt.Errorf("%w: %s", ErrUserExists, name)
	}
	return err
}

// SetPassword replaces the password of an existing user.
func (s *SQLiteStore) SetPassword(ctx context.Context, name string, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	res, err := s.Db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE name = ?`, hash, name)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	return nil
}

// ValidateCredentials implements auth.CredentialValidator.
func (s *SQLiteStore) ValidateCredentials(ctx context.Context, username string, password string) (*auth.User, error) {
	var hash []byte
	err := s.Db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE name = ?`, username).Scan(&hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}

	return &auth.User{
		Name:   username,
		Scheme: auth.BasicScheme,
	}, nil
}

// CreateKey issues a new HMAC key for user.
func (s *SQLiteStore) CreateKey(ctx context.Context, user string) (Key, error) {
	secret, err := NewSecret()
	if err != nil {
		return Key{}, err
	}

	key := Key{
		ID:        uuid.NewString(),
		User:      user,
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
	}

	err = withTransaction(ctx, s.Db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE name = ?`, user).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownUser, user)
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO hmac_keys(public_key_id, user_name, secret, created_at) VALUES(?, ?, ?, ?)`,
			key.ID, key.User, key.Secret, key.CreatedAt,
		)
		return err
	})
	if err != nil {
		return Key{}, err
	}

	return key, nil
}

// PutKey implements KeyStore.
func (s *SQLiteStore) PutKey(ctx context.Context, publicKeyID string, user string, secret []byte) error {
	if publicKeyID == "" || len(secret) == 0 {
		return ErrInvalidKey
	}

	_, err := s.Db.ExecContext(ctx,
		`INSERT INTO hmac_keys(public_key_id, user_name, secret, created_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(public_key_id) DO UPDATE SET user_name = excluded.user_name, secret = excluded.secret, revoked_at = NULL`,
		publicKeyID, user, secret, time.Now().UTC(),
	)
	if isConstraintError(err) {
		return fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	return err
}

// RevokeKey marks a key owned by user as revoked. It reports whether a
// matching active key existed.
func (s *SQLiteStore) RevokeKey(ctx context.Context, user string, publicKeyID string) (bool, error) {
	res, err := s.Db.ExecContext(ctx,
		`UPDATE hmac_keys SET revoked_at = ? WHERE public_key_id = ? AND user_name = ? AND revoked_at IS NULL`,
		time.Now().UTC(), publicKeyID, user,
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	return rows > 0, err
}

// DeleteKey implements KeyStore.
func (s *SQLiteStore) DeleteKey(ctx context.Context, publicKeyID string) error {
	_, err := s.Db.ExecContext(ctx, `DELETE FROM hmac_keys WHERE public_key_id = ?`, publicKeyID)
	return err
}

// ListKeys returns the keys of user without their secrets, newest first.
func (s *SQLiteStore) ListKeys(ctx context.Context, user string) ([]Key, error) {
	rows, err := s.Db.QueryContext(ctx,
		`SELECT public_key_id, created_at, revoked_at FROM hmac_keys WHERE user_name = ? ORDER BY created_at DESC, public_key_id`,
		user,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]Key, 0)
	for rows.Next() {
		var (
			key       Key
			revokedAt sql.NullTime
		)
		if err := rows.Scan(&key.ID, &key.CreatedAt, &revokedAt); err != nil {
			return nil, err
		}
		key.User = user
		if revokedAt.Valid {
			t := revokedAt.Time
			key.RevokedAt = &t
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// ResolveKey implements auth.KeyResolver. Revoked keys resolve to nil.
func (s *SQLiteStore) ResolveKey(ctx context.Context, publicKeyID string) (*auth.User, []byte, error) {
	var (
		user   string
		secret []byte
	)
	err := s.Db.QueryRowContext(ctx,
		`SELECT user_name, secret FROM hmac_keys WHERE public_key_id = ? AND revoked_at IS NULL`,
		publicKeyID,
	).Scan(&user, &secret)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("lookup key: %w", err)
	}

	return hmacUser(user, publicKeyID), secret, nil
}
