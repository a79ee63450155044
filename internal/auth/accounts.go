package auth

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// AccountStore persists accounts and tokens in SQLite.
type AccountStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenAccountStore opens (or creates) the account database at path.
// ":memory:" gives a private in-memory database.
func OpenAccountStore(path string, logger *slog.Logger) (*AccountStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &AccountStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *AccountStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const accountColumns = `id, name, email, password_hash, email_verified, created_at, updated_at`

func scanAccount(scanner interface{ Scan(dest ...any) error }) (Account, error) {
	var (
		a         Account
		verified  int
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &verified, &createdAt, &updatedAt); err != nil {
		return Account{}, err
	}
	a.EmailVerified = verified != 0

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Account{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Create inserts a new account. Emails are unique regardless of case.
func (s *AccountStore) Create(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`, email_lower) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Email, a.PasswordHash, boolToInt(a.EmailVerified),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), strings.ToLower(a.Email),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainerrors.AlreadyExists("an account with this email already exists")
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// ByID loads an account.
func (s *AccountStore) ByID(ctx context.Context, accountID string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID)
	return s.scanOne(row, "account "+accountID)
}

// ByEmail loads an account by email, ignoring case.
func (s *AccountStore) ByEmail(ctx context.Context, email string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email_lower = ?`, strings.ToLower(email))
	return s.scanOne(row, "account")
}

func (s *AccountStore) scanOne(row *sql.Row, what string) (Account, error) {
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, domainerrors.NotFoundf("%s not found", what)
	}
	if err != nil {
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

// MarkVerified flags the account's email as verified.
func (s *AccountStore) MarkVerified(ctx context.Context, accountID string, at time.Time) error {
	return s.update(ctx, accountID, `UPDATE accounts SET email_verified = 1, updated_at = ? WHERE id = ?`, formatTime(at), accountID)
}

// SetPasswordHash replaces the account's password hash.
func (s *AccountStore) SetPasswordHash(ctx context.Context, accountID, hash string, at time.Time) error {
	return s.update(ctx, accountID, `UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, formatTime(at), accountID)
}

func (s *AccountStore) update(ctx context.Context, accountID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainerrors.NotFoundf("account %s not found", accountID)
	}
	return nil
}

// PutToken stores a one-time token hash. Earlier tokens of the same purpose
// for the account are invalidated.
func (s *AccountStore) PutToken(ctx context.Context, hash, accountID string, purpose Purpose, expiresAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM one_time_tokens WHERE account_id = ? AND purpose = ?`, accountID, string(purpose)); err != nil {
		return fmt.Errorf("delete old tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO one_time_tokens (token_hash, account_id, purpose, expires_at) VALUES (?, ?, ?, ?)`,
		hash, accountID, string(purpose), formatTime(expiresAt)); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return tx.Commit()
}

// ConsumeToken redeems a one-time token and returns its account ID.
// A token is usable once; expired or unknown tokens fail with Validation.
func (s *AccountStore) ConsumeToken(ctx context.Context, hash string, purpose Purpose, now time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var accountID, expiresAt string
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, expires_at FROM one_time_tokens WHERE token_hash = ? AND purpose = ?`,
		hash, string(purpose)).Scan(&accountID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domainerrors.Validation("link is invalid or was already used")
	}
	if err != nil {
		return "", fmt.Errorf("select token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM one_time_tokens WHERE token_hash = ?`, hash); err != nil {
		return "", fmt.Errorf("delete token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	exp, err := parseTime(expiresAt)
	if err != nil {
		return "", fmt.Errorf("parse expiry: %w", err)
	}
	if !now.Before(exp) {
		return "", domainerrors.Validation("link has expired")
	}
	return accountID, nil
}

// Revoke blocks an access token until it would have expired anyway.
func (s *AccountStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (token_id, expires_at) VALUES (?, ?)`,
		tokenID, formatTime(expiresAt))
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked.
func (s *AccountStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired drops one-time tokens and revocations that can no longer matter.
func (s *AccountStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"one_time_tokens", "revoked_tokens"} {
		//#nosec G202 -- table names are constants
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= ?`, formatTime(now))
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
