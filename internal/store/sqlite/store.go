// Package sqlite persists portal accounts: users, their extended details,
// and pending OTP challenges. Single-file database in WAL mode, one writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gannportal/internal/model"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint (username or email)
// would be violated.
var ErrDuplicate = errors.New("already exists")

// Store provides access to the user database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL mode, and creates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer keeps SQLITE_BUSY out of the request path
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			username       TEXT    NOT NULL UNIQUE,
			email          TEXT    NOT NULL UNIQUE,
			password_hash  TEXT    NOT NULL,
			role           TEXT    NOT NULL DEFAULT 'ANALYST',
			email_verified INTEGER NOT NULL DEFAULT 0,
			first_login    INTEGER NOT NULL DEFAULT 1,
			created_at     INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS user_details (
			user_id      INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			full_name    TEXT,
			phone_number TEXT,
			id_number    TEXT
		);

		CREATE TABLE IF NOT EXISTS otp_challenges (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			secret     TEXT    NOT NULL,
			expires_at INTEGER NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE INDEX IF NOT EXISTS idx_otp_user ON otp_challenges(user_id, used, expires_at);
	`)
	return err
}

// CreateUser inserts a user and its detail row in one transaction and
// returns the new user ID. Unique violations map to ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *model.User, d *model.UserDetail) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, role, email_verified, first_login)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.Username, u.Email, u.PasswordHash, string(u.Role), boolToInt(u.EmailVerified), boolToInt(u.FirstLogin))
	if err != nil {
		return 0, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	if d != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_details (user_id, full_name, phone_number, id_number)
			VALUES (?, ?, ?, ?)
		`, id, d.FullName, d.PhoneNumber, d.IDNumber)
		if err != nil {
			return 0, fmt.Errorf("insert details: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

const userCols = `id, username, email, password_hash, role, email_verified, first_login, created_at`

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var role string
	var verified, first int
	var created int64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &verified, &first, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = model.Role(role)
	u.EmailVerified = verified != 0
	u.FirstLogin = first != 0
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// GetUserByUsername looks a user up by exact username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE username = ?`, username))
}

// GetUserByID looks a user up by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id = ?`, id))
}

// UpdatePassword replaces the stored hash. When clearFirstLogin is set the
// forced-change flag is cleared in the same statement.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, hash string, clearFirstLogin bool) error {
	var err error
	if clearFirstLogin {
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET password_hash = ?, first_login = 0 WHERE id = ?`, hash, userID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID)
	}
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// MarkEmailVerified flags the user's email as verified.
func (s *Store) MarkEmailVerified(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = 1 WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// ListAnalysts returns one page of analyst accounts joined with their
// details, newest-first filtering by an optional case-insensitive search
// over username, email, and full name. The second return value is the
// total matching count for pagination.
func (s *Store) ListAnalysts(ctx context.Context, search string, limit, offset int) ([]model.Analyst, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := `u.role = ?`
	args := []interface{}{string(model.RoleAnalyst)}
	if search != "" {
		where += ` AND (LOWER(u.username) LIKE ? OR LOWER(u.email) LIKE ? OR LOWER(COALESCE(d.full_name,'')) LIKE ?)`
		pat := "%" + strings.ToLower(search) + "%"
		args = append(args, pat, pat, pat)
	}

	var total int
	countQ := `SELECT COUNT(*) FROM users u LEFT JOIN user_details d ON d.user_id = u.id WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analysts: %w", err)
	}

	q := `
		SELECT u.id, u.username, u.email, u.role, u.email_verified, u.first_login, u.created_at,
		       COALESCE(d.full_name,''), COALESCE(d.phone_number,''), COALESCE(d.id_number,'')
		FROM users u
		LEFT JOIN user_details d ON d.user_id = u.id
		WHERE ` + where + `
		ORDER BY u.created_at DESC, u.id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query analysts: %w", err)
	}
	defer rows.Close()

	var out []model.Analyst
	for rows.Next() {
		var a model.Analyst
		var role string
		var verified, first int
		var created int64
		if err := rows.Scan(&a.ID, &a.Username, &a.Email, &role, &verified, &first, &created,
			&a.FullName, &a.PhoneNumber, &a.IDNumber); err != nil {
			return nil, 0, fmt.Errorf("scan analyst: %w", err)
		}
		a.Role = model.Role(role)
		a.EmailVerified = verified != 0
		a.FirstLogin = first != 0
		a.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// CreateOTPChallenge stores a fresh challenge secret for the user.
func (s *Store) CreateOTPChallenge(ctx context.Context, userID int64, secret string, expiresAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO otp_challenges (user_id, secret, expires_at) VALUES (?, ?, ?)
	`, userID, secret, expiresAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert otp challenge: %w", err)
	}
	return res.LastInsertId()
}

// LatestOTPChallenge returns the newest unused, unexpired challenge for
// the user, or ErrNotFound.
func (s *Store) LatestOTPChallenge(ctx context.Context, userID int64, now time.Time) (*model.OTPChallenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, secret, expires_at, used, created_at
		FROM otp_challenges
		WHERE user_id = ? AND used = 0 AND expires_at > ?
		ORDER BY id DESC LIMIT 1
	`, userID, now.Unix())

	var c model.OTPChallenge
	var used int
	var expires, created int64
	err := row.Scan(&c.ID, &c.UserID, &c.Secret, &expires, &used, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan otp challenge: %w", err)
	}
	c.Used = used != 0
	c.ExpiresAt = time.Unix(expires, 0).UTC()
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

// MarkOTPUsed consumes a challenge so the same code cannot verify twice.
func (s *Store) MarkOTPUsed(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE otp_challenges SET used = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	return nil
}

// PruneOTPChallenges deletes used or expired challenges older than the
// cutoff. Called periodically from the server main.
func (s *Store) PruneOTPChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM otp_challenges WHERE used = 1 OR expires_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune otp challenges: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mapErr(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return ErrDuplicate
	}
	return err
}
