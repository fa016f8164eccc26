package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/btouchard/switchboard/internal/model"
)

// Fixed-width UTC layout so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const memoryPath = ":memory:"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != memoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Pre-create the file with restrictive permissions if it doesn't exist
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = model.NewID()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, name, email, role, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, strings.ToLower(strings.TrimSpace(u.Email)), string(u.Role),
		boolToInt(u.Verified), formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q queryer, id string) (*model.User, error) {
	row := q.QueryRowContext(ctx, `SELECT id, name, email, role, verified, created_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, email, role, verified, created_at
		FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *SQLiteStore) SetUserRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", string(role), id)
	if err != nil {
		return nil, fmt.Errorf("updating user role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

// --- Requests ---

// CreateRequest inserts a pending request and, when n is not nil, the
// notification announcing it, in one transaction.
func (s *SQLiteStore) CreateRequest(ctx context.Context, r *model.Request, n *model.Notification) error {
	now := time.Now()
	if r.ID == "" {
		r.ID = model.NewID()
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO requests (id, type, status, note, user_id, admin_id, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Type), string(r.Status), r.Note, r.UserID, r.AdminID, r.Message,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	if n != nil {
		n.RequestID = r.ID
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q queryer, id string) (*model.Request, error) {
	row := q.QueryRowContext(ctx, `SELECT id, type, status, note, user_id, admin_id, message, created_at, updated_at
		FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if err := populateRequest(ctx, q, r); err != nil {
		return nil, err
	}
	return r, nil
}

// populateRequest embeds the requesting user and acting admin.
func populateRequest(ctx context.Context, q queryer, r *model.Request) error {
	u, err := getUser(ctx, q, r.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	r.User = u

	if r.AdminID != "" {
		a, err := getUser(ctx, q, r.AdminID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		r.Admin = a
	}
	return nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, f RequestFilter) ([]model.Request, error) {
	query := "SELECT id, type, status, note, user_id, admin_id, message, created_at, updated_at FROM requests WHERE 1=1"
	var args []any

	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}

	var requests []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		requests = append(requests, *r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Populate after closing the cursor; the pool holds a single connection.
	for i := range requests {
		if err := populateRequest(ctx, s.db, &requests[i]); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// TransitionRequest atomically moves a pending request to t.To and records
// its notification. Nothing is written when the request is missing or no
// longer pending.
func (s *SQLiteStore) TransitionRequest(ctx context.Context, t Transition) (*model.Request, *model.Notification, error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE requests SET status = ?, admin_id = ?, message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(t.To), t.AdminID, t.Message, formatTime(now), t.RequestID, string(model.StatusPending))
	if err != nil {
		return nil, nil, fmt.Errorf("updating request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, "SELECT status FROM requests WHERE id = ?", t.RequestID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("request %q: %w", t.RequestID, ErrNotFound)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading request status: %w", err)
		}
		return nil, nil, fmt.Errorf("request %q is %s: %w", t.RequestID, status, ErrNotPending)
	}

	if t.VerifyUser {
		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET verified = 1 WHERE id = (SELECT user_id FROM requests WHERE id = ?)",
			t.RequestID); err != nil {
			return nil, nil, fmt.Errorf("verifying user: %w", err)
		}
	}

	var notif *model.Notification
	if t.Notification != nil {
		n := *t.Notification
		n.RequestID = t.RequestID
		if err := insertNotification(ctx, tx, &n); err != nil {
			return nil, nil, err
		}
		notif = &n
	}

	// Read inside the transaction so a successful commit always comes
	// with the committed request.
	req, err := getRequest(ctx, tx, t.RequestID)
	if err != nil {
		return nil, nil, fmt.Errorf("reading transitioned request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing transition: %w", err)
	}

	if notif != nil {
		notif.Request = req
	}
	return req, notif, nil
}

// --- Notifications ---

func insertNotification(ctx context.Context, tx *sql.Tx, n *model.Notification) error {
	if n.ID == "" {
		n.ID = model.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications (id, role_for, user_id, request_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.RoleFor), n.UserID, n.RequestID, n.Message, formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListNotifications returns one page of a feed, newest first, with the
// total number of matching notifications.
func (s *SQLiteStore) ListNotifications(ctx context.Context, f NotificationFilter) ([]model.Notification, int, error) {
	where := " WHERE role_for = ?"
	args := []any{string(f.RoleFor)}
	if f.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, f.UserID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting notifications: %w", err)
	}

	query := "SELECT id, role_for, user_id, request_id, message, created_at FROM notifications" + where +
		" ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing notifications: %w", err)
	}

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var roleFor, createdAt string
		if err := rows.Scan(&n.ID, &roleFor, &n.UserID, &n.RequestID, &n.Message, &createdAt); err != nil {
			_ = rows.Close()
			return nil, 0, fmt.Errorf("scanning notification: %w", err)
		}
		n.RoleFor = model.Role(roleFor)
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, 0, err
	}
	_ = rows.Close()

	for i := range out {
		if out[i].RequestID == "" {
			continue
		}
		req, err := s.GetRequest(ctx, out[i].RequestID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		out[i].Request = req
	}
	return out, total, nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var role, createdAt string
	var verified int

	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &verified, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = model.Role(role)
	u.Verified = verified != 0
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func scanRequest(row scanner) (*model.Request, error) {
	var r model.Request
	var typ, status, createdAt, updatedAt string

	err := row.Scan(&r.ID, &typ, &status, &r.Note, &r.UserID, &r.AdminID, &r.Message, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning request: %w", err)
	}

	r.Type = model.RequestType(typ)
	r.Status = model.Status(status)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
