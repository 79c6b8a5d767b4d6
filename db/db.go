package db

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"rtchat/models"
)

var (
	ErrNoRows             = errors.New("no rows found")
	ErrUserExists         = errors.New("username or email already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotOwner           = errors.New("message belongs to another user")
	ErrDeleted            = errors.New("message was deleted")
	ErrInvalidCursor      = errors.New("invalid cursor")
)

// Fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			sender_id TEXT NOT NULL REFERENCES users(id),
			receiver_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS revoked_tokens (
			jti TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, is_read)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema.
func (db *DB) migrate() error {
	columns := []struct {
		table, column, ddl string
	}{
		{"users", "avatar", "ALTER TABLE users ADD COLUMN avatar TEXT NOT NULL DEFAULT ''"},
		{"users", "last_seen", "ALTER TABLE users ADD COLUMN last_seen TEXT"},
	}
	for _, c := range columns {
		if db.columnExists(c.table, c.column) {
			continue
		}
		if _, err := db.conn.Exec(c.ddl); err != nil {
			return errors.Wrapf(err, "add %s.%s", c.table, c.column)
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

const userColumns = "id, username, email, avatar, last_seen"

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var u models.User
	var lastSeen sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return models.User{}, ErrNoRows
		}
		return models.User{}, err
	}
	if lastSeen.Valid && lastSeen.String != "" {
		if t, err := time.Parse(timeLayout, lastSeen.String); err == nil {
			u.LastSeen = &t
		}
	}
	return u, nil
}

// CreateUser registers a new account with a bcrypt-hashed password.
func (db *DB) CreateUser(username, email, password string) (models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	u := models.User{ID: uuid.NewString(), Username: username, Email: email}
	_, err = db.conn.Exec(
		"INSERT INTO users (id, username, email, password) VALUES (?, ?, ?, ?)",
		u.ID, u.Username, u.Email, string(hashed),
	)
	if isConstraint(err) {
		return models.User{}, ErrUserExists
	}
	if err != nil {
		return models.User{}, errors.Wrap(err, "insert user")
	}
	return u, nil
}

// Authenticate checks a username and password pair.
func (db *DB) Authenticate(username, password string) (models.User, error) {
	var hashed string
	err := db.conn.QueryRow("SELECT password FROM users WHERE username = ?", username).Scan(&hashed)
	if err == sql.ErrNoRows {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return scanUser(db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

func (db *DB) GetUser(id string) (models.User, error) {
	return scanUser(db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

func (db *DB) UserExists(id string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUsers returns every user except excludeID ordered by username.
func (db *DB) ListUsers(excludeID string) ([]models.User, error) {
	return db.queryUsers("SELECT "+userColumns+" FROM users WHERE id != ? ORDER BY username", excludeID)
}

// SearchUsers matches username or email case-insensitively.
func (db *DB) SearchUsers(query, excludeID string) ([]models.User, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	return db.queryUsers(
		"SELECT "+userColumns+" FROM users WHERE id != ? AND (LOWER(username) LIKE ? OR LOWER(email) LIKE ?) ORDER BY username LIMIT 50",
		excludeID, pattern, pattern,
	)
}

func (db *DB) queryUsers(query string, args ...any) ([]models.User, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateProfile applies the non-empty fields of upd.
func (db *DB) UpdateProfile(id string, upd models.ProfileUpdate) (models.User, error) {
	var sets []string
	var args []any
	if upd.Username != "" {
		sets = append(sets, "username = ?")
		args = append(args, strings.TrimSpace(upd.Username))
	}
	if upd.Email != "" {
		sets = append(sets, "email = ?")
		args = append(args, upd.Email)
	}
	if upd.Avatar != "" {
		sets = append(sets, "avatar = ?")
		args = append(args, upd.Avatar)
	}
	if len(sets) > 0 {
		args = append(args, id)
		result, err := db.conn.Exec("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if isConstraint(err) {
			return models.User{}, ErrUserExists
		}
		if err != nil {
			return models.User{}, errors.Wrap(err, "update profile")
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return models.User{}, ErrNoRows
		}
	}
	return db.GetUser(id)
}

// UpdateLastSeen records when a user was last connected.
func (db *DB) UpdateLastSeen(id string, t time.Time) error {
	_, err := db.conn.Exec("UPDATE users SET last_seen = ? WHERE id = ?", t.UTC().Format(timeLayout), id)
	return err
}

const messageColumns = "seq, id, sender_id, receiver_id, content, timestamp, is_read, is_deleted"

func scanMessage(row scanner) (models.Message, int64, error) {
	var m models.Message
	var seq int64
	var ts string
	if err := row.Scan(&seq, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &ts, &m.IsRead, &m.IsDeleted); err != nil {
		if err == sql.ErrNoRows {
			return models.Message{}, 0, ErrNoRows
		}
		return models.Message{}, 0, err
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return models.Message{}, 0, err
	}
	m.Timestamp = t
	return m, seq, nil
}

// SaveMessage stores a new message and returns it with its server id.
func (db *DB) SaveMessage(senderID, receiverID, content string, timestamp time.Time) (models.Message, error) {
	m := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  timestamp.UTC(),
	}
	_, err := db.conn.Exec(
		"INSERT INTO messages (id, sender_id, receiver_id, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.Timestamp.Format(timeLayout),
	)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "insert message")
	}
	return m, nil
}

func (db *DB) GetMessage(id string) (models.Message, error) {
	m, _, err := scanMessage(db.conn.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	return m, err
}

// History returns one page of the conversation between a and b, newest page
// first. The cursor is opaque to clients; an empty cursor starts at the
// newest message. Messages within a page are in ascending order.
func (db *DB) History(a, b, cursor string, limit int) (models.Page, error) {
	if limit <= 0 {
		limit = 30
	}
	before := int64(-1)
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || n <= 0 {
			return models.Page{}, ErrInvalidCursor
		}
		before = n
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND (? < 0 OR seq < ?)
		ORDER BY seq DESC
		LIMIT ?
	`
	rows, err := db.conn.Query(query, a, b, b, a, before, before, limit+1)
	if err != nil {
		return models.Page{}, err
	}
	defer rows.Close()

	var messages []models.Message
	var seqs []int64
	for rows.Next() {
		m, seq, err := scanMessage(rows)
		if err != nil {
			return models.Page{}, err
		}
		messages = append(messages, m)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return models.Page{}, err
	}

	page := models.Page{Data: []models.Message{}}
	if len(messages) > limit {
		messages = messages[:limit]
		seqs = seqs[:limit]
		next := strconv.FormatInt(seqs[len(seqs)-1], 10)
		page.NextCursor = &next
		page.HasNextPage = true
	}
	for i := len(messages) - 1; i >= 0; i-- {
		page.Data = append(page.Data, messages[i])
	}
	return page, nil
}

// EditMessage replaces the content of a message owned by senderID.
func (db *DB) EditMessage(id, senderID, content string) (models.Message, error) {
	m, err := db.ownedMessage(id, senderID)
	if err != nil {
		return models.Message{}, err
	}
	if m.IsDeleted {
		return models.Message{}, ErrDeleted
	}
	if _, err := db.conn.Exec("UPDATE messages SET content = ? WHERE id = ?", content, id); err != nil {
		return models.Message{}, errors.Wrap(err, "edit message")
	}
	m.Content = content
	return m, nil
}

// DeleteMessage turns a message owned by senderID into a tombstone. The
// content is dropped; the row stays.
func (db *DB) DeleteMessage(id, senderID string) (models.Message, error) {
	m, err := db.ownedMessage(id, senderID)
	if err != nil {
		return models.Message{}, err
	}
	if !m.IsDeleted {
		if _, err := db.conn.Exec("UPDATE messages SET is_deleted = 1, content = '' WHERE id = ?", id); err != nil {
			return models.Message{}, errors.Wrap(err, "delete message")
		}
	}
	m.IsDeleted = true
	m.Content = ""
	return m, nil
}

func (db *DB) ownedMessage(id, senderID string) (models.Message, error) {
	m, err := db.GetMessage(id)
	if err != nil {
		return models.Message{}, err
	}
	if m.SenderID != senderID {
		return models.Message{}, ErrNotOwner
	}
	return m, nil
}

// MarkRead flags the given messages addressed to receiverID as read and
// returns how many changed.
func (db *DB) MarkRead(receiverID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, receiverID)
	for _, id := range ids {
		args = append(args, id)
	}
	result, err := db.conn.Exec(
		"UPDATE messages SET is_read = 1 WHERE receiver_id = ? AND is_read = 0 AND id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// UnreadCount counts unread, undeleted messages addressed to receiverID.
func (db *DB) UnreadCount(receiverID string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND is_read = 0 AND is_deleted = 0",
		receiverID,
	).Scan(&count)
	return count, err
}

// RevokeToken blacklists a token id until it would have expired anyway.
func (db *DB) RevokeToken(jti string, expiresAt time.Time) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)",
		jti, expiresAt.UTC().Format(timeLayout),
	)
	return err
}

func (db *DB) IsRevoked(jti string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?", jti).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PurgeRevoked drops revocations of tokens that have expired by now.
func (db *DB) PurgeRevoked(now time.Time) (int64, error) {
	result, err := db.conn.Exec("DELETE FROM revoked_tokens WHERE expires_at <= ?", now.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
