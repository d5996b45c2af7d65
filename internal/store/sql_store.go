package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when a unique constraint (username, email,
// message id) rejects a write.
var ErrDuplicate = errors.New("duplicate record")

// SQLStore implements the user and message repositories on database/sql.
// Queries use $n placeholders, which both pgx and go-sqlite3 accept.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB) *SQLStore {
	dialect := DialectSQLite
	if _, ok := db.Driver().(*stdlib.Driver); ok {
		dialect = DialectPostgres
	}
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ImageURL == "" {
		user.ImageURL = DefaultImageURL
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password, image_url, bio, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, user.Username, user.Email, user.PasswordHash, user.ImageURL, user.Bio, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicate
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// FindUserByID returns nil, nil when no user has the id.
func (s *SQLStore) FindUserByID(ctx context.Context, id int64) (*User, error) {
	return s.findUser(ctx, `WHERE id=$1`, id)
}

func (s *SQLStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.findUser(ctx, `WHERE username=$1`, username)
}

func (s *SQLStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, `WHERE email=$1`, email)
}

func (s *SQLStore) findUser(ctx context.Context, where string, arg any) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password, image_url, bio, created_at
		FROM users `+where, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.ImageURL, &user.Bio, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &user, nil
}

// InsertMessage stores msg. A zero ID lets the database assign one.
func (s *SQLStore) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if msg.ID != 0 {
		return s.insertMessageWithID(ctx, msg)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (text, user_id, timestamp)
		VALUES ($1, $2, $3)
		RETURNING id
	`, msg.Text, msg.UserID, msg.Timestamp).Scan(&msg.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Message{}, ErrDuplicate
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// insertMessageWithID stores msg under its own id. On Postgres the identity
// sequence is moved past the highest id so later generated ids cannot clash.
func (s *SQLStore) insertMessageWithID(ctx context.Context, msg Message) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin insert message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, text, user_id, timestamp)
		VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.Text, msg.UserID, msg.Timestamp); err != nil {
		if isUniqueViolation(err) {
			return Message{}, ErrDuplicate
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if s.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('messages', 'id'), GREATEST((SELECT MAX(id) FROM messages), 1))
		`); err != nil {
			return Message{}, fmt.Errorf("advance message id sequence: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit insert message: %w", err)
	}
	return msg, nil
}

// FindMessage returns nil, nil when no message has the id.
func (s *SQLStore) FindMessage(ctx context.Context, id int64) (*Message, error) {
	var msg Message
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.text, m.user_id, u.username, m.timestamp
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.id=$1
	`, id).Scan(&msg.ID, &msg.Text, &msg.UserID, &msg.Username, &msg.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage removes the message only if userID owns it. It reports
// whether a row was deleted.
func (s *SQLStore) DeleteMessage(ctx context.Context, id, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) ListMessagesByUser(ctx context.Context, userID int64, limit int) ([]Message, error) {
	return s.listMessages(ctx, `WHERE m.user_id=$1 ORDER BY m.timestamp DESC, m.id DESC LIMIT $2`, userID, limit)
}

func (s *SQLStore) ListRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	return s.listMessages(ctx, `ORDER BY m.timestamp DESC, m.id DESC LIMIT $1`, limit)
}

// ListAllMessages returns every message, oldest first. It feeds search reindexing.
func (s *SQLStore) ListAllMessages(ctx context.Context) ([]Message, error) {
	return s.listMessages(ctx, `ORDER BY m.id`)
}

func (s *SQLStore) listMessages(ctx context.Context, tail string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.text, m.user_id, u.username, m.timestamp
		FROM messages m
		JOIN users u ON u.id = m.user_id
		`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.Text, &item.UserID, &item.Username, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
