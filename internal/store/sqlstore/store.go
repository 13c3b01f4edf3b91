package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/models"
	"github.com/pliu/pairchat/internal/pair"
	"github.com/pliu/pairchat/internal/store"
)

var _ store.Directory = (*SQLStore)(nil)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

// New opens the directory database. driverName is "sqlite3" or "postgres".
func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore.New.Open")
	}
	if driverName == "sqlite3" && strings.Contains(dataSourceName, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlstore.New.Ping")
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		pair_key TEXT PRIMARY KEY,
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		last_sender TEXT NOT NULL DEFAULT '',
		last_preview TEXT NOT NULL DEFAULT '',
		last_at BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_chats_user_a ON chats (user_a);
	CREATE INDEX IF NOT EXISTS idx_chats_user_b ON chats (user_b);
	`

	if s.driverName == "postgres" {
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
	}

	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(err, "sqlstore.createTables")
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *SQLStore) Register(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{Username: username, Password: passwordHash}
	query := s.rebind("INSERT INTO users (username, password) VALUES (?, ?) RETURNING id")
	err := s.db.QueryRowContext(ctx, query, username, passwordHash).Scan(&user.ID)
	if isUniqueViolation(err) {
		return nil, apperr.ErrUsernameTaken
	}
	if err != nil {
		return nil, apperr.Storage("register user", errors.Wrap(err, "sqlstore.Register.Insert"))
	}
	return user, nil
}

func (s *SQLStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, password FROM users WHERE username = ?")
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.Storage("load user", errors.Wrap(err, "sqlstore.GetUser.Scan"))
	}
	return &user, nil
}

func (s *SQLStore) ListAccounts(ctx context.Context) ([]string, error) {
	return s.usernames(ctx, "ListAccounts", "SELECT username FROM users ORDER BY username ASC")
}

func (s *SQLStore) SearchUsers(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	query := s.rebind(`SELECT username FROM users WHERE username LIKE ? ESCAPE '\' ORDER BY username ASC LIMIT ?`)
	return s.usernames(ctx, "SearchUsers", query, escapeLike(prefix)+"%", limit)
}

func (s *SQLStore) usernames(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list users", errors.Wrap(err, "sqlstore."+op))
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Storage("list users", errors.Wrap(err, "sqlstore."+op+".Scan"))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list users", errors.Wrap(err, "sqlstore."+op))
	}
	return names, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RecordActivity upserts the chat list row for a pair. Older activity never
// overwrites newer.
func (s *SQLStore) RecordActivity(ctx context.Context, a store.Activity) error {
	userA, userB, ok := pair.Split(a.PairKey)
	if !ok {
		return apperr.InvalidArg(fmt.Sprintf("invalid pair key %q", a.PairKey))
	}
	query := s.rebind(`
		INSERT INTO chats (pair_key, user_a, user_b, last_sender, last_preview, last_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (pair_key) DO UPDATE SET
			last_sender = excluded.last_sender,
			last_preview = excluded.last_preview,
			last_at = excluded.last_at
		WHERE excluded.last_at >= chats.last_at
	`)
	_, err := s.db.ExecContext(ctx, query, a.PairKey, userA, userB, a.Sender, preview(a.Preview), a.At.UnixNano())
	if err != nil {
		return apperr.Storage("record chat activity", errors.Wrap(err, "sqlstore.RecordActivity"))
	}
	return nil
}

const previewLimit = 80

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLimit {
		return s
	}
	return string(r[:previewLimit-1]) + "…"
}

func (s *SQLStore) ListChats(ctx context.Context, username string) ([]models.ChatSummary, error) {
	query := s.rebind(`
		SELECT pair_key, user_a, user_b, last_sender, last_preview, last_at
		FROM chats
		WHERE user_a = ? OR user_b = ?
		ORDER BY last_at DESC, pair_key ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, username, username)
	if err != nil {
		return nil, apperr.Storage("list chats", errors.Wrap(err, "sqlstore.ListChats"))
	}
	defer rows.Close()

	chats := []models.ChatSummary{}
	for rows.Next() {
		var (
			c  models.ChatSummary
			at int64
		)
		if err := rows.Scan(&c.PairKey, &c.UserA, &c.UserB, &c.LastSender, &c.LastPreview, &at); err != nil {
			return nil, apperr.Storage("list chats", errors.Wrap(err, "sqlstore.ListChats.Scan"))
		}
		c.LastAt = time.Unix(0, at).UTC()
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list chats", errors.Wrap(err, "sqlstore.ListChats"))
	}
	return chats, nil
}

func (s *SQLStore) DeleteChat(ctx context.Context, pairKey string) error {
	query := s.rebind("DELETE FROM chats WHERE pair_key = ?")
	if _, err := s.db.ExecContext(ctx, query, pairKey); err != nil {
		return apperr.Storage("delete chat", errors.Wrap(err, "sqlstore.DeleteChat"))
	}
	return nil
}
