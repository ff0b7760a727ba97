package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLite is the reference Store implementation backed by the platform
// database. It also implements Guard: a user may act on a channel when
// they are a member of its server.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	st := &SQLite{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("module", "store").Str("path", path).Msg("sqlite store opened")
	return st, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	avatar TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'Offline',
	is_invisible INTEGER NOT NULL DEFAULT 0,
	special_status INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS servers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	is_global INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id INTEGER NOT NULL REFERENCES servers(id),
	type TEXT NOT NULL,
	name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id);

CREATE TABLE IF NOT EXISTS server_profiles (
	server_id INTEGER NOT NULL REFERENCES servers(id),
	user_id INTEGER NOT NULL REFERENCES users(id),
	display_name TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'Offline',
	is_invisible INTEGER NOT NULL DEFAULT 0,
	special_status INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (server_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	user_id INTEGER NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'Default',
	is_system INTEGER NOT NULL DEFAULT 0,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at_unix_ms);

CREATE TABLE IF NOT EXISTS friends (
	user_id INTEGER NOT NULL REFERENCES users(id),
	friend_id INTEGER NOT NULL REFERENCES users(id),
	accepted INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, friend_id)
);

CREATE TABLE IF NOT EXISTS private_channels (
	channel_id INTEGER NOT NULL,
	user_a INTEGER NOT NULL REFERENCES users(id),
	user_b INTEGER NOT NULL REFERENCES users(id),
	accepted INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (channel_id)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	log.Debug().Str("module", "store").Msg("sqlite migrations applied")
	return nil
}

func (s *SQLite) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar, status, is_invisible, special_status
		FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Avatar, &u.Status, &u.IsInvisible, &u.SpecialStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

func (s *SQLite) Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	var ch domain.Channel
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.server_id, c.type, c.name, s.id, s.is_global
		FROM channels c JOIN servers s ON s.id = c.server_id
		WHERE c.id = ?`, id).
		Scan(&ch.ID, &ch.ServerID, &ch.Type, &ch.Name, &ch.Server.ID, &ch.Server.IsGlobal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select channel: %w", err)
	}
	return &ch, nil
}

func (s *SQLite) GlobalServer(ctx context.Context) (*domain.Server, error) {
	var srv domain.Server
	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_global FROM servers WHERE is_global = 1 LIMIT 1`).
		Scan(&srv.ID, &srv.IsGlobal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select global server: %w", err)
	}
	return &srv, nil
}

func (s *SQLite) VoiceChannelIDs(ctx context.Context, serverID domain.ServerID) ([]domain.ChannelID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM channels WHERE server_id = ? AND type = ?`, serverID, domain.ChannelVoice)
	if err != nil {
		return nil, fmt.Errorf("select voice channels: %w", err)
	}
	defer rows.Close()

	var out []domain.ChannelID
	for rows.Next() {
		var id domain.ChannelID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLite) MembersByUsernames(ctx context.Context, serverID domain.ServerID, usernames []string) ([]domain.MemberInfo, error) {
	if len(usernames) == 0 {
		return []domain.MemberInfo{}, nil
	}
	placeholders := strings.Repeat("?,", len(usernames)-1) + "?"
	args := make([]any, 0, len(usernames)+1)
	args = append(args, serverID)
	for _, u := range usernames {
		args = append(args, u)
	}
	// Profile display name and avatar win over the account's when set.
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username,
			CASE WHEN COALESCE(p.display_name, '') != '' THEN p.display_name ELSE u.display_name END,
			CASE WHEN COALESCE(p.avatar, '') != '' THEN p.avatar ELSE u.avatar END
		FROM users u
		LEFT JOIN server_profiles p ON p.user_id = u.id AND p.server_id = ?
		WHERE u.username IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	var out []domain.MemberInfo
	for rows.Next() {
		var m domain.MemberInfo
		if err := rows.Scan(&m.ID, &m.Username, &m.DisplayName, &m.Avatar); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateCallMessage(ctx context.Context, username string, channelID domain.ChannelID, content string) (*domain.Message, error) {
	user, err := s.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (channel_id, user_id, content, type, is_system, created_at_unix_ms)
		VALUES (?, ?, ?, ?, 1, ?)`,
		channelID, user.ID, content, domain.MessageVoiceCall, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert call message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.message(ctx, id)
}

func (s *SQLite) UpdateCallMessage(ctx context.Context, messageID int64, content string) (*domain.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ? AND is_system = 1`, content, messageID)
	if err != nil {
		return nil, fmt.Errorf("update call message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.message(ctx, messageID)
}

func (s *SQLite) message(ctx context.Context, id int64) (*domain.Message, error) {
	var (
		m  domain.Message
		ms int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.channel_id, m.content, m.type, m.is_system, m.created_at_unix_ms,
			u.id, u.username, u.display_name, u.avatar
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.id = ?`, id).
		Scan(&m.ID, &m.ChannelID, &m.Content, &m.Type, &m.IsSystemMessage, &ms,
			&m.Author.ID, &m.Author.Username, &m.Author.DisplayName, &m.Author.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select message: %w", err)
	}
	m.CreatedAt = time.UnixMilli(ms)
	return &m, nil
}

func (s *SQLite) UpdateUserStatus(ctx context.Context, username string, status domain.Status) (*domain.User, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE username = ?`, status, username)
	if err != nil {
		return nil, fmt.Errorf("update user status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.UserByUsername(ctx, username)
}

func (s *SQLite) ServerProfile(ctx context.Context, serverID domain.ServerID, username string) (*domain.ServerProfile, error) {
	var p domain.ServerProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT p.status, p.is_invisible, p.special_status
		FROM server_profiles p JOIN users u ON u.id = p.user_id
		WHERE p.server_id = ? AND u.username = ?`, serverID, username).
		Scan(&p.Status, &p.IsInvisible, &p.SpecialStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select server profile: %w", err)
	}
	return &p, nil
}

func (s *SQLite) UpdateProfileStatus(ctx context.Context, serverID domain.ServerID, username string, status domain.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE server_profiles SET status = ?
		WHERE server_id = ? AND user_id = (SELECT id FROM users WHERE username = ?)`,
		status, serverID, username)
	if err != nil {
		return fmt.Errorf("update profile status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) OnlineFriends(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.username FROM users f
		JOIN friends fr ON (fr.friend_id = f.id OR fr.user_id = f.id)
		JOIN users me ON (me.id = fr.user_id OR me.id = fr.friend_id)
		WHERE me.username = ? AND f.username != ? AND fr.accepted = 1 AND f.status != 'Offline'`,
		username, username)
	if err != nil {
		return nil, fmt.Errorf("select online friends: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *SQLite) PrivateChannelCounterparts(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT other.username FROM private_channels pc
		JOIN users me ON (me.id = pc.user_a OR me.id = pc.user_b)
		JOIN users other ON (other.id = pc.user_a OR other.id = pc.user_b) AND other.id != me.id
		WHERE me.username = ? AND pc.accepted = 1`, username)
	if err != nil {
		return nil, fmt.Errorf("select private counterparts: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Authorize grants access when the user has a profile on the channel's
// server. Permission granularity beyond membership lives outside the
// realtime layer.
func (s *SQLite) Authorize(ctx context.Context, username string, channelID domain.ChannelID, perms ...Permission) error {
	ch, err := s.Channel(ctx, channelID)
	if errors.Is(err, ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	return s.AuthorizeServer(ctx, username, ch.ServerID)
}

func (s *SQLite) AuthorizeServer(ctx context.Context, username string, serverID domain.ServerID) error {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM server_profiles p
		JOIN users u ON u.id = p.user_id
		WHERE p.server_id = ? AND u.username = ?`, serverID, username).Scan(&n)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if n == 0 {
		return ErrForbidden
	}
	return nil
}
