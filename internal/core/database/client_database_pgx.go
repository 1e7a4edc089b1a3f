package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/SupraChat/internal/config"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if cfg.AutoBootstrap {
		if err := EnsureBootstrapped(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends the SSL parameters to DATABASE_URL when a CA cert is
// configured.
func buildDSN(cfg *config.Config) (string, error) {
	if cfg.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if cfg.SslCertPath == "" {
		return cfg.DatabaseURL, nil
	}
	if _, err := os.Stat(cfg.SslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", cfg.SslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Bootstrap(ctx context.Context) error {
	return translate(EnsureBootstrapped(ctx, c.db))
}

// translate turns PostgreSQL errors into *core.BackendError so the gateway
// can report their SQLSTATE to clients.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &core.BackendError{Code: pgErr.Code, Message: pgErr.Message}
	}
	return err
}

// Auth users

func (c *DatabaseClient) CreateAuthUser(ctx context.Context, user *models.AuthUser) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO auth_users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`
	var createdAt *time.Time
	if !user.CreatedAt.IsZero() {
		createdAt = &user.CreatedAt
	}
	_, err := c.db.ExecContext(ctx, q, user.ID, strings.ToLower(user.Email), user.PasswordHash, createdAt)
	return translate(err)
}

func (c *DatabaseClient) GetAuthUserByEmail(ctx context.Context, email string) (*models.AuthUser, error) {
	const q = `
		SELECT id, email, password_hash, created_at
		FROM auth_users WHERE email = $1
	`
	var u models.AuthUser
	err := c.db.QueryRowContext(ctx, q, strings.ToLower(email)).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// Profiles

func (c *DatabaseClient) UpsertProfile(ctx context.Context, p models.ProfileUpsert) error {
	const q = `
		INSERT INTO profiles (id, email, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, last_seen = EXCLUDED.last_seen
	`
	_, err := c.db.ExecContext(ctx, q, p.ID, p.Email, p.LastSeen)
	return translate(err)
}

const profileColumns = `id, email, display_name, avatar_url, last_seen`

func (c *DatabaseClient) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY email ASC`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := []models.UserProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, translate(rows.Err())
}

func (c *DatabaseClient) GetProfile(ctx context.Context, id string) (*models.UserProfile, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (*models.UserProfile, error) {
	var (
		p                      models.UserProfile
		displayName, avatarURL sql.NullString
		lastSeen               sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.Email, &displayName, &avatarURL, &lastSeen); err != nil {
		return nil, err
	}
	if displayName.Valid {
		p.DisplayName = &displayName.String
	}
	if avatarURL.Valid {
		p.AvatarURL = &avatarURL.String
	}
	if lastSeen.Valid {
		p.LastSeen = &lastSeen.Time
	}
	return &p, nil
}

// Messages

const messageColumns = `id::text, created_at, content, sender_id, receiver_id, is_ai, message_type, file_name`

func (c *DatabaseClient) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	if msg.MessageType == "" {
		msg.MessageType = models.MessageText
	}
	q := `
		INSERT INTO messages (content, sender_id, receiver_id, message_type, file_name)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING ` + messageColumns
	row := c.db.QueryRowContext(ctx, q, msg.Content, msg.SenderID, msg.ReceiverID, string(msg.MessageType), msg.FileName)
	m, err := scanMessage(row)
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

func (c *DatabaseClient) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1::uuid`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

// ListConversation returns the full history of a pair, oldest first.
func (c *DatabaseClient) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, userA, userB)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, translate(rows.Err())
}

func scanMessage(s scanner) (*models.Message, error) {
	var (
		m           models.Message
		receiverID  sql.NullString
		messageType string
		fileName    sql.NullString
	)
	if err := s.Scan(&m.ID, &m.CreatedAt, &m.Content, &m.SenderID, &receiverID, &m.IsAI, &messageType, &fileName); err != nil {
		return nil, err
	}
	m.ReceiverID = receiverID.String
	m.MessageType = models.MessageType(messageType)
	if fileName.Valid {
		m.FileName = &fileName.String
	}
	return &m, nil
}
