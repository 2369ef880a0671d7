package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmelojr/zapgate/pkg/models"

	_ "github.com/lib/pq"
)

// PostgresConfig holds configuration for the Postgres connection.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "whatsapp",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	stmtUpsertMessage *sql.Stmt
	stmtGetMessage    *sql.Stmt
	stmtMarkOwned     *sql.Stmt
	stmtIsOwned       *sql.Stmt
	stmtSetWebhook    *sql.Stmt
	stmtGetWebhook    *sql.Stmt
	stmtPurgeMarks    *sql.Stmt
}

// NewPostgresStore opens a connection pool, verifies connectivity, ensures the
// schema exists, and prepares statements.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

// DB exposes the underlying connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wa_messages (
			id TEXT NOT NULL,
			session TEXT NOT NULL,
			remote_jid TEXT NOT NULL,
			from_me BOOLEAN NOT NULL DEFAULT TRUE,
			sent_at BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent',
			delivered_at BIGINT,
			read_at BIGINT,
			PRIMARY KEY (id, session)
		)`,
		`CREATE TABLE IF NOT EXISTS wa_webhooks (
			session TEXT PRIMARY KEY,
			url TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wa_owned_messages (
			session TEXT NOT NULL,
			msg_id TEXT NOT NULL,
			marked_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			PRIMARY KEY (session, msg_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	// A set delivered_at/read_at is kept when the incoming value is NULL;
	// the reconciler enforces first-writer-wins above this layer.
	s.stmtUpsertMessage, err = s.db.Prepare(`
		INSERT INTO wa_messages (id, session, remote_jid, from_me, sent_at, status, delivered_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, session) DO UPDATE SET
			status = EXCLUDED.status,
			delivered_at = COALESCE(EXCLUDED.delivered_at, wa_messages.delivered_at),
			read_at = COALESCE(EXCLUDED.read_at, wa_messages.read_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert message: %w", err)
	}

	s.stmtGetMessage, err = s.db.Prepare(`
		SELECT id, session, remote_jid, from_me, sent_at, status, delivered_at, read_at
		FROM wa_messages WHERE id = $1 AND session = $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get message: %w", err)
	}

	s.stmtMarkOwned, err = s.db.Prepare(`
		INSERT INTO wa_owned_messages (session, msg_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mark owned: %w", err)
	}

	s.stmtIsOwned, err = s.db.Prepare(`
		SELECT 1 FROM wa_owned_messages WHERE session = $1 AND msg_id = $2 LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare is owned: %w", err)
	}

	s.stmtSetWebhook, err = s.db.Prepare(`
		INSERT INTO wa_webhooks (session, url) VALUES ($1, $2)
		ON CONFLICT (session) DO UPDATE SET url = EXCLUDED.url
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set webhook: %w", err)
	}

	s.stmtGetWebhook, err = s.db.Prepare(`
		SELECT url FROM wa_webhooks WHERE session = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get webhook: %w", err)
	}

	s.stmtPurgeMarks, err = s.db.Prepare(`
		DELETE FROM wa_owned_messages
		WHERE marked_at < (EXTRACT(EPOCH FROM NOW())::BIGINT - $1)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare purge marks: %w", err)
	}

	return nil
}

// UpsertMessage merge-writes a record keyed by (ID, Session).
func (s *PostgresStore) UpsertMessage(ctx context.Context, rec *models.MessageRecord) error {
	if rec == nil || rec.ID == "" || rec.Session == "" {
		return fmt.Errorf("message record requires id and session")
	}
	_, err := s.stmtUpsertMessage.ExecContext(ctx,
		rec.ID, rec.Session, rec.RemoteJID, rec.FromMe, rec.SentAt,
		string(rec.Status), nullableInt64(rec.DeliveredAt), nullableInt64(rec.ReadAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetMessage returns the record for (id, session) or ErrNotFound.
func (s *PostgresStore) GetMessage(ctx context.Context, id, session string) (*models.MessageRecord, error) {
	var (
		rec         models.MessageRecord
		status      string
		deliveredAt sql.NullInt64
		readAt      sql.NullInt64
	)
	err := s.stmtGetMessage.QueryRowContext(ctx, id, session).Scan(
		&rec.ID, &rec.Session, &rec.RemoteJID, &rec.FromMe, &rec.SentAt,
		&status, &deliveredAt, &readAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	rec.Status = models.DeliveryStatus(status)
	if deliveredAt.Valid {
		rec.DeliveredAt = &deliveredAt.Int64
	}
	if readAt.Valid {
		rec.ReadAt = &readAt.Int64
	}
	return &rec, nil
}

// MarkOwnedMessage records that this system sent the message.
func (s *PostgresStore) MarkOwnedMessage(ctx context.Context, session, id string) error {
	if session == "" || id == "" {
		return fmt.Errorf("owned mark requires session and message id")
	}
	if _, err := s.stmtMarkOwned.ExecContext(ctx, session, id); err != nil {
		return fmt.Errorf("failed to mark owned message: %w", err)
	}
	return nil
}

// IsOwnedMessage reports whether this system sent the message.
func (s *PostgresStore) IsOwnedMessage(ctx context.Context, session, id string) (bool, error) {
	var one int
	err := s.stmtIsOwned.QueryRowContext(ctx, session, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check owned message: %w", err)
	}
	return true, nil
}

// PurgeOwnedMarks deletes marks older than the given age.
func (s *PostgresStore) PurgeOwnedMarks(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.stmtPurgeMarks.ExecContext(ctx, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge owned marks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// SetWebhookURL registers the webhook URL for a session, replacing any prior one.
func (s *PostgresStore) SetWebhookURL(ctx context.Context, session, url string) error {
	if session == "" || url == "" {
		return fmt.Errorf("webhook registration requires session and url")
	}
	if _, err := s.stmtSetWebhook.ExecContext(ctx, session, url); err != nil {
		return fmt.Errorf("failed to set webhook url: %w", err)
	}
	return nil
}

// GetWebhookURL returns the registered URL or ErrNotFound.
func (s *PostgresStore) GetWebhookURL(ctx context.Context, session string) (string, error) {
	var url string
	err := s.stmtGetWebhook.QueryRowContext(ctx, session).Scan(&url)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get webhook url: %w", err)
	}
	return url, nil
}

// Close closes prepared statements and the connection pool.
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtUpsertMessage, s.stmtGetMessage, s.stmtMarkOwned, s.stmtIsOwned,
		s.stmtSetWebhook, s.stmtGetWebhook, s.stmtPurgeMarks,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
