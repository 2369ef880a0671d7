package wameow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmelojr/zapgate/internal/transport"
)

// Config holds whatsmeow transport configuration.
type Config struct {
	// StorePath is the directory holding one SQLite credential database per
	// session.
	StorePath string `yaml:"store_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{StorePath: "./sessions"}
}

// Dialer creates whatsmeow clients bound to per-session credential databases.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a Dialer rooted at cfg.StorePath.
func NewDialer(cfg Config, logger *slog.Logger) (*Dialer, error) {
	if cfg.StorePath == "" {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(cfg.StorePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session store directory: %w", err)
	}
	return &Dialer{cfg: cfg, logger: logger}, nil
}

// Dial creates a client for the session. The client is not connected yet.
func (d *Dialer) Dial(ctx context.Context, session string) (transport.Client, error) {
	path, err := d.credentialPath(session)
	if err != nil {
		return nil, err
	}
	return newClient(ctx, session, path, d.logger)
}

// DeleteCredentials erases a session's stored auth material. Idempotent.
func (d *Dialer) DeleteCredentials(ctx context.Context, session string) error {
	path, err := d.credentialPath(session)
	if err != nil {
		return err
	}
	return removeCredentialFiles(path)
}

// StoredSessions lists sessions with credential material on disk.
func (d *Dialer) StoredSessions() ([]string, error) {
	entries, err := os.ReadDir(d.cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read session store directory: %w", err)
	}
	var sessions []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".db"))
	}
	sort.Strings(sessions)
	return sessions, nil
}

func (d *Dialer) credentialPath(session string) (string, error) {
	if session == "" || session != filepath.Base(session) || strings.HasPrefix(session, ".") {
		return "", fmt.Errorf("invalid session name %q", session)
	}
	return filepath.Join(d.cfg.StorePath, session+".db"), nil
}

var _ transport.Dialer = (*Dialer)(nil)
