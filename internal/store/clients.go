package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

var ErrClientConfigNotFound = errors.New("download client configuration not found")

// DownloadClientRow is a persisted download client configuration.
type DownloadClientRow struct {
	ID        int64
	Name      string
	Type      string
	Host      string
	Port      int
	Username  string
	Password  string
	APIKey    string
	UseSSL    bool
	URLBase   string
	Category  string
	WatchDir  string
	Priority  int
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientConfig converts the row into the adapter configuration type.
func (r *DownloadClientRow) ClientConfig() *types.ClientConfig {
	return &types.ClientConfig{
		Name:     r.Name,
		Type:     types.ClientType(r.Type),
		Host:     r.Host,
		Port:     r.Port,
		Username: r.Username,
		Password: r.Password,
		APIKey:   r.APIKey,
		UseSSL:   r.UseSSL,
		URLBase:  r.URLBase,
		Category: r.Category,
		WatchDir: r.WatchDir,
		Priority: r.Priority,
		Enabled:  r.Enabled,
	}
}

const clientColumns = `id, name, type, host, port, username, password, api_key,
	use_ssl, url_base, category, watch_dir, priority, enabled, created_at, updated_at`

func scanClient(row interface{ Scan(...interface{}) error }) (*DownloadClientRow, error) {
	var c DownloadClientRow
	var useSSL, enabled int64
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.Host, &c.Port, &c.Username, &c.Password, &c.APIKey,
		&useSSL, &c.URLBase, &c.Category, &c.WatchDir, &c.Priority, &enabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.UseSSL = useSSL == 1
	c.Enabled = enabled == 1
	return &c, nil
}

// CreateClient inserts a download client configuration.
func (s *Store) CreateClient(ctx context.Context, c *DownloadClientRow) (*DownloadClientRow, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO download_clients (name, type, host, port, username, password, api_key,
			use_ssl, url_base, category, watch_dir, priority, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+clientColumns,
		c.Name, c.Type, c.Host, c.Port, c.Username, c.Password, c.APIKey,
		boolToInt64(c.UseSSL), c.URLBase, c.Category, c.WatchDir, c.Priority, boolToInt64(c.Enabled),
	)
	created, err := scanClient(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create download client: %w", err)
	}
	return created, nil
}

// UpdateClient replaces the mutable fields of a client configuration.
func (s *Store) UpdateClient(ctx context.Context, c *DownloadClientRow) (*DownloadClientRow, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE download_clients
		SET name = ?, type = ?, host = ?, port = ?, username = ?, password = ?, api_key = ?,
			use_ssl = ?, url_base = ?, category = ?, watch_dir = ?, priority = ?, enabled = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING `+clientColumns,
		c.Name, c.Type, c.Host, c.Port, c.Username, c.Password, c.APIKey,
		boolToInt64(c.UseSSL), c.URLBase, c.Category, c.WatchDir, c.Priority, boolToInt64(c.Enabled),
		c.ID,
	)
	updated, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientConfigNotFound
		}
		return nil, fmt.Errorf("failed to update download client: %w", err)
	}
	return updated, nil
}

// GetClient retrieves a client configuration by id.
func (s *Store) GetClient(ctx context.Context, id int64) (*DownloadClientRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM download_clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientConfigNotFound
		}
		return nil, fmt.Errorf("failed to get download client: %w", err)
	}
	return c, nil
}

// GetClientByName retrieves a client configuration by its unique name.
func (s *Store) GetClientByName(ctx context.Context, name string) (*DownloadClientRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM download_clients WHERE name = ?`, name)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientConfigNotFound
		}
		return nil, fmt.Errorf("failed to get download client: %w", err)
	}
	return c, nil
}

// ListClients returns client configurations, optionally only enabled ones,
// ordered by priority ascending.
func (s *Store) ListClients(ctx context.Context, enabledOnly bool) ([]*DownloadClientRow, error) {
	query := `SELECT ` + clientColumns + ` FROM download_clients`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY priority ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list download clients: %w", err)
	}
	defer rows.Close()

	var clients []*DownloadClientRow
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// DeleteClient removes a client configuration.
func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM download_clients WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete download client: %w", err)
	}
	return nil
}
