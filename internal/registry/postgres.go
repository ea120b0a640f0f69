package registry

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresSource reads discovery candidates from an agents table.
type PostgresSource struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSource connects a pgx pool and pings it.
func NewPostgresSource(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &PostgresSource{db: pool, logger: logger}, nil
}

// Migrate applies the embedded *.up.sql files in name order.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := fs.ReadFile(migrations, "migrations/"+f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Upsert writes an agent row.
func (s *PostgresSource) Upsert(ctx context.Context, a Agent) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", a.Name, err)
	}
	if a.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agents (name, version, description, endpoint, connection_type, capabilities, protocols, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			version = EXCLUDED.version,
			description = EXCLUDED.description,
			endpoint = EXCLUDED.endpoint,
			connection_type = EXCLUDED.connection_type,
			capabilities = EXCLUDED.capabilities,
			protocols = EXCLUDED.protocols,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`,
		a.Name, a.Version, a.Description, a.Endpoint, string(a.ConnectionType),
		a.Capabilities, a.Protocols, string(a.Status), meta,
	)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", a.Name, err)
	}
	return nil
}

// Query returns agent rows. The capability filter is pushed down as a
// case-insensitive array match; the registry re-applies the full filter.
func (s *PostgresSource) Query(ctx context.Context, f Filter) ([]Agent, error) {
	q := `
		SELECT name, version, description, endpoint, connection_type,
		       capabilities, protocols, status, metadata
		FROM agents`
	var args []any
	if f.Capability != "" {
		q += ` WHERE EXISTS (SELECT 1 FROM unnest(capabilities) c WHERE lower(c) = lower($1))`
		args = append(args, f.Capability)
	}
	q += ` ORDER BY name`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var (
			a            Agent
			conn, status string
			meta         []byte
		)
		if err := rows.Scan(
			&a.Name, &a.Version, &a.Description, &a.Endpoint, &conn,
			&a.Capabilities, &a.Protocols, &status, &meta,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.ConnectionType = ParseConnectionType(conn)
		a.Status = ParseStatus(status)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				s.logger.Warn("bad agent metadata", zap.String("agent", a.Name), zap.Error(err))
			}
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// Pool exposes the connection pool for stores sharing the database.
func (s *PostgresSource) Pool() *pgxpool.Pool { return s.db }

// Close shuts down the connection pool.
func (s *PostgresSource) Close() {
	s.db.Close()
}
