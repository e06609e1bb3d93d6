package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zombor/invoice-scanner/internal/scanning"
)

const createAuditTableSQL = `CREATE TABLE IF NOT EXISTS audit_logs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT,
	file_name     TEXT NOT NULL,
	file_size     BIGINT NOT NULL,
	num_pages     INTEGER NOT NULL,
	tokens_used   INTEGER NOT NULL,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	input_data    JSONB,
	output_data   JSONB,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS audit_logs_user_created_idx ON audit_logs (user_id, created_at DESC);`

var auditColumns = []string{
	"id", "user_id", "file_name", "file_size", "num_pages", "tokens_used",
	"status", "created_at", "input_data", "output_data", "error_message",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// DBTX is the subset of pgxpool.Pool used by PostgresAuditStore
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresAuditStore implements AuditStore on a Postgres audit_logs table
type PostgresAuditStore struct {
	db    DBTX
	close func()
}

// NewPostgresAuditStore connects to dsn and makes sure the table exists
func NewPostgresAuditStore(ctx context.Context, dsn string) (*PostgresAuditStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresAuditStore{db: pool, close: pool.Close}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresAuditStoreWithDB wraps an existing connection for testing
func NewPostgresAuditStoreWithDB(db DBTX) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// EnsureSchema creates the audit_logs table if it does not exist
func (p *PostgresAuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createAuditTableSQL); err != nil {
		return fmt.Errorf("creating audit_logs table: %w", err)
	}
	return nil
}

func (p *PostgresAuditStore) Append(ctx context.Context, entry *AuditLogEntry) error {
	if entry == nil || entry.ID == "" {
		return errors.New("audit entry requires an id")
	}

	input, err := json.Marshal(entry.InputData)
	if err != nil {
		return fmt.Errorf("marshaling input data: %w", err)
	}
	var output []byte
	if entry.OutputData != nil {
		if output, err = json.Marshal(entry.OutputData); err != nil {
			return fmt.Errorf("marshaling output data: %w", err)
		}
	}

	sql, args, err := psql.Insert("audit_logs").
		Columns(auditColumns...).
		Values(entry.ID, entry.ActorID, entry.FileName, entry.FileSize, entry.NumPages, entry.TokensUsed,
			entry.Status, entry.CreatedAt, input, output, entry.ErrorMessage).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := p.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (p *PostgresAuditStore) Recent(ctx context.Context, actorID *string, limit int) ([]*AuditLogEntry, error) {
	query := psql.Select(auditColumns...).
		From("audit_logs").
		OrderBy("created_at DESC").
		Limit(uint64(max(limit, 0)))
	if actorID != nil {
		query = query.Where(squirrel.Eq{"user_id": *actorID})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*AuditLogEntry, 0)
	for rows.Next() {
		var (
			entry         AuditLogEntry
			input, output []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.FileName, &entry.FileSize, &entry.NumPages,
			&entry.TokensUsed, &entry.Status, &entry.CreatedAt, &input, &output, &entry.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &entry.InputData); err != nil {
				return nil, fmt.Errorf("unmarshaling input data: %w", err)
			}
		}
		if len(output) > 0 {
			var record scanning.InvoiceRecord
			if err := json.Unmarshal(output, &record); err != nil {
				return nil, fmt.Errorf("unmarshaling output data: %w", err)
			}
			entry.OutputData = &record
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// Close closes the connection pool, if this store owns one
func (p *PostgresAuditStore) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
