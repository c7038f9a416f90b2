//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors the production migrations. Kept inline so integration
// tests exercise the real tables without a migration toolchain.
const schema = `
CREATE TABLE IF NOT EXISTS verification_requests (
	id                 UUID PRIMARY KEY,
	subject_id         UUID        NOT NULL,
	document_type      TEXT        NOT NULL,
	status             TEXT        NOT NULL,
	trust_score        INT         NOT NULL,
	risk_score         INT,
	manual_review      BOOLEAN     NOT NULL DEFAULT FALSE,
	face_match_failed  BOOLEAN     NOT NULL DEFAULT FALSE,
	ocr_bonus_granted  BOOLEAN     NOT NULL DEFAULT FALSE,
	face_bonus_granted BOOLEAN     NOT NULL DEFAULT FALSE,
	reupload_requested BOOLEAN     NOT NULL DEFAULT FALSE,
	reviewer_id        UUID,
	record             JSONB       NOT NULL,
	version            BIGINT      NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS verification_requests_one_active
	ON verification_requests (subject_id, document_type)
	WHERE status NOT IN ('approved', 'rejected');

CREATE INDEX IF NOT EXISTS verification_requests_status
	ON verification_requests (status, created_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id             UUID PRIMARY KEY,
	category       TEXT        NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL,
	request_id     UUID        NOT NULL,
	subject_id     UUID        NOT NULL,
	actor_id       TEXT        NOT NULL,
	action         TEXT        NOT NULL,
	outcome        TEXT        NOT NULL,
	reason         TEXT        NOT NULL,
	correlation_id TEXT        NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_events_request
	ON audit_events (request_id, occurred_at);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// schema already applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a PostgreSQL container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("trustgate_test"),
		tcpostgres.WithUsername("trustgate"),
		tcpostgres.WithPassword("trustgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	// Container lifecycle is managed by the singleton Manager; Ryuk reaps it.
	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", strings.Join(tables, ", ")))
	return err
}
