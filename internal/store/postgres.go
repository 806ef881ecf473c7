package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	pgCreateTable = `
		CREATE TABLE IF NOT EXISTS eco_documents (
			collection TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			version    BIGINT      NOT NULL,
			body       JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`

	pgSelectDocument = `
		SELECT version, body FROM eco_documents
		WHERE collection = $1 AND id = $2`

	pgInsertDocument = `
		INSERT INTO eco_documents (collection, id, version, body, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (collection, id) DO NOTHING`

	pgUpdateDocument = `
		UPDATE eco_documents SET version = $3, body = $4, updated_at = now()
		WHERE collection = $1 AND id = $2 AND version = $5`
)

// pgxPool is the subset of *pgxpool.Pool the store uses
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresCollection stores documents as JSONB rows in a shared table.
// The version column makes Save a compare-and-swap across processes.
type PostgresCollection[D Document] struct {
	pool   pgxPool
	name   string
	newDoc func() D
}

// NewPostgresCollection creates a collection backed by pool
func NewPostgresCollection[D Document](pool pgxPool, name string, newDoc func() D) *PostgresCollection[D] {
	return &PostgresCollection[D]{
		pool:   pool,
		name:   name,
		newDoc: newDoc,
	}
}

// NewPostgresStore connects to databaseURL and prepares the documents table
func NewPostgresStore(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := newPostgresStore(connectCtx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Using Postgres document store",
		zap.Int32("maxConns", config.MaxConns),
		zap.Int32("minConns", config.MinConns))

	return s, nil
}

func newPostgresStore(ctx context.Context, pool pgxPool) (*Store, error) {
	if _, err := pool.Exec(ctx, pgCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}

	return &Store{
		Metrics:     NewPostgresCollection(pool, CollectionMetricRecords, newMetricRecord),
		Instances:   NewPostgresCollection(pool, CollectionInstances, newInstance),
		Projects:    NewPostgresCollection(pool, CollectionProjects, newProject),
		Hypervisors: NewPostgresCollection(pool, CollectionHypervisors, newHypervisor),
		ping:        pool.Ping,
		close:       pool.Close,
	}, nil
}

// Name returns the collection name
func (p *PostgresCollection[D]) Name() string {
	return p.name
}

// FindByID loads a document row
func (p *PostgresCollection[D]) FindByID(ctx context.Context, id string) (D, bool, error) {
	var zero D
	var version int64
	var body []byte

	err := p.pool.QueryRow(ctx, pgSelectDocument, p.name, id).Scan(&version, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to query %s/%s: %w", p.name, id, err)
	}

	doc := p.newDoc()
	if err := json.Unmarshal(body, doc); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal %s/%s: %w", p.name, id, err)
	}
	doc.SetDocumentVersion(version)
	return doc, true, nil
}

// Save inserts a new row or updates the row at the expected version
func (p *PostgresCollection[D]) Save(ctx context.Context, doc D) error {
	if isNil(doc) {
		return ErrInvalidDocument
	}

	if doc.DocumentID() == "" {
		doc.SetDocumentID(uuid.New().String())
	}
	id := doc.DocumentID()
	expected := doc.DocumentVersion()

	doc.SetDocumentVersion(expected + 1)
	body, err := json.Marshal(doc)
	if err != nil {
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to marshal %s/%s: %w", p.name, id, err)
	}

	var tag pgconn.CommandTag
	if expected == 0 {
		tag, err = p.pool.Exec(ctx, pgInsertDocument, p.name, id, expected+1, body)
	} else {
		tag, err = p.pool.Exec(ctx, pgUpdateDocument, p.name, id, expected+1, body, expected)
	}
	if err != nil {
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to save %s/%s: %w", p.name, id, err)
	}

	if tag.RowsAffected() == 0 {
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("%w: %s/%s was modified concurrently (expected version %d)",
			ErrVersionConflict, p.name, id, expected)
	}

	return nil
}
