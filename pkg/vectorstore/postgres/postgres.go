// Package postgres implements [vectorstore.StorageClient] on PostgreSQL
// with the pgvector extension.
//
// Each collection is backed by its own table holding a uuid primary key, a
// pgvector embedding column, and a jsonb payload. A small registry table
// tracks which collections exist and their vector size. The pgvector
// extension is installed automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	client, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer client.Close()
//
//	store, err := vectorstore.NewStore(client, "faces", 512)
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/serval-ai/faceprint/pkg/vectorstore"
)

// Compile-time interface check.
var _ vectorstore.StorageClient = (*Client)(nil)

// Collection names become table names, so they are restricted to plain SQL
// identifiers.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

const ddlRegistry = `
CREATE TABLE IF NOT EXISTS vector_collections (
    name         TEXT         PRIMARY KEY,
    vector_size  INT          NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Client is a PostgreSQL-backed storage client. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a Client, establishes a connection pool to the database at
// dsn, registers pgvector types on every connection, and ensures the
// pgvector extension and the collection registry exist.
func New(ctx context.Context, dsn string) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres client: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so embedding columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres client: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres client: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres client: install pgvector: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlRegistry); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres client: create registry: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// ListCollections implements vectorstore.StorageClient.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, "SELECT name FROM vector_collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("postgres client: list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres client: list collections: scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres client: list collections: %w", err)
	}
	return names, nil
}

// CreateCollection implements vectorstore.StorageClient. The distance
// argument is accepted for interface compatibility; search always uses
// pgvector's cosine operator.
func (c *Client) CreateCollection(ctx context.Context, name string, vectorSize int, distance vectorstore.Distance) error {
	if err := validName(name); err != nil {
		return err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres client: create collection %q: begin: %w", name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"INSERT INTO vector_collections (name, vector_size) VALUES ($1, $2)",
		name, vectorSize,
	); err != nil {
		return fmt.Errorf("postgres client: create collection %q: register: %w", name, err)
	}

	ddl := fmt.Sprintf(`
CREATE TABLE %s (
    id         UUID        PRIMARY KEY,
    embedding  vector(%d)  NOT NULL,
    payload    JSONB       NOT NULL DEFAULT '{}'
)`, name, vectorSize)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres client: create collection %q: create table: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres client: create collection %q: commit: %w", name, err)
	}
	return nil
}

// UpsertPoints implements vectorstore.StorageClient.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []vectorstore.Point) error {
	if err := validName(collection); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
		collection)

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(query, p.ID, pgvector.NewVector(p.Vector), p.Payload)
	}
	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres client: upsert points: %w", err)
	}
	return nil
}

// SearchPoints implements vectorstore.StorageClient. Similarity is cosine;
// the returned score is 1 - cosine distance, so higher means more similar.
func (c *Client) SearchPoints(ctx context.Context, collection string, vector []float32, filter *vectorstore.Filter, limit int, withPayload, withVectors bool) ([]vectorstore.ScoredPoint, error) {
	if err := validName(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, embedding, payload, 1 - (embedding <=> $1) AS score
		FROM %s`, collection)
	args := []any{pgvector.NewVector(vector)}
	query, args = appendFilter(query, args, filter)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres client: search points: %w", err)
	}
	defer rows.Close()

	var hits []vectorstore.ScoredPoint
	for rows.Next() {
		var (
			id      string
			vec     pgvector.Vector
			payload map[string]any
			score   float64
		)
		if err := rows.Scan(&id, &vec, &payload, &score); err != nil {
			return nil, fmt.Errorf("postgres client: search points: scan: %w", err)
		}
		hit := vectorstore.ScoredPoint{
			Point: vectorstore.Point{ID: id},
			Score: score,
		}
		if withPayload {
			hit.Payload = payload
		}
		if withVectors {
			hit.Vector = vec.Slice()
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres client: search points: %w", err)
	}
	return hits, nil
}

// RetrievePoints implements vectorstore.StorageClient.
func (c *Client) RetrievePoints(ctx context.Context, collection string, ids []string, withPayload, withVectors bool) ([]vectorstore.Point, error) {
	if err := validName(collection); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		"SELECT id, embedding, payload FROM %s WHERE id = ANY($1::uuid[])",
		collection)
	rows, err := c.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres client: retrieve points: %w", err)
	}
	defer rows.Close()

	var points []vectorstore.Point
	for rows.Next() {
		var (
			id      string
			vec     pgvector.Vector
			payload map[string]any
		)
		if err := rows.Scan(&id, &vec, &payload); err != nil {
			return nil, fmt.Errorf("postgres client: retrieve points: scan: %w", err)
		}
		p := vectorstore.Point{ID: id}
		if withPayload {
			p.Payload = payload
		}
		if withVectors {
			p.Vector = vec.Slice()
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres client: retrieve points: %w", err)
	}
	return points, nil
}

// appendFilter adds WHERE clauses for the given filter using jsonb
// containment. A MustNot condition passes for rows whose payload lacks the
// field, matching the filter contract.
func appendFilter(query string, args []any, f *vectorstore.Filter) (string, []any) {
	if f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0) {
		return query, args
	}
	clause := " WHERE true"
	for _, m := range f.Must {
		args = append(args, map[string]any{m.Key: m.Value})
		clause += fmt.Sprintf(" AND payload @> $%d", len(args))
	}
	for _, m := range f.MustNot {
		args = append(args, map[string]any{m.Key: m.Value})
		clause += fmt.Sprintf(" AND NOT payload @> $%d", len(args))
	}
	return query + clause, args
}

func validName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("postgres client: invalid collection name %q", name)
	}
	return nil
}
