package resilience

import (
	"context"

	"github.com/serval-ai/faceprint/internal/observe"
	"github.com/serval-ai/faceprint/pkg/vectorstore"
)

// Compile-time interface check.
var _ vectorstore.StorageClient = (*StorageClient)(nil)

// StorageClient wraps a [vectorstore.StorageClient] with a shared
// [CircuitBreaker]. All five storage operations count against the same
// breaker: they hit the same database, so a string of failures on any of
// them means the database is unhealthy for all of them. Each operation is
// recorded as a trace span.
type StorageClient struct {
	inner   vectorstore.StorageClient
	breaker *CircuitBreaker
}

// WrapStorageClient protects inner with a circuit breaker. Zero-value
// config fields get the [NewCircuitBreaker] defaults; an empty Name becomes
// "vectorstore".
func WrapStorageClient(inner vectorstore.StorageClient, cfg CircuitBreakerConfig) *StorageClient {
	if cfg.Name == "" {
		cfg.Name = "vectorstore"
	}
	return &StorageClient{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
	}
}

// Breaker exposes the underlying breaker for state inspection, for example
// from a readiness check.
func (c *StorageClient) Breaker() *CircuitBreaker { return c.breaker }

// ListCollections implements vectorstore.StorageClient.
func (c *StorageClient) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := observe.StartSpan(ctx, "store.list_collections")
	defer span.End()

	var names []string
	err := c.breaker.Execute(func() error {
		var err error
		names, err = c.inner.ListCollections(ctx)
		return err
	})
	return names, err
}

// CreateCollection implements vectorstore.StorageClient.
func (c *StorageClient) CreateCollection(ctx context.Context, name string, vectorSize int, distance vectorstore.Distance) error {
	ctx, span := observe.StartSpan(ctx, "store.create_collection")
	defer span.End()

	return c.breaker.Execute(func() error {
		return c.inner.CreateCollection(ctx, name, vectorSize, distance)
	})
}

// UpsertPoints implements vectorstore.StorageClient.
func (c *StorageClient) UpsertPoints(ctx context.Context, collection string, points []vectorstore.Point) error {
	ctx, span := observe.StartSpan(ctx, "store.upsert_points")
	defer span.End()

	return c.breaker.Execute(func() error {
		return c.inner.UpsertPoints(ctx, collection, points)
	})
}

// SearchPoints implements vectorstore.StorageClient.
func (c *StorageClient) SearchPoints(ctx context.Context, collection string, vector []float32, filter *vectorstore.Filter, limit int, withPayload, withVectors bool) ([]vectorstore.ScoredPoint, error) {
	ctx, span := observe.StartSpan(ctx, "store.search_points")
	defer span.End()

	var hits []vectorstore.ScoredPoint
	err := c.breaker.Execute(func() error {
		var err error
		hits, err = c.inner.SearchPoints(ctx, collection, vector, filter, limit, withPayload, withVectors)
		return err
	})
	return hits, err
}

// RetrievePoints implements vectorstore.StorageClient.
func (c *StorageClient) RetrievePoints(ctx context.Context, collection string, ids []string, withPayload, withVectors bool) ([]vectorstore.Point, error) {
	ctx, span := observe.StartSpan(ctx, "store.retrieve_points")
	defer span.End()

	var points []vectorstore.Point
	err := c.breaker.Execute(func() error {
		var err error
		points, err = c.inner.RetrievePoints(ctx, collection, ids, withPayload, withVectors)
		return err
	})
	return points, err
}
