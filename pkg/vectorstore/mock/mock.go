// Package mock provides an in-memory [vectorstore.StorageClient] for tests.
package mock

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/serval-ai/faceprint/pkg/vectorstore"
)

// UpsertCall records one UpsertPoints invocation.
type UpsertCall struct {
	Collection string
	Points     []vectorstore.Point
}

// SearchCall records one SearchPoints invocation.
type SearchCall struct {
	Collection string
	Vector     []float32
	Filter     *vectorstore.Filter
	Limit      int
}

// StorageClient is an in-memory implementation of
// [vectorstore.StorageClient] that records calls and supports injected
// failures. The zero value is ready to use. Safe for concurrent use.
type StorageClient struct {
	mu sync.Mutex

	// collections maps collection name to its points, keyed by point ID.
	collections map[string]map[string]vectorstore.Point

	// Injected failures. When set, the corresponding method returns the
	// error without touching state.
	ListErr     error
	CreateErr   error
	UpsertErr   error
	SearchErr   error
	RetrieveErr error

	ListCalls     int
	CreateCalls   int
	RetrieveCalls int
	UpsertCalls   []UpsertCall
	SearchCalls   []SearchCall
}

var _ vectorstore.StorageClient = (*StorageClient)(nil)

// ListCollections returns the names of all collections, sorted.
func (c *StorageClient) ListCollections(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListCalls++
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	names := make([]string, 0, len(c.collections))
	for name := range c.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateCollection creates an empty collection. Creating an existing
// collection fails, mirroring real backends.
func (c *StorageClient) CreateCollection(ctx context.Context, name string, vectorSize int, distance vectorstore.Distance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CreateCalls++
	if c.CreateErr != nil {
		return c.CreateErr
	}
	if _, ok := c.collections[name]; ok {
		return fmt.Errorf("mock: collection %q already exists", name)
	}
	if c.collections == nil {
		c.collections = make(map[string]map[string]vectorstore.Point)
	}
	c.collections[name] = make(map[string]vectorstore.Point)
	return nil
}

// UpsertPoints stores copies of the given points.
func (c *StorageClient) UpsertPoints(ctx context.Context, collection string, points []vectorstore.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpsertCalls = append(c.UpsertCalls, UpsertCall{Collection: collection, Points: slices.Clone(points)})
	if c.UpsertErr != nil {
		return c.UpsertErr
	}
	coll, ok := c.collections[collection]
	if !ok {
		return fmt.Errorf("mock: collection %q does not exist", collection)
	}
	for _, p := range points {
		coll[p.ID] = copyPoint(p)
	}
	return nil
}

// SearchPoints ranks all matching points by cosine similarity against
// vector, most similar first.
func (c *StorageClient) SearchPoints(ctx context.Context, collection string, vector []float32, filter *vectorstore.Filter, limit int, withPayload, withVectors bool) ([]vectorstore.ScoredPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SearchCalls = append(c.SearchCalls, SearchCall{Collection: collection, Vector: slices.Clone(vector), Filter: filter, Limit: limit})
	if c.SearchErr != nil {
		return nil, c.SearchErr
	}
	coll, ok := c.collections[collection]
	if !ok {
		return nil, fmt.Errorf("mock: collection %q does not exist", collection)
	}

	var hits []vectorstore.ScoredPoint
	for _, p := range coll {
		if !matchesFilter(p, filter) {
			continue
		}
		hit := vectorstore.ScoredPoint{Point: copyPoint(p), Score: cosine(vector, p.Vector)}
		if !withPayload {
			hit.Payload = nil
		}
		if !withVectors {
			hit.Vector = nil
		}
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// RetrievePoints returns the points with the given IDs, skipping unknown
// ones.
func (c *StorageClient) RetrievePoints(ctx context.Context, collection string, ids []string, withPayload, withVectors bool) ([]vectorstore.Point, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RetrieveCalls++
	if c.RetrieveErr != nil {
		return nil, c.RetrieveErr
	}
	coll, ok := c.collections[collection]
	if !ok {
		return nil, fmt.Errorf("mock: collection %q does not exist", collection)
	}
	var points []vectorstore.Point
	for _, id := range ids {
		p, ok := coll[id]
		if !ok {
			continue
		}
		cp := copyPoint(p)
		if !withPayload {
			cp.Payload = nil
		}
		if !withVectors {
			cp.Vector = nil
		}
		points = append(points, cp)
	}
	return points, nil
}

// Seed inserts a point directly, creating the collection if needed.
func (c *StorageClient) Seed(collection string, p vectorstore.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collections == nil {
		c.collections = make(map[string]map[string]vectorstore.Point)
	}
	if c.collections[collection] == nil {
		c.collections[collection] = make(map[string]vectorstore.Point)
	}
	c.collections[collection][p.ID] = copyPoint(p)
}

// PointCount returns the number of stored points in the collection.
func (c *StorageClient) PointCount(collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.collections[collection])
}

// Reset clears all state and recorded calls.
func (c *StorageClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections = nil
	c.ListErr, c.CreateErr, c.UpsertErr, c.SearchErr, c.RetrieveErr = nil, nil, nil, nil, nil
	c.ListCalls, c.CreateCalls, c.RetrieveCalls = 0, 0, 0
	c.UpsertCalls = nil
	c.SearchCalls = nil
}

func copyPoint(p vectorstore.Point) vectorstore.Point {
	cp := vectorstore.Point{ID: p.ID, Vector: slices.Clone(p.Vector)}
	if p.Payload != nil {
		cp.Payload = make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			cp.Payload[k] = v
		}
	}
	return cp
}

func matchesFilter(p vectorstore.Point, f *vectorstore.Filter) bool {
	if f == nil {
		return true
	}
	for _, m := range f.Must {
		v, ok := p.Payload[m.Key]
		if !ok || v != m.Value {
			return false
		}
	}
	for _, m := range f.MustNot {
		if v, ok := p.Payload[m.Key]; ok && v == m.Value {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
