package vectorstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MaxSearchLimit caps the topK argument accepted by [Store.Search].
const MaxSearchLimit = 10000

// Reserved payload field names. Caller metadata is stored under
// [metadataPrefix] so it can never collide with these.
const (
	fieldContent   = "content"
	fieldIsDeleted = "is_deleted"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldDeletedAt = "deleted_at"

	metadataPrefix = "meta_"
)

// MetricsSink receives one observation per storage operation.
// Implementations must be safe for concurrent use; see internal/observe for
// the OpenTelemetry-backed implementation.
type MetricsSink interface {
	RecordStoreOperation(ctx context.Context, op string, err error)
}

type nopSink struct{}

func (nopSink) RecordStoreOperation(context.Context, string, error) {}

// Store enforces the document invariants on top of a [StorageClient].
//
// Aside from the collection-readiness flag the Store is stateless: all
// document state lives in the remote store. Individual document histories
// are linearized by the read-existing-then-write sequence inside Upsert and
// Downsert; concurrent writers to the same ID resolve last-write-wins.
type Store struct {
	client     StorageClient
	collection string
	vectorSize int
	autoCreate bool

	now     func() time.Time
	metrics MetricsSink

	// Collection readiness is a monotonic per-process fact: checked
	// lock-free on the fast path, established at most once under mu.
	mu    sync.Mutex
	ready atomic.Bool
}

// StoreOption is a functional option for [NewStore].
type StoreOption func(*Store)

// WithAutoCreate enables creating the collection on first use when it does
// not exist. Disabled by default.
func WithAutoCreate(enabled bool) StoreOption {
	return func(s *Store) { s.autoCreate = enabled }
}

// WithMetrics injects the observability sink receiving per-operation
// observations. Defaults to a no-op sink.
func WithMetrics(m MetricsSink) StoreOption {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source used for document timestamps.
// Intended for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store over client for the named collection.
// Configuration is validated eagerly.
func NewStore(client StorageClient, collection string, vectorSize int, opts ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("vectorstore: client must not be nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("vectorstore: collection name must not be empty")
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("vectorstore: vector size %d must be positive", vectorSize)
	}

	s := &Store{
		client:     client,
		collection: collection,
		vectorSize: vectorSize,
		now:        time.Now,
		metrics:    nopSink{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// EnsureCollectionReady verifies that the target collection exists,
// creating it when absent and auto-create is enabled.
//
// The check runs at most once per process: after the first success the
// fast path returns without locking. Under concurrent first use the
// storage client's create call happens at most once. On failure the flag
// stays unset so the next caller retries.
func (s *Store) EnsureCollectionReady(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have finished while we waited for the lock.
	if s.ready.Load() {
		return nil
	}

	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", ErrCollectionUnavailable, err)
	}
	if !slices.Contains(names, s.collection) {
		if !s.autoCreate {
			return fmt.Errorf("%w: collection %q does not exist and auto-create is disabled",
				ErrCollectionUnavailable, s.collection)
		}
		if err := s.client.CreateCollection(ctx, s.collection, s.vectorSize, DistanceCosine); err != nil {
			return fmt.Errorf("%w: create collection %q: %v", ErrCollectionUnavailable, s.collection, err)
		}
	}

	s.ready.Store(true)
	return nil
}

// Upsert writes doc to the collection and returns the stored document.
//
// The embedding length and identifier are validated before any network
// call. An existing document's CreatedAt is preserved; a new document gets
// CreatedAt = now. The returned document is always active: IsDeleted is
// false and DeletedAt is nil, reactivating a previously soft-deleted
// document.
func (s *Store) Upsert(ctx context.Context, doc Document) (d Document, err error) {
	defer func() { s.metrics.RecordStoreOperation(ctx, "upsert", err) }()

	if len(doc.Embedding) != s.vectorSize {
		return Document{}, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(doc.Embedding), s.vectorSize)
	}
	if _, parseErr := uuid.Parse(doc.ID); parseErr != nil {
		return Document{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, doc.ID)
	}
	if err = s.EnsureCollectionReady(ctx); err != nil {
		return Document{}, err
	}

	existing, err := s.retrieveOne(ctx, doc.ID, false)
	if err != nil {
		return Document{}, err
	}

	now := s.now().UTC()
	createdAt := now
	if existing != nil {
		createdAt = existing.CreatedAt
	}
	stored := doc.asActive(createdAt, now)

	point := Point{
		ID:      stored.ID,
		Vector:  stored.Embedding,
		Payload: payloadFromDocument(stored),
	}
	if err = s.client.UpsertPoints(ctx, s.collection, []Point{point}); err != nil {
		return Document{}, fmt.Errorf("%w: upsert %q: %v", ErrStoreOperation, stored.ID, err)
	}
	return stored, nil
}

// Downsert soft-deletes the document with the given ID, keeping its vector
// and content. It reports whether a document existed. Downserting an
// already soft-deleted document refreshes its timestamps and still reports
// true.
func (s *Store) Downsert(ctx context.Context, id string) (ok bool, err error) {
	defer func() { s.metrics.RecordStoreOperation(ctx, "downsert", err) }()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	if err = s.EnsureCollectionReady(ctx); err != nil {
		return false, err
	}

	existing, err := s.retrieveOne(ctx, id, true)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	deleted := existing.asDeleted(s.now().UTC())
	point := Point{
		ID:      deleted.ID,
		Vector:  deleted.Embedding,
		Payload: payloadFromDocument(deleted),
	}
	if err = s.client.UpsertPoints(ctx, s.collection, []Point{point}); err != nil {
		return false, fmt.Errorf("%w: downsert %q: %v", ErrStoreOperation, id, err)
	}
	return true, nil
}

// SearchOption configures [Store.Search].
type SearchOption func(*searchOptions)

type searchOptions struct {
	includeDeleted bool
}

// IncludeDeleted lifts the default filter that excludes soft-deleted
// documents from search results.
func IncludeDeleted() SearchOption {
	return func(o *searchOptions) { o.includeDeleted = true }
}

// Search returns up to topK documents ranked most-similar first against
// vector. Soft-deleted documents are excluded unless [IncludeDeleted] is
// given. Ranking is delegated entirely to the storage client.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, opts ...SearchOption) (docs []Document, err error) {
	defer func() { s.metrics.RecordStoreOperation(ctx, "search", err) }()

	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}

	if len(vector) != s.vectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(vector), s.vectorSize)
	}
	if topK <= 0 || topK > MaxSearchLimit {
		return nil, fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidTopK, topK, MaxSearchLimit)
	}
	if err = s.EnsureCollectionReady(ctx); err != nil {
		return nil, err
	}

	var filter *Filter
	if !o.includeDeleted {
		filter = &Filter{MustNot: []FieldMatch{{Key: fieldIsDeleted, Value: true}}}
	}

	hits, err := s.client.SearchPoints(ctx, s.collection, vector, filter, topK, true, true)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrStoreOperation, err)
	}

	docs = make([]Document, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, documentFromPoint(hit.Point))
	}
	return docs, nil
}

// Get retrieves the document with the given ID, regardless of its deleted
// state. It returns nil when no such document exists.
func (s *Store) Get(ctx context.Context, id string) (doc *Document, err error) {
	defer func() { s.metrics.RecordStoreOperation(ctx, "get", err) }()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	if err = s.EnsureCollectionReady(ctx); err != nil {
		return nil, err
	}
	return s.retrieveOne(ctx, id, true)
}

// retrieveOne fetches a single document by ID, optionally with its vector.
// Returns nil when the point does not exist.
func (s *Store) retrieveOne(ctx context.Context, id string, withVector bool) (*Document, error) {
	points, err := s.client.RetrievePoints(ctx, s.collection, []string{id}, true, withVector)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve %q: %v", ErrStoreOperation, id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	doc := documentFromPoint(points[0])
	return &doc, nil
}

// payloadFromDocument flattens a document into the wire payload. Metadata
// keys are prefixed so they cannot shadow the reserved fields.
func payloadFromDocument(d Document) map[string]any {
	payload := map[string]any{
		fieldContent:   d.Content,
		fieldIsDeleted: d.IsDeleted,
		fieldCreatedAt: d.CreatedAt.Format(time.RFC3339Nano),
		fieldUpdatedAt: d.UpdatedAt.Format(time.RFC3339Nano),
	}
	if d.DeletedAt != nil {
		payload[fieldDeletedAt] = d.DeletedAt.Format(time.RFC3339Nano)
	}
	for k, v := range d.Metadata {
		payload[metadataPrefix+k] = v
	}
	return payload
}

// documentFromPoint rebuilds a document from the wire payload. Unknown or
// malformed payload fields degrade to zero values rather than failing the
// whole read.
func documentFromPoint(p Point) Document {
	doc := Document{
		ID:        p.ID,
		Embedding: p.Vector,
	}
	if p.Payload == nil {
		return doc
	}

	if v, ok := p.Payload[fieldContent].(string); ok {
		doc.Content = v
	}
	if v, ok := p.Payload[fieldIsDeleted].(bool); ok {
		doc.IsDeleted = v
	}
	doc.CreatedAt = parseTime(p.Payload[fieldCreatedAt])
	doc.UpdatedAt = parseTime(p.Payload[fieldUpdatedAt])
	if t := parseTime(p.Payload[fieldDeletedAt]); !t.IsZero() {
		doc.DeletedAt = &t
	}

	for k, v := range p.Payload {
		if !strings.HasPrefix(k, metadataPrefix) {
			continue
		}
		sv, ok := v.(string)
		if !ok {
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string)
		}
		doc.Metadata[strings.TrimPrefix(k, metadataPrefix)] = sv
	}
	return doc
}

// parseTime parses an RFC 3339 payload value, returning the zero time for
// absent or malformed values.
func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
