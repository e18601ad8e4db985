package vectorstore

import "context"

// Distance selects the similarity metric a collection is created with.
type Distance string

// DistanceCosine is the only metric the pipeline uses; embeddings are
// L2-normalized so cosine similarity equals the dot product.
const DistanceCosine Distance = "Cosine"

// Point is the wire-level unit exchanged with a [StorageClient]: an
// identifier, a vector, and a free-form payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit: a point plus its similarity score, higher
// meaning more similar.
type ScoredPoint struct {
	Point
	Score float64
}

// FieldMatch is an exact-match condition on a payload field.
type FieldMatch struct {
	Key   string
	Value any
}

// Filter narrows a search to points whose payload satisfies every Must
// condition and none of the MustNot conditions. A MustNot condition also
// passes when the payload field is absent.
type Filter struct {
	Must    []FieldMatch
	MustNot []FieldMatch
}

// StorageClient performs the actual network calls against a remote vector
// database. Implementations must be safe for concurrent use and must not
// retry on their callers' behalf beyond their own transport policy.
type StorageClient interface {
	// ListCollections returns the names of all existing collections.
	ListCollections(ctx context.Context) ([]string, error)

	// CreateCollection creates a collection for vectors of the given size
	// and distance metric.
	CreateCollection(ctx context.Context, name string, vectorSize int, distance Distance) error

	// UpsertPoints writes points into the collection, replacing any points
	// with matching IDs.
	UpsertPoints(ctx context.Context, collection string, points []Point) error

	// SearchPoints returns up to limit points ranked most-similar first
	// against vector, optionally restricted by filter.
	SearchPoints(ctx context.Context, collection string, vector []float32, filter *Filter, limit int, withPayload, withVectors bool) ([]ScoredPoint, error)

	// RetrievePoints fetches points by ID. Unknown IDs are skipped, not
	// errors.
	RetrievePoints(ctx context.Context, collection string, ids []string, withPayload, withVectors bool) ([]Point, error)
}
