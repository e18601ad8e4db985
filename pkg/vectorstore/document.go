// Package vectorstore persists embedding vectors as documents in a named
// collection of a remote vector database.
//
// The package enforces the pipeline's consistency model: strict vector
// dimensionality, UUID identifiers, soft deletion, and an immutable
// CreatedAt per document. All storage traffic goes through the
// [StorageClient] interface; see the qdrant and postgres subpackages for
// implementations and the mock subpackage for a test double.
//
// Every [Store] method is safe for concurrent use.
package vectorstore

import (
	"maps"
	"time"
)

// Document is the persisted unit: one embedding vector plus its label,
// metadata, and lifecycle timestamps.
//
// Document is an immutable value. Mutating operations return a new value
// via the With* copy helpers; existing instances are never changed in
// place.
type Document struct {
	// ID is the document's unique identifier. It must parse as a UUID.
	ID string

	// Content is the free-text label associated with the vector, for
	// example a display name.
	Content string

	// Embedding is the vector. Its length must equal the store's
	// configured vector size.
	Embedding []float32

	// Metadata holds optional string key/value pairs preserved verbatim.
	// Keys are stored under a reserved prefix so they cannot collide with
	// the document's own payload fields.
	Metadata map[string]string

	// IsDeleted marks the document as soft-deleted. Soft-deleted documents
	// keep their vector and content, are excluded from default search
	// results, and remain retrievable by ID.
	IsDeleted bool

	// CreatedAt is set once at first creation and never changed by later
	// updates.
	CreatedAt time.Time

	// UpdatedAt is refreshed on every successful mutation.
	UpdatedAt time.Time

	// DeletedAt is set when IsDeleted transitions to true and cleared when
	// the document is reactivated by a subsequent upsert.
	DeletedAt *time.Time
}

// WithContent returns a copy of d with Content replaced.
func (d Document) WithContent(content string) Document {
	d.Content = content
	return d
}

// WithEmbedding returns a copy of d with Embedding replaced. The slice is
// copied so the new value does not alias the caller's buffer.
func (d Document) WithEmbedding(embedding []float32) Document {
	d.Embedding = append([]float32(nil), embedding...)
	return d
}

// WithMetadata returns a copy of d with Metadata replaced by a copy of m.
func (d Document) WithMetadata(m map[string]string) Document {
	if m == nil {
		d.Metadata = nil
		return d
	}
	d.Metadata = maps.Clone(m)
	return d
}

// asDeleted returns a copy of d marked soft-deleted at t.
func (d Document) asDeleted(t time.Time) Document {
	d.IsDeleted = true
	d.UpdatedAt = t
	d.DeletedAt = &t
	return d
}

// asActive returns a copy of d marked active, with CreatedAt preserved from
// createdAt and UpdatedAt set to t.
func (d Document) asActive(createdAt, t time.Time) Document {
	d.IsDeleted = false
	d.CreatedAt = createdAt
	d.UpdatedAt = t
	d.DeletedAt = nil
	return d
}
