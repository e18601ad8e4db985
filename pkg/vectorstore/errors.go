package vectorstore

import "errors"

var (
	// ErrInvalidDimension indicates an embedding whose length differs from
	// the store's configured vector size. No network call is made.
	ErrInvalidDimension = errors.New("vectorstore: embedding dimension mismatch")

	// ErrInvalidIdentifier indicates a document ID that does not parse as
	// a UUID. No network call is made.
	ErrInvalidIdentifier = errors.New("vectorstore: identifier is not a valid UUID")

	// ErrInvalidTopK indicates a search limit outside (0, MaxSearchLimit].
	// No network call is made.
	ErrInvalidTopK = errors.New("vectorstore: topK out of range")

	// ErrCollectionUnavailable indicates the storage client could not list
	// or create the collection. The readiness flag stays unset so the next
	// caller retries.
	ErrCollectionUnavailable = errors.New("vectorstore: collection unavailable")

	// ErrStoreOperation wraps storage client failures during upsert,
	// search, or retrieval. No partial document state is assumed persisted.
	ErrStoreOperation = errors.New("vectorstore: storage operation failed")
)
