package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serval-ai/faceprint/pkg/vectorstore"
	"github.com/serval-ai/faceprint/pkg/vectorstore/mock"
)

func TestStorageClient_PassThrough(t *testing.T) {
	inner := &mock.StorageClient{}
	inner.Seed("faces", vectorstore.Point{
		ID:      "11111111-1111-1111-1111-111111111111",
		Vector:  []float32{1, 0, 0, 0},
		Payload: map[string]any{"content": "Alice"},
	})
	client := WrapStorageClient(inner, CircuitBreakerConfig{})
	ctx := context.Background()

	names, err := client.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 1 || names[0] != "faces" {
		t.Errorf("ListCollections() = %v, want [faces]", names)
	}

	hits, err := client.SearchPoints(ctx, "faces", []float32{1, 0, 0, 0}, nil, 10, true, false)
	if err != nil {
		t.Fatalf("SearchPoints: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("SearchPoints() = %v, want the seeded point", hits)
	}

	points, err := client.RetrievePoints(ctx, "faces", []string{"11111111-1111-1111-1111-111111111111"}, true, true)
	if err != nil {
		t.Fatalf("RetrievePoints: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("RetrievePoints() returned %d points, want 1", len(points))
	}

	if client.Breaker().State() != StateClosed {
		t.Errorf("breaker state = %v, want closed", client.Breaker().State())
	}
}

func TestStorageClient_OpensAfterRepeatedFailures(t *testing.T) {
	inner := &mock.StorageClient{UpsertErr: errTest}
	client := WrapStorageClient(inner, CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})
	ctx := context.Background()
	points := []vectorstore.Point{{ID: "a", Vector: []float32{1}}}

	for i := 0; i < 3; i++ {
		if err := client.UpsertPoints(ctx, "faces", points); !errors.Is(err, errTest) {
			t.Fatalf("upsert %d: err = %v, want errTest", i, err)
		}
	}
	if client.Breaker().State() != StateOpen {
		t.Fatalf("breaker state = %v, want open after 3 failures", client.Breaker().State())
	}

	// The breaker now fails fast without reaching the backend, on every
	// operation sharing it.
	calls := len(inner.UpsertCalls)
	if err := client.UpsertPoints(ctx, "faces", points); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if len(inner.UpsertCalls) != calls {
		t.Error("backend was called while the breaker was open")
	}
	if _, err := client.ListCollections(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("ListCollections err = %v, want ErrCircuitOpen", err)
	}
	if inner.ListCalls != 0 {
		t.Error("ListCollections reached the backend while the breaker was open")
	}
}

func TestStorageClient_RecoversThroughHalfOpen(t *testing.T) {
	inner := &mock.StorageClient{ListErr: errTest}
	client := WrapStorageClient(inner, CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	ctx := context.Background()

	// Open the breaker.
	for i := 0; i < 2; i++ {
		_, _ = client.ListCollections(ctx)
	}
	if client.Breaker().State() != StateOpen {
		t.Fatal("expected open")
	}

	// Backend recovers; after the reset timeout, successful probes close it.
	inner.ListErr = nil
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if _, err := client.ListCollections(ctx); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}
	if client.Breaker().State() != StateClosed {
		t.Fatalf("breaker state = %v, want closed after recovery", client.Breaker().State())
	}
}
