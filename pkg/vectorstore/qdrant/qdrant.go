// Package qdrant implements [vectorstore.StorageClient] against Qdrant's
// REST API (https://qdrant.tech).
//
// Only the endpoints the pipeline needs are covered: listing and creating
// collections, upserting points, similarity search with payload filters,
// and retrieval by ID. Write operations use wait=true so a successful
// response means the data is durable.
//
// Example usage:
//
//	c, err := qdrant.New("http://localhost:6333")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := vectorstore.NewStore(c, "faces", 512)
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/serval-ai/faceprint/pkg/vectorstore"
)

// DefaultBaseURL is the default base URL for a locally running Qdrant
// instance.
const DefaultBaseURL = "http://localhost:6333"

// Ensure Client implements the vectorstore.StorageClient interface at
// compile time.
var _ vectorstore.StorageClient = (*Client)(nil)

// Client talks to a single Qdrant instance. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*config)

// WithAPIKey sets the api-key header sent with every request. Required for
// Qdrant Cloud and instances with authentication enabled.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP
// client. A zero or negative value means no timeout (the default). Ignored
// when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client, for example to add
// transport-level instrumentation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Client for the Qdrant instance at baseURL.
//
// If baseURL is empty, DefaultBaseURL is used. A trailing slash is stripped
// automatically.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
		if cfg.timeout > 0 {
			httpClient.Timeout = cfg.timeout
		}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.apiKey,
		httpClient: httpClient,
	}, nil
}

// Wire-level request and response bodies. Qdrant wraps every response in a
// {"result": ..., "status": ..., "time": ...} envelope.

type collectionsResponse struct {
	Result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	} `json:"result"`
}

type createCollectionRequest struct {
	Vectors vectorParams `json:"vectors"`
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type upsertRequest struct {
	Points []wirePoint `json:"points"`
}

type wirePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type searchRequest struct {
	Vector      []float32   `json:"vector"`
	Limit       int         `json:"limit"`
	Filter      *wireFilter `json:"filter,omitempty"`
	WithPayload bool        `json:"with_payload"`
	WithVector  bool        `json:"with_vector"`
}

type wireFilter struct {
	Must    []wireCondition `json:"must,omitempty"`
	MustNot []wireCondition `json:"must_not,omitempty"`
}

type wireCondition struct {
	Key   string    `json:"key"`
	Match wireMatch `json:"match"`
}

type wireMatch struct {
	Value any `json:"value"`
}

type searchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

type retrieveRequest struct {
	IDs         []string `json:"ids"`
	WithPayload bool     `json:"with_payload"`
	WithVector  bool     `json:"with_vector"`
}

type retrieveResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// ListCollections implements vectorstore.StorageClient.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	data, err := c.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections: %w", err)
	}
	var parsed collectionsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("qdrant: list collections: decode response: %w", err)
	}
	names := make([]string, 0, len(parsed.Result.Collections))
	for _, coll := range parsed.Result.Collections {
		names = append(names, coll.Name)
	}
	return names, nil
}

// CreateCollection implements vectorstore.StorageClient.
func (c *Client) CreateCollection(ctx context.Context, name string, vectorSize int, distance vectorstore.Distance) error {
	req := createCollectionRequest{
		Vectors: vectorParams{Size: vectorSize, Distance: string(distance)},
	}
	if _, err := c.do(ctx, http.MethodPut, "/collections/"+name, req); err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", name, err)
	}
	return nil
}

// UpsertPoints implements vectorstore.StorageClient. The request uses
// wait=true so the points are durable once the call returns.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	req := upsertRequest{Points: make([]wirePoint, 0, len(points))}
	for _, p := range points {
		req.Points = append(req.Points, wirePoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	if _, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", req); err != nil {
		return fmt.Errorf("qdrant: upsert points: %w", err)
	}
	return nil
}

// SearchPoints implements vectorstore.StorageClient.
func (c *Client) SearchPoints(ctx context.Context, collection string, vector []float32, filter *vectorstore.Filter, limit int, withPayload, withVectors bool) ([]vectorstore.ScoredPoint, error) {
	req := searchRequest{
		Vector:      vector,
		Limit:       limit,
		Filter:      toWireFilter(filter),
		WithPayload: withPayload,
		WithVector:  withVectors,
	}
	data, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search points: %w", err)
	}
	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("qdrant: search points: decode response: %w", err)
	}
	hits := make([]vectorstore.ScoredPoint, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		hits = append(hits, vectorstore.ScoredPoint{
			Point: vectorstore.Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload},
			Score: r.Score,
		})
	}
	return hits, nil
}

// RetrievePoints implements vectorstore.StorageClient.
func (c *Client) RetrievePoints(ctx context.Context, collection string, ids []string, withPayload, withVectors bool) ([]vectorstore.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	req := retrieveRequest{IDs: ids, WithPayload: withPayload, WithVector: withVectors}
	data, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points", req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: retrieve points: %w", err)
	}
	var parsed retrieveResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("qdrant: retrieve points: decode response: %w", err)
	}
	points := make([]vectorstore.Point, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		points = append(points, vectorstore.Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload})
	}
	return points, nil
}

func toWireFilter(f *vectorstore.Filter) *wireFilter {
	if f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0) {
		return nil
	}
	wf := &wireFilter{}
	for _, m := range f.Must {
		wf.Must = append(wf.Must, wireCondition{Key: m.Key, Match: wireMatch{Value: m.Value}})
	}
	for _, m := range f.MustNot {
		wf.MustNot = append(wf.MustNot, wireCondition{Key: m.Key, Match: wireMatch{Value: m.Value}})
	}
	return wf
}

// do sends one request and returns the raw response body. A non-2xx status
// is an error carrying the response body for diagnosis.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
