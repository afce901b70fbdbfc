package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

// New creates a Qdrant REST client. executor may be nil.
func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

// UpsertChunks stores chunk vectors with their metadata as payload. Point ids
// are the chunk ids, so re-indexing a chunk overwrites it.
func (c *Client) UpsertChunks(ctx context.Context, chunks []domain.DocumentChunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch")
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID:      pointID(chunk.ChunkID),
			Vector:  vectors[i],
			Payload: chunkPayload(chunk),
		})
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPut, url, body, nil, "upsert")
	})
}

// Search returns the topK nearest chunks. DenseScore carries the cosine
// similarity reported by Qdrant.
func (c *Client) Search(ctx context.Context, queryVector []float32, topK int) ([]domain.DocumentChunk, error) {
	if len(queryVector) == 0 || topK <= 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	err = c.execute(ctx, "qdrant.search", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, url, body, &searchResp, "search")
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "qdrant search", err)
	}

	out := make([]domain.DocumentChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		chunk := chunkFromPayload(r.Payload)
		if chunk.ChunkID == "" {
			chunk.ChunkID = fmt.Sprint(r.ID)
		}
		chunk.DenseScore = r.Score
		out = append(out, chunk)
	}
	return out, nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyQdrantError)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any, operation string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err = c.do(ctx, http.MethodPut, url, body, nil, "ensure collection")
	// 200/201 for create, 409 if already exists (depends on version/config).
	if statusErr, ok := err.(*StatusError); ok && statusErr.StatusCode == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}

	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

func pointID(chunkID string) string {
	if id, err := uuid.Parse(chunkID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}
