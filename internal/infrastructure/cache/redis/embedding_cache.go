package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/rules-qa/internal/core/ports"
)

const keyPrefix = "embedding:"

// Connect opens a client and verifies the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

// EmbeddingCache decorates an embedder with a Redis cache keyed by
// sha256(model, text). Cache failures degrade to the wrapped embedder.
type EmbeddingCache struct {
	next   ports.Embedder
	client *redis.Client
	ttl    time.Duration
}

func NewEmbeddingCache(next ports.Embedder, client *redis.Client, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{next: next, client: client, ttl: ttl}
}

func (c *EmbeddingCache) ModelName() string {
	return c.next.ModelName()
}

func (c *EmbeddingCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	return vectors[0], nil
}

func (c *EmbeddingCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	model := c.next.ModelName()
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = cacheKey(model, text)
	}

	out := make([][]float32, len(texts))
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("embedding_cache_read_failed", "error", err)
		cached = nil
	}

	missing := make([]int, 0, len(texts))
	for i := range texts {
		if i < len(cached) {
			if vector, ok := decodeVector(cached[i]); ok {
				out[i] = vector
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vectors, err := c.next.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pending) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(pending))
	}

	pipe := c.client.Pipeline()
	for j, i := range missing {
		out[i] = vectors[j]
		data, err := json.Marshal(vectors[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("embedding_cache_write_failed", "error", err, "entries", len(missing))
	}
	return out, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func decodeVector(raw interface{}) ([]float32, bool) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal([]byte(s), &vector); err != nil || len(vector) == 0 {
		return nil, false
	}
	return vector, true
}
