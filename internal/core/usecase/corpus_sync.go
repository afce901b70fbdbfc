package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

// CorpusSyncer loads chunk exports into the repository and embeds the
// repository into the dense index.
type CorpusSyncer struct {
	repo      ports.ChunkRepository
	writer    ports.ChunkWriter
	embedder  ports.Embedder
	vectors   ports.VectorIndexer
	batchSize int
}

func NewCorpusSyncer(
	repo ports.ChunkRepository,
	writer ports.ChunkWriter,
	embedder ports.Embedder,
	vectors ports.VectorIndexer,
	batchSize int,
) *CorpusSyncer {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &CorpusSyncer{
		repo:      repo,
		writer:    writer,
		embedder:  embedder,
		vectors:   vectors,
		batchSize: batchSize,
	}
}

// ImportJSONL reads one DocumentChunk JSON object per line. Chunks without an
// id get a UUIDv5 derived from document id and position, so re-imports are
// idempotent.
func (s *CorpusSyncer) ImportJSONL(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var chunks []domain.DocumentChunk
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var chunk domain.DocumentChunk
		if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
			return 0, domain.WrapError(domain.ErrInvalidInput, "import chunks", fmt.Errorf("line %d: %w", line, err))
		}
		if strings.TrimSpace(chunk.Text) == "" || chunk.DocumentID == "" {
			return 0, domain.WrapError(domain.ErrInvalidInput, "import chunks", fmt.Errorf("line %d: document_id and text are required", line))
		}
		if chunk.ChunkID == "" {
			chunk.ChunkID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", chunk.DocumentID, chunk.PositionInDoc))).String()
		}
		chunks = append(chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read chunks: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.writer.UpsertChunks(ctx, chunks); err != nil {
		return 0, err
	}
	slog.Info("chunks_imported", "chunks", len(chunks))
	return len(chunks), nil
}

// Sync embeds every chunk of the repository in batches and upserts the
// vectors. It returns the number of chunks indexed.
func (s *CorpusSyncer) Sync(ctx context.Context) (int, error) {
	chunks, err := s.repo.ListChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}

	indexed := 0
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = embeddingText(c)
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return indexed, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vectors))
		}
		if err := s.vectors.UpsertChunks(ctx, batch, vectors); err != nil {
			return indexed, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
		indexed += len(batch)
		slog.Debug("sync_batch_indexed", "from", start, "to", end)
	}
	slog.Info("corpus_synced", "chunks", indexed, "embed_model", s.embedder.ModelName())
	return indexed, nil
}

func embeddingText(c domain.DocumentChunk) string {
	if c.Header == "" {
		return c.Text
	}
	return c.Header + "\n" + c.Text
}
