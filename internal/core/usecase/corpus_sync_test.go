package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

type chunkStoreFake struct {
	chunks  []domain.DocumentChunk
	written []domain.DocumentChunk
	listErr error
}

func (s *chunkStoreFake) ListChunks(context.Context) ([]domain.DocumentChunk, error) {
	return s.chunks, s.listErr
}

func (s *chunkStoreFake) UpsertChunks(_ context.Context, chunks []domain.DocumentChunk) error {
	s.written = append(s.written, chunks...)
	return nil
}

type vectorIndexFake struct {
	batches [][]domain.DocumentChunk
	vectors int
}

func (v *vectorIndexFake) UpsertChunks(_ context.Context, chunks []domain.DocumentChunk, vectors [][]float32) error {
	v.batches = append(v.batches, chunks)
	v.vectors += len(vectors)
	return nil
}

func TestCorpusSyncEmbedsInBatches(t *testing.T) {
	store := &chunkStoreFake{}
	for i := 0; i < 5; i++ {
		store.chunks = append(store.chunks, ruleChunk("s00"+string(rune('0'+i)), "Header", "text", "", 0))
	}
	corpus := newFakeCorpus()
	vectors := &vectorIndexFake{}

	n, err := NewCorpusSyncer(store, store, corpus, vectors, 2).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n != 5 || len(vectors.batches) != 3 || vectors.vectors != 5 {
		t.Fatalf("expected 5 chunks in 3 batches, got n=%d batches=%d", n, len(vectors.batches))
	}
	if corpus.queries[0] != "Header\ntext" {
		t.Fatalf("expected header to prefix embedded text, got %q", corpus.queries[0])
	}
}

func TestCorpusSyncStopsOnEmbedFailure(t *testing.T) {
	store := &chunkStoreFake{chunks: []domain.DocumentChunk{ruleChunk("s101", "", "t", "", 0)}}
	corpus := newFakeCorpus()
	corpus.denseErr = domain.NewProviderError(domain.ErrUnavailable, "ollama", "nomic-embed-text", errors.New("down"))

	n, err := NewCorpusSyncer(store, store, corpus, &vectorIndexFake{}, 8).Sync(context.Background())
	if err == nil || n != 0 {
		t.Fatalf("expected failure with nothing indexed, got n=%d err=%v", n, err)
	}
}

func TestImportJSONLAssignsStableIDs(t *testing.T) {
	input := `{"document_id":"core","text":"Shoot is an action.","header":"Actions","position_in_doc":3,"metadata":{"source_name":"core.pdf","doc_type":"core-rules"}}

{"chunk_id":"00000000-0000-4000-8000-000000000001","document_id":"faq","text":"Yes.","metadata":{"source_name":"faq.pdf","doc_type":"faq"}}
`
	store := &chunkStoreFake{}
	syncer := NewCorpusSyncer(store, store, newFakeCorpus(), &vectorIndexFake{}, 8)

	n, err := syncer.ImportJSONL(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportJSONL() error = %v", err)
	}
	if n != 2 || len(store.written) != 2 {
		t.Fatalf("expected 2 chunks, got %d", n)
	}
	first := store.written[0].ChunkID
	if first == "" || store.written[1].ChunkID != "00000000-0000-4000-8000-000000000001" {
		t.Fatalf("unexpected ids %q / %q", first, store.written[1].ChunkID)
	}

	store.written = nil
	if _, err := syncer.ImportJSONL(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("second import: %v", err)
	}
	if store.written[0].ChunkID != first {
		t.Fatalf("expected stable generated id, got %q then %q", first, store.written[0].ChunkID)
	}
}

func TestImportJSONLRejectsBadLines(t *testing.T) {
	store := &chunkStoreFake{}
	syncer := NewCorpusSyncer(store, store, newFakeCorpus(), &vectorIndexFake{}, 8)

	_, err := syncer.ImportJSONL(context.Background(), strings.NewReader(`{"document_id":"core"}`))
	if !domain.IsKind(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected invalid input on line 1, got %v", err)
	}
	if len(store.written) != 0 {
		t.Fatalf("nothing should be written on a bad import")
	}
}
