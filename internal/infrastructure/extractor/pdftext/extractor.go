package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

const providerName = "pdftext"

var pdfMagic = []byte("%PDF-")

// Extractor turns uploaded rule documents into plain text. PDFs are parsed
// page by page; UTF-8 text files pass through.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()

	if !bytes.HasPrefix(req.Data, pdfMagic) {
		if !utf8.Valid(req.Data) {
			return nil, domain.NewProviderError(domain.ErrPDFParse, providerName, "", fmt.Errorf("unsupported binary format: %s", req.Filename))
		}
		return &domain.ExtractionResponse{
			Text:      strings.TrimSpace(string(req.Data)),
			Pages:     1,
			Provider:  providerName,
			LatencyMS: time.Since(started).Milliseconds(),
		}, nil
	}

	text, pages, err := readPDF(ctx, req.Data)
	if err != nil {
		return nil, domain.NewProviderError(domain.ErrPDFParse, providerName, "", fmt.Errorf("%s: %w", req.Filename, err))
	}
	return &domain.ExtractionResponse{
		Text:      text,
		Pages:     pages,
		Provider:  providerName,
		LatencyMS: time.Since(started).Milliseconds(),
	}, nil
}

func readPDF(ctx context.Context, data []byte) (text string, pages int, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), total, nil
}
