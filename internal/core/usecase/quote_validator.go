package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

const DefaultQuoteSimilarityThreshold = 0.85

// QuoteValidator checks every quote of an answer against the chunk it cites.
// Similarity is coverageSimilarity: 1 for a verbatim normalized substring,
// otherwise the best normalized Levenshtein ratio over word windows.
type QuoteValidator struct {
	threshold float64
	logger    *slog.Logger
}

func NewQuoteValidator(threshold float64, logger *slog.Logger) *QuoteValidator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultQuoteSimilarityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuoteValidator{threshold: threshold, logger: logger}
}

// Validate returns nil when there is nothing to validate (small talk or no
// quotes) and when validation itself fails.
func (v *QuoteValidator) Validate(answer *domain.Answer, served []domain.DocumentChunk) (report *domain.QuoteValidationReport) {
	if answer == nil || answer.Smalltalk || len(answer.Quotes) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("quote_validation_failed", "error", fmt.Sprint(r))
			report = nil
		}
	}()

	byShortID := make(map[string]domain.DocumentChunk, len(served))
	for _, chunk := range served {
		byShortID[chunk.ShortID] = chunk
	}

	report = &domain.QuoteValidationReport{
		TotalQuotes:   len(answer.Quotes),
		InvalidQuotes: []domain.InvalidQuote{},
	}
	for _, quote := range answer.Quotes {
		chunk, ok := byShortID[normalizeCitedID(quote.ChunkID)]
		if !ok {
			report.InvalidQuotes = append(report.InvalidQuotes, domain.InvalidQuote{
				QuoteTitle: quote.QuoteTitle,
				ChunkID:    quote.ChunkID,
				Reason:     domain.InvalidReasonUnknownChunk,
			})
			continue
		}
		similarity := coverageSimilarity(quote.QuoteText, chunk.Text)
		if similarity < v.threshold {
			report.InvalidQuotes = append(report.InvalidQuotes, domain.InvalidQuote{
				QuoteTitle: quote.QuoteTitle,
				ChunkID:    quote.ChunkID,
				Reason:     domain.InvalidReasonLowSimilarity,
				Similarity: similarity,
			})
			continue
		}
		report.ValidQuotes++
	}

	report.ValidationScore = float64(report.ValidQuotes) / float64(report.TotalQuotes)
	report.IsValid = report.ValidQuotes == report.TotalQuotes
	if !report.IsValid {
		v.logger.Warn("quote_validation_invalid",
			"valid_quotes", report.ValidQuotes,
			"total_quotes", report.TotalQuotes,
			"score", report.ValidationScore,
		)
	}
	return report
}

// normalizeCitedID accepts ids cited as "CHUNK_1a2b3c4d" or in upper case.
func normalizeCitedID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.Trim(id, "[]:")
	if len(id) > len("CHUNK_") && strings.EqualFold(id[:len("CHUNK_")], "CHUNK_") {
		id = id[len("CHUNK_"):]
	}
	return strings.ToLower(id)
}
