package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

const defaultMaxHops = 3

type multiHopInput struct {
	query       string
	sparseQuery string
	params      domain.FusionParams
	maxChunks   int
	useMultiHop bool
	teams       []string
	catalogue   []domain.Team
	userKey     string
}

type multiHopOutput struct {
	chunks        []domain.DocumentChunk
	hops          []domain.HopEvaluation
	chunkHops     map[string]int
	embeddingCost float64
	retrievals    int
}

// MultiHopController accumulates passages over up to maxHops retrievals,
// asking the hop judge after each one whether more context is needed.
type MultiHopController struct {
	retriever chunkRetriever
	judge     hopEvaluator
	maxHops   int
}

func NewMultiHopController(retriever chunkRetriever, judge hopEvaluator, maxHops int) *MultiHopController {
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	return &MultiHopController{retriever: retriever, judge: judge, maxHops: maxHops}
}

func (c *MultiHopController) run(ctx context.Context, in multiHopInput) (*multiHopOutput, error) {
	out := &multiHopOutput{chunkHops: make(map[string]int)}
	ids := domain.NewShortIDSet()

	accept := func(round []domain.DocumentChunk, hop int) {
		for _, chunk := range round {
			shortID, seen := ids.Claim(chunk.ChunkID)
			if seen {
				continue
			}
			chunk.ShortID = shortID
			chunk.HopNumber = hop
			out.chunks = append(out.chunks, chunk)
			out.chunkHops[shortID] = hop
		}
	}

	round, err := c.retriever.retrieve(ctx, in.query, in.sparseQuery, in.params)
	if err != nil {
		return nil, err
	}
	accept(round.chunks, 0)
	out.embeddingCost += round.embeddingCost
	out.retrievals++
	lastRetrieval := round

	if in.useMultiHop && c.judge != nil {
		for hop := 1; hop < c.maxHops; hop++ {
			evalStarted := time.Now()
			verdict, err := c.judge.evaluate(ctx, hopJudgeInput{
				query:   in.query,
				chunks:  out.chunks,
				teams:   in.catalogue,
				userKey: in.userKey,
			})
			evaluation := domain.HopEvaluation{
				HopNumber:       hop - 1,
				RetrievalTimeS:  lastRetrieval.duration.Seconds(),
				EvaluationTimeS: time.Since(evalStarted).Seconds(),
				CostEstimate:    lastRetrieval.embeddingCost,
				FilteredTeams:   in.teams,
			}
			if err != nil {
				evaluation.Error = err.Error()
				out.hops = append(out.hops, evaluation)
				slog.Warn("hop_judge_failed", "hop", hop-1, "error", err)
				break
			}

			evaluation.CanAnswer = verdict.judgement.CanAnswer
			evaluation.Reasoning = verdict.judgement.Reasoning
			evaluation.MissingQuery = verdict.judgement.MissingQuery
			evaluation.CostEstimate += verdict.cost
			out.hops = append(out.hops, evaluation)
			slog.Info("hop_evaluated",
				"hop", hop-1,
				"can_answer", evaluation.CanAnswer,
				"chunks", len(out.chunks),
				"teams", len(in.teams),
			)

			followUp := strings.TrimSpace(evaluation.FollowUpQuery())
			if evaluation.CanAnswer || followUp == "" {
				break
			}

			round, err := c.retriever.retrieve(ctx, followUp, Normalize(followUp), in.params)
			if err != nil {
				return nil, err
			}
			accept(round.chunks, hop)
			out.embeddingCost += round.embeddingCost
			out.retrievals++
			lastRetrieval = round
		}
	}

	// A cancelled request never yields a partial context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortByRelevance(out.chunks)
	out.chunks = trimCandidates(out.chunks, in.maxChunks)
	for shortID := range out.chunkHops {
		if !containsShortID(out.chunks, shortID) {
			delete(out.chunkHops, shortID)
		}
	}
	return out, nil
}

// sortByRelevance orders accumulated chunks by dense relevance and falls back
// to the fusion order for ties.
func sortByRelevance(chunks []domain.DocumentChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Relevance != chunks[j].Relevance {
			return chunks[i].Relevance > chunks[j].Relevance
		}
		if chunks[i].HopNumber != chunks[j].HopNumber {
			return chunks[i].HopNumber < chunks[j].HopNumber
		}
		return rankedBefore(chunks[i], chunks[j])
	})
}

func containsShortID(chunks []domain.DocumentChunk, shortID string) bool {
	for _, c := range chunks {
		if c.ShortID == shortID {
			return true
		}
	}
	return false
}
