package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
	"github.com/kirillkom/rules-qa/internal/core/prompt"
	"github.com/kirillkom/rules-qa/internal/core/schema"
)

type hopJudgeInput struct {
	query   string
	chunks  []domain.DocumentChunk
	teams   []domain.Team
	userKey string
}

type hopVerdict struct {
	judgement domain.HopJudgement
	cost      float64
}

type hopEvaluator interface {
	evaluate(ctx context.Context, in hopJudgeInput) (hopVerdict, error)
}

type HopJudgeConfig struct {
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// HopJudge asks an LLM whether the accumulated passages answer the question.
type HopJudge struct {
	factory ports.ProviderFactory
	retry   ports.RetryPolicy
	cfg     HopJudgeConfig
}

func NewHopJudge(factory ports.ProviderFactory, retry ports.RetryPolicy, cfg HopJudgeConfig) *HopJudge {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &HopJudge{factory: factory, retry: retry, cfg: cfg}
}

func (j *HopJudge) evaluate(ctx context.Context, in hopJudgeInput) (hopVerdict, error) {
	provider, err := j.factory.Create(j.cfg.Model, in.userKey)
	if err != nil {
		return hopVerdict{}, fmt.Errorf("create judge provider: %w", err)
	}

	req := domain.GenerateRequest{
		Prompt: prompt.HopJudgePrompt(in.query, in.chunks, in.teams),
		Config: domain.GenerationConfig{
			MaxTokens:    j.cfg.MaxTokens,
			Temperature:  0,
			SystemPrompt: prompt.HopJudgeSystemPrompt,
			SchemaName:   domain.SchemaHopEvaluation,
			Timeout:      j.cfg.Timeout,
		},
	}

	var resp *domain.LLMResponse
	call := ports.RetryCall{
		Operation: "hop_judge",
		Provider:  provider.Name(),
		Model:     provider.Model(),
		Deadline:  j.cfg.Timeout,
	}
	err = runWithRetry(ctx, j.retry, call, func(ctx context.Context) error {
		out, err := provider.Generate(ctx, req)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		return hopVerdict{}, err
	}

	judgement, err := decodeHopJudgement(resp)
	if err != nil {
		return hopVerdict{}, err
	}
	return hopVerdict{
		judgement: judgement,
		cost:      domain.EstimateCost(resp.ModelVersion, resp.PromptTokens, resp.CompletionTokens),
	}, nil
}

func decodeHopJudgement(resp *domain.LLMResponse) (domain.HopJudgement, error) {
	if resp == nil {
		return domain.HopJudgement{}, fmt.Errorf("hop judge: empty response")
	}
	switch v := resp.StructuredOutput.(type) {
	case *domain.HopJudgement:
		if v != nil {
			return *v, nil
		}
	case domain.HopJudgement:
		return v, nil
	}
	out, err := schema.Validate(domain.SchemaHopEvaluation, resp.AnswerText)
	if err != nil {
		return domain.HopJudgement{}, domain.WrapError(domain.ErrSchemaValidation, "decode hop judgement", err)
	}
	return *out.(*domain.HopJudgement), nil
}

func runWithRetry(ctx context.Context, retry ports.RetryPolicy, call ports.RetryCall, fn func(context.Context) error) error {
	if retry == nil {
		return fn(ctx)
	}
	return retry.Do(ctx, call, fn)
}
