package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kw-listing/internal/config"
	"kw-listing/internal/llm"
	"kw-listing/internal/logging"
	"kw-listing/internal/pipeline"
)

// generator is the subset of *llm.Client the service needs.
type generator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Response, error)
}

// llmService adapts the chat client to pipeline.TextService. Transport
// failures are retried with backoff; the pipeline decides what a final
// failure means for each stage.
type llmService struct {
	client      generator
	provider    string
	providerCfg config.ProviderConfig
	apiKey      string
	maxRetries  int
	logger      *logging.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func newLLMService(client generator, cfg *config.Config, apiKey string, logger *logging.Logger) *llmService {
	return &llmService{
		client:      client,
		provider:    cfg.Provider,
		providerCfg: cfg.Providers[cfg.Provider],
		apiKey:      apiKey,
		maxRetries:  2,
		logger:      logger,
	}
}

func (s *llmService) Complete(ctx context.Context, p pipeline.Prompt) (string, error) {
	var text string
	err := withExponentialBackoff(ctx, retryOptions{
		MaxRetries: s.maxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Jitter:     0.25,
		Sleep:      s.sleep,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			s.logger.Emit(logging.Event{
				Level:   "warn",
				Event:   "retry",
				Stage:   p.Task,
				Attempt: attempt,
				WaitMS:  wait.Milliseconds(),
				Message: fmt.Sprintf("第 %d 次请求失败，%s 后重试", attempt, wait.Round(time.Millisecond)),
				Error:   err.Error(),
			})
		},
	}, func(attempt int) error {
		s.logger.Emit(logging.Event{Event: "api_request", Stage: p.Task, Provider: s.provider, Model: s.providerCfg.Model, Attempt: attempt})
		resp, err := s.client.Generate(ctx, llm.Request{
			Provider:     s.provider,
			BaseURL:      s.providerCfg.BaseURL,
			Model:        s.providerCfg.Model,
			APIKey:       s.apiKey,
			SystemPrompt: p.System,
			UserPrompt:   p.User,
			JSONMode:     p.JSON,
			Temperature:  s.providerCfg.Temperature,
		})
		if err != nil {
			s.logger.Emit(logging.Event{Level: "warn", Event: "api_error", Stage: p.Task, Attempt: attempt, Error: err.Error()})
			return err
		}
		s.logger.Emit(logging.Event{Event: "api_ok", Stage: p.Task, Attempt: attempt, LatencyMS: resp.LatencyMS})
		text = strings.TrimSpace(resp.Text)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
