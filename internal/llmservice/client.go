package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-assistant/internal/config"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
)

var (
	thinkRe = regexp.MustCompile(models.ThinkTag)
	// openai: "API returned unexpected status code: 503: ...", ollama: "503 Service Unavailable: ..."
	statusRe = regexp.MustCompile(`(?:status code: |^)(\d{3})\b`)

	errEmptyResponse = errors.New("empty response from model")
)

// Generator turns chat messages into an answer through a langchaingo model.
type Generator struct {
	llm        llms.Model
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
}

// New creates a Generator for the provider in llmConfig ("openai" for any
// OpenAI compatible endpoint, or "ollama").
func New(llmConfig *config.LLMConfig) (*Generator, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("base_url", llmConfig.BaseURL).
		Str("model", llmConfig.Model).Msg("Creating generator")

	timeout := time.Duration(llmConfig.TimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: timeout}

	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
			openai.WithHTTPClient(httpClient),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(llmConfig.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", llmConfig.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("error initializing llm: %w", err)
	}
	return NewWithModel(llm, llmConfig.MaxRetries, timeout), nil
}

// NewWithModel wraps an existing model. A zero timeout means no per-call limit.
func NewWithModel(llm llms.Model, maxRetries int, timeout time.Duration) *Generator {
	return &Generator{
		llm:        llm,
		maxRetries: maxRetries,
		timeout:    timeout,
		backoff:    time.Second,
	}
}

// Generate sends messages to the model and returns the first choice with any
// <think> section removed. Only transient failures are retried. Transport
// failures that survive the retries are
// reported as models.ErrModelUnavailable, every other failure as
// models.ErrGenerationFailed.
func (g *Generator) Generate(ctx context.Context, messages []llms.MessageContent, temperature float64) (string, error) {
	log.Debug().Int("messages", len(messages)).Float64("temperature", temperature).Msg("Generating content")

	text, err := helper.Retry(ctx, "generate", g.maxRetries, g.backoff, func() (string, error) {
		callCtx, cancel := g.callContext(ctx)
		defer cancel()

		res, err := g.llm.GenerateContent(callCtx, messages, llms.WithTemperature(temperature))
		if err != nil {
			if !isTransient(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if len(res.Choices) == 0 {
			return "", backoff.Permanent(errEmptyResponse)
		}
		return res.Choices[0].Content, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if isUnavailable(err) {
			return "", fmt.Errorf("%w: %w", models.ErrModelUnavailable, err)
		}
		return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
	}
	return StripThink(text), nil
}

func (g *Generator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// StripThink removes reasoning sections emitted by some models.
func StripThink(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// isTransient reports whether a retry may succeed: transport failures,
// rate limiting and server side errors.
func isTransient(err error) bool {
	if isUnavailable(err) {
		return true
	}
	m := statusRe.FindStringSubmatch(err.Error())
	if m == nil {
		return false
	}
	code, _ := strconv.Atoi(m[1])
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func isUnavailable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
