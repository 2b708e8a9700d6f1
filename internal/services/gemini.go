package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModelName       = "gemini-2.5-flash"
	defaultEmbedModel      = "text-embedding-004"
	defaultCallTimeout     = 60 * time.Second
	maxEmbeddingChars      = 40000
	maxOutputTokens        = 8192
	jsonResponseMIME       = "application/json"
	defaultBreakerTrips    = 5
	defaultBreakerCooldown = 60 * time.Second
)

// RequestKind names the request shapes sent to the model.
type RequestKind string

const (
	RequestParseCV           RequestKind = "parse_cv"
	RequestEvaluateCV        RequestKind = "evaluate_cv"
	RequestParseProject      RequestKind = "parse_project"
	RequestEvaluateProject   RequestKind = "evaluate_project"
	RequestSynthesizeSummary RequestKind = "synthesize_summary"
)

type ModelRequest struct {
	Kind        RequestKind
	Prompt      string
	Temperature float32
}

// ModelGateway sends one request to the generative model. Failures are *EvaluationError.
type ModelGateway interface {
	// GenerateStructured decodes a JSON response into target and validates it.
	GenerateStructured(ctx context.Context, req ModelRequest, target any) error
	GenerateText(ctx context.Context, req ModelRequest) (string, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type GeminiService interface {
	ModelGateway
	Embedder
}

// genaiModels is the subset of *genai.Models used here.
type genaiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type GeminiOptions struct {
	APIKey           string
	Model            string
	EmbeddingModel   string
	CallTimeout      time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

type geminiService struct {
	models      genaiModels
	modelName   string
	embedModel  string
	callTimeout time.Duration
	cooldown    time.Duration
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

func NewGeminiService(ctx context.Context, opts GeminiOptions, logger *zap.Logger) (GeminiService, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newGeminiService(client.Models, opts, logger), nil
}

func newGeminiService(models genaiModels, opts GeminiOptions, logger *zap.Logger) *geminiService {
	if opts.Model == "" {
		opts.Model = defaultModelName
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = defaultEmbedModel
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = defaultBreakerTrips
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}

	threshold := opts.BreakerThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only provider-side trouble counts against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !classifyProviderError(err).Retryable()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &geminiService{
		models:      models,
		modelName:   opts.Model,
		embedModel:  opts.EmbeddingModel,
		callTimeout: opts.CallTimeout,
		cooldown:    opts.BreakerCooldown,
		breaker:     breaker,
		logger:      logger,
	}
}

// GenerateEmbedding implements GeminiService.
func (g *geminiService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	text = truncateUTF8(text, maxEmbeddingChars)

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.models.EmbedContent(callCtx, g.embedModel, genai.Text(text), nil)
	})
	if err != nil {
		return nil, g.classify(fmt.Errorf("failed to generate embedding: %w", err))
	}

	result, _ := out.(*genai.EmbedContentResponse)
	if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, newErrorf(KindProviderUnavailable, "empty embedding result")
	}

	return result.Embeddings[0].Values, nil
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// GenerateStructured implements GeminiService.
func (g *geminiService) GenerateStructured(ctx context.Context, req ModelRequest, target any) error {
	temperature := req.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  maxOutputTokens,
		ResponseMIMEType: jsonResponseMIME,
	}

	text, err := g.generate(ctx, req, config)
	if err != nil {
		return err
	}

	if err := decodeJSONResponse(text, target); err != nil {
		return newError(KindMalformedOutput, fmt.Errorf("%s: %w", req.Kind, err))
	}
	if err := validateOutput(target); err != nil {
		return newError(KindMalformedOutput, fmt.Errorf("%s: %w", req.Kind, err))
	}

	return nil
}

// GenerateText implements GeminiService.
func (g *geminiService) GenerateText(ctx context.Context, req ModelRequest) (string, error) {
	temperature := req.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxOutputTokens,
	}

	return g.generate(ctx, req, config)
}

func (g *geminiService) generate(ctx context.Context, req ModelRequest, config *genai.GenerateContentConfig) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", newErrorf(KindInvalidInput, "%s: prompt must not be empty", req.Kind)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	started := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.models.GenerateContent(callCtx, g.modelName, genai.Text(prompt), config)
	})
	if err != nil {
		classified := g.classify(err)
		g.logger.Warn("gemini request failed",
			zap.String("request", string(req.Kind)),
			zap.String("kind", string(classified.Kind)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		return "", classified
	}

	resp, _ := out.(*genai.GenerateContentResponse)
	text := responseText(resp)
	if text == "" {
		return "", newErrorf(KindMalformedOutput, "%s: gemini api returned empty response", req.Kind)
	}

	g.logger.Debug("gemini response received",
		zap.String("request", string(req.Kind)),
		zap.Int("prompt_length", len(prompt)),
		zap.Int("response_length", len(text)),
		zap.Duration("elapsed", time.Since(started)),
	)

	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
		// First candidate with content wins.
		if builder.Len() > 0 {
			break
		}
	}

	return strings.TrimSpace(builder.String())
}

// classify tags err and, while the breaker is open, asks callers to wait out the cooldown.
func (g *geminiService) classify(err error) *EvaluationError {
	classified := classifyProviderError(err)
	if errors.Is(err, gobreaker.ErrOpenState) {
		hinted := *classified
		hinted.RetryAfter = g.cooldown
		return &hinted
	}
	return classified
}

// classifyProviderError turns a transport or API failure into a tagged error.
func classifyProviderError(err error) *EvaluationError {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(KindTimeout, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return newError(KindProviderUnavailable, err)
	}

	if code, ok := apiErrorCode(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return newError(KindRateLimited, err)
		case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
			return newError(KindTimeout, err)
		case code >= http.StatusInternalServerError:
			return newError(KindProviderUnavailable, err)
		default:
			return newError(KindProviderRejected, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, err)
	}

	return newError(KindProviderUnavailable, err)
}

func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

func decodeJSONResponse(response string, target any) error {
	jsonStr := extractJSON(response)

	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// extractJSON strips markdown fences and surrounding prose from a JSON object or array.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	startObj := strings.Index(text, "{")
	startArr := strings.Index(text, "[")
	endObj := strings.LastIndex(text, "}")
	endArr := strings.LastIndex(text, "]")

	if startObj != -1 && endObj > startObj && (startArr == -1 || startObj < startArr) {
		return text[startObj : endObj+1]
	}
	if startArr != -1 && endArr > startArr {
		return text[startArr : endArr+1]
	}

	return strings.TrimSpace(text)
}
