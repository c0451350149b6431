// Package gateway orchestrates the request-gating pipeline: authentication,
// rate limiting, profile resolution, override merging, and the upstream
// completion call. Every failure is resolved here into exactly one outcome
// from the error taxonomy; nothing is retried.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Leikymain/chatbot-api/internal/auth"
	"github.com/Leikymain/chatbot-api/internal/client"
	"github.com/Leikymain/chatbot-api/internal/domain"
	"github.com/Leikymain/chatbot-api/internal/metrics"
	"github.com/Leikymain/chatbot-api/internal/ratelimit"
	"github.com/Leikymain/chatbot-api/internal/storage"
	"github.com/Leikymain/chatbot-api/internal/tokens"
)

const outcomeOK = "ok"

// Option configures the pipeline.
type Option func(*Pipeline)

// WithStore sets the usage store completed requests are recorded to.
func WithStore(store storage.UsageStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline gates completion requests. All collaborators are supplied at
// construction and never swapped afterwards.
type Pipeline struct {
	verifier    auth.Verifier
	limiter     *ratelimit.Limiter
	registry    *client.Registry
	provider    domain.CompletionProvider
	model       string
	callTimeout time.Duration

	store     storage.UsageStore
	metrics   *metrics.Metrics
	estimator *tokens.Estimator
	logger    *slog.Logger
	now       func() time.Time
}

// New creates the pipeline. model is the upstream model identifier and
// callTimeout bounds every upstream completion call.
func New(verifier auth.Verifier, limiter *ratelimit.Limiter, registry *client.Registry,
	provider domain.CompletionProvider, model string, callTimeout time.Duration, opts ...Option) *Pipeline {

	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	p := &Pipeline{
		verifier:    verifier,
		limiter:     limiter,
		registry:    registry,
		provider:    provider,
		model:       model,
		callTimeout: callTimeout,
		estimator:   tokens.NewEstimator(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Verify checks a credential against the configured verifier without running
// the rest of the pipeline.
func (p *Pipeline) Verify(ctx context.Context, credential string) auth.Decision {
	return p.verifier.Verify(ctx, credential)
}

// Handle runs one request through the pipeline, short-circuiting on the first
// failure. identity is the caller's network origin (the rate-limiter key),
// credential the bearer token ("" when none was presented). The returned rate
// result is nil when the request never reached the limiter.
func (p *Pipeline) Handle(ctx context.Context, req *domain.ChatRequest, identity, credential string) (*domain.ChatResponse, *ratelimit.Result, *domain.APIError) {
	// 1. Authentication. The mandatory pipeline never downgrades to
	// anonymous; a missing credential is itself a terminal outcome.
	if credential == "" {
		return p.fail(ctx, req, identity, nil,
			domain.ErrUnauthenticated("missing Authorization: Bearer <token> header"))
	}

	decision := p.verifier.Verify(ctx, credential)
	if err := decision.Err(); err != nil {
		return p.fail(ctx, req, identity, nil, err)
	}

	// 2. Rate limiting. An admitted slot stays consumed even when a later
	// step fails.
	rate := p.limiter.Allow(identity, p.now())
	if !rate.Allowed {
		if p.metrics != nil {
			p.metrics.ObserveThrottle(req.ClientID)
		}
		retry := rate.RetryAfter.Round(time.Second)
		if retry <= 0 {
			retry = time.Second
		}
		return p.fail(ctx, req, identity, &rate,
			domain.ErrThrottled(fmt.Sprintf("rate limit exceeded, retry in %s", retry)))
	}

	// 3. Profile resolution.
	profile, err := p.registry.Resolve(req.ClientID)
	if err != nil {
		return p.fail(ctx, req, identity, &rate, domain.AsAPIError(err))
	}

	// 4. Merge request overrides onto profile defaults; request values win.
	merged := p.merge(req, profile)

	if p.logger.Enabled(ctx, slog.LevelDebug) {
		p.logger.DebugContext(ctx, "dispatching completion",
			slog.String("client_id", req.ClientID),
			slog.Int("estimated_prompt_tokens", p.estimator.EstimatePrompt(merged.System, merged.Messages)),
			slog.Int("max_tokens", merged.MaxTokens),
		)
	}

	// 5. Upstream call under a bounded timeout, cancellable by the caller.
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	start := p.now()
	result, callErr := p.provider.Complete(callCtx, merged)
	elapsed := p.now().Sub(start)

	if callErr != nil {
		apiErr := domain.AsAPIError(callErr)
		if p.metrics != nil {
			p.metrics.ObserveUpstream(string(apiErr.Type), elapsed)
		}
		p.record(ctx, req, identity, "", domain.Usage{}, elapsed, apiErr)
		return p.failObserved(req, &rate, apiErr)
	}

	if p.metrics != nil {
		p.metrics.ObserveUpstream(outcomeOK, elapsed)
		p.metrics.ObserveRequest(req.ClientID, outcomeOK)
		p.metrics.ObserveTokens(req.ClientID, result.Usage.InputTokens, result.Usage.OutputTokens)
	}
	p.record(ctx, req, identity, result.Model, result.Usage, elapsed, nil)

	// 6. Timestamp is wall clock captured after the call returned; token
	// counts come verbatim from the upstream accounting.
	return &domain.ChatResponse{
		Response:   result.Text,
		TokensUsed: result.Usage.Total(),
		Timestamp:  p.now(),
	}, &rate, nil
}

// merge applies request-level overrides onto the resolved profile's defaults.
func (p *Pipeline) merge(req *domain.ChatRequest, profile client.Profile) *domain.CompletionRequest {
	system := profile.SystemPrompt
	if req.SystemPrompt != nil && *req.SystemPrompt != "" {
		system = *req.SystemPrompt
	}

	maxTokens := profile.MaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	return &domain.CompletionRequest{
		Model:       p.model,
		System:      system,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}

// fail finalizes a pre-upstream failure: metrics, usage record, log.
func (p *Pipeline) fail(ctx context.Context, req *domain.ChatRequest, identity string, rate *ratelimit.Result, apiErr *domain.APIError) (*domain.ChatResponse, *ratelimit.Result, *domain.APIError) {
	if p.metrics != nil {
		p.metrics.ObserveRequest(req.ClientID, string(apiErr.Type))
	}
	p.record(ctx, req, identity, "", domain.Usage{}, 0, apiErr)
	return nil, rate, apiErr
}

// failObserved finalizes an upstream failure whose metrics and usage record
// were already emitted at the call site.
func (p *Pipeline) failObserved(req *domain.ChatRequest, rate *ratelimit.Result, apiErr *domain.APIError) (*domain.ChatResponse, *ratelimit.Result, *domain.APIError) {
	if p.metrics != nil {
		p.metrics.ObserveRequest(req.ClientID, string(apiErr.Type))
	}
	return nil, rate, apiErr
}

// record writes a usage record when a store is configured. Recording is best
// effort; a storage failure never changes the request outcome.
func (p *Pipeline) record(ctx context.Context, req *domain.ChatRequest, identity, model string, usage domain.Usage, elapsed time.Duration, apiErr *domain.APIError) {
	if p.store == nil {
		return
	}

	status := outcomeOK
	if apiErr != nil {
		status = string(apiErr.Type)
	}

	rec := &storage.UsageRecord{
		ID:           uuid.New().String(),
		ClientID:     req.ClientID,
		Identity:     identity,
		Model:        model,
		Status:       status,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Duration:     elapsed,
		CreatedAt:    p.now(),
	}

	if err := p.store.RecordUsage(ctx, rec); err != nil {
		p.logger.WarnContext(ctx, "failed to record usage",
			slog.String("client_id", req.ClientID),
			slog.String("error", err.Error()),
		)
	}
}
