// Package dispatcher owns the single per-request pipeline: parse the
// client's wire bytes, route to a healthy target, acquire a credential,
// rewrite and emit the provider's wire bytes, issue the upstream HTTP
// call, and convert the result back to the client's dialect while
// recording a usage row for routing, credential and upstream outcomes,
// successful or not. Internal failures (an unknown client dialect, no
// usable provider dialect, a failed request emit, header injection or
// request build, or a failed client-side emit or encode) return an error
// without writing a usage row.
package dispatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/plexus/gateway/common/helper"
	"github.com/plexus/gateway/common/logger"
	"github.com/plexus/gateway/config"
	"github.com/plexus/gateway/cooldown"
	"github.com/plexus/gateway/credential"
	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/metrics"
	"github.com/plexus/gateway/router"
	"github.com/plexus/gateway/unified"
	"github.com/plexus/gateway/usage"
	"github.com/plexus/gateway/usage/tokencount"
)

// defaultContextWindow and minCompletionTokens size an effective
// max_tokens default when the client didn't supply one; model configs
// carry no context window, so defaultContextWindow is used for every model.
const (
	defaultContextWindow = 128_000
	minCompletionTokens  = 1024
)

// DispatchContext is the explicit, bounded state threaded through one
// request's pipeline — replacing the unbounded per-request context
// object pattern with named fields set exactly once each, at the step
// that produces them.
type DispatchContext struct {
	RequestID       string
	SourceIP        string
	APIKeyID        string
	ClientDialect   dialect.Name
	OutgoingDialect dialect.Name

	Unified *unified.Request

	ChosenTarget router.Target
	Credential   credential.Credential

	StartTime time.Time
	TTFTMs    *int64
}

// Dispatcher wires together every component a dispatch needs: it holds no
// process-wide globals itself, taking the router, cooldown manager,
// credential pools, and usage tracker as constructor dependencies.
type Dispatcher struct {
	router   *router.Router
	cooldown *cooldown.Manager
	pools    map[string]*credential.Pool // keyed by provider id
	tracker  *usage.Tracker
	configs  *config.Store

	unaryClient     *http.Client
	streamingClient *http.Client
}

// New builds a Dispatcher. pools must have one entry per configured
// provider id that carries credentials (api_key or oauth accounts).
func New(r *router.Router, cd *cooldown.Manager, pools map[string]*credential.Pool, tracker *usage.Tracker, configs *config.Store) *Dispatcher {
	return &Dispatcher{
		router: r, cooldown: cd, pools: pools, tracker: tracker, configs: configs,
		unaryClient:     newUnaryClient(),
		streamingClient: newStreamingClient(),
	}
}

// Result is a completed unary dispatch's wire bytes plus enough metadata
// for the HTTP layer to set headers.
type Result struct {
	Body        []byte
	ContentType string
}

// Dispatch runs the full unary pipeline for one client request.
func (d *Dispatcher) Dispatch(ctx context.Context, dctx *DispatchContext, rawBody []byte) (*Result, error) {
	dctx.StartTime = time.Now()

	clientTransformer, err := dialect.Get(dctx.ClientDialect)
	if err != nil {
		return nil, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	req, err := clientTransformer.ParseRequest(rawBody)
	if err != nil {
		d.recordFailure(ctx, dctx, nil, "parse_error", err)
		return nil, toDispatchError(err)
	}
	req.IncomingDialect = string(dctx.ClientDialect)
	dctx.Unified = req

	target, derr := d.route(req)
	if derr != nil {
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return nil, derr
	}
	dctx.ChosenTarget = target

	cred, derr := d.acquireCredential(ctx, target)
	if derr != nil {
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return nil, derr
	}
	dctx.Credential = cred

	chosenDialect, err := router.ChooseOutgoingDialect(target, req.IncomingDialect)
	if err != nil {
		return nil, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}
	outgoing := dialect.Name(chosenDialect)
	dctx.OutgoingDialect = outgoing
	upstreamTransformer, err := dialect.Get(outgoing)
	if err != nil {
		return nil, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	rewritten := d.rewriteRequest(req, target, cred, outgoing)
	rewritten.Stream = false

	body, err := upstreamTransformer.EmitRequest(rewritten)
	if err != nil {
		return nil, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}
	body, err = d.applyRequiredInjections(body, outgoing, cred)
	if err != nil {
		return nil, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	httpReq, err := d.buildUpstreamRequest(ctx, target, cred, outgoing, upstreamTransformer, rewritten, body)
	if err != nil {
		return nil, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	resp, err := d.unaryClient.Do(httpReq)
	if err != nil {
		derr := d.classifyTransportError(ctx, target, cred, err)
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return nil, derr
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		derr := newError(KindUpstreamServerError, "read upstream body: "+err.Error())
		d.markFailure(ctx, target, cred, cooldown.ReasonUpstream5xx)
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return nil, derr
	}

	derr2 := d.classifyStatus(ctx, target, cred, resp.StatusCode, respBytes)
	if derr2 != nil {
		d.recordFailure(ctx, dctx, req, string(derr2.Kind), derr2)
		return nil, derr2
	}
	d.markSuccess(ctx, target, cred)

	unifiedResp, err := upstreamTransformer.ParseResponse(respBytes)
	if err != nil {
		derr := &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
		d.recordFailure(ctx, dctx, req, string(derr.Kind), derr)
		return nil, derr
	}

	clientBytes, err := clientTransformer.EmitResponse(unifiedResp)
	if err != nil {
		return nil, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	d.recordSuccess(ctx, dctx, req, unifiedResp.Usage, false)
	return &Result{Body: clientBytes, ContentType: "application/json"}, nil
}

func toDispatchError(err error) *Error {
	var pe *dialect.ParseError
	if errors.As(err, &pe) {
		return &Error{Kind: KindParse, StatusCode: statusFor(KindParse), Field: pe.Field, Message: pe.Reason}
	}
	return newError(KindParse, err.Error())
}

func (d *Dispatcher) route(req *unified.Request) (router.Target, *Error) {
	target, err := d.router.Resolve(req.Model, req.IncomingDialect)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrModelNotFound):
			return router.Target{}, newError(KindModelNotFound, err.Error())
		case errors.Is(err, router.ErrNoHealthyTarget):
			return router.Target{}, newError(KindNoHealthyTarget, err.Error())
		default:
			return router.Target{}, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
		}
	}
	return target, nil
}

func (d *Dispatcher) acquireCredential(ctx context.Context, target router.Target) (credential.Credential, *Error) {
	pool, ok := d.pools[target.ProviderID]
	if !ok {
		return credential.Credential{}, &Error{Kind: KindInternal, StatusCode: 500, Message: "no credential pool for provider " + target.ProviderID}
	}

	cred, err := pool.Take(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrAllAccountsExhausted) {
			return credential.Credential{}, newError(KindAllAccountsExhausted, err.Error())
		}
		return credential.Credential{}, &Error{Kind: KindInternal, StatusCode: 500, Message: err.Error()}
	}

	cred, err = pool.RefreshIfNeeded(ctx, cred)
	if err != nil {
		return credential.Credential{}, newError(KindUpstreamAuth, "oauth refresh failed: "+err.Error())
	}
	return cred, nil
}

// rewriteRequest implements step 5: canonical slug substitution and the
// claude-code system-block injection. max_tokens defaulting happens here
// too, sized off a best-effort prompt token estimate since provider
// configs carry no per-model context window.
func (d *Dispatcher) rewriteRequest(req *unified.Request, target router.Target, cred credential.Credential, outgoing dialect.Name) *unified.Request {
	out := *req
	out.Model = target.ModelSlug

	rewritten := &out
	if requiresClaudeCodeInjection(outgoing, cred) {
		rewritten = injectClaudeCodeSystemBlock(rewritten)
	}
	if rewritten.MaxTokens == nil {
		mt := tokencount.DefaultMaxTokens(rewritten, defaultContextWindow, minCompletionTokens)
		rewritten.MaxTokens = &mt
	}
	return rewritten
}

// applyRequiredInjections implements the claude-code metadata.user_id
// injection on the already-emitted wire bytes (step 6, tail end).
func (d *Dispatcher) applyRequiredInjections(body []byte, outgoing dialect.Name, cred credential.Credential) ([]byte, error) {
	if !requiresClaudeCodeInjection(outgoing, cred) {
		return body, nil
	}
	return injectClaudeCodeMetadata(body, cred.UserIdentifier)
}

func (d *Dispatcher) buildUpstreamRequest(ctx context.Context, target router.Target, cred credential.Credential, outgoing dialect.Name, t dialect.Transformer, req *unified.Request, body []byte) (*http.Request, error) {
	url := target.Provider.BaseURL + t.EndpointPath(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	for k, v := range target.Provider.Headers {
		httpReq.Header.Set(k, v)
	}

	switch cred.Kind {
	case credential.KindAPIKey:
		setAuthHeader(httpReq, outgoing, cred.APIKey)
	case credential.KindOAuth:
		httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	if requiresClaudeCodeInjection(outgoing, cred) {
		for k, v := range claudeCodeHeaders() {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

// setAuthHeader applies the provider-dialect-appropriate header shape for
// a plain api_key credential.
func setAuthHeader(req *http.Request, outgoing dialect.Name, apiKey string) {
	switch outgoing {
	case dialect.Messages:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case dialect.Gemini:
		req.Header.Set("x-goog-api-key", apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func (d *Dispatcher) classifyTransportError(ctx context.Context, target router.Target, cred credential.Credential, err error) *Error {
	if ctx.Err() != nil {
		return newError(KindClientDisconnect, "client disconnected")
	}
	d.markFailure(ctx, target, cred, cooldown.ReasonUpstream5xx)
	return newError(KindUpstreamServerError, "upstream request failed: "+err.Error())
}

// classifyStatus implements step 9's failure classification table.
func (d *Dispatcher) classifyStatus(ctx context.Context, target router.Target, cred credential.Credential, status int, body []byte) *Error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		d.markFailure(ctx, target, cred, cooldown.ReasonAuth)
		return newError(KindUpstreamAuth, "upstream auth failure")
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		reason := cooldown.ReasonUpstream5xx
		if status == http.StatusTooManyRequests {
			reason = cooldown.ReasonRateLimit
		}
		d.markFailure(ctx, target, cred, reason)
		if status == http.StatusTooManyRequests {
			return newError(KindUpstreamRateLimited, "upstream rate limited")
		}
		return newError(KindUpstreamServerError, "upstream server error")
	case status >= 400:
		return &Error{Kind: KindUpstreamClientError, StatusCode: http.StatusBadGateway, Message: "upstream client error", Upstream: body}
	default:
		return nil
	}
}

func (d *Dispatcher) markFailure(ctx context.Context, target router.Target, cred credential.Credential, reason cooldown.Reason) {
	d.cooldown.MarkFailure(ctx, d.cooldownKey(target, cred), reason)
}

func (d *Dispatcher) markSuccess(ctx context.Context, target router.Target, cred credential.Credential) {
	d.cooldown.MarkSuccess(ctx, d.cooldownKey(target, cred))
}

func (d *Dispatcher) cooldownKey(target router.Target, cred credential.Credential) string {
	if cred.Kind == credential.KindOAuth {
		return cooldown.AccountKey(target.ProviderID, cred.UserIdentifier)
	}
	return cooldown.Key(target.ProviderID)
}

func (d *Dispatcher) recordSuccess(ctx context.Context, dctx *DispatchContext, req *unified.Request, u unified.Usage, streamed bool) {
	d.recordOutcome(ctx, dctx, req, u, "ok", "", "", streamed)
}

func (d *Dispatcher) recordFailure(ctx context.Context, dctx *DispatchContext, req *unified.Request, status string, err error) {
	var u unified.Usage
	var code, msg string
	if err != nil {
		msg = err.Error()
	}
	if de, ok := err.(*Error); ok {
		code = string(de.Kind)
	}
	d.recordOutcome(ctx, dctx, req, u, status, code, msg, false)
}

func (d *Dispatcher) recordOutcome(ctx context.Context, dctx *DispatchContext, req *unified.Request, u unified.Usage, status, errCode, errMsg string, streamed bool) {
	rec := usage.Record{
		RequestID: dctx.RequestID, Timestamp: time.Now(), SourceIP: dctx.SourceIP, APIKeyID: dctx.APIKeyID,
		IncomingDialect: string(dctx.ClientDialect), OutgoingDialect: string(dctx.OutgoingDialect),
		InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, CacheReadTokens: u.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens, ReasoningTokens: u.ReasoningTokens, TotalTokens: u.TotalTokens,
		DurationMs: helper.CalcElapsedTime(dctx.StartTime), IsStreamed: streamed,
		ResponseStatus: status, ErrorCode: errCode, ErrorMessage: errMsg,
	}
	if req != nil {
		rec.IncomingModelAlias = req.Model
	}
	if dctx.ChosenTarget.ProviderID != "" {
		rec.SelectedProvider = dctx.ChosenTarget.ProviderID
		rec.SelectedModelSlug = dctx.ChosenTarget.ModelSlug
	}
	if dctx.TTFTMs != nil {
		rec.TTFTMs = dctx.TTFTMs
	}

	snap := d.configs.Get()
	if pricing, ok := snap.Pricing[rec.SelectedModelSlug]; ok && status == "ok" {
		cost := usage.Price(pricing, u, nil)
		rec.CostUSD = cost.CostUSD
		rec.PricingUnknown = cost.PricingUnknown
	}

	d.tracker.Record(ctx, rec)

	var ttftSeconds *float64
	if rec.TTFTMs != nil {
		v := float64(*rec.TTFTMs) / 1000
		ttftSeconds = &v
	}
	metrics.ObserveOutcome(rec.SelectedProvider, rec.SelectedModelSlug, status, streamed, float64(rec.DurationMs)/1000, ttftSeconds)
	if status == "ok" {
		metrics.ObserveUsage(rec.SelectedProvider, rec.SelectedModelSlug, rec.InputTokens, rec.OutputTokens, rec.CacheReadTokens, rec.CacheCreationTokens, rec.ReasoningTokens, rec.CostUSD)
	}

	if errMsg != "" {
		logger.L().Warn("dispatch failed", zap.String("request_id", dctx.RequestID), zap.String("status", status), zap.String("error", errMsg))
	}
}
