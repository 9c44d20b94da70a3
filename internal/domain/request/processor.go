package request

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/failover"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/pipeline"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/ratelimit"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/redact"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/resolve"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/store"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
	apperrors "github.com/ngoclaw/llm-interactive-proxy/pkg/errors"
)

// Config holds the application-wide settings Processor needs beyond its
// collaborator interfaces: defaults, banner text, and the middleware
// thresholds that are app config rather than per-session state.
type Config struct {
	CommandPrefix             string
	FunctionalBackends        []string
	DefaultBackend            string
	DefaultModel              string
	RecoveryPrompt            string
	AppName                   string
	AppVersion                string
	ThinkingBudgetCLIOverride bool
	SaveConfig                func(key string, value any) error
	Identity                  Identity

	LoopMinPatternLength int
	LoopMaxPatternLength int
	LoopRepeatThreshold  int

	EditPrecisionEnabled  bool
	EditPrecisionLowTemp  float64
	EditPrecisionMinTopP  float64

	ToolRepairEnabled bool
}

// Processor implements C11, the fixed ten-step request orchestration
// spec.md §4.11 describes.
type Processor struct {
	Store                 store.SessionStore
	Commands              *command.Registry
	Redactor              *redact.Redactor
	RateLimiter           *ratelimit.Limiter
	KeySource             failover.KeySource
	Backend               BackendDispatcher
	Capture               CaptureWriter
	ToolLoops             *pipeline.ToolLoopRegistry
	EditPrecisionRegistry *pipeline.EditPrecisionRegistry
	Resolver              *resolve.Resolver

	Config Config
}

// Incoming bundles the transport-derived context (C13's inputs) alongside
// the canonical request.
type Incoming struct {
	Resolve  resolve.Request
	ClientIP string
}

// Process runs the full §4.11 pipeline for one canonical request.
func (p *Processor) Process(ctx context.Context, in Incoming, req ChatRequest) (*ResponseEnvelope, error) {
	// Step 2: resolve session id (C13), fetch Session (C2), set agent.
	resolveReq := in.Resolve
	if resolveReq.SessionID == "" {
		resolveReq.SessionID = req.SessionID
	}
	sessionID, _ := p.Resolver.Resolve(resolveReq)
	sess := p.Store.Get(sessionID)
	if req.Agent != "" {
		sess.SetAgent(req.Agent)
	}
	state := sess.State()

	// Step 3: run the command parser/dispatcher over the messages.
	dispatcher := &command.Dispatcher{
		Registry:        p.Commands,
		PreserveUnknown: !state.Backend.InteractiveMode,
		Context: command.Context{
			CommandPrefix:             p.Config.CommandPrefix,
			FunctionalBackends:        p.Config.FunctionalBackends,
			ThinkingBudgetCLIOverride: p.Config.ThinkingBudgetCLIOverride,
			SaveConfig:                p.Config.SaveConfig,
		},
	}
	pr := dispatcher.ProcessMessages(req.Messages, state)
	state = pr.State
	sess.SetState(state)

	// Step 4: command-only synthetic reply.
	if pr.CommandExecuted && !anyResultCarriesData(pr.Results) && len(pr.Messages) < len(req.Messages) {
		return p.respondCommandOnly(sess, state, req, pr), nil
	}

	// Step 5 + 6: inject per-session parameters, resolve (backend, model).
	backend, model, oneOffConsumed := resolveBackendModel(state, req.Model, p.Config)
	llmReq := p.buildLLMRequest(sessionID, req, pr.Messages, state, model)

	// Step 7: redaction, applied to both the outbound request and the
	// capture mirror.
	redacted := p.Redactor.RedactMessages(pr.Messages)
	llmReq.Messages = toLLMMessages(redacted)

	// Step 8: build the attempt list and drive failover + dispatch
	// through wire capture.
	attempts := p.buildAttempts(state, backend, model, oneOffConsumed)
	if len(attempts) == 0 {
		return nil, apperrors.NewValidationError("no backend configured for this session")
	}

	limiter := &coordinatorLimiter{l: p.RateLimiter}
	meta := CaptureMeta{SessionID: sessionID, ClientIP: in.ClientIP, Agent: sess.GetAgent()}
	reqPayload := captureRequestPayload(llmReq)

	envelope, usage, finishReason, err := p.dispatchAndPipe(ctx, sessionID, llmReq, req.Stream, attempts, limiter, meta, reqPayload, state.Loop)

	// §4.10: exactly one retry on an empty non-streaming reply.
	if !req.Stream {
		if _, ok := apperrors.AsEmptyResponseRetry(err); ok {
			retryReq := *llmReq
			retryReq.Messages = append(append([]service.LLMMessage{}, llmReq.Messages...), service.LLMMessage{
				Role:    string(chatmsg.RoleUser),
				Content: p.Config.RecoveryPrompt,
			})
			envelope, usage, finishReason, err = p.dispatchAndPipe(ctx, sessionID, &retryReq, false, attempts, limiter, meta, captureRequestPayload(&retryReq), state.Loop)
		}
	}
	if err != nil {
		return nil, err
	}

	// Step 6 (continued) / Step 10: consume the one-off override and
	// record the interaction now that the call succeeded.
	next := state
	if oneOffConsumed {
		next = next.WithOneOffConsumed()
	}
	next = next.WithHelloRequested(false).WithInteractiveJustEnabled(false)
	sess.SetState(next)

	sess.AppendInteraction(store.Interaction{
		Prompt:     previewMessages(pr.Messages),
		Handler:    store.HandlerBackend,
		Backend:    backend,
		Model:      model,
		Project:    state.Project,
		Parameters: map[string]any{"temperature": llmReq.Temperature},
		Response:   preview(envelope.Content),
		Usage:      map[string]int{"tokens": usage.TokensUsed},
		Timestamp:  time.Now(),
	})

	envelope.SessionID = sessionID
	envelope.Backend = backend
	envelope.Model = model
	envelope.Usage = usage
	envelope.FinishReason = finishReason
	return envelope, nil
}

// dispatchAndPipe drives one failover+dispatch round (streaming or not)
// through the response middleware chain and returns the assembled
// envelope. For a streaming request the returned envelope's Stream field
// carries chunks that have already passed through the chain; Content/
// Usage/FinishReason are left zero and must be read off the stream by
// the caller (the HTTP/websocket transport).
func (p *Processor) dispatchAndPipe(ctx context.Context, sessionID string, llmReq *service.LLMRequest, isStream bool, attempts []failover.Attempt, limiter failover.Limiter, meta CaptureMeta, reqPayload []byte, loopCfg session.LoopConfig) (*ResponseEnvelope, Usage, string, error) {
	rc := pipeline.NewRequestContext(sessionID)
	chain := p.buildChain(sessionID, loopCfg, isStream)

	if isStream {
		deltaCh := make(chan service.StreamChunk)
		dialer := p.Backend.NewDialer(llmReq, true, deltaCh, p.Config.Identity)
		capturing := &capturingDialer{inner: dialer, capture: p.Capture, meta: meta, reqPayload: reqPayload, streaming: true}
		coord := failover.New(limiter, capturing)

		type outcome struct {
			res *failover.Result
			err error
		}
		outcomeCh := make(chan outcome, 1)
		go func() {
			res, err := coord.Run(ctx, attempts)
			close(deltaCh)
			outcomeCh <- outcome{res, err}
		}()

		normalized := stream.Normalize(ctx, deltaCh)
		out, errCh := chain.Run(ctx, normalized, rc)
		return &ResponseEnvelope{Stream: out}, Usage{}, "", firstOf(errCh, outcomeCh)
	}

	dialer := p.Backend.NewDialer(llmReq, false, nil, p.Config.Identity)
	capturing := &capturingDialer{inner: dialer, capture: p.Capture, meta: meta, reqPayload: reqPayload}
	coord := failover.New(limiter, capturing)

	res, err := coord.Run(ctx, attempts)
	if err != nil {
		return nil, Usage{}, "", mapDispatchError(err)
	}
	resp, _ := res.Payload.(*service.LLMResponse)
	if resp == nil {
		resp = &service.LLMResponse{}
	}

	src := stream.Single(resp.Content, resp.ToolCalls)
	out, errCh := chain.Run(ctx, src, rc)

	var text string
	var toolCalls []service.ToolCallInfo
	var finishReason string
	for item := range out {
		if item.ToolCall != nil {
			toolCalls = append(toolCalls, *item.ToolCall)
		}
		text += item.Text
		if item.IsDone {
			finishReason = item.FinishReason
		}
	}
	select {
	case chainErr := <-errCh:
		if chainErr != nil {
			return nil, Usage{}, "", chainErr
		}
	default:
	}

	return &ResponseEnvelope{Content: text, ToolCalls: toolCalls}, Usage{TokensUsed: resp.TokensUsed}, finishReason, nil
}

func firstOf(errCh <-chan error, outcomeCh <-chan struct {
	res *failover.Result
	err error
}) error {
	select {
	case err := <-errCh:
		return err
	case oc := <-outcomeCh:
		return mapDispatchError(oc.err)
	}
}

func mapDispatchError(err error) error {
	if err == nil {
		return nil
	}
	if rl, ok := err.(*failover.RateLimitedError); ok {
		return apperrors.NewRateLimitError(rl.Error())
	}
	return apperrors.NewBackendError("backend dispatch failed", err)
}

// buildChain assembles the C9/C10 middleware chain in priority order.
// Streaming chains omit the empty-response check (retrying a stream
// already relayed to the client is not meaningful).
func (p *Processor) buildChain(sessionID string, loopCfg session.LoopConfig, isStream bool) *pipeline.Chain {
	loopMW := pipeline.NewLoopDetectionMiddleware(loopCfg, p.ToolLoops, sessionID)
	if p.Config.LoopMinPatternLength > 0 {
		loopMW.MinPatternLength = p.Config.LoopMinPatternLength
	}
	if p.Config.LoopMaxPatternLength > 0 {
		loopMW.MaxPatternLength = p.Config.LoopMaxPatternLength
	}
	if p.Config.LoopRepeatThreshold > 0 {
		loopMW.RepeatThreshold = p.Config.LoopRepeatThreshold
	}

	mws := []pipeline.Middleware{
		loopMW,
		pipeline.NewEditPrecisionMiddleware(p.EditPrecisionRegistry, sessionID, p.Config.EditPrecisionEnabled),
		pipeline.NewToolRepairMiddleware(p.Config.ToolRepairEnabled),
		pipeline.NewRedactionMirrorMiddleware(p.Redactor),
	}
	if !isStream {
		mws = append(mws, pipeline.NewEmptyResponseMiddleware(p.Config.RecoveryPrompt))
	}
	return pipeline.NewChain(mws...)
}

func (p *Processor) buildLLMRequest(sessionID string, req ChatRequest, messages []chatmsg.Message, state *session.State, model string) *service.LLMRequest {
	llmReq := &service.LLMRequest{
		Model:       model,
		Stream:      req.Stream,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		ExtraParams: map[string]interface{}{},
	}
	switch {
	case req.Temperature != nil:
		llmReq.Temperature = *req.Temperature
	case state.Reasoning.TemperatureSet:
		llmReq.Temperature = state.Reasoning.Temperature
	}
	if req.TopP != nil {
		llmReq.ExtraParams["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		llmReq.MaxTokens = *req.MaxTokens
	}
	if state.Reasoning.ReasoningEffort != "" {
		llmReq.ExtraParams["reasoning_effort"] = string(state.Reasoning.ReasoningEffort)
	}
	if state.Reasoning.ThinkingBudget > 0 {
		llmReq.ExtraParams["thinking_budget"] = state.Reasoning.ThinkingBudget
	}
	if p.EditPrecisionRegistry != nil && p.Config.EditPrecisionEnabled {
		p.EditPrecisionRegistry.TuneRequest(sessionID, llmReq, p.Config.EditPrecisionLowTemp, p.Config.EditPrecisionMinTopP)
	}
	return llmReq
}

// buildAttempts implements step 6's backend/model resolution precedence
// feeding step 8's failover expansion: a one-off override bypasses named
// failover routes entirely (it names one explicit target), everything
// else goes through failover.BuildAttempts against a clone of state with
// the resolved backend bound, so the no-named-route fallback path uses
// the resolved backend rather than only whatever the session already had.
func (p *Processor) buildAttempts(state *session.State, backend, model string, oneOffConsumed bool) []failover.Attempt {
	if oneOffConsumed {
		ks := p.KeySource.KeysForBackend(backend)
		a := failover.Attempt{Backend: backend, Model: model}
		if len(ks) > 0 {
			a.KeyName, a.KeyValue = ks[0].Name, ks[0].Value
		}
		return []failover.Attempt{a}
	}
	cloned := state.WithBackend(backend, model)
	return failover.BuildAttempts(cloned, model, p.KeySource)
}

// resolveBackendModel implements spec.md §4.11 step 6: one-off overrides
// everything; else a qualified model in the request; else the session's
// own backend/model override; else the app default.
func resolveBackendModel(state *session.State, reqModel string, cfg Config) (backend, model string, oneOffConsumed bool) {
	if state.Backend.OneOff != nil {
		return state.Backend.OneOff.Backend, state.Backend.OneOff.Model, true
	}

	model = reqModel
	if b, m := splitQualified(reqModel); b != "" {
		backend, model = b, m
	}
	if backend == "" && state.Backend.BackendType != "" {
		backend = state.Backend.BackendType
		if state.Backend.Model != "" {
			model = state.Backend.Model
		}
	}
	if backend == "" {
		backend = cfg.DefaultBackend
	}
	if model == "" {
		model = cfg.DefaultModel
	}
	return backend, model, false
}

func splitQualified(raw string) (backend, model string) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' || raw[i] == '/' {
			return raw[:i], raw[i+1:]
		}
	}
	return "", raw
}

func anyResultCarriesData(results []command.Result) bool {
	for _, r := range results {
		if r.Success && len(r.Data) > 0 {
			return true
		}
	}
	return false
}

func toLLMMessages(messages []chatmsg.Message) []service.LLMMessage {
	out := make([]service.LLMMessage, len(messages))
	for i, m := range messages {
		lm := service.LLMMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, part := range m.Parts {
			lm.Parts = append(lm.Parts, service.ContentPart{
				Type: string(part.Type),
				Text: part.Text,
				Raw:  part.Raw,
			})
		}
		out[i] = lm
	}
	return out
}

func preview(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func previewMessages(messages []chatmsg.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.IsMultipart() {
			for _, part := range m.Parts {
				if part.Type == chatmsg.PartText {
					b.WriteString(part.Text)
				}
			}
		} else {
			b.WriteString(m.Content)
		}
	}
	return preview(b.String())
}

// respondCommandOnly implements step 4: compose the synthetic assistant
// reply, append it to session history, reset the one-shot flags it
// consumes, and return the "proxy_cmd_processed" envelope without
// touching any backend adapter.
func (p *Processor) respondCommandOnly(sess *store.Session, state *session.State, req ChatRequest, pr command.ProcessedResult) *ResponseEnvelope {
	var parts []string
	for _, r := range pr.Results {
		if strings.TrimSpace(r.Message) != "" {
			parts = append(parts, r.Message)
		}
	}
	body := strings.Join(parts, "\n")

	if state.HelloRequested && state.Backend.InteractiveMode {
		body = p.welcomeBanner(state) + "\n" + body
	}
	if req.Agent == "cline" || sess.GetAgent() == "cline" {
		body = "<attempt_completion><result>" + body + "</result></attempt_completion>"
	}

	next := state.WithHelloRequested(false).WithInteractiveJustEnabled(false)
	sess.SetState(next)

	sess.AppendInteraction(store.Interaction{
		Prompt:    previewMessages(req.Messages),
		Handler:   store.HandlerProxy,
		Response:  preview(body),
		Timestamp: time.Now(),
	})

	return &ResponseEnvelope{
		ID:          "proxy_cmd_processed",
		SessionID:   sess.ID,
		Content:     body,
		CommandOnly: true,
	}
}

func (p *Processor) welcomeBanner(state *session.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello! %s %s is ready.", p.Config.AppName, p.Config.AppVersion)
	if len(p.Config.FunctionalBackends) > 0 {
		fmt.Fprintf(&b, " Functional backends: %s.", strings.Join(p.Config.FunctionalBackends, ", "))
	}
	fmt.Fprintf(&b, " Command prefix: %q.", p.Config.CommandPrefix)
	_ = state
	return b.String()
}

// captureRequestPayload renders a compact JSON view of the outbound
// request for the wire-capture record; messages are already redacted by
// the time this is called.
func captureRequestPayload(req *service.LLMRequest) []byte {
	view := struct {
		Model       string                 `json:"model"`
		Messages    []service.LLMMessage   `json:"messages"`
		Temperature float64                `json:"temperature,omitempty"`
		Stream      bool                   `json:"stream"`
		Extra       map[string]interface{} `json:"extra,omitempty"`
	}{Model: req.Model, Messages: req.Messages, Temperature: req.Temperature, Stream: req.Stream, Extra: req.ExtraParams}
	b, _ := json.Marshal(view)
	return b
}

func captureReplyPayload(res *failover.Result) []byte {
	resp, _ := res.Payload.(*service.LLMResponse)
	if resp == nil {
		return []byte("{}")
	}
	b, _ := json.Marshal(resp)
	return b
}

// capturingDialer wraps a failover.Dialer to mirror every attempt's
// outbound request and inbound reply into the wire-capture sink (C12),
// labeling each record with the attempt's actual backend/model/key
// (spec.md §6's header line).
type capturingDialer struct {
	inner      failover.Dialer
	capture    CaptureWriter
	meta       CaptureMeta
	reqPayload []byte
	streaming  bool
}

func (d *capturingDialer) Dial(ctx context.Context, a failover.Attempt) (*failover.Result, error) {
	meta := d.meta
	meta.Backend, meta.Model, meta.KeyName = a.Backend, a.Model, a.KeyName
	if d.capture != nil {
		d.capture.Capture(DirectionRequest, meta, d.reqPayload)
	}
	res, err := d.inner.Dial(ctx, a)
	if err != nil || d.capture == nil {
		return res, err
	}
	dir := DirectionReply
	if d.streaming {
		dir = DirectionReplyStream
	}
	d.capture.Capture(dir, meta, captureReplyPayload(res))
	return res, err
}

// coordinatorLimiter adapts ratelimit.Limiter's Info shape to the
// failover.Limiter contract, so the concrete sliding-window limiter
// never needs to depend on the failover package's own mirror type.
type coordinatorLimiter struct {
	l *ratelimit.Limiter
}

func (c *coordinatorLimiter) CheckLimit(key string) failover.LimitInfo {
	info := c.l.CheckLimit(key)
	return failover.LimitInfo{IsLimited: info.IsLimited, ResetAt: info.ResetAt}
}

func (c *coordinatorLimiter) RecordRetryAfter(key string, retryAfter time.Duration) {
	c.l.RecordRetryAfter(key, retryAfter)
}

var _ failover.Limiter = (*coordinatorLimiter)(nil)
