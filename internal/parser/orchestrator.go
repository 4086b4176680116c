package parser

import (
	"context"
	"time"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
	"github.com/JackTn/azure-sdk-usage-agent/internal/query"
)

// Defaults for the AI gate
const (
	DefaultAITimeout           = 30 * time.Second
	DefaultConfidenceThreshold = 0.7
)

// Outcome says which path produced a parse result
type Outcome int

const (
	// OutcomeAI means the AI answer passed the confidence gate
	OutcomeAI Outcome = iota
	// OutcomeFallback means the rule parser produced the result
	OutcomeFallback
	// OutcomeFailed means no result could be produced
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAI:
		return "ai"
	case OutcomeFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Fallback reasons
const (
	ReasonAIDisabled    = "ai_disabled"
	ReasonAIUnavailable = "ai_unavailable"
	ReasonAIInvalid     = "ai_response_invalid"
	ReasonLowConfidence = "low_confidence"
)

// Result is the typed outcome of one parse request
type Result struct {
	Spec           *query.ParsedQuerySpec
	Outcome        Outcome
	FallbackReason string
	Cached         bool
	Err            error
}

// Options tunes the orchestrator. ConfidenceThreshold is used as given, so a
// zero threshold accepts every well-formed AI answer; start from DefaultOptions.
type Options struct {
	AITimeout           time.Duration
	ConfidenceThreshold float64
}

// DefaultOptions returns a 30s AI timeout and a 0.7 confidence threshold
func DefaultOptions() Options {
	return Options{AITimeout: DefaultAITimeout, ConfidenceThreshold: DefaultConfidenceThreshold}
}

// Orchestrator runs AttemptAI, Evaluate and Fallback over one question
type Orchestrator struct {
	ai     *AIParser
	rules  *RuleParser
	cache  Cache
	opts   Options
	logger *observability.Logger
}

// NewOrchestrator creates an orchestrator. ai and cache may be nil. A
// non-positive AITimeout or a threshold outside [0, 1] takes the default.
func NewOrchestrator(ai *AIParser, rules *RuleParser, cache Cache, opts Options) *Orchestrator {
	if opts.AITimeout <= 0 {
		opts.AITimeout = DefaultAITimeout
	}
	if !(opts.ConfidenceThreshold >= 0 && opts.ConfidenceThreshold <= 1) {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Orchestrator{
		ai:     ai,
		rules:  rules,
		cache:  cache,
		opts:   opts,
		logger: observability.NewLogger("parse-orchestrator"),
	}
}

// AIEnabled reports whether an AI parser is configured
func (o *Orchestrator) AIEnabled() bool {
	return o.ai != nil
}

type parseState int

const (
	stateAttemptAI parseState = iota
	stateEvaluate
	stateFallback
	stateDone
)

// Parse never panics or returns a Go error; failures are in Result.Err
func (o *Orchestrator) Parse(ctx context.Context, question string) (result Result) {
	start := time.Now()
	defer func() {
		observability.RecordParseMetrics(time.Since(start), result.Outcome.String(), result.Cached)
	}()

	if cached := o.lookupCache(ctx, question); cached != nil {
		return Result{Spec: cached, Outcome: OutcomeAI, Cached: true}
	}

	var aiSpec *query.ParsedQuerySpec
	state := stateAttemptAI

	for state != stateDone {
		switch state {
		case stateAttemptAI:
			if o.ai == nil {
				result.FallbackReason = ReasonAIDisabled
				state = stateFallback
				continue
			}
			spec, err := o.attemptAI(ctx, question)
			if err != nil {
				result.FallbackReason = ReasonAIInvalid
				if apperrors.HasCode(err, apperrors.ErrCodeAIUnavailable) {
					result.FallbackReason = ReasonAIUnavailable
				}
				o.logger.Warn(ctx, "AI parse failed, using rule-based parser", map[string]interface{}{
					"reason": result.FallbackReason,
					"error":  err.Error(),
				})
				state = stateFallback
				continue
			}
			aiSpec = spec
			state = stateEvaluate

		case stateEvaluate:
			confidence := 0.0
			if aiSpec.Confidence != nil {
				confidence = *aiSpec.Confidence
			}
			if confidence >= o.opts.ConfidenceThreshold {
				result.Spec = aiSpec
				result.Outcome = OutcomeAI
				o.storeCache(ctx, question, aiSpec)
				state = stateDone
				continue
			}
			result.FallbackReason = ReasonLowConfidence
			o.logger.Info(ctx, "AI confidence below threshold, using rule-based parser", map[string]interface{}{
				"confidence": confidence,
				"threshold":  o.opts.ConfidenceThreshold,
			})
			state = stateFallback

		case stateFallback:
			spec, err := o.rules.Parse(question)
			if err != nil {
				result.Outcome = OutcomeFailed
				result.Err = err
			} else {
				result.Spec = spec
				result.Outcome = OutcomeFallback
			}
			state = stateDone
		}
	}

	return result
}

// attemptAI bounds the backend call by the configured timeout
func (o *Orchestrator) attemptAI(ctx context.Context, question string) (*query.ParsedQuerySpec, error) {
	aiCtx, cancel := context.WithTimeout(ctx, o.opts.AITimeout)
	defer cancel()
	return o.ai.Parse(aiCtx, question)
}

func (o *Orchestrator) lookupCache(ctx context.Context, question string) *query.ParsedQuerySpec {
	if o.cache == nil {
		return nil
	}
	spec, err := o.cache.Get(ctx, question)
	if err != nil {
		o.logger.Warn(ctx, "Parse cache read failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return spec
}

// storeCache keeps AI results only; rule results are cheap and depend on the clock
func (o *Orchestrator) storeCache(ctx context.Context, question string, spec *query.ParsedQuerySpec) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Set(ctx, question, spec); err != nil {
		o.logger.Warn(ctx, "Failed to cache parse result", map[string]interface{}{"error": err.Error()})
	}
}
