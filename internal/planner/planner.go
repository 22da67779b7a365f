// internal/planner/planner.go
package planner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// Sentinel errors distinguishing why a planning or evaluation call failed.
// The session controller branches on these to decide the terminal status.
var (
	// ErrMalformedPlan means the model's response could not be parsed into an
	// action sequence. Terminal for the session.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrService means the AI service was unreachable, rejected the request,
	// rate-limited us, or timed out. Terminal for the session.
	ErrService = errors.New("planner service failure")
)

// Verdict is the evaluator's judgement of whether the goal is satisfied.
type Verdict string

const (
	VerdictContinue Verdict = "continue"
	VerdictComplete Verdict = "complete"
)

// PlanRequest carries everything the model needs to propose the next round
// of actions. The screenshot is nil on the first round, when no screen state
// has been observed yet.
type PlanRequest struct {
	Goal       string
	Iteration  int
	Transcript []string // prior model responses and execution notes, oldest first
	Screenshot []byte   // PNG of the last observed screen state
}

// PlanResult is one parsed planning response.
type PlanResult struct {
	Actions   schemas.ActionSequence
	Response  string // natural-language text to surface to the user
	ActionLog string // short progress description for the event stream
}

// EvaluateRequest asks whether the goal has been reached, given the latest
// screen state.
type EvaluateRequest struct {
	Goal       string
	Iteration  int
	Transcript []string
	Screenshot []byte
}

// EvaluateResult is one parsed evaluation response.
type EvaluateResult struct {
	Verdict  Verdict
	Response string
}

// Client is the planning/evaluation boundary: two request shapes over one
// underlying text+image model. It owns no session state; all context is
// passed explicitly, so a fresh session can reuse the same client.
type Client struct {
	llm         schemas.LLMClient
	logger      *zap.Logger
	temperature float32
}

// New creates a planner client over the given LLM.
func New(llm schemas.LLMClient, cfg config.LLMConfig, logger *zap.Logger) *Client {
	return &Client{
		llm:         llm,
		logger:      logger.Named("planner"),
		temperature: cfg.Temperature,
	}
}

// Plan requests the next action sequence for the goal. A response that does
// not parse into the strict plan shape is reported as ErrMalformedPlan; a
// transport-level failure as ErrService.
func (c *Client) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	gen := schemas.GenerationRequest{
		SystemPrompt: planSystemPrompt,
		UserPrompt:   buildPlanUserPrompt(req),
		ImagePNG:     req.Screenshot,
		Options: schemas.GenerationOptions{
			Temperature:     c.temperature,
			ForceJSONFormat: true,
		},
	}

	raw, err := c.llm.Generate(ctx, gen)
	if err != nil {
		return PlanResult{}, fmt.Errorf("%w: %v", ErrService, err)
	}

	result, err := parsePlanResponse(raw)
	if err != nil {
		c.logger.Warn("Failed to parse planning response",
			zap.String("raw_response", raw),
			zap.Error(err))
		return PlanResult{}, err
	}

	c.logger.Info("Plan received",
		zap.Int("iteration", req.Iteration),
		zap.Int("steps", len(result.Actions)))
	return result, nil
}

// Evaluate asks whether the goal is satisfied. An unrecognizable verdict
// fails open to "continue" with a logged warning, so the loop keeps driving
// toward the iteration bound rather than silently sticking.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResult, error) {
	gen := schemas.GenerationRequest{
		SystemPrompt: evaluateSystemPrompt,
		UserPrompt:   buildEvaluateUserPrompt(req),
		ImagePNG:     req.Screenshot,
		Options: schemas.GenerationOptions{
			// Evaluation wants a judgement, not creativity.
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	}

	raw, err := c.llm.Generate(ctx, gen)
	if err != nil {
		return EvaluateResult{}, fmt.Errorf("%w: %v", ErrService, err)
	}

	result, recognized := parseEvaluateResponse(raw)
	if !recognized {
		c.logger.Warn("No recognizable verdict in evaluation response, defaulting to continue",
			zap.String("raw_response", raw))
	}

	c.logger.Info("Evaluation received",
		zap.Int("iteration", req.Iteration),
		zap.String("verdict", string(result.Verdict)))
	return result, nil
}
