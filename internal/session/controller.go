// internal/session/controller.go
// The session controller drives one goal at a time through the
// plan -> execute -> evaluate loop, enforcing the iteration bound and the
// abort policy, and emitting one event per meaningful transition.

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/desktop"
	"github.com/xkilldash9x/deskpilot/internal/planner"
)

// Sentinel errors for the session failure taxonomy.
var (
	// ErrIterationLimit means the safety bound was reached without a
	// complete verdict. A reported outcome, not a crash.
	ErrIterationLimit = errors.New("iteration limit reached")
	// ErrTransport means the outbound event stream can no longer deliver.
	// Terminal: the user cannot observe progress anymore.
	ErrTransport = errors.New("event transport failure")
)

// Planner produces action plans and completion verdicts.
type Planner interface {
	Plan(ctx context.Context, req planner.PlanRequest) (planner.PlanResult, error)
	Evaluate(ctx context.Context, req planner.EvaluateRequest) (planner.EvaluateResult, error)
}

// Executor runs one primitive action and captures screenshots.
type Executor interface {
	Execute(ctx context.Context, action schemas.Action) desktop.Result
	CaptureScreenshot() (*desktop.Screenshot, error)
}

// KeyUpdater swaps the live LLM credential after validating it.
type KeyUpdater interface {
	UpdateAPIKey(ctx context.Context, key string) error
}

// Emitter is the outbound side of the transport: a bounded event channel the
// transport drains, plus a poison signal for when it can no longer deliver.
type Emitter interface {
	Events() chan<- schemas.Event
	Done() <-chan struct{}
	Err() error
}

// Controller owns all session state. Goals are consumed strictly one at a
// time; a goal arriving while a session runs is queued, never interleaved,
// because two sessions sharing the pointer and keyboard would corrupt each
// other's UI state.
type Controller struct {
	cfg      config.AgentConfig
	planner  Planner
	executor Executor
	keys     KeyUpdater
	emitter  Emitter
	logger   *zap.Logger

	queue goalQueue

	// tasks tracks work dispatched off the routing loop (key updates), so
	// Run does not return while one is in flight.
	tasks sync.WaitGroup

	// sessionActive gates abort requests: an abort with no session to
	// cancel is a no-op. abortRequested is checked at action and round
	// boundaries only, never mid-action.
	sessionActive  atomic.Bool
	abortRequested atomic.Bool
}

// New creates a controller with its collaborators provided as interfaces.
func New(
	cfg config.AgentConfig,
	pl Planner,
	executor Executor,
	keys KeyUpdater,
	emitter Emitter,
	logger *zap.Logger,
) (*Controller, error) {
	if pl == nil || executor == nil || keys == nil || emitter == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize session controller with nil dependencies")
	}
	return &Controller{
		cfg:      cfg,
		planner:  pl,
		executor: executor,
		keys:     keys,
		emitter:  emitter,
		logger:   logger.Named("session"),
		queue:    goalQueue{ready: make(chan struct{}, 1)},
	}, nil
}

// Run routes inbound messages until the context is cancelled, the message
// stream closes, or the transport fails. Goal messages are queued for the
// consume loop; screenshot requests and key updates are served immediately
// (neither touches the input devices a running session owns); abort flags
// the active session for cancellation at its next boundary.
func (c *Controller) Run(ctx context.Context, messages <-chan schemas.InboundMessage) error {
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consumeGoals(runCtx)
	}()
	defer wg.Wait()
	defer c.tasks.Wait()
	defer cancel()

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-c.emitter.Done():
			return fmt.Errorf("%w: %v", ErrTransport, c.emitter.Err())
		case msg, ok := <-messages:
			if !ok {
				c.logger.Info("Inbound stream closed, shutting down")
				return nil
			}
			c.dispatch(runCtx, msg)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, msg schemas.InboundMessage) {
	switch msg.Type {
	case schemas.MsgUserMessage:
		c.queue.push(msg.Content)
		c.logger.Info("Goal queued", zap.String("goal", msg.Content))
	case schemas.MsgScreenshotRequest:
		c.handleScreenshotRequest(ctx)
	case schemas.MsgUpdateAPIKey:
		c.handleKeyUpdate(ctx, msg.Key)
	case schemas.MsgAbort:
		if c.sessionActive.Load() {
			c.abortRequested.Store(true)
			c.logger.Info("Abort requested, cancelling at next boundary")
		} else {
			c.logger.Warn("Abort received with no active session")
		}
	default:
		// Never swallowed silently: the event stream is the only observer.
		c.logger.Warn("Rejecting unrecognized inbound message", zap.String("type", string(msg.Type)))
		c.tryEmit(ctx, schemas.Event{
			ActionLog: "Invalid message",
			Status:    schemas.StatusError,
			Response:  fmt.Sprintf("Unrecognized message type %q.", msg.Type),
		})
	}
}

// consumeGoals is the single consume loop: it pops queued goals FIFO and
// runs one session to its terminal status before touching the next.
func (c *Controller) consumeGoals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.queue.ready:
		}
		for {
			goal, ok := c.queue.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.abortRequested.Store(false)
			c.sessionActive.Store(true)
			c.runSession(ctx, goal)
			c.sessionActive.Store(false)
		}
	}
}

// runSession drives one goal to a terminal status and returns the finished
// session.
func (c *Controller) runSession(ctx context.Context, goal string) *Session {
	s := newSession(goal, c.cfg.MaxIterations)
	logger := c.logger.With(zap.String("session_id", s.ID.String()))
	logger.Info("Session started", zap.String("goal", goal), zap.Int("max_iterations", s.MaxIterations))
	defer func() {
		logger.Info("Session finished",
			zap.String("status", string(s.Status)),
			zap.Int("iterations", s.Iteration),
			zap.Duration("duration", time.Since(s.StartedAt)))
	}()

	for {
		if c.aborted(ctx, s, logger) {
			return s
		}

		// -- planning --
		s.Status = StatusPlanning
		if err := c.emit(ctx, schemas.Event{
			ActionLog: "Planning next steps",
			Status:    schemas.StatusLoading,
		}); err != nil {
			c.failOnTransport(s, logger, err)
			return s
		}

		plan, err := c.plan(ctx, s)
		if err != nil {
			s.Status = StatusFailed
			logger.Error("Planning failed", zap.Error(err))
			c.tryEmit(ctx, schemas.Event{
				ActionLog: "Planning failed",
				Status:    schemas.StatusError,
				Response:  planFailureText(err),
			})
			return s
		}
		s.note(plan.Response)
		if err := c.emit(ctx, schemas.Event{
			ActionLog: actionLogOrDefault(plan.ActionLog, "Plan received"),
			Status:    schemas.StatusLoading,
			Response:  plan.Response,
		}); err != nil {
			c.failOnTransport(s, logger, err)
			return s
		}

		// -- executing --
		// An empty sequence is a no-op round: skip straight to the
		// screenshot and evaluation so the model can look again.
		s.Status = StatusExecuting
		frameFresh := false
		for _, action := range plan.Actions {
			if c.aborted(ctx, s, logger) {
				return s
			}
			ok := c.runAction(ctx, s, logger, action)
			// A successful screenshot as the round's final completed
			// action already is the post-round frame.
			frameFresh = ok && action.Kind == schemas.KindScreenshot
			if !ok {
				if s.Status == StatusFailed {
					return s
				}
				break // fail-fast: the rest of the round assumed this step succeeded
			}
		}

		// Round boundary: an abort observed here skips the screenshot for
		// the partial round.
		if c.aborted(ctx, s, logger) {
			return s
		}

		// Exactly one screenshot per completed round, current as of after
		// the last action and before evaluation.
		if !frameFresh || s.LastScreenshot == nil {
			shot, err := c.executor.CaptureScreenshot()
			if err != nil {
				// The loop is blind without the round's frame; evaluation
				// cannot proceed.
				s.Status = StatusFailed
				logger.Error("Round screenshot failed", zap.Error(err))
				c.tryEmit(ctx, schemas.Event{
					ActionLog: "Screen capture failed",
					Status:    schemas.StatusError,
					Response:  fmt.Sprintf("Could not capture the screen to assess progress: %v", err),
				})
				return s
			}
			s.LastScreenshot = shot
		}
		s.Iteration++

		// -- evaluating --
		s.Status = StatusEvaluating
		if err := c.emit(ctx, schemas.Event{
			ActionLog: "Evaluating progress",
			Status:    schemas.StatusLoading,
		}); err != nil {
			c.failOnTransport(s, logger, err)
			return s
		}

		verdict, err := c.evaluate(ctx, s)
		if err != nil {
			s.Status = StatusFailed
			logger.Error("Evaluation failed", zap.Error(err))
			c.tryEmit(ctx, schemas.Event{
				ActionLog: "Evaluation failed",
				Status:    schemas.StatusError,
				Response:  fmt.Sprintf("The AI service failed while assessing progress: %v", err),
			})
			return s
		}
		s.note(verdict.Response)

		if verdict.Verdict == planner.VerdictComplete {
			s.Status = StatusComplete
			logger.Info("Session complete", zap.Int("iterations", s.Iteration))
			c.tryEmit(ctx, schemas.Event{
				ActionLog: "Goal accomplished",
				Status:    schemas.StatusComplete,
				Response:  verdict.Response,
			})
			return s
		}

		if s.Iteration >= s.MaxIterations {
			s.Status = StatusFailed
			logger.Warn("Iteration limit reached", zap.Int("iterations", s.Iteration), zap.Error(ErrIterationLimit))
			c.tryEmit(ctx, schemas.Event{
				ActionLog: "Iteration limit reached",
				Status:    schemas.StatusError,
				Response: fmt.Sprintf(
					"Stopped after %d rounds without completing the goal.", s.MaxIterations),
			})
			return s
		}
	}
}

// runAction executes one primitive and emits its events. It returns false
// when the round must stop; the caller distinguishes a fail-fast break from
// session death by the session status.
func (c *Controller) runAction(ctx context.Context, s *Session, logger *zap.Logger, action schemas.Action) bool {
	if err := c.emit(ctx, schemas.Event{
		ActionLog:   action.Describe(),
		Status:      schemas.StatusLoading,
		ComputerUse: action.ToWire(),
	}); err != nil {
		c.failOnTransport(s, logger, err)
		return false
	}

	result := c.executor.Execute(ctx, action)
	if result.Success {
		if result.Screenshot != nil {
			s.LastScreenshot = result.Screenshot
		}
		if err := c.emit(ctx, schemas.Event{
			ActionLog:   action.Describe(),
			Status:      schemas.StatusSuccess,
			Response:    result.Message,
			ComputerUse: action.ToWire(),
		}); err != nil {
			c.failOnTransport(s, logger, err)
			return false
		}
		return true
	}

	s.note(fmt.Sprintf("action failed: %s", result.Message))
	logger.Warn("Action failed",
		zap.String("kind", string(action.Kind)),
		zap.String("code", string(result.Code)),
		zap.String("message", result.Message))

	if result.Fatal() {
		// Capability loss; re-planning cannot recover it.
		s.Status = StatusFailed
		c.tryEmit(ctx, schemas.Event{
			ActionLog:   action.Describe(),
			Status:      schemas.StatusError,
			Response:    fmt.Sprintf("Desktop capability lost: %s", result.Message),
			ComputerUse: action.ToWire(),
		})
		return false
	}

	// Recoverable: report it and let the round proceed to screenshot and
	// evaluation so the model can observe the failure and re-plan.
	if err := c.emit(ctx, schemas.Event{
		ActionLog:   action.Describe(),
		Status:      schemas.StatusError,
		Response:    result.Message,
		ComputerUse: action.ToWire(),
	}); err != nil {
		c.failOnTransport(s, logger, err)
		return false
	}
	return false
}

func (c *Controller) plan(ctx context.Context, s *Session) (planner.PlanResult, error) {
	planCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.planner.Plan(planCtx, planner.PlanRequest{
		Goal:       s.Goal,
		Iteration:  s.Iteration,
		Transcript: s.Transcript,
		Screenshot: s.screenshotPNG(),
	})
}

func (c *Controller) evaluate(ctx context.Context, s *Session) (planner.EvaluateResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.planner.Evaluate(evalCtx, planner.EvaluateRequest{
		Goal:       s.Goal,
		Iteration:  s.Iteration,
		Transcript: s.Transcript,
		Screenshot: s.screenshotPNG(),
	})
}

// aborted checks the abort flag at a boundary and, when set, finalizes the
// session as aborted. No action runs after it returns true.
func (c *Controller) aborted(ctx context.Context, s *Session, logger *zap.Logger) bool {
	if !c.abortRequested.Load() {
		return false
	}
	s.Status = StatusAborted
	logger.Info("Session aborted", zap.Int("iterations", s.Iteration))
	c.tryEmit(ctx, schemas.Event{
		ActionLog: "Session aborted",
		Status:    schemas.StatusError,
		Response:  "The request was cancelled.",
	})
	return true
}

// handleScreenshotRequest serves a capture immediately, without a planning
// round. Capture is read-only, so it is safe even while a session owns the
// input devices.
func (c *Controller) handleScreenshotRequest(ctx context.Context) {
	shot, err := c.executor.CaptureScreenshot()
	if err != nil {
		c.logger.Error("Direct screenshot failed", zap.Error(err))
		c.tryEmit(ctx, schemas.Event{
			ActionLog: "Screenshot failed",
			Status:    schemas.StatusError,
			Response:  fmt.Sprintf("Could not capture the screen: %v", err),
		})
		return
	}
	c.tryEmit(ctx, schemas.Event{
		ActionLog:   "Screenshot captured",
		Status:      schemas.StatusSuccess,
		Response:    shot.Path,
		ComputerUse: schemas.NewScreenshot().ToWire(),
	})
}

// handleKeyUpdate validates and swaps the LLM API key. An invalid key leaves
// the old one in place. The validation probe is network-bound, so it runs
// off the routing loop: an abort arriving behind it must not wait out the
// request timeout before the active session can observe it.
func (c *Controller) handleKeyUpdate(ctx context.Context, key string) {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.updateKey(ctx, key)
	}()
}

func (c *Controller) updateKey(ctx context.Context, key string) {
	updateCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.keys.UpdateAPIKey(updateCtx, key); err != nil {
		c.logger.Warn("API key update rejected", zap.Error(err))
		c.tryEmit(ctx, schemas.Event{
			ActionLog: "API key update failed",
			Status:    schemas.StatusError,
			Response:  "The provided API key could not be validated; keeping the previous key.",
		})
		return
	}
	c.logger.Info("API key updated")
	c.tryEmit(ctx, schemas.Event{
		ActionLog: "API key updated",
		Status:    schemas.StatusSuccess,
		Response:  "API key validated and updated.",
	})
}

// emit enqueues one event in transition order. It fails when the transport
// is poisoned or the context ends, never blocking past either.
func (c *Controller) emit(ctx context.Context, ev schemas.Event) error {
	select {
	case c.emitter.Events() <- ev:
		return nil
	case <-c.emitter.Done():
		return fmt.Errorf("%w: %v", ErrTransport, c.emitter.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryEmit is emit for terminal events, where there is no session left to
// fail if the transport is already gone.
func (c *Controller) tryEmit(ctx context.Context, ev schemas.Event) {
	if err := c.emit(ctx, ev); err != nil {
		c.logger.Warn("Dropping event, transport unavailable", zap.Error(err))
	}
}

func (c *Controller) failOnTransport(s *Session, logger *zap.Logger, err error) {
	s.Status = StatusFailed
	logger.Error("Session failed, event transport unavailable", zap.Error(err))
}

func planFailureText(err error) string {
	if errors.Is(err, planner.ErrMalformedPlan) {
		return fmt.Sprintf("The AI produced a plan that could not be understood: %v", err)
	}
	return fmt.Sprintf("The AI service failed while planning: %v", err)
}

func actionLogOrDefault(log, fallback string) string {
	if log == "" {
		return fallback
	}
	return log
}

// goalQueue is an unbounded FIFO of pending goals. push never blocks, so the
// message router stays responsive to abort while a session runs.
type goalQueue struct {
	mu    sync.Mutex
	items []string
	ready chan struct{} // capacity 1; a set flag, not a counter
}

func (q *goalQueue) push(goal string) {
	q.mu.Lock()
	q.items = append(q.items, goal)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *goalQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	goal := q.items[0]
	q.items = q.items[1:]
	return goal, true
}
