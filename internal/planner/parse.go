// internal/planner/parse.go
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// jsonBlockRegex robustly extracts a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// extractJSON pulls the JSON payload out of a model response, handling
// markdown fences or raw JSON with surrounding prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last != -1 && last > first {
		return response[first : last+1]
	}
	return response
}

// -- Plan parsing --

type planWire struct {
	Type      string     `json:"type"`
	Response  string     `json:"response"`
	ActionLog string     `json:"action_log"`
	Steps     []stepWire `json:"steps"`
}

type stepWire struct {
	Action      string          `json:"action"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Kind-specific parameter shapes. Pointers distinguish "absent" from zero
// values so a click at the origin stays expressible while a click with no
// coordinates is rejected.
type clickParams struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

type typeParams struct {
	Text *string `json:"text"`
}

type scrollParams struct {
	Amount *float64 `json:"amount"`
}

type waitParams struct {
	Duration *float64 `json:"duration"` // seconds
}

// parsePlanResponse turns a raw model response into a PlanResult. Parsing is
// strict: unrecognized kinds and parameters outside the recognized shape are
// malformed-plan errors, never silently skipped.
func parsePlanResponse(raw string) (PlanResult, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return PlanResult{}, fmt.Errorf("%w: no JSON found in response", ErrMalformedPlan)
	}

	var wire planWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return PlanResult{}, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	result := PlanResult{
		Response:  wire.Response,
		ActionLog: wire.ActionLog,
	}

	switch wire.Type {
	case "question":
		// A question answer carries no actions; the controller treats it as a
		// no-op round.
		return result, nil
	case "action":
		// Fall through to step parsing.
	default:
		return PlanResult{}, fmt.Errorf("%w: unknown response type %q", ErrMalformedPlan, wire.Type)
	}

	actions := make(schemas.ActionSequence, 0, len(wire.Steps))
	for i, step := range wire.Steps {
		action, err := parseStep(step)
		if err != nil {
			return PlanResult{}, fmt.Errorf("%w: step %d: %v", ErrMalformedPlan, i+1, err)
		}
		actions = append(actions, action)
	}
	result.Actions = actions
	return result, nil
}

func parseStep(step stepWire) (schemas.Action, error) {
	kind := schemas.Kind(step.Action)
	if !kind.Valid() {
		return schemas.Action{}, fmt.Errorf("unknown action kind %q", step.Action)
	}

	switch kind {
	case schemas.KindScreenshot:
		if err := decodeParams(step.Parameters, &struct{}{}); err != nil {
			return schemas.Action{}, fmt.Errorf("screenshot takes no parameters: %v", err)
		}
		return schemas.NewScreenshot(), nil

	case schemas.KindClick:
		var p clickParams
		if err := decodeParams(step.Parameters, &p); err != nil {
			return schemas.Action{}, fmt.Errorf("click parameters: %v", err)
		}
		if p.X == nil || p.Y == nil {
			return schemas.Action{}, fmt.Errorf("click requires x and y coordinates")
		}
		return schemas.NewClick(*p.X, *p.Y), nil

	case schemas.KindType:
		var p typeParams
		if err := decodeParams(step.Parameters, &p); err != nil {
			return schemas.Action{}, fmt.Errorf("type parameters: %v", err)
		}
		if p.Text == nil {
			return schemas.Action{}, fmt.Errorf("type requires a text parameter")
		}
		return schemas.NewType(*p.Text), nil

	case schemas.KindScroll:
		var p scrollParams
		if err := decodeParams(step.Parameters, &p); err != nil {
			return schemas.Action{}, fmt.Errorf("scroll parameters: %v", err)
		}
		if p.Amount == nil {
			return schemas.Action{}, fmt.Errorf("scroll requires an amount parameter")
		}
		return schemas.NewScroll(int(*p.Amount)), nil

	case schemas.KindWait:
		var p waitParams
		if err := decodeParams(step.Parameters, &p); err != nil {
			return schemas.Action{}, fmt.Errorf("wait parameters: %v", err)
		}
		if p.Duration == nil {
			return schemas.Action{}, fmt.Errorf("wait requires a duration parameter")
		}
		if *p.Duration < 0 {
			return schemas.Action{}, fmt.Errorf("wait duration must not be negative")
		}
		return schemas.NewWait(time.Duration(*p.Duration * float64(time.Second))), nil
	}

	// Unreachable: Valid() covers the full kind set.
	return schemas.Action{}, fmt.Errorf("unhandled action kind %q", step.Action)
}

// decodeParams strictly decodes a parameters object, rejecting fields
// outside the recognized shape.
func decodeParams(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	return nil
}

// -- Evaluation parsing --

type evaluateWire struct {
	Verdict  string `json:"verdict"`
	Response string `json:"response"`
}

// parseEvaluateResponse extracts the verdict from a raw evaluation response.
// The second return value reports whether a verdict token was actually
// recognized; when false, the result defaults to continue (fail open toward
// more iterations, never silently stuck).
func parseEvaluateResponse(raw string) (EvaluateResult, bool) {
	payload := extractJSON(raw)

	var wire evaluateWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return EvaluateResult{Verdict: VerdictContinue, Response: strings.TrimSpace(raw)}, false
	}

	switch strings.ToLower(strings.TrimSpace(wire.Verdict)) {
	case string(VerdictComplete):
		return EvaluateResult{Verdict: VerdictComplete, Response: wire.Response}, true
	case string(VerdictContinue):
		return EvaluateResult{Verdict: VerdictContinue, Response: wire.Response}, true
	default:
		return EvaluateResult{Verdict: VerdictContinue, Response: wire.Response}, false
	}
}
