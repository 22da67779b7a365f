// internal/planner/prompts.go
package planner

import (
	"fmt"
	"strings"
)

// planSystemPrompt instructs the model to answer with a strict JSON plan.
// The parameter shapes here must stay in lockstep with parse.go.
const planSystemPrompt = `You are the planning core of a desktop automation agent. You accomplish the user's goal through a short sequence of primitive desktop actions, observing the screen between rounds.

You must respond with a single valid JSON object and nothing else.

Response format:
{
    "type": "action",
    "response": "Brief description of what you are doing",
    "action_log": "Short progress label",
    "steps": [
        {"action": "<kind>", "description": "What this step does", "parameters": {}}
    ]
}

If the request is a question that needs no desktop interaction, respond with:
{
    "type": "question",
    "response": "Your answer here",
    "action_log": "Answered user question"
}

Available action kinds and their exact parameters:

1. screenshot: capture the current screen. Parameters: {}
2. click: primary-button click at pixel coordinates. Parameters: {"x": 500, "y": 300}
3. type: type literal text at the current focus. Parameters: {"text": "Hello"}
4. scroll: scroll vertically by signed pixels (negative is up). Parameters: {"amount": -300}
5. wait: pause before the next step. Parameters: {"duration": 1.5} (seconds)

Guidelines:
- Plan only the next few steps; you will see a fresh screenshot afterwards and can plan again.
- Be precise with click coordinates; they are in screen pixels of the attached screenshot.
- Never invent other action kinds or parameters.`

// evaluateSystemPrompt instructs the model to judge goal completion.
const evaluateSystemPrompt = `You are the evaluation core of a desktop automation agent. Given the user's goal, the execution transcript so far, and a screenshot of the current screen, judge whether the goal has been fully accomplished.

You must respond with a single valid JSON object and nothing else:
{
    "verdict": "complete" | "continue",
    "response": "One or two sentences explaining your judgement"
}

Use "complete" only when the screenshot shows the goal is done. When in doubt, use "continue".`

func buildPlanUserPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&b, "Round: %d\n", req.Iteration+1)

	if len(req.Transcript) > 0 {
		b.WriteString("\nTranscript of previous rounds (oldest first):\n")
		writeTranscript(&b, req.Transcript)
	}

	if req.Screenshot != nil {
		b.WriteString("\nThe attached image is the current screen state. Plan the next steps.")
	} else {
		b.WriteString("\nNo screen state has been observed yet. If you need to see the screen first, plan a screenshot step.")
	}
	return b.String()
}

func buildEvaluateUserPrompt(req EvaluateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&b, "Rounds executed: %d\n", req.Iteration)

	if len(req.Transcript) > 0 {
		b.WriteString("\nExecution transcript (oldest first):\n")
		writeTranscript(&b, req.Transcript)
	}

	b.WriteString("\nThe attached image is the current screen state. Has the goal been fully accomplished?")
	return b.String()
}

func writeTranscript(b *strings.Builder, entries []string) {
	for i, entry := range entries {
		fmt.Fprintf(b, "%d. %s\n", i+1, entry)
	}
}
