// api/schemas/messages.go
package schemas

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// InboundType identifies the structured messages the front end can send.
type InboundType string

const (
	// MsgUserMessage carries a free-text goal for the agent to accomplish.
	MsgUserMessage InboundType = "user_message"
	// MsgScreenshotRequest asks for an immediate capture, without a planning round.
	MsgScreenshotRequest InboundType = "screenshot_request"
	// MsgUpdateAPIKey swaps the LLM API key after validating it.
	MsgUpdateAPIKey InboundType = "update_api_key"
	// MsgAbort cancels the active session at the next action boundary.
	MsgAbort InboundType = "abort"
)

// InboundMessage is one line received from the front end.
type InboundMessage struct {
	Type    InboundType `json:"type"`
	Content string      `json:"content,omitempty"` // user_message: the goal text
	Key     string      `json:"key,omitempty"`     // update_api_key: the new key
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseInbound decodes one inbound line. A line that is not a JSON object is
// treated as shorthand for a user_message carrying the raw text, so a human
// on the other end of the pipe can just type a goal.
func ParseInbound(line string) (InboundMessage, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return InboundMessage{}, fmt.Errorf("empty message line")
	}

	if !strings.HasPrefix(trimmed, "{") {
		return InboundMessage{Type: MsgUserMessage, Content: trimmed}, nil
	}

	var msg InboundMessage
	if err := json.UnmarshalFromString(trimmed, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("malformed message line: %w", err)
	}

	switch msg.Type {
	case MsgUserMessage:
		if strings.TrimSpace(msg.Content) == "" {
			return InboundMessage{}, fmt.Errorf("user_message requires non-empty content")
		}
	case MsgScreenshotRequest, MsgAbort:
		// No payload.
	case MsgUpdateAPIKey:
		if msg.Key == "" {
			return InboundMessage{}, fmt.Errorf("update_api_key requires a key")
		}
	default:
		return InboundMessage{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}
