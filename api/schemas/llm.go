// api/schemas/llm.go
package schemas

import "context"

// GenerationOptions tunes a single LLM generation call.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"` // Request application/json output from the model.
}

// GenerationRequest encapsulates a complete request to the LLM, including an
// optional PNG attachment for multimodal screen-state grounding.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input.
	ImagePNG     []byte            `json:"-"`             // Optional screenshot, PNG-encoded.
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large
// Language Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// UpdateAPIKey validates the key with a probe request and, on success,
	// makes it the client's credential for subsequent calls.
	UpdateAPIKey(ctx context.Context, key string) error
	// Close cleans up any resources held by the client.
	Close() error
}
