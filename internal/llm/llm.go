package llm

import (
	"context"

	"dieetplanner/internal/shared"
)

// Schema describes the JSON shape a structured response must follow.
// It mirrors the subset of OpenAPI schema accepted by the Gemini API,
// kept provider-neutral so alternate backends can embed it in the prompt.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// StructuredRequest is one schema-constrained generation request.
type StructuredRequest struct {
	Prompt          string
	Schema          *Schema
	Temperature     float32
	MaxOutputTokens int32
}

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// StructuredGenerator is an interface for generating schema-constrained JSON output.
// The returned content is expected to parse as JSON but carries no validity guarantee.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}
