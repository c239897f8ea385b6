package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"

	"dieetplanner/internal/llm"
)

//go:embed sanity_prompt.md
var sanityPrompt string

// SanityResult is the verdict of the plausibility check.
type SanityResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// SanityValidator is a black-box plausibility predicate over a finished plan.
type SanityValidator interface {
	Check(ctx context.Context, days []MealPlanDay) (SanityResult, error)
}

// llmSanityValidator asks the generator for a single yes/no plausibility verdict.
type llmSanityValidator struct {
	gen llm.StructuredGenerator
}

// NewLLMSanityValidator creates an LLM-backed sanity validator.
func NewLLMSanityValidator(gen llm.StructuredGenerator) SanityValidator {
	return &llmSanityValidator{gen: gen}
}

func (v *llmSanityValidator) Check(ctx context.Context, days []MealPlanDay) (SanityResult, error) {
	planJSON, err := json.Marshal(days)
	if err != nil {
		return SanityResult{}, fmt.Errorf("failed to marshal plan: %w", err)
	}

	tmpl, err := template.New("sanity").Parse(sanityPrompt)
	if err != nil {
		return SanityResult{}, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{"PlanJSON": string(planJSON)}); err != nil {
		return SanityResult{}, err
	}

	resp, err := v.gen.GenerateStructured(ctx, llm.StructuredRequest{
		Prompt: buf.String(),
		Schema: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"plausible": {Type: "boolean"},
				"reason":    {Type: "string"},
			},
			Required: []string{"plausible"},
		},
		Temperature:     0,
		MaxOutputTokens: 256,
	})
	if err != nil {
		return SanityResult{}, fmt.Errorf("sanity check call failed: %w", err)
	}

	var verdict struct {
		Plausible bool   `json:"plausible"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &verdict); err != nil {
		return SanityResult{}, fmt.Errorf("failed to parse sanity verdict: %w", err)
	}

	return SanityResult{OK: verdict.Plausible, Reason: verdict.Reason}, nil
}
