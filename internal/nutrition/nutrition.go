package nutrition

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an ingredient code does not resolve.
var ErrNotFound = errors.New("ingredient code not found")

// Macros holds macronutrient totals in kcal and grams.
type Macros struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
}

// Record is a single ingredient entry from the nutrition database.
type Record struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
	Per100g    Macros   `json:"per_100g"`
}

// IngredientAmount pairs an ingredient code with a gram quantity.
type IngredientAmount struct {
	Code          string
	QuantityGrams float64
}

// Lookup resolves ingredient codes against the nutrition database.
type Lookup interface {
	// Resolve returns the record for a code, or ErrNotFound.
	Resolve(ctx context.Context, code string) (*Record, error)
	// Search returns up to limit candidate records matching a term.
	Search(ctx context.Context, term string, limit int) ([]Record, error)
	// SumMacros computes the macro total over a list of ingredient amounts.
	SumMacros(ctx context.Context, items []IngredientAmount) (Macros, error)
}

// Scale returns the macros for a given gram quantity of a record.
func (r *Record) Scale(grams float64) Macros {
	factor := grams / 100.0
	return Macros{
		Calories: r.Per100g.Calories * factor,
		Protein:  r.Per100g.Protein * factor,
		Carbs:    r.Per100g.Carbs * factor,
		Fat:      r.Per100g.Fat * factor,
		Fiber:    r.Per100g.Fiber * factor,
	}
}

// Add accumulates another macro total into m.
func (m *Macros) Add(other Macros) {
	m.Calories += other.Calories
	m.Protein += other.Protein
	m.Carbs += other.Carbs
	m.Fat += other.Fat
	m.Fiber += other.Fiber
}
