package planner

import (
	"fmt"
	"strings"
	"time"

	"dieetplanner/internal/nutrition"
)

// DateLayout is the wire format for plan dates.
const DateLayout = "2006-01-02"

// GeneratorMode selects the generation strategy for a request.
type GeneratorMode string

const (
	ModeGenerative GeneratorMode = "generative"
	ModeTemplate   GeneratorMode = "template"
)

// Origin records where a planned meal came from.
type Origin string

const (
	OriginAI      Origin = "ai"
	OriginDB      Origin = "db"
	OriginHistory Origin = "history"
)

// IngredientRef identifies an ingredient by its nutrition-database code.
type IngredientRef struct {
	Code          string   `json:"code"`
	QuantityGrams float64  `json:"quantity_grams"`
	DisplayName   string   `json:"display_name,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	CanonicalID   string   `json:"canonical_id,omitempty"`
}

// Meal is a single meal in exactly one day and slot.
type Meal struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Slot            string            `json:"slot"`
	Date            string            `json:"date"`
	Ingredients     []IngredientRef   `json:"ingredients"`
	Macros          *nutrition.Macros `json:"macros,omitempty"`
	PrepTimeMinutes int               `json:"prep_time_minutes,omitempty"`
	Servings        int               `json:"servings,omitempty"`
}

// MealPlanDay holds all meals for one date.
type MealPlanDay struct {
	Date  string `json:"date"`
	Meals []Meal `json:"meals"`
}

// MealPlanRequest describes one plan-generation call.
type MealPlanRequest struct {
	UserID             string             `json:"user_id"`
	StartDate          string             `json:"start_date"`
	EndDate            string             `json:"end_date"`
	Slots              []string           `json:"slots"`
	Profile            DietProfile        `json:"profile"`
	Mode               GeneratorMode      `json:"mode,omitempty"`
	PreApproved        CandidatePool      `json:"pre_approved,omitempty"`
	ExcludeIngredients []string           `json:"exclude_ingredients,omitempty"`
	PreferIngredients  []string           `json:"prefer_ingredients,omitempty"`
	TherapeuticTargets map[string]float64 `json:"therapeutic_targets,omitempty"`
	Language           string             `json:"language,omitempty"`
}

// PlanMetadata is advisory information about how a plan was produced.
// It is never required to interpret correctness.
type PlanMetadata struct {
	GeneratorMode        GeneratorMode     `json:"generator_mode"`
	Attempts             int               `json:"attempts"`
	RetryReason          string            `json:"retry_reason,omitempty"`
	PoolCategories       int               `json:"pool_categories"`
	PoolCandidates       int               `json:"pool_candidates"`
	SanityOK             bool              `json:"sanity_ok"`
	GuardrailsVersion    string            `json:"guardrails_version,omitempty"`
	GuardrailsHash       string            `json:"guardrails_hash,omitempty"`
	GeneratedRecipeCount int               `json:"generated_recipe_count"`
	ReusedRecipeCount    int               `json:"reused_recipe_count"`
	SlotProvenance       map[string]Origin `json:"slot_provenance,omitempty"`
	BudgetFallback       bool              `json:"budget_fallback,omitempty"`
	Warnings             []string          `json:"warnings,omitempty"`
}

// MealPlanResponse is the result of a successful generation call.
type MealPlanResponse struct {
	RequestID string        `json:"request_id"`
	Days      []MealPlanDay `json:"days"`
	Metadata  PlanMetadata  `json:"metadata"`
}

// slotKey identifies one (day, slot) position in a plan grid.
func slotKey(date, slot string) string {
	return date + "/" + slot
}

// DatesBetween expands an inclusive start/end range into day strings.
func DatesBetween(start, end string) ([]string, error) {
	from, err := time.Parse(DateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	to, err := time.Parse(DateLayout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("end date %s before start date %s", end, start)
	}

	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// CloneDays deep-copies a plan so tentative edits never corrupt the accepted plan.
func CloneDays(days []MealPlanDay) []MealPlanDay {
	out := make([]MealPlanDay, len(days))
	for i, day := range days {
		out[i] = MealPlanDay{Date: day.Date, Meals: make([]Meal, len(day.Meals))}
		for j, meal := range day.Meals {
			out[i].Meals[j] = cloneMeal(meal)
		}
	}
	return out
}

func cloneMeal(meal Meal) Meal {
	clone := meal
	clone.Ingredients = make([]IngredientRef, len(meal.Ingredients))
	for k, ref := range meal.Ingredients {
		refClone := ref
		if len(ref.Tags) > 0 {
			refClone.Tags = append([]string(nil), ref.Tags...)
		}
		clone.Ingredients[k] = refClone
	}
	if meal.Macros != nil {
		macros := *meal.Macros
		clone.Macros = &macros
	}
	return clone
}

// searchText builds the lowercase text a meal is matched against:
// its name plus every ingredient display name and code.
func (m Meal) searchText() string {
	text := m.Name
	for _, ref := range m.Ingredients {
		text += " " + ref.DisplayName
		text += " " + ref.Code
	}
	return strings.ToLower(text)
}
