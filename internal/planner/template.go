package planner

import (
	"fmt"
	"strings"

	"dieetplanner/internal/nutrition"

	"github.com/google/uuid"
)

// slotTemplates maps a meal slot to the pool categories composing it.
// Slots are Dutch, matching the product's meal naming.
var slotTemplates = map[string][]string{
	"ontbijt":   {"grains", "dairy", "fruits"},
	"lunch":     {"grains", "proteins", "vegetables"},
	"diner":     {"proteins", "vegetables", "grains", "fats"},
	"snack":     {"fruits"},
	"breakfast": {"grains", "dairy", "fruits"},
	"dinner":    {"proteins", "vegetables", "grains", "fats"},
}

// fallbackTemplate covers slots without an explicit template.
var fallbackTemplate = []string{"proteins", "vegetables"}

// templateGrams are the default quantities per category.
var templateGrams = map[string]float64{
	"proteins":   150,
	"vegetables": 200,
	"grains":     75,
	"dairy":      200,
	"fruits":     120,
	"fats":       15,
}

// TemplateGenerator is the deterministic alternate generation path. It
// rotates through pre-approved pools per day and slot; a retry seed yields
// a different but reproducible rotation.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a template generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate builds a full plan from the merged, sanitized pool. It raises
// INSUFFICIENT_INGREDIENTS when any required category pool is empty, and
// never returns a silently empty slot.
func (g *TemplateGenerator) Generate(dates, slots []string, pool CandidatePool, retrySeed int) ([]MealPlanDay, error) {
	for _, slot := range slots {
		for _, category := range categoriesForSlot(slot) {
			if len(pool[category]) == 0 {
				return nil, &Error{
					Kind:    ErrInsufficientIngredients,
					Message: fmt.Sprintf("no candidates left in category %q for slot %q after filtering", category, slot),
				}
			}
		}
	}

	days := make([]MealPlanDay, 0, len(dates))
	for dayIdx, date := range dates {
		day := MealPlanDay{Date: date}
		for slotIdx, slot := range slots {
			meal := Meal{
				ID:   uuid.NewString(),
				Slot: slot,
				Date: date,
			}
			var names []string
			for catIdx, category := range categoriesForSlot(slot) {
				candidates := pool[category]
				pick := candidates[rotationIndex(dayIdx, slotIdx, catIdx, retrySeed, len(candidates))]
				meal.Ingredients = append(meal.Ingredients, IngredientRef{
					Code:          pick.Code,
					QuantityGrams: templateGrams[category],
					DisplayName:   pick.Name,
					Tags:          pick.Categories,
				})
				names = append(names, pick.Name)
			}
			meal.Name = mealName(names)
			day.Meals = append(day.Meals, meal)
		}
		days = append(days, day)
	}
	return days, nil
}

// rotationIndex spreads picks across the pool deterministically. The primes
// keep consecutive days and slots from landing on the same candidate.
func rotationIndex(day, slot, category, seed, poolSize int) int {
	return (day*31 + slot*7 + category*3 + seed*13) % poolSize
}

func categoriesForSlot(slot string) []string {
	if categories, ok := slotTemplates[strings.ToLower(slot)]; ok {
		return categories
	}
	return fallbackTemplate
}

func mealName(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return names[0] + " met " + strings.Join(names[1:], " en ")
	}
}

// mergePools combines a caller-provided pre-approved pool with the sanitized
// candidate pool, deduplicated by ingredient code.
func mergePools(preApproved, candidates CandidatePool) CandidatePool {
	merged := make(CandidatePool)
	for category, records := range preApproved {
		merged[category] = append([]nutrition.Record(nil), records...)
	}
	for category, records := range candidates {
		seen := make(map[string]struct{}, len(merged[category]))
		for _, rec := range merged[category] {
			seen[rec.Code] = struct{}{}
		}
		for _, rec := range records {
			if _, ok := seen[rec.Code]; ok {
				continue
			}
			merged[category] = append(merged[category], rec)
		}
	}
	return merged
}
