package planner

import (
	"context"
	"fmt"
	"math"

	"dieetplanner/internal/nutrition"
)

// QuantityChange records one gram adjustment made by the Adjuster.
type QuantityChange struct {
	Code     string  `json:"code"`
	OldGrams float64 `json:"old_grams"`
	NewGrams float64 `json:"new_grams"`
}

// Adjuster deterministically scales a day's ingredient grams toward the
// macro targets, avoiding a generation retry for calorie/macro misses only.
type Adjuster struct {
	lookup   nutrition.Lookup
	clampMin float64
	clampMax float64
}

// NewAdjuster creates an Adjuster with the given scale clamp.
func NewAdjuster(lookup nutrition.Lookup, clampMin, clampMax float64) *Adjuster {
	return &Adjuster{lookup: lookup, clampMin: clampMin, clampMax: clampMax}
}

// AdjustDay derives a single scale factor from the targets and applies it
// to every ingredient quantity in the day, rounding to the nearest 5g with
// a 1g floor. A day already on target is left untouched.
func (a *Adjuster) AdjustDay(ctx context.Context, day *MealPlanDay, targets MacroTargets) ([]QuantityChange, error) {
	var items []nutrition.IngredientAmount
	for _, meal := range day.Meals {
		for _, ref := range meal.Ingredients {
			items = append(items, nutrition.IngredientAmount{Code: ref.Code, QuantityGrams: ref.QuantityGrams})
		}
	}
	if len(items) == 0 {
		return nil, nil
	}

	current, err := a.lookup.SumMacros(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("failed to sum day macros: %w", err)
	}

	factor := 1.0
	if targets.HasCalorieRange() && current.Calories > 0 &&
		(current.Calories < targets.CaloriesMin || current.Calories > targets.CaloriesMax) {
		factor = a.clamp(targets.CalorieMidpoint() / current.Calories)
	}

	// Raise the factor further for an unmet protein minimum, but only while
	// the scaled calories stay under the calorie ceiling.
	if targets.ProteinMin > 0 && current.Protein > 0 && current.Protein*factor < targets.ProteinMin {
		candidate := a.clamp(targets.ProteinMin / current.Protein)
		if candidate > factor {
			if targets.CaloriesMax == 0 || current.Calories*candidate <= targets.CaloriesMax {
				factor = candidate
			}
		}
	}

	if factor == 1.0 {
		return nil, nil
	}

	var changes []QuantityChange
	for i := range day.Meals {
		for j := range day.Meals[i].Ingredients {
			ref := &day.Meals[i].Ingredients[j]
			newGrams := roundToFive(ref.QuantityGrams * factor)
			if newGrams == ref.QuantityGrams {
				continue
			}
			changes = append(changes, QuantityChange{
				Code:     ref.Code,
				OldGrams: ref.QuantityGrams,
				NewGrams: newGrams,
			})
			ref.QuantityGrams = newGrams
		}
	}
	return changes, nil
}

func (a *Adjuster) clamp(factor float64) float64 {
	if factor < a.clampMin {
		return a.clampMin
	}
	if factor > a.clampMax {
		return a.clampMax
	}
	return factor
}

// roundToFive rounds to the nearest 5 grams with a floor of 1 gram.
func roundToFive(grams float64) float64 {
	rounded := math.Round(grams/5) * 5
	if rounded < 1 {
		return 1
	}
	return rounded
}
