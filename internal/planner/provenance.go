package planner

import (
	"context"
	"math"
	"math/rand"
	"sort"
)

// HistoryPool provides previously accepted meals grouped by slot, for
// provenance backfill. Optional; a nil pool disables backfill.
type HistoryPool interface {
	MealsBySlot(ctx context.Context, userID string, slots []string, limit int) (map[string][]Meal, error)
}

// gridPosition is one (day, slot) cell of the plan grid.
type gridPosition struct {
	dayIndex  int
	slotIndex int
	slot      string
}

// ProvenanceComposer backfills a fraction of plan slots from previously
// used meals and records per-slot origin.
type ProvenanceComposer struct {
	evaluator *Evaluator
	fraction  float64
	rng       *rand.Rand
}

// NewProvenanceComposer creates a composer targeting the given fraction of
// slots. The seed makes position sampling reproducible in tests.
func NewProvenanceComposer(evaluator *Evaluator, fraction float64, seed int64) *ProvenanceComposer {
	return &ProvenanceComposer{
		evaluator: evaluator,
		fraction:  fraction,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Compose substitutes history meals into sampled positions. Every tentative
// substitution is validated on a deep clone; a rejected candidate leaves the
// accepted plan untouched. Returns the final days and per-slot origins.
func (c *ProvenanceComposer) Compose(
	ctx context.Context,
	days []MealPlanDay,
	slots []string,
	profile DietProfile,
	exclusions []string,
	pool map[string][]Meal,
	baseOrigin Origin,
) ([]MealPlanDay, map[string]Origin) {
	provenance := make(map[string]Origin)
	for _, day := range days {
		for _, meal := range day.Meals {
			provenance[slotKey(day.Date, meal.Slot)] = baseOrigin
		}
	}

	if c.fraction <= 0 || len(pool) == 0 {
		return days, provenance
	}

	positions := planGrid(days, slots)
	target := int(math.Round(c.fraction * float64(len(positions))))
	if target == 0 {
		return days, provenance
	}

	selected := c.samplePositions(positions, target)

	for _, pos := range selected {
		candidates := pool[pos.slot]
		if len(candidates) == 0 {
			continue
		}

		day := days[pos.dayIndex]
		usedToday := make(map[string]struct{}, len(day.Meals))
		for _, meal := range day.Meals {
			usedToday[meal.Name] = struct{}{}
		}
		var previousName string
		if pos.dayIndex > 0 {
			for _, meal := range days[pos.dayIndex-1].Meals {
				if meal.Slot == pos.slot {
					previousName = meal.Name
					break
				}
			}
		}

		for _, candidate := range candidates {
			if _, used := usedToday[candidate.Name]; used {
				continue
			}
			if candidate.Name == previousName {
				continue
			}

			clone := CloneDays(days)
			substitute(clone, pos, candidate)
			if issues := c.evaluator.ValidatePlan(ctx, clone, profile, exclusions); len(issues) > 0 {
				continue
			}

			days = clone
			provenance[slotKey(day.Date, pos.slot)] = OriginHistory
			break
		}
	}

	return days, provenance
}

// samplePositions takes a uniform Fisher-Yates sample, then restores
// (day, slot) order so per-day de-duplication stays consistent.
func (c *ProvenanceComposer) samplePositions(positions []gridPosition, target int) []gridPosition {
	shuffled := append([]gridPosition(nil), positions...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := c.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	if target > len(shuffled) {
		target = len(shuffled)
	}
	selected := shuffled[:target]

	sort.Slice(selected, func(a, b int) bool {
		if selected[a].dayIndex != selected[b].dayIndex {
			return selected[a].dayIndex < selected[b].dayIndex
		}
		return selected[a].slotIndex < selected[b].slotIndex
	})
	return selected
}

func planGrid(days []MealPlanDay, slots []string) []gridPosition {
	var positions []gridPosition
	for dayIndex := range days {
		for slotIndex, slot := range slots {
			positions = append(positions, gridPosition{dayIndex: dayIndex, slotIndex: slotIndex, slot: slot})
		}
	}
	return positions
}

func substitute(days []MealPlanDay, pos gridPosition, candidate Meal) {
	day := &days[pos.dayIndex]
	for i := range day.Meals {
		if day.Meals[i].Slot != pos.slot {
			continue
		}
		replacement := cloneMeal(candidate)
		replacement.Slot = pos.slot
		replacement.Date = day.Date
		day.Meals[i] = replacement
		return
	}
}

// CheckBudgets verifies the provenance counts against the AI and DB ratio
// bounds. Under the explicit soft-fallback flag a shortfall is annotated
// instead of rejected.
func CheckBudgets(meta *PlanMetadata, maxAIRatio, minDBRatio float64, softFallback bool) error {
	total := meta.GeneratedRecipeCount + meta.ReusedRecipeCount
	if total == 0 {
		return nil
	}

	aiCount := 0
	dbBacked := 0
	for _, origin := range meta.SlotProvenance {
		switch origin {
		case OriginAI:
			aiCount++
		case OriginDB, OriginHistory:
			dbBacked++
		}
	}

	if maxAIRatio > 0 && maxAIRatio < 1 && float64(aiCount) > maxAIRatio*float64(total) {
		if !softFallback {
			return NewError(ErrAIBudgetExceeded, "%d of %d meals are AI-authored, budget allows %.0f%%",
				aiCount, total, maxAIRatio*100)
		}
		meta.BudgetFallback = true
		meta.Warnings = append(meta.Warnings, "ai budget exceeded, accepted under fallback flag")
	}

	if minDBRatio > 0 && float64(dbBacked) < minDBRatio*float64(total) {
		if !softFallback {
			return NewError(ErrDBCoverageTooLow, "%d of %d meals are database-backed, minimum is %.0f%%",
				dbBacked, total, minDBRatio*100)
		}
		meta.BudgetFallback = true
		meta.Warnings = append(meta.Warnings, "db coverage below minimum, accepted under fallback flag")
	}

	return nil
}
