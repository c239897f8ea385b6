package guardrails

import (
	"fmt"
	"strings"
)

// Phase orders diet-logic rule application within a day.
type Phase string

const (
	PhaseDrop  Phase = "DROP"  // forbidden items removed before counting
	PhaseForce Phase = "FORCE" // minimum count of a category per day
	PhaseLimit Phase = "LIMIT" // soft maximum, warns only
)

// DietRule is one ordered diet-logic rule.
type DietRule struct {
	Phase          Phase    `json:"phase"`
	CategoryCode   string   `json:"category_code"`
	CategoryNameNl string   `json:"category_name_nl"`
	MatchTerms     []string `json:"match_terms"`
	MinPerDay      int      `json:"min_per_day,omitempty"`
	MinPerWeek     int      `json:"min_per_week,omitempty"`
	MaxPerDay      int      `json:"max_per_day,omitempty"`
}

// Ingredient is the categorical view of a plan ingredient.
type Ingredient struct {
	Code string
	Name string
	Tags []string
}

// DayIngredients lists all ingredients of one plan day.
type DayIngredients struct {
	DayIndex    int
	Date        string
	Ingredients []Ingredient
}

// ForceDeficit records an unmet FORCE minimum for a category.
type ForceDeficit struct {
	CategoryCode   string `json:"category_code"`
	CategoryNameNl string `json:"category_name_nl"`
	MinPerDay      int    `json:"min_per_day,omitempty"`
	MinPerWeek     int    `json:"min_per_week,omitempty"`
}

// DietLogicResult is the outcome of a full diet-logic evaluation.
type DietLogicResult struct {
	OK             bool
	FailedDayIndex int
	FailedDate     string
	Deficits       []ForceDeficit
	Warnings       []string
	Summary        string
}

// EvaluateDietLogic applies DROP, FORCE and LIMIT phases per day.
// A day fails if any FORCE minimum is unmet; evaluation stops at the
// first failing day. When all days pass, soft warnings accumulate.
func EvaluateDietLogic(rules []DietRule, days []DayIngredients) DietLogicResult {
	result := DietLogicResult{OK: true, FailedDayIndex: -1}

	var drops, forces, limits []DietRule
	for _, rule := range rules {
		switch rule.Phase {
		case PhaseDrop:
			drops = append(drops, rule)
		case PhaseForce:
			forces = append(forces, rule)
		case PhaseLimit:
			limits = append(limits, rule)
		}
	}

	for _, day := range days {
		counted := applyDrops(drops, day.Ingredients)

		var deficits []ForceDeficit
		for _, rule := range forces {
			if rule.MinPerDay <= 0 {
				continue
			}
			if countMatches(rule, counted) < rule.MinPerDay {
				deficits = append(deficits, ForceDeficit{
					CategoryCode:   rule.CategoryCode,
					CategoryNameNl: rule.CategoryNameNl,
					MinPerDay:      rule.MinPerDay,
					MinPerWeek:     rule.MinPerWeek,
				})
			}
		}
		if len(deficits) > 0 {
			result.OK = false
			result.FailedDayIndex = day.DayIndex
			result.FailedDate = day.Date
			result.Deficits = deficits
			result.Summary = fmt.Sprintf("day %s misses %d required categories", day.Date, len(deficits))
			return result
		}

		for _, rule := range limits {
			if rule.MaxPerDay <= 0 {
				continue
			}
			if n := countMatches(rule, counted); n > rule.MaxPerDay {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"%s: %s appears %d times, limit is %d", day.Date, rule.CategoryNameNl, n, rule.MaxPerDay))
			}
		}
	}

	result.Summary = fmt.Sprintf("%d days evaluated, %d warnings", len(days), len(result.Warnings))
	return result
}

func applyDrops(drops []DietRule, ingredients []Ingredient) []Ingredient {
	if len(drops) == 0 {
		return ingredients
	}
	var kept []Ingredient
	for _, ing := range ingredients {
		if !matchesAny(drops, ing) {
			kept = append(kept, ing)
		}
	}
	return kept
}

func countMatches(rule DietRule, ingredients []Ingredient) int {
	count := 0
	for _, ing := range ingredients {
		if matchesRule(rule, ing) {
			count++
		}
	}
	return count
}

func matchesAny(rules []DietRule, ing Ingredient) bool {
	for _, rule := range rules {
		if matchesRule(rule, ing) {
			return true
		}
	}
	return false
}

// matchesRule checks the ingredient's tags against the category code, then
// its name against the rule's match terms.
func matchesRule(rule DietRule, ing Ingredient) bool {
	for _, tag := range ing.Tags {
		if strings.EqualFold(tag, rule.CategoryCode) {
			return true
		}
	}
	name := strings.ToLower(ing.Name)
	for _, term := range rule.MatchTerms {
		if term != "" && strings.Contains(name, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
