package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dieetplanner/internal/nutrition"
)

// Evaluator checks plans, days and meals against a profile's hard rules.
// The same logic backs whole-plan, single-day and single-meal validation.
type Evaluator struct {
	lookup nutrition.Lookup
}

// NewEvaluator creates a constraint evaluator over a nutrition lookup.
func NewEvaluator(lookup nutrition.Lookup) *Evaluator {
	return &Evaluator{lookup: lookup}
}

// recordCache memoizes code resolution within one validation pass.
// A nil entry means the code did not resolve.
type recordCache map[string]*nutrition.Record

func (e *Evaluator) resolve(ctx context.Context, code string, cache recordCache) (*nutrition.Record, error) {
	if rec, ok := cache[code]; ok {
		if rec == nil {
			return nil, nutrition.ErrNotFound
		}
		return rec, nil
	}
	rec, err := e.lookup.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, nutrition.ErrNotFound) {
			cache[code] = nil
		}
		return nil, err
	}
	cache[code] = rec
	return rec, nil
}

// ValidatePlan checks every day of a plan. An empty result means acceptable.
func (e *Evaluator) ValidatePlan(ctx context.Context, days []MealPlanDay, profile DietProfile, exclusions []string) []ValidationIssue {
	rs := newRuleSet(profile, exclusions)
	cache := make(recordCache)

	var issues []ValidationIssue
	for i, day := range days {
		issues = append(issues, e.validateDay(ctx, fmt.Sprintf("days[%d]", i), day, rs, cache)...)
	}
	return issues
}

// ValidateDay checks a single day against the profile's hard daily rules.
func (e *Evaluator) ValidateDay(ctx context.Context, day MealPlanDay, profile DietProfile, exclusions []string) []ValidationIssue {
	rs := newRuleSet(profile, exclusions)
	return e.validateDay(ctx, "day", day, rs, make(recordCache))
}

// ValidateMeal checks a single meal against the profile's per-meal rules.
func (e *Evaluator) ValidateMeal(ctx context.Context, meal Meal, profile DietProfile, exclusions []string) []ValidationIssue {
	rs := newRuleSet(profile, exclusions)
	return e.validateMeal(ctx, "meal", meal, rs, make(recordCache))
}

func (e *Evaluator) validateDay(ctx context.Context, path string, day MealPlanDay, rs ruleSet, cache recordCache) []ValidationIssue {
	var issues []ValidationIssue

	for j, meal := range day.Meals {
		mealPath := fmt.Sprintf("%s.meals[%d]", path, j)
		if meal.Date != day.Date {
			issues = append(issues, ValidationIssue{
				Path:    mealPath,
				Code:    IssueDateMismatch,
				Message: fmt.Sprintf("meal date %s does not match day date %s", meal.Date, day.Date),
			})
		}
		issues = append(issues, e.validateMeal(ctx, mealPath, meal, rs, cache)...)
	}

	for _, cat := range rs.requiredPerDay {
		if countCategoryMeals(day, cat) < cat.MinPerDay {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Code:    IssueCategoryMissing,
				Message: fmt.Sprintf("category %s (%s) requires %d meals per day", cat.Code, cat.NameNl, cat.MinPerDay),
			})
		}
	}

	issues = append(issues, e.validateDayMacros(ctx, path, day, rs, cache)...)
	return issues
}

func (e *Evaluator) validateMeal(ctx context.Context, path string, meal Meal, rs ruleSet, cache recordCache) []ValidationIssue {
	var issues []ValidationIssue

	if prefs, ok := rs.slotPrefs[strings.ToLower(meal.Slot)]; ok {
		if !matchesAnyTerm(meal.searchText(), prefs) {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Code:    IssueMealPreferenceMiss,
				Slot:    strings.ToLower(meal.Slot),
				Message: fmt.Sprintf("slot %s must match one of: %s", meal.Slot, strings.Join(prefs, ", ")),
			})
		}
	}

	if rs.maxPrepMinutes > 0 && meal.PrepTimeMinutes > rs.maxPrepMinutes {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssuePrepTimeExceeded,
			Message: fmt.Sprintf("prep time %d min exceeds limit of %d min", meal.PrepTimeMinutes, rs.maxPrepMinutes),
		})
	}

	for k, ref := range meal.Ingredients {
		refPath := fmt.Sprintf("%s.ingredients[%d]", path, k)

		if ref.QuantityGrams < 1 {
			issues = append(issues, ValidationIssue{
				Path:    refPath,
				Code:    IssueInvalidQuantity,
				Message: fmt.Sprintf("quantity %vg is below 1g", ref.QuantityGrams),
			})
		}

		matchText := strings.ToLower(ref.DisplayName + " " + strings.Join(ref.Tags, " "))
		rec, err := e.resolve(ctx, ref.Code, cache)
		if err != nil {
			issues = append(issues, ValidationIssue{
				Path:    refPath,
				Code:    IssueUnknownIngredient,
				Message: fmt.Sprintf("code %q does not resolve", ref.Code),
			})
		} else {
			matchText += " " + strings.ToLower(rec.Name+" "+strings.Join(rec.Categories, " "))
		}

		issues = append(issues, matchExclusions(refPath, matchText, rs)...)
	}

	return issues
}

func matchExclusions(path, matchText string, rs ruleSet) []ValidationIssue {
	var issues []ValidationIssue
	if term := firstMatch(matchText, rs.forbiddenTerms); term != "" {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueForbiddenItem,
			Message: fmt.Sprintf("matches forbidden item %q", term),
		})
	}
	if term := firstMatch(matchText, rs.allergenTerms); term != "" {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueAllergenMatch,
			Message: fmt.Sprintf("matches allergen %q", term),
		})
	}
	if term := firstMatch(matchText, rs.dislikeTerms); term != "" {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueDislikedIngredient,
			Message: fmt.Sprintf("matches disliked ingredient %q", term),
		})
	}
	if term := firstMatch(matchText, rs.extraTerms); term != "" {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueDislikedIngredient,
			Message: fmt.Sprintf("matches requested exclusion %q", term),
		})
	}
	return issues
}

// validateDayMacros checks hard, daily-scope targets only. Unknown codes are
// already reported elsewhere; their macros count as zero here.
func (e *Evaluator) validateDayMacros(ctx context.Context, path string, day MealPlanDay, rs ruleSet, cache recordCache) []ValidationIssue {
	if !rs.targets.HasCalorieRange() && rs.targets.ProteinMin == 0 && rs.targets.CarbsMax == 0 && rs.targets.FatMax == 0 {
		return nil
	}

	total := e.dayMacros(ctx, day, cache)

	var issues []ValidationIssue
	if rs.targets.HasCalorieRange() && (total.Calories < rs.targets.CaloriesMin || total.Calories > rs.targets.CaloriesMax) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueCalorieTargetMiss,
			Message: fmt.Sprintf("day calories %.0f outside [%v, %v]", total.Calories, rs.targets.CaloriesMin, rs.targets.CaloriesMax),
		})
	}
	if rs.targets.ProteinMin > 0 && total.Protein < rs.targets.ProteinMin {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueProteinTargetMiss,
			Message: fmt.Sprintf("day protein %.0fg below minimum %vg", total.Protein, rs.targets.ProteinMin),
		})
	}
	if rs.targets.CarbsMax > 0 && total.Carbs > rs.targets.CarbsMax {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueCarbsTargetMiss,
			Message: fmt.Sprintf("day carbs %.0fg above maximum %vg", total.Carbs, rs.targets.CarbsMax),
		})
	}
	if rs.targets.FatMax > 0 && total.Fat > rs.targets.FatMax {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Code:    IssueFatTargetMiss,
			Message: fmt.Sprintf("day fat %.0fg above maximum %vg", total.Fat, rs.targets.FatMax),
		})
	}
	return issues
}

// dayMacros sums the macros of every resolvable ingredient in a day.
func (e *Evaluator) dayMacros(ctx context.Context, day MealPlanDay, cache recordCache) nutrition.Macros {
	var total nutrition.Macros
	for _, meal := range day.Meals {
		for _, ref := range meal.Ingredients {
			rec, err := e.resolve(ctx, ref.Code, cache)
			if err != nil {
				continue
			}
			total.Add(rec.Scale(ref.QuantityGrams))
		}
	}
	return total
}

// countCategoryMeals counts the meals in a day containing the category,
// matched on ingredient tags, codes or display names.
func countCategoryMeals(day MealPlanDay, cat RequiredCategory) int {
	code := strings.ToLower(cat.Code)
	nameNl := strings.ToLower(cat.NameNl)

	count := 0
	for _, meal := range day.Meals {
		for _, ref := range meal.Ingredients {
			if ingredientInCategory(ref, code, nameNl) {
				count++
				break
			}
		}
	}
	return count
}

func ingredientInCategory(ref IngredientRef, code, nameNl string) bool {
	for _, tag := range ref.Tags {
		tag = strings.ToLower(tag)
		if tag == code || (nameNl != "" && tag == nameNl) {
			return true
		}
	}
	name := strings.ToLower(ref.DisplayName)
	if code != "" && strings.Contains(name, code) {
		return true
	}
	if nameNl != "" && strings.Contains(name, nameNl) {
		return true
	}
	return false
}

func matchesAnyTerm(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func firstMatch(text string, terms []string) string {
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			return term
		}
	}
	return ""
}
