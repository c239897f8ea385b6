package planner

import (
	"context"
	"sort"
	"strings"

	"dieetplanner/internal/nutrition"
)

// fakeLookup serves a small in-memory slice of the nutrition database.
type fakeLookup struct {
	records map[string]nutrition.Record
}

func newFakeLookup() *fakeLookup {
	records := []nutrition.Record{
		{Code: "nevo-1001", Name: "kipfilet", Categories: []string{"proteins"}, Per100g: nutrition.Macros{Calories: 165, Protein: 31, Fat: 3.6}},
		{Code: "nevo-2002", Name: "zilvervliesrijst", Categories: []string{"grains", "vezelrijk"}, Per100g: nutrition.Macros{Calories: 111, Protein: 2.6, Carbs: 23, Fat: 0.9, Fiber: 1.8}},
		{Code: "nevo-3003", Name: "broccoli", Categories: []string{"vegetables"}, Per100g: nutrition.Macros{Calories: 34, Protein: 2.8, Carbs: 7, Fat: 0.4, Fiber: 2.6}},
		{Code: "nevo-4004", Name: "pindakaas", Categories: []string{"fats"}, Per100g: nutrition.Macros{Calories: 588, Protein: 25, Carbs: 20, Fat: 50, Fiber: 6}},
		{Code: "nevo-5005", Name: "magere kwark", Categories: []string{"dairy"}, Per100g: nutrition.Macros{Calories: 57, Protein: 10, Carbs: 4, Fat: 0.3}},
		{Code: "nevo-6006", Name: "appel", Categories: []string{"fruits"}, Per100g: nutrition.Macros{Calories: 52, Protein: 0.3, Carbs: 14, Fat: 0.2, Fiber: 2.4}},
		{Code: "nevo-7007", Name: "olijfolie", Categories: []string{"fats"}, Per100g: nutrition.Macros{Calories: 884, Fat: 100}},
		{Code: "nevo-8008", Name: "havermout", Categories: []string{"grains", "vezelrijk"}, Per100g: nutrition.Macros{Calories: 379, Protein: 13, Carbs: 68, Fat: 6.5, Fiber: 10}},
	}

	byCode := make(map[string]nutrition.Record, len(records))
	for _, rec := range records {
		byCode[rec.Code] = rec
	}
	return &fakeLookup{records: byCode}
}

func (f *fakeLookup) Resolve(ctx context.Context, code string) (*nutrition.Record, error) {
	rec, ok := f.records[code]
	if !ok {
		return nil, nutrition.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeLookup) Search(ctx context.Context, term string, limit int) ([]nutrition.Record, error) {
	term = strings.ToLower(term)

	codes := make([]string, 0, len(f.records))
	for code := range f.records {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []nutrition.Record
	for _, code := range codes {
		rec := f.records[code]
		match := strings.Contains(rec.Name, term)
		for _, cat := range rec.Categories {
			if cat == term {
				match = true
			}
		}
		if match {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLookup) SumMacros(ctx context.Context, items []nutrition.IngredientAmount) (nutrition.Macros, error) {
	var total nutrition.Macros
	for _, item := range items {
		rec, ok := f.records[item.Code]
		if !ok {
			continue
		}
		total.Add(rec.Scale(item.QuantityGrams))
	}
	return total, nil
}

func ref(code, displayName string, grams float64, tags ...string) IngredientRef {
	return IngredientRef{Code: code, DisplayName: displayName, QuantityGrams: grams, Tags: tags}
}

func makeMeal(date, slot, name string, refs ...IngredientRef) Meal {
	return Meal{ID: name, Name: name, Slot: slot, Date: date, Ingredients: refs, Servings: 1}
}

func makeDay(date string, meals ...Meal) MealPlanDay {
	return MealPlanDay{Date: date, Meals: meals}
}

// hasIssue reports whether any issue carries the given code.
func hasIssue(issues []ValidationIssue, code IssueCode) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}
