package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"dieetplanner/internal/llm"
	"dieetplanner/internal/shared"

	"github.com/google/uuid"
)

//go:embed plan_prompt.md
var planPrompt string

//go:embed repair_prompt.md
var repairPrompt string

// maxPoolPerCategory caps how many candidates per category reach the prompt.
const maxPoolPerCategory = 12

// maxAttemptSteps bounds the state machine; one attempt plus one repair
// never comes close to it.
const maxAttemptSteps = 12

// attemptState enumerates the generation attempt states.
type attemptState int

const (
	stateBuildPrompt attemptState = iota
	stateCallGenerator
	stateParse
	stateSchemaValidate
	stateHardValidate
	stateRepair
	stateAccept
	stateFail
)

// AttemptHint seeds a second-pass generation with retry context.
type AttemptHint struct {
	// DeficitCategories are category names to include, from a day-quota shortfall.
	DeficitCategories []string
	// GuardrailsReasons are rule matches the previous plan was flagged
	// for, carried into a retry to steer away from them.
	GuardrailsReasons []string
	// LowTemperature forces the repair temperature for the whole attempt.
	LowTemperature bool
}

// RunnerConfig holds the generation knobs for the attempt runner.
type RunnerConfig struct {
	Temperature       float32
	RepairTemperature float32
	MaxOutputTokens   int32
}

// attemptInput is everything one generation attempt needs.
type attemptInput struct {
	request    MealPlanRequest
	dates      []string
	slots      []string
	pool       CandidatePool
	exclusions []string
	hint       AttemptHint
}

// AttemptResult is the outcome of one bounded generation attempt.
type AttemptResult struct {
	Days     []MealPlanDay
	Metas    []shared.StageMeta
	Repaired bool
	Issues   []ValidationIssue
}

// AttemptRunner issues one schema-constrained generation request, validates
// it, and performs at most one repair request. The retry ceiling is enforced
// structurally by the state machine, not by manual bookkeeping.
type AttemptRunner struct {
	gen       llm.StructuredGenerator
	evaluator *Evaluator
	adjuster  *Adjuster
	cfg       RunnerConfig
}

// NewAttemptRunner creates an attempt runner.
func NewAttemptRunner(gen llm.StructuredGenerator, evaluator *Evaluator, adjuster *Adjuster, cfg RunnerConfig) *AttemptRunner {
	return &AttemptRunner{gen: gen, evaluator: evaluator, adjuster: adjuster, cfg: cfg}
}

// Run drives one attempt through the state machine.
func (r *AttemptRunner) Run(ctx context.Context, in attemptInput) (*AttemptResult, error) {
	result := &AttemptResult{}

	var (
		state          = stateBuildPrompt
		originalPrompt string
		prompt         string
		raw            string
		days           []MealPlanDay
		issues         []ValidationIssue
	)

	for step := 0; step < maxAttemptSteps; step++ {
		switch state {

		case stateBuildPrompt:
			built, err := buildPlanPrompt(in)
			if err != nil {
				return nil, fmt.Errorf("failed to build prompt: %w", err)
			}
			originalPrompt = built
			prompt = built
			state = stateCallGenerator

		case stateCallGenerator:
			temperature := r.cfg.Temperature
			if result.Repaired || in.hint.LowTemperature {
				temperature = r.cfg.RepairTemperature
			}
			start := time.Now()
			resp, err := r.gen.GenerateStructured(ctx, llm.StructuredRequest{
				Prompt:          prompt,
				Schema:          planSchema(in.slots),
				Temperature:     temperature,
				MaxOutputTokens: r.cfg.MaxOutputTokens,
			})
			if err != nil {
				return nil, fmt.Errorf("generator call failed: %w", err)
			}
			result.Metas = append(result.Metas, shared.StageMeta{
				StageName: "Generator",
				Usage:     resp.Usage,
				Latency:   time.Since(start),
			})
			raw = resp.Content
			state = stateParse

		case stateParse:
			parsed, err := parsePlanDays(raw)
			if err != nil {
				issues = []ValidationIssue{{Path: "plan", Code: IssueParseFailure, Message: err.Error()}}
				if result.Repaired {
					state = stateFail
				} else {
					state = stateRepair
				}
				continue
			}
			days = parsed
			state = stateSchemaValidate

		case stateSchemaValidate:
			issues = validatePlanShape(days, in.dates, in.slots)
			if len(issues) > 0 {
				if result.Repaired {
					state = stateFail
				} else {
					state = stateRepair
				}
				continue
			}
			state = stateHardValidate

		case stateHardValidate:
			issues = r.evaluator.ValidatePlan(ctx, days, in.request.Profile, in.exclusions)
			if len(issues) == 0 {
				state = stateAccept
				continue
			}
			if onlyMacroIssues(issues) {
				issues = r.adjustTowardTargets(ctx, days, in, issues)
				if len(issues) == 0 {
					state = stateAccept
					continue
				}
			}
			if result.Repaired {
				state = stateFail
			} else {
				state = stateRepair
			}

		case stateRepair:
			slog.Info("attempt failed, issuing repair", "issues", len(issues))
			repaired, err := buildRepairPrompt(originalPrompt, raw, issues, in.request.Profile.SlotPreferences)
			if err != nil {
				return nil, fmt.Errorf("failed to build repair prompt: %w", err)
			}
			prompt = repaired
			result.Repaired = true
			state = stateCallGenerator

		case stateAccept:
			result.Days = days
			result.Issues = nil
			return result, nil

		case stateFail:
			result.Issues = issues
			return result, nil
		}
	}

	return nil, fmt.Errorf("attempt exceeded %d state transitions", maxAttemptSteps)
}

// adjustTowardTargets runs the deterministic adjuster per day instead of
// spending the repair on macro misses. The adjustment happens on a clone
// and is committed only when it does not make the issue list worse, so a
// regressing adjustment never touches the attempt's quantities.
func (r *AttemptRunner) adjustTowardTargets(ctx context.Context, days []MealPlanDay, in attemptInput, before []ValidationIssue) []ValidationIssue {
	adjusted := CloneDays(days)
	for i := range adjusted {
		if _, err := r.adjuster.AdjustDay(ctx, &adjusted[i], in.request.Profile.Targets); err != nil {
			slog.Warn("quantity adjustment skipped", "date", adjusted[i].Date, "error", err)
		}
	}
	after := r.evaluator.ValidatePlan(ctx, adjusted, in.request.Profile, in.exclusions)
	if len(after) <= len(before) {
		copy(days, adjusted)
		return after
	}
	return before
}

// planWire mirrors the generator's JSON output before normalization.
type planWire struct {
	Days []struct {
		Date  string `json:"date"`
		Meals []struct {
			Name        string `json:"name"`
			Slot        string `json:"slot"`
			Ingredients []struct {
				Code          string   `json:"code"`
				QuantityGrams float64  `json:"quantity_grams"`
				DisplayName   string   `json:"display_name"`
				Tags          []string `json:"tags"`
			} `json:"ingredients"`
			PrepTimeMinutes int `json:"prep_time_minutes"`
			Servings        int `json:"servings"`
		} `json:"meals"`
	} `json:"days"`
}

// parsePlanDays strips markdown fencing, parses the JSON structure, and
// normalizes it once into the internal representation.
func parsePlanDays(raw string) ([]MealPlanDay, error) {
	cleaned := stripFences(raw)

	var wire planWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("output is not valid plan JSON: %w", err)
	}

	days := make([]MealPlanDay, 0, len(wire.Days))
	for _, wd := range wire.Days {
		day := MealPlanDay{Date: wd.Date}
		for _, wm := range wd.Meals {
			meal := Meal{
				ID:              uuid.NewString(),
				Name:            wm.Name,
				Slot:            wm.Slot,
				Date:            wd.Date,
				PrepTimeMinutes: wm.PrepTimeMinutes,
				Servings:        wm.Servings,
			}
			for _, wi := range wm.Ingredients {
				meal.Ingredients = append(meal.Ingredients, IngredientRef{
					Code:          wi.Code,
					QuantityGrams: wi.QuantityGrams,
					DisplayName:   wi.DisplayName,
					Tags:          wi.Tags,
				})
			}
			day.Meals = append(day.Meals, meal)
		}
		days = append(days, day)
	}
	return days, nil
}

// validatePlanShape checks required fields, enums and ranges of the parsed
// structure before any nutrition lookup happens.
func validatePlanShape(days []MealPlanDay, dates, slots []string) []ValidationIssue {
	var issues []ValidationIssue

	wantDates := make(map[string]bool, len(dates))
	for _, d := range dates {
		wantDates[d] = false
	}
	wantSlots := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		wantSlots[strings.ToLower(s)] = struct{}{}
	}

	for i, day := range days {
		path := fmt.Sprintf("days[%d]", i)
		if _, ok := wantDates[day.Date]; !ok {
			issues = append(issues, ValidationIssue{Path: path, Code: IssueUnexpectedDate,
				Message: fmt.Sprintf("date %q was not requested", day.Date)})
			continue
		}
		if wantDates[day.Date] {
			issues = append(issues, ValidationIssue{Path: path, Code: IssueDuplicateDate,
				Message: fmt.Sprintf("date %q appears twice", day.Date)})
		}
		wantDates[day.Date] = true

		seenSlots := make(map[string]int, len(slots))
		for j, meal := range day.Meals {
			mealPath := fmt.Sprintf("%s.meals[%d]", path, j)
			if meal.Name == "" {
				issues = append(issues, ValidationIssue{Path: mealPath, Code: IssueMissingName, Message: "meal name is required"})
			}
			if _, ok := wantSlots[strings.ToLower(meal.Slot)]; !ok {
				issues = append(issues, ValidationIssue{Path: mealPath, Code: IssueUnknownSlot,
					Message: fmt.Sprintf("slot %q was not requested", meal.Slot)})
			}
			seenSlots[strings.ToLower(meal.Slot)]++
			if len(meal.Ingredients) == 0 {
				issues = append(issues, ValidationIssue{Path: mealPath, Code: IssueEmptyMeal, Message: "meal has no ingredients"})
			}
			for k, ref := range meal.Ingredients {
				if ref.Code == "" {
					issues = append(issues, ValidationIssue{
						Path:    fmt.Sprintf("%s.ingredients[%d]", mealPath, k),
						Code:    IssueMissingCode,
						Message: "ingredient code is required",
					})
				}
			}
		}

		// Every requested slot must be filled exactly once per day.
		for _, slot := range slots {
			lowered := strings.ToLower(slot)
			switch n := seenSlots[lowered]; {
			case n == 0:
				issues = append(issues, ValidationIssue{Path: path, Code: IssueMissingSlot, Slot: lowered,
					Message: fmt.Sprintf("day %s is missing its %s meal", day.Date, lowered)})
			case n > 1:
				issues = append(issues, ValidationIssue{Path: path, Code: IssueDuplicateSlot, Slot: lowered,
					Message: fmt.Sprintf("day %s has %d %s meals", day.Date, n, lowered)})
			}
		}
	}

	for date, seen := range wantDates {
		if !seen {
			issues = append(issues, ValidationIssue{Path: "plan", Code: IssueMissingDate,
				Message: fmt.Sprintf("requested date %q is missing", date)})
		}
	}
	return issues
}

// stripFences removes markdown code fencing and surrounding whitespace.
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	return cleaned
}

// planSchema is the response schema sent with every generation request.
func planSchema(slots []string) *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"days": {
				Type: "array",
				Items: &llm.Schema{
					Type: "object",
					Properties: map[string]*llm.Schema{
						"date": {Type: "string", Description: "YYYY-MM-DD"},
						"meals": {
							Type: "array",
							Items: &llm.Schema{
								Type: "object",
								Properties: map[string]*llm.Schema{
									"name": {Type: "string"},
									"slot": {Type: "string", Enum: slots},
									"ingredients": {
										Type: "array",
										Items: &llm.Schema{
											Type: "object",
											Properties: map[string]*llm.Schema{
												"code":           {Type: "string", Description: "nutrition database code, verbatim from the candidate list"},
												"quantity_grams": {Type: "number"},
												"display_name":   {Type: "string"},
												"tags":           {Type: "array", Items: &llm.Schema{Type: "string"}},
											},
											Required: []string{"code", "quantity_grams", "display_name"},
										},
									},
									"prep_time_minutes": {Type: "integer"},
									"servings":          {Type: "integer"},
								},
								Required: []string{"name", "slot", "ingredients"},
							},
						},
					},
					Required: []string{"date", "meals"},
				},
			},
		},
		Required: []string{"days"},
	}
}

type planPromptData struct {
	StartDate          string
	EndDate            string
	Slots              []string
	Language           string
	Targets            MacroTargets
	TherapeuticTargets map[string]float64
	MaxPrepTimeMinutes int
	Allergies          []string
	Dislikes           []string
	Exclusions         []string
	Prefer             []string
	SlotPreferences    []SlotPreference
	RequiredCategories []RequiredCategory
	Pool               map[string][]promptPoolItem
	DeficitCategories  []string
	GuardrailsReasons  []string
}

type promptPoolItem struct {
	Code string
	Name string
}

func buildPlanPrompt(in attemptInput) (string, error) {
	data := planPromptData{
		StartDate:          in.dates[0],
		EndDate:            in.dates[len(in.dates)-1],
		Slots:              in.slots,
		Language:           in.request.Language,
		Targets:            in.request.Profile.Targets,
		TherapeuticTargets: in.request.TherapeuticTargets,
		MaxPrepTimeMinutes: in.request.Profile.MaxPrepTimeMinutes,
		Allergies:          in.request.Profile.Allergies,
		Dislikes:           in.request.Profile.Dislikes,
		Exclusions:         in.exclusions,
		Prefer:             in.request.PreferIngredients,
		SlotPreferences:    in.request.Profile.SlotPreferences,
		RequiredCategories: in.request.Profile.RequiredCategories,
		Pool:               make(map[string][]promptPoolItem, len(in.pool)),
		DeficitCategories:  in.hint.DeficitCategories,
		GuardrailsReasons:  in.hint.GuardrailsReasons,
	}
	if data.Language == "" {
		data.Language = "nl"
	}

	for category, records := range in.pool {
		capped := records
		if len(capped) > maxPoolPerCategory {
			capped = capped[:maxPoolPerCategory]
		}
		for _, rec := range capped {
			data.Pool[category] = append(data.Pool[category], promptPoolItem{Code: rec.Code, Name: rec.Name})
		}
	}

	tmpl, err := template.New("plan").Parse(planPrompt)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type repairPromptData struct {
	OriginalPrompt string
	BadOutput      string
	Issues         []ValidationIssue
	FixHints       []string
}

// buildRepairPrompt hands the generator the original prompt, its bad output
// verbatim, the issue list, and targeted fix hints.
func buildRepairPrompt(originalPrompt, badOutput string, issues []ValidationIssue, prefs []SlotPreference) (string, error) {
	data := repairPromptData{
		OriginalPrompt: originalPrompt,
		BadOutput:      badOutput,
		Issues:         issues,
	}

	for _, issue := range issues {
		if issue.Code != IssueMealPreferenceMiss {
			continue
		}
		for _, pref := range prefs {
			if strings.EqualFold(issue.Slot, pref.Slot) {
				data.FixHints = append(data.FixHints, fmt.Sprintf(
					"The %s meal must contain %s.", pref.Slot, strings.Join(pref.Terms, " or ")))
			}
		}
	}

	tmpl, err := template.New("repair").Parse(repairPrompt)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
