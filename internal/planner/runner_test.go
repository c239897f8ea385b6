package planner

import (
	"context"
	"strings"
	"testing"

	"dieetplanner/internal/llm"
	"dieetplanner/internal/shared"
)

// scriptedGenerator returns one canned response per call, in order.
type scriptedGenerator struct {
	responses []string
	prompts   []string
	temps     []float32
}

func (g *scriptedGenerator) GenerateStructured(ctx context.Context, req llm.StructuredRequest) (llm.ContentResponse, error) {
	call := len(g.prompts)
	g.prompts = append(g.prompts, req.Prompt)
	g.temps = append(g.temps, req.Temperature)
	if call >= len(g.responses) {
		call = len(g.responses) - 1
	}
	return llm.ContentResponse{
		Content: g.responses[call],
		Usage:   shared.TokenUsage{PromptTokens: 100, CompletionTokens: 200, Model: "test-model"},
	}, nil
}

const goodPlanJSON = `{
  "days": [
    {
      "date": "2026-09-01",
      "meals": [
        {
          "name": "havermout met appel",
          "slot": "ontbijt",
          "ingredients": [
            {"code": "nevo-8008", "quantity_grams": 60, "display_name": "havermout"},
            {"code": "nevo-6006", "quantity_grams": 100, "display_name": "appel"}
          ],
          "prep_time_minutes": 10,
          "servings": 1
        },
        {
          "name": "kip met zilvervliesrijst",
          "slot": "diner",
          "ingredients": [
            {"code": "nevo-1001", "quantity_grams": 150, "display_name": "kipfilet"},
            {"code": "nevo-2002", "quantity_grams": 75, "display_name": "zilvervliesrijst"}
          ],
          "prep_time_minutes": 25,
          "servings": 1
        }
      ]
    }
  ]
}`

// breakfastOnlyPlanJSON omits the requested diner slot entirely.
const breakfastOnlyPlanJSON = `{
  "days": [
    {
      "date": "2026-09-01",
      "meals": [
        {
          "name": "havermout met appel",
          "slot": "ontbijt",
          "ingredients": [
            {"code": "nevo-8008", "quantity_grams": 60, "display_name": "havermout"},
            {"code": "nevo-6006", "quantity_grams": 100, "display_name": "appel"}
          ],
          "servings": 1
        }
      ]
    }
  ]
}`

func testInput(req MealPlanRequest) attemptInput {
	return attemptInput{
		request: req,
		dates:   []string{"2026-09-01"},
		slots:   []string{"ontbijt", "diner"},
		pool:    CandidatePool{"proteins": {{Code: "nevo-1001", Name: "kipfilet"}}},
	}
}

func testRunner(gen llm.StructuredGenerator) *AttemptRunner {
	lookup := newFakeLookup()
	return NewAttemptRunner(gen, NewEvaluator(lookup), NewAdjuster(lookup, 0.7, 1.3), RunnerConfig{
		Temperature:       0.4,
		RepairTemperature: 0.1,
		MaxOutputTokens:   8192,
	})
}

func TestAttemptRunner_AcceptsValidPlan(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{goodPlanJSON}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Repaired {
		t.Error("valid plan must not trigger a repair")
	}
	if len(result.Issues) != 0 {
		t.Errorf("unexpected issues: %v", result.Issues)
	}
	if len(result.Days) != 1 || len(result.Days[0].Meals) != 2 {
		t.Fatalf("unexpected plan shape: %+v", result.Days)
	}
	if result.Days[0].Meals[0].Date != "2026-09-01" {
		t.Errorf("meal date not normalized: %s", result.Days[0].Meals[0].Date)
	}
	if result.Days[0].Meals[0].ID == "" {
		t.Error("meal ID not assigned")
	}
	if len(result.Metas) != 1 || result.Metas[0].StageName != "Generator" {
		t.Errorf("unexpected stage metas: %+v", result.Metas)
	}
}

func TestAttemptRunner_RepairsMalformedOutput(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"dit is geen json", goodPlanJSON}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Repaired {
		t.Fatal("expected a repair pass")
	}
	if len(result.Issues) != 0 {
		t.Errorf("expected repaired plan accepted, got issues %v", result.Issues)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected 2 generator calls, got %d", len(gen.prompts))
	}
	// Repair carries the bad output and runs at the low temperature.
	if !strings.Contains(gen.prompts[1], "dit is geen json") {
		t.Error("repair prompt must quote the rejected output")
	}
	if gen.temps[1] != 0.1 {
		t.Errorf("repair call temperature = %v, want 0.1", gen.temps[1])
	}
}

func TestAttemptRunner_StopsAfterOneRepair(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"kapot", "nog steeds kapot"}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected exactly 2 generator calls, got %d", len(gen.prompts))
	}
	if !hasIssue(result.Issues, IssueParseFailure) {
		t.Errorf("expected %s after the repair budget is spent, got %v", IssueParseFailure, result.Issues)
	}
}

func TestAttemptRunner_FencedOutputAccepted(t *testing.T) {
	fenced := "```json\n" + goodPlanJSON + "\n```"
	gen := &scriptedGenerator{responses: []string{fenced}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Repaired || len(result.Issues) != 0 {
		t.Errorf("fenced output should parse cleanly: repaired=%v issues=%v", result.Repaired, result.Issues)
	}
}

func TestAttemptRunner_SchemaIssuesTriggerRepair(t *testing.T) {
	// Wrong date and a missing diner slot.
	wrongDate := strings.ReplaceAll(goodPlanJSON, "2026-09-01", "2026-09-05")
	gen := &scriptedGenerator{responses: []string{wrongDate, goodPlanJSON}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Repaired {
		t.Fatal("expected a repair for the date mismatch")
	}
	if len(result.Issues) != 0 {
		t.Errorf("expected clean result after repair, got %v", result.Issues)
	}
}

func TestAttemptRunner_MissingSlotTriggersRepair(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{breakfastOnlyPlanJSON, goodPlanJSON}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Repaired {
		t.Fatal("expected a repair for the missing diner slot")
	}
	if len(result.Issues) != 0 {
		t.Errorf("expected clean result after repair, got %v", result.Issues)
	}
	if len(result.Days) != 1 || len(result.Days[0].Meals) != 2 {
		t.Fatalf("expected both slots filled after repair: %+v", result.Days)
	}
}

func TestAttemptRunner_MissingSlotPersists(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{breakfastOnlyPlanJSON, breakfastOnlyPlanJSON}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected exactly 2 generator calls, got %d", len(gen.prompts))
	}
	if !hasIssue(result.Issues, IssueMissingSlot) {
		t.Errorf("expected %s to survive the repair, got %v", IssueMissingSlot, result.Issues)
	}
}

func TestAttemptRunner_DuplicateSlotRejected(t *testing.T) {
	// Two breakfasts on one day, the diner slot served correctly.
	doubled := strings.Replace(goodPlanJSON, `"slot": "diner"`, `"slot": "ontbijt"`, 1)
	gen := &scriptedGenerator{responses: []string{doubled, doubled}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: DietProfile{DietKey: "standaard"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !hasIssue(result.Issues, IssueDuplicateSlot) {
		t.Errorf("expected %s, got %v", IssueDuplicateSlot, result.Issues)
	}
	if !hasIssue(result.Issues, IssueMissingSlot) {
		t.Errorf("expected %s for the displaced diner, got %v", IssueMissingSlot, result.Issues)
	}
}

func TestAttemptRunner_PromptCarriesTherapeuticTargets(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{goodPlanJSON}}
	r := testRunner(gen)

	req := MealPlanRequest{
		Profile:            DietProfile{DietKey: "standaard"},
		TherapeuticTargets: map[string]float64{"vezels": 30},
	}
	if _, err := r.Run(context.Background(), testInput(req)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(gen.prompts[0], "vezels") || !strings.Contains(gen.prompts[0], "30") {
		t.Error("plan prompt must carry the therapeutic targets")
	}
}

func TestAttemptRunner_MacroMissFixedByAdjuster(t *testing.T) {
	// The plan is structurally fine but under the calorie floor; the
	// adjuster must absorb the miss without a second generator call.
	gen := &scriptedGenerator{responses: []string{goodPlanJSON}}
	r := testRunner(gen)

	in := testInput(MealPlanRequest{Profile: DietProfile{
		DietKey: "standaard",
		Targets: MacroTargets{CaloriesMin: 700, CaloriesMax: 800},
	}})

	result, err := r.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("adjuster path must not call the generator again, got %d calls", len(gen.prompts))
	}
	if result.Repaired {
		t.Error("macro miss should be fixed deterministically, not by repair")
	}
	if len(result.Issues) != 0 {
		t.Errorf("expected adjusted plan accepted, got %v", result.Issues)
	}
	if result.Days[0].Meals[0].Ingredients[0].QuantityGrams == 60 {
		t.Error("accepted plan must carry the adjusted quantities")
	}
}

func TestAttemptRunner_RejectedAdjustmentKeepsQuantities(t *testing.T) {
	// Scaling 300g of rice toward the calorie floor pushes carbs over their
	// ceiling, so the issue list grows. The adjustment must be discarded
	// without touching the attempt's quantities.
	r := testRunner(&scriptedGenerator{responses: []string{goodPlanJSON}})

	profile := DietProfile{
		DietKey: "standaard",
		Targets: MacroTargets{CaloriesMin: 600, CaloriesMax: 700, CarbsMax: 75},
	}
	days := []MealPlanDay{makeDay("2026-09-01",
		makeMeal("2026-09-01", "diner", "rijstschotel", ref("nevo-2002", "zilvervliesrijst", 300)))}
	in := attemptInput{
		request: MealPlanRequest{Profile: profile},
		dates:   []string{"2026-09-01"},
		slots:   []string{"diner"},
	}

	before := r.evaluator.ValidatePlan(context.Background(), days, profile, nil)
	if len(before) != 1 || before[0].Code != IssueCalorieTargetMiss {
		t.Fatalf("setup expects a single calorie miss, got %v", before)
	}

	after := r.adjustTowardTargets(context.Background(), days, in, before)
	if len(after) != 1 || after[0].Code != IssueCalorieTargetMiss {
		t.Errorf("expected the original issue list back, got %v", after)
	}
	if got := days[0].Meals[0].Ingredients[0].QuantityGrams; got != 300 {
		t.Errorf("rejected adjustment leaked into the plan: %vg, want 300g", got)
	}
}

func TestAttemptRunner_RepairHintNamesSlotPreference(t *testing.T) {
	// Breakfast must contain an eiwitshake; the canned plan serves havermout.
	profile := DietProfile{
		DietKey:         "standaard",
		SlotPreferences: []SlotPreference{{Slot: "ontbijt", Terms: []string{"eiwitshake"}}},
	}
	gen := &scriptedGenerator{responses: []string{goodPlanJSON, goodPlanJSON}}
	r := testRunner(gen)

	result, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: profile}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Repaired {
		t.Fatal("expected a repair for the preference miss")
	}
	if !strings.Contains(gen.prompts[1], "ontbijt") || !strings.Contains(gen.prompts[1], "eiwitshake") {
		t.Error("repair prompt must carry the slot preference fix hint")
	}
	if !hasIssue(result.Issues, IssueMealPreferenceMiss) {
		t.Errorf("expected %s to survive the repair, got %v", IssueMealPreferenceMiss, result.Issues)
	}
}

func TestAttemptRunner_RepairHintSurvivesSlotCapitalization(t *testing.T) {
	// The generator capitalizing the slot name must not lose the fix hint.
	capitalized := strings.ReplaceAll(goodPlanJSON, `"slot": "ontbijt"`, `"slot": "Ontbijt"`)
	profile := DietProfile{
		DietKey:         "standaard",
		SlotPreferences: []SlotPreference{{Slot: "ontbijt", Terms: []string{"eiwitshake"}}},
	}
	gen := &scriptedGenerator{responses: []string{capitalized, capitalized}}
	r := testRunner(gen)

	if _, err := r.Run(context.Background(), testInput(MealPlanRequest{Profile: profile})); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected a repair pass, got %d calls", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[1], "eiwitshake") {
		t.Error("repair prompt lost the slot preference fix hint")
	}
}
