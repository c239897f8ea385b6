package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"dieetplanner/internal/guardrails"
	"dieetplanner/internal/shared"
)

// EditGate decides whether a plan day may still be regenerated. A locked
// day, for example one already confirmed with the coach, is rejected with
// an ErrLocked error. A nil gate allows everything.
type EditGate interface {
	CanEdit(ctx context.Context, userID, date string) (bool, error)
}

// StageRecorder receives per-stage usage and latency for a request.
// Recording failures are logged, never surfaced to the caller.
type StageRecorder interface {
	Record(ctx context.Context, requestID string, meta shared.StageMeta)
}

// Options tunes the orchestrator-level behavior.
type Options struct {
	// ShadowMode logs guardrails decisions without enforcing them.
	ShadowMode bool
	// HistoryFraction is the target share of slots backfilled from history.
	HistoryFraction float64
	// HistoryLimit caps the meals fetched per slot from the history pool.
	HistoryLimit int
	// MaxAIMealRatio and MinDBMealRatio bound the plan's provenance mix.
	MaxAIMealRatio float64
	MinDBMealRatio float64
	// BudgetSoftFallback annotates a budget miss instead of rejecting it.
	BudgetSoftFallback bool
	// Seed makes history-position sampling reproducible.
	Seed int64
}

// Deps are the collaborators a Planner orchestrates. Pool, Runner,
// Template, Evaluator and Guardrails are required; the rest are optional.
type Deps struct {
	Pool       *PoolBuilder
	Runner     *AttemptRunner
	Template   *TemplateGenerator
	Evaluator  *Evaluator
	Adjuster   *Adjuster
	Culinary   *CulinaryChecker
	Sanity     SanityValidator
	Guardrails guardrails.Loader
	History    HistoryPool
	Gate       EditGate
	Recorder   StageRecorder
}

// Planner sequences pool building, generation, the acceptance gates and
// provenance composition into one plan-generation call.
type Planner struct {
	deps Deps
	opts Options
}

// NewPlanner creates the orchestrator.
func NewPlanner(deps Deps, opts Options) *Planner {
	return &Planner{deps: deps, opts: opts}
}

// retry bookkeeping for one Generate call. Each gate may trigger at most
// one regeneration; the booleans make the ceiling explicit.
type generateRun struct {
	requestID        string
	dates            []string
	slots            []string
	exclusions       []string
	pool             CandidatePool
	poolMetrics      PoolMetrics
	ruleset          *guardrails.Ruleset
	dietRules        []guardrails.DietRule
	hint             AttemptHint
	templateSeed     int
	deficitRetryUsed bool
	sanityRetryUsed  bool
	retryReason      string
	attempts         int
	repaired         bool
	metas            []shared.StageMeta
	warnings         []string
}

// Generate produces a complete plan for the request's date range. On
// failure the returned error is a typed *Error carrying a closed kind.
func (p *Planner) Generate(ctx context.Context, req MealPlanRequest) (*MealPlanResponse, error) {
	run, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeGenerative
	}

	var days []MealPlanDay
	for {
		run.attempts++

		days, err = p.generateDays(ctx, req, mode, run)
		if err != nil {
			return nil, err
		}

		retry, err := p.runGates(ctx, req, mode, run, days)
		if err != nil {
			return nil, err
		}
		if retry {
			continue
		}
		break
	}

	days, provenance := p.composeProvenance(ctx, req, run, days, mode)

	meta := p.buildMetadata(mode, run, provenance)
	if err := CheckBudgets(&meta, p.opts.MaxAIMealRatio, p.opts.MinDBMealRatio, p.opts.BudgetSoftFallback); err != nil {
		return nil, err
	}

	p.recordStages(ctx, run)

	return &MealPlanResponse{
		RequestID: run.requestID,
		Days:      days,
		Metadata:  meta,
	}, nil
}

// GenerateDay regenerates a single day through the full gate sequence.
// The day must not be locked by the edit gate.
func (p *Planner) GenerateDay(ctx context.Context, req MealPlanRequest, date string) (*MealPlanResponse, error) {
	if err := p.checkEditable(ctx, req.UserID, date); err != nil {
		return nil, err
	}
	req.StartDate = date
	req.EndDate = date
	return p.Generate(ctx, req)
}

// RegenerateMeal replaces one meal of an existing day. The deterministic
// adjuster is preferred: when the day only misses its macro targets the
// quantities are rescaled and the slot's meal returned unchanged in
// composition. Otherwise a narrowed generation attempt produces a new meal.
func (p *Planner) RegenerateMeal(ctx context.Context, req MealPlanRequest, day MealPlanDay, slot string) (*Meal, error) {
	if err := p.checkEditable(ctx, req.UserID, day.Date); err != nil {
		return nil, err
	}
	if findMeal(day, slot) == nil {
		return nil, NewError(ErrInvalidRequest, "day %s has no %s meal", day.Date, slot)
	}

	rs := newRuleSet(req.Profile, req.ExcludeIngredients)

	issues := p.deps.Evaluator.ValidateDay(ctx, day, req.Profile, rs.exclusions)
	if len(issues) > 0 && onlyMacroIssues(issues) && p.deps.Adjuster != nil {
		adjusted := CloneDays([]MealPlanDay{day})
		if _, err := p.deps.Adjuster.AdjustDay(ctx, &adjusted[0], req.Profile.Targets); err == nil {
			if len(p.deps.Evaluator.ValidateDay(ctx, adjusted[0], req.Profile, rs.exclusions)) == 0 {
				return findMeal(adjusted[0], slot), nil
			}
		}
	}

	req.StartDate = day.Date
	req.EndDate = day.Date
	req.Slots = []string{slot}
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Days) == 0 || len(resp.Days[0].Meals) == 0 {
		return nil, NewError(ErrGenerationFailed, "no meal produced for %s %s", day.Date, slot)
	}
	return &resp.Days[0].Meals[0], nil
}

// prepare validates the request, builds the candidate pool and loads the
// guardrails ruleset. A ruleset that cannot be loaded fails the request
// closed unless shadow mode is on.
func (p *Planner) prepare(ctx context.Context, req MealPlanRequest) (*generateRun, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	dates, err := DatesBetween(req.StartDate, req.EndDate)
	if err != nil {
		return nil, NewError(ErrInvalidRequest, "invalid date range: %v", err)
	}

	rs := newRuleSet(req.Profile, req.ExcludeIngredients)

	pool, poolMetrics, err := p.deps.Pool.Build(ctx, req.Profile.DietKey, rs.exclusions)
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate pool: %w", err)
	}

	run := &generateRun{
		requestID:   uuid.New().String(),
		dates:       dates,
		slots:       req.Slots,
		exclusions:  rs.exclusions,
		pool:        pool,
		poolMetrics: poolMetrics,
	}

	if p.deps.Guardrails != nil {
		ruleset, err := p.deps.Guardrails.Load(ctx, req.Profile.DietKey, "strict", language(req))
		if err != nil {
			if !p.opts.ShadowMode {
				return nil, NewError(ErrEvaluatorError, "guardrails ruleset unavailable: %v", err)
			}
			slog.Warn("guardrails ruleset unavailable in shadow mode, continuing", "error", err)
		} else {
			run.ruleset = ruleset
			run.dietRules, err = p.deps.Guardrails.LoadDietLogic(ctx, req.Profile.DietKey)
			if err != nil {
				if !p.opts.ShadowMode {
					return nil, NewError(ErrEvaluatorError, "diet logic unavailable: %v", err)
				}
				slog.Warn("diet logic unavailable in shadow mode, continuing", "error", err)
			}
		}
	}

	return run, nil
}

// generateDays runs one generation attempt in the requested mode.
func (p *Planner) generateDays(ctx context.Context, req MealPlanRequest, mode GeneratorMode, run *generateRun) ([]MealPlanDay, error) {
	if mode == ModeTemplate {
		pool := run.pool
		if run.ruleset != nil {
			pool = pool.Without(blockTerms(run.ruleset))
		}
		return p.deps.Template.Generate(run.dates, run.slots, mergePools(req.PreApproved, pool), run.templateSeed)
	}

	result, err := p.deps.Runner.Run(ctx, attemptInput{
		request:    req,
		dates:      run.dates,
		slots:      run.slots,
		pool:       run.pool,
		exclusions: run.exclusions,
		hint:       run.hint,
	})
	if err != nil {
		return nil, fmt.Errorf("generation attempt failed: %w", err)
	}
	run.metas = append(run.metas, result.Metas...)
	run.repaired = run.repaired || result.Repaired

	if len(result.Issues) > 0 {
		e := NewError(ErrGenerationFailed, "plan rejected after repair, %d issues remain", len(result.Issues))
		e.Issues = result.Issues
		return nil, e
	}
	return result.Days, nil
}

// runGates checks the accepted days against the culinary rules, the
// guardrails ruleset and the sanity validator, in that order. It reports
// whether the caller should regenerate; each gate regenerates at most once.
func (p *Planner) runGates(ctx context.Context, req MealPlanRequest, mode GeneratorMode, run *generateRun, days []MealPlanDay) (bool, error) {
	if mode == ModeGenerative && p.deps.Culinary != nil {
		if violations := p.deps.Culinary.Check(days); len(violations) > 0 {
			e := NewError(ErrCulinaryViolation, "plan combines incompatible components")
			e.Violations = violations
			return false, e
		}
	}

	if run.ruleset != nil {
		decision := guardrails.Evaluate(run.ruleset, planTargets(days))
		if !decision.OK {
			if p.opts.ShadowMode {
				slog.Warn("guardrails would block plan", "reasons", decision.ReasonCodes, "version", run.ruleset.Version)
			} else {
				e := NewError(ErrGuardrailsViolation, "plan blocked by diet guardrails")
				e.ReasonCodes = decision.ReasonCodes
				e.RulesetVersion = run.ruleset.Version
				e.RulesetHash = run.ruleset.Hash
				return false, e
			}
		}
		if decision.Outcome == guardrails.OutcomeWarned {
			run.warnings = append(run.warnings, decision.ReasonCodes...)
		}

		if len(run.dietRules) > 0 {
			logic := guardrails.EvaluateDietLogic(run.dietRules, planDayIngredients(days))
			run.warnings = append(run.warnings, logic.Warnings...)
			if !logic.OK {
				if p.opts.ShadowMode {
					slog.Warn("diet logic would block plan", "summary", logic.Summary, "date", logic.FailedDate)
				} else if !run.deficitRetryUsed {
					run.deficitRetryUsed = true
					run.retryReason = "guardrails_deficit"
					run.hint.DeficitCategories = deficitCategories(logic.Deficits)
					// Any warned rule matches ride along so the retry
					// steers away from them too.
					run.hint.GuardrailsReasons = decision.ReasonCodes
					run.templateSeed = 1
					slog.Info("regenerating for force-rule deficit", "categories", run.hint.DeficitCategories)
					return true, nil
				} else {
					e := NewError(ErrGuardrailsViolation, "plan misses required diet categories: %s", logic.Summary)
					e.Deficits = logic.Deficits
					e.FailedDate = logic.FailedDate
					e.RulesetVersion = run.ruleset.Version
					e.RulesetHash = run.ruleset.Hash
					return false, e
				}
			}
		}
	}

	if p.deps.Sanity != nil {
		result, err := p.deps.Sanity.Check(ctx, days)
		if err != nil || !result.OK {
			if !run.sanityRetryUsed {
				run.sanityRetryUsed = true
				run.retryReason = "sanity"
				run.hint.LowTemperature = true
				run.templateSeed = 2
				slog.Info("regenerating after sanity rejection", "reason", result.Reason, "error", err)
				return true, nil
			}
			if err != nil {
				return false, NewError(ErrSanityFailed, "sanity validation unavailable: %v", err)
			}
			return false, NewError(ErrSanityFailed, "plan judged implausible: %s", result.Reason)
		}
	}

	return false, nil
}

// composeProvenance backfills history meals where a pool is available.
func (p *Planner) composeProvenance(ctx context.Context, req MealPlanRequest, run *generateRun, days []MealPlanDay, mode GeneratorMode) ([]MealPlanDay, map[string]Origin) {
	baseOrigin := OriginAI
	if mode == ModeTemplate {
		baseOrigin = OriginDB
	}

	composer := NewProvenanceComposer(p.deps.Evaluator, p.opts.HistoryFraction, p.opts.Seed)
	if p.deps.History == nil {
		return composer.Compose(ctx, days, run.slots, req.Profile, run.exclusions, nil, baseOrigin)
	}

	historyPool, err := p.deps.History.MealsBySlot(ctx, req.UserID, run.slots, p.opts.HistoryLimit)
	if err != nil {
		slog.Warn("history pool unavailable, skipping reuse", "error", err)
		historyPool = nil
	}
	return composer.Compose(ctx, days, run.slots, req.Profile, run.exclusions, historyPool, baseOrigin)
}

func (p *Planner) buildMetadata(mode GeneratorMode, run *generateRun, provenance map[string]Origin) PlanMetadata {
	reused := 0
	for _, origin := range provenance {
		if origin == OriginHistory {
			reused++
		}
	}

	meta := PlanMetadata{
		GeneratorMode:        mode,
		Attempts:             run.attempts,
		RetryReason:          run.retryReason,
		PoolCategories:       run.poolMetrics.Categories,
		PoolCandidates:       run.poolMetrics.Candidates,
		SanityOK:             p.deps.Sanity != nil,
		GeneratedRecipeCount: len(provenance) - reused,
		ReusedRecipeCount:    reused,
		SlotProvenance:       provenance,
		Warnings:             run.warnings,
	}
	if run.ruleset != nil {
		meta.GuardrailsVersion = run.ruleset.Version
		meta.GuardrailsHash = run.ruleset.Hash
	}
	return meta
}

func (p *Planner) recordStages(ctx context.Context, run *generateRun) {
	if p.deps.Recorder == nil {
		return
	}
	for _, meta := range run.metas {
		p.deps.Recorder.Record(ctx, run.requestID, meta)
	}
}

func (p *Planner) checkEditable(ctx context.Context, userID, date string) error {
	if p.deps.Gate == nil {
		return nil
	}
	ok, err := p.deps.Gate.CanEdit(ctx, userID, date)
	if err != nil {
		return fmt.Errorf("failed to check edit lock: %w", err)
	}
	if !ok {
		return NewError(ErrLocked, "day %s is locked for editing", date)
	}
	return nil
}

func validateRequest(req MealPlanRequest) error {
	switch {
	case req.UserID == "":
		return NewError(ErrInvalidRequest, "user_id is required")
	case req.StartDate == "" || req.EndDate == "":
		return NewError(ErrInvalidRequest, "start_date and end_date are required")
	case len(req.Slots) == 0:
		return NewError(ErrInvalidRequest, "at least one meal slot is required")
	case req.Profile.DietKey == "":
		return NewError(ErrInvalidRequest, "profile diet_key is required")
	case req.Mode != "" && req.Mode != ModeGenerative && req.Mode != ModeTemplate:
		return NewError(ErrInvalidRequest, "unknown generator mode %q", req.Mode)
	}
	return nil
}

func language(req MealPlanRequest) string {
	if req.Language == "" {
		return "nl"
	}
	return req.Language
}

// planTargets flattens the plan into the lowercase match texts the
// hard-rule evaluator scans.
func planTargets(days []MealPlanDay) []string {
	var targets []string
	for _, day := range days {
		for _, meal := range day.Meals {
			targets = append(targets, meal.searchText())
		}
	}
	return targets
}

// planDayIngredients projects the plan into the shape the diet-logic
// evaluator counts over.
func planDayIngredients(days []MealPlanDay) []guardrails.DayIngredients {
	out := make([]guardrails.DayIngredients, 0, len(days))
	for i, day := range days {
		entry := guardrails.DayIngredients{DayIndex: i, Date: day.Date}
		for _, meal := range day.Meals {
			for _, ref := range meal.Ingredients {
				name := ref.DisplayName
				if name == "" {
					name = ref.Code
				}
				entry.Ingredients = append(entry.Ingredients, guardrails.Ingredient{
					Code: ref.Code,
					Name: strings.ToLower(name),
					Tags: ref.Tags,
				})
			}
		}
		out = append(out, entry)
	}
	return out
}

func blockTerms(rs *guardrails.Ruleset) []string {
	var terms []string
	for _, rule := range rs.Rules {
		if rule.Action == "block" && rule.MatchValue != "" {
			terms = append(terms, strings.ToLower(rule.MatchValue))
		}
	}
	return terms
}

func deficitCategories(deficits []guardrails.ForceDeficit) []string {
	var names []string
	for _, d := range deficits {
		name := d.CategoryNameNl
		if name == "" {
			name = d.CategoryCode
		}
		names = append(names, name)
	}
	return names
}

func findMeal(day MealPlanDay, slot string) *Meal {
	for i := range day.Meals {
		if strings.EqualFold(day.Meals[i].Slot, slot) {
			return &day.Meals[i]
		}
	}
	return nil
}
