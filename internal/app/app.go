package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"dieetplanner/internal/config"
	"dieetplanner/internal/history"
	"dieetplanner/internal/mealimport"
	"dieetplanner/internal/metrics"
	"dieetplanner/internal/planner"
)

// App holds the application's dependencies.
type App struct {
	mealPlanner  *planner.Planner
	importer     *mealimport.Importer
	historyRepo  *history.Repository
	metricsStore *metrics.Store
	cfg          *config.Config
}

// NewApp creates and initializes a new App instance.
func NewApp(
	mealPlanner *planner.Planner,
	importer *mealimport.Importer,
	historyRepo *history.Repository,
	metricsStore *metrics.Store,
	cfg *config.Config,
) *App {
	return &App{
		mealPlanner:  mealPlanner,
		importer:     importer,
		historyRepo:  historyRepo,
		metricsStore: metricsStore,
		cfg:          cfg,
	}
}

// GeneratePlan reads a plan request from a JSON file, generates the plan,
// saves the accepted meals to the history pool and prints the response.
func (a *App) GeneratePlan(ctx context.Context, requestPath string) error {
	raw, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("failed to read request file: %w", err)
	}

	var req planner.MealPlanRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("failed to parse request file: %w", err)
	}

	resp, err := a.mealPlanner.Generate(ctx, req)
	if err != nil {
		if e, ok := planner.AsError(err); ok {
			slog.Error("plan rejected", "kind", e.Kind, "message", e.Message)
		}
		return err
	}

	if a.historyRepo != nil {
		if err := a.historyRepo.SaveMeals(ctx, req.UserID, resp.Days); err != nil {
			slog.Warn("failed to save plan to meal history", "error", err)
		}
	}

	return printJSON(resp)
}

// ImportRecipe imports a recipe URL into the user's meal history.
func (a *App) ImportRecipe(ctx context.Context, userID, url string) error {
	meal, err := a.importer.ImportURL(ctx, userID, url)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	slog.Info("recipe imported", "name", meal.Name, "slot", meal.Slot, "ingredients", len(meal.Ingredients))
	return printJSON(meal)
}

// ShowUsage prints token usage per day for the last N days.
func (a *App) ShowUsage(ctx context.Context, days int) error {
	usage, err := a.metricsStore.GetDailyUsage(ctx, days)
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}
	for _, day := range usage {
		fmt.Printf("%s  prompt=%d completion=%d runs=%d\n",
			day.Date, day.TotalPrompt, day.TotalCompletion, day.TotalExecution)
	}
	return nil
}

// CleanupMetrics removes metrics older than the given number of days.
func (a *App) CleanupMetrics(ctx context.Context, olderThanDays int) error {
	deleted, err := a.metricsStore.Cleanup(ctx, olderThanDays)
	if err != nil {
		return err
	}
	slog.Info("metrics cleaned up", "deleted", deleted, "older_than_days", olderThanDays)
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
