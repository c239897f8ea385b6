package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"dieetplanner/internal/app"
	"dieetplanner/internal/config"
	"dieetplanner/internal/database"
	"dieetplanner/internal/guardrails"
	"dieetplanner/internal/history"
	"dieetplanner/internal/llm"
	"dieetplanner/internal/mealimport"
	"dieetplanner/internal/metrics"
	"dieetplanner/internal/nutrition"
	"dieetplanner/internal/planner"
)

func main() {
	ctx := context.Background()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	geminiClient, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize Gemini client: %v", err)
	}
	defer func() {
		if closer, ok := geminiClient.(llm.Closer); ok {
			closer.Close()
		}
	}()

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	nutritionClient := nutrition.NewClient(cfg.NutritionAPIURL, cfg.NutritionAPIKey)
	guardrailsClient := guardrails.NewClient(cfg.GuardrailsAPIURL, cfg.GuardrailsAdminKey)
	historyRepo := history.NewRepository(db.SQL)
	metricsStore := metrics.NewStore(db.SQL)

	evaluator := planner.NewEvaluator(nutritionClient)
	adjuster := planner.NewAdjuster(nutritionClient, cfg.AdjusterClampMin, cfg.AdjusterClampMax)
	culinary, err := planner.NewCulinaryChecker(planner.DefaultCulinaryRules())
	if err != nil {
		log.Fatalf("Failed to compile culinary rules: %v", err)
	}

	mealPlanner := planner.NewPlanner(planner.Deps{
		Pool: planner.NewPoolBuilder(nutritionClient, cfg.PoolCacheTTL, cfg.PoolSearchLimit),
		Runner: planner.NewAttemptRunner(geminiClient, evaluator, adjuster, planner.RunnerConfig{
			Temperature:       cfg.GenTemperature,
			RepairTemperature: cfg.RepairTemperature,
			MaxOutputTokens:   cfg.MaxOutputTokens,
		}),
		Template:   planner.NewTemplateGenerator(),
		Evaluator:  evaluator,
		Adjuster:   adjuster,
		Culinary:   culinary,
		Sanity:     planner.NewLLMSanityValidator(geminiClient),
		Guardrails: guardrailsClient,
		History:    historyRepo,
		Recorder:   metricsStore,
	}, planner.Options{
		ShadowMode:         cfg.GuardrailsShadowMode,
		HistoryFraction:    cfg.HistoryReuseFraction,
		HistoryLimit:       cfg.PoolSearchLimit,
		MaxAIMealRatio:     cfg.MaxAIMealRatio,
		MinDBMealRatio:     cfg.MinDBMealRatio,
		BudgetSoftFallback: cfg.BudgetSoftFallback,
	})

	importer := mealimport.NewImporter(geminiClient, nutritionClient, historyRepo)

	application := app.NewApp(mealPlanner, importer, historyRepo, metricsStore, cfg)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		fs := flag.NewFlagSet("generate", flag.ExitOnError)
		requestPath := fs.String("request", "", "Path to a plan request JSON file")
		fs.Parse(os.Args[2:])
		if *requestPath == "" {
			log.Fatal("generate requires -request")
		}
		if err := application.GeneratePlan(ctx, *requestPath); err != nil {
			log.Fatalf("Generation failed: %v", err)
		}

	case "import-recipe":
		fs := flag.NewFlagSet("import-recipe", flag.ExitOnError)
		userID := fs.String("user", "", "User the recipe belongs to")
		url := fs.String("url", "", "Recipe page URL")
		fs.Parse(os.Args[2:])
		if *userID == "" || *url == "" {
			log.Fatal("import-recipe requires -user and -url")
		}
		if err := application.ImportRecipe(ctx, *userID, *url); err != nil {
			log.Fatalf("Import failed: %v", err)
		}

	case "usage":
		fs := flag.NewFlagSet("usage", flag.ExitOnError)
		days := fs.Int("days", 7, "Number of days to report")
		fs.Parse(os.Args[2:])
		if err := application.ShowUsage(ctx, *days); err != nil {
			log.Fatalf("Usage report failed: %v", err)
		}

	case "metrics-cleanup":
		fs := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := fs.Int("days", 90, "Delete metrics older than this many days")
		fs.Parse(os.Args[2:])
		if err := application.CleanupMetrics(ctx, *days); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: dieetplanner <command> [flags]

Commands:
  generate        -request <file>      Generate a meal plan from a request file
  import-recipe   -user <id> -url <u>  Import a recipe page into the meal history
  usage           -days <n>            Show token usage for the last n days
  metrics-cleanup -days <n>            Delete metrics older than n days`)
}
