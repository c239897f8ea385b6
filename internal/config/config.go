package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds the configuration for the application.
type Config struct {
	// Generator
	GeminiAPIKey      string  `env:"GEMINI_API_KEY,required"`
	GeminiModel       string  `env:"GEMINI_MODEL,default=gemini-1.5-pro"`
	GroqAPIKey        string  `env:"GROQ_API_KEY"`
	GenTemperature    float32 `env:"GEN_TEMPERATURE,default=0.4"`
	RepairTemperature float32 `env:"REPAIR_TEMPERATURE,default=0.1"`
	MaxOutputTokens   int32   `env:"MAX_OUTPUT_TOKENS,default=8192"`

	// Nutrition database service
	NutritionAPIURL string `env:"NUTRITION_API_URL,required"`
	NutritionAPIKey string `env:"NUTRITION_API_KEY"`

	// Guardrails ruleset service. The admin key uses the id:hexsecret format.
	GuardrailsAPIURL     string `env:"GUARDRAILS_API_URL,required"`
	GuardrailsAdminKey   string `env:"GUARDRAILS_ADMIN_KEY,required"`
	GuardrailsShadowMode bool   `env:"GUARDRAILS_SHADOW_MODE,default=false"`

	// Local persistence (meal history + metrics)
	DatabasePath string `env:"DATABASE_PATH,default=data/dieetplanner.db"`

	// Candidate pool
	PoolCacheTTL    time.Duration `env:"POOL_CACHE_TTL,default=10m"`
	PoolSearchLimit int           `env:"POOL_SEARCH_LIMIT,default=8"`

	// Quantity adjuster scale clamp. Policy constants, not invariants.
	AdjusterClampMin float64 `env:"ADJUSTER_CLAMP_MIN,default=0.7"`
	AdjusterClampMax float64 `env:"ADJUSTER_CLAMP_MAX,default=1.3"`

	// Provenance budgets
	HistoryReuseFraction float64 `env:"HISTORY_REUSE_FRACTION,default=0.3"`
	MaxAIMealRatio       float64 `env:"MAX_AI_MEAL_RATIO,default=1.0"`
	MinDBMealRatio       float64 `env:"MIN_DB_MEAL_RATIO,default=0.0"`
	BudgetSoftFallback   bool    `env:"BUDGET_SOFT_FALLBACK,default=false"`
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration from environment: %w", err)
	}

	if cfg.AdjusterClampMin <= 0 || cfg.AdjusterClampMax < cfg.AdjusterClampMin {
		return nil, fmt.Errorf("invalid adjuster clamp [%v, %v]", cfg.AdjusterClampMin, cfg.AdjusterClampMax)
	}
	if cfg.HistoryReuseFraction < 0 || cfg.HistoryReuseFraction > 1 {
		return nil, fmt.Errorf("HISTORY_REUSE_FRACTION must be within [0, 1], got %v", cfg.HistoryReuseFraction)
	}

	return &cfg, nil
}
