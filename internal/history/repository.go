// Package history persists accepted meals per user and serves them back
// as a reuse pool, grouped by slot.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dieetplanner/internal/planner"
)

// Repository stores and retrieves a user's accepted meals.
type Repository struct {
	db *sql.DB
}

// NewRepository initializes the repository with an existing connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveMeals records every meal of an accepted plan. Ingredients are stored
// as JSON so a meal round-trips without a join.
func (r *Repository) SaveMeals(ctx context.Context, userID string, days []planner.MealPlanDay) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO meal_history (id, user_id, slot, name, ingredients_json, prep_time_minutes, servings, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'plan')`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, day := range days {
		for _, meal := range day.Meals {
			ingredients, err := json.Marshal(meal.Ingredients)
			if err != nil {
				return fmt.Errorf("failed to encode ingredients for %q: %w", meal.Name, err)
			}
			id := meal.ID
			if id == "" {
				id = uuid.New().String()
			}
			if _, err := stmt.ExecContext(ctx, id, userID, strings.ToLower(meal.Slot), meal.Name,
				string(ingredients), meal.PrepTimeMinutes, meal.Servings); err != nil {
				return fmt.Errorf("failed to insert meal %q: %w", meal.Name, err)
			}
		}
	}

	return tx.Commit()
}

// SaveImported records a single meal that did not come from a plan, for
// example a recipe imported from a website.
func (r *Repository) SaveImported(ctx context.Context, userID string, meal planner.Meal) error {
	ingredients, err := json.Marshal(meal.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to encode ingredients for %q: %w", meal.Name, err)
	}
	id := meal.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO meal_history (id, user_id, slot, name, ingredients_json, prep_time_minutes, servings, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'import')`,
		id, userID, strings.ToLower(meal.Slot), meal.Name, string(ingredients), meal.PrepTimeMinutes, meal.Servings)
	if err != nil {
		return fmt.Errorf("failed to insert imported meal: %w", err)
	}
	return nil
}

// MealsBySlot returns the user's most recent distinct meals per slot,
// newest first, at most limit per slot.
func (r *Repository) MealsBySlot(ctx context.Context, userID string, slots []string, limit int) (map[string][]planner.Meal, error) {
	if len(slots) == 0 || limit <= 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(slots))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(slots)+1)
	args = append(args, userID)
	for _, slot := range slots {
		args = append(args, strings.ToLower(slot))
	}

	query := fmt.Sprintf(`
		SELECT id, slot, name, ingredients_json, prep_time_minutes, servings
		FROM meal_history
		WHERE user_id = ? AND slot IN (%s)
		ORDER BY created_at DESC`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meal history: %w", err)
	}
	defer rows.Close()

	pool := make(map[string][]planner.Meal)
	seen := make(map[string]struct{})

	for rows.Next() {
		var (
			meal            planner.Meal
			ingredientsJSON string
		)
		if err := rows.Scan(&meal.ID, &meal.Slot, &meal.Name, &ingredientsJSON,
			&meal.PrepTimeMinutes, &meal.Servings); err != nil {
			return nil, fmt.Errorf("failed to scan meal history row: %w", err)
		}
		if len(pool[meal.Slot]) >= limit {
			continue
		}
		key := meal.Slot + "/" + strings.ToLower(meal.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if err := json.Unmarshal([]byte(ingredientsJSON), &meal.Ingredients); err != nil {
			return nil, fmt.Errorf("failed to decode ingredients for %q: %w", meal.Name, err)
		}
		pool[meal.Slot] = append(pool[meal.Slot], meal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read meal history rows: %w", err)
	}

	return pool, nil
}
