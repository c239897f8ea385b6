// Package mealimport fetches a recipe page, extracts its structure with
// the generator, resolves ingredient lines against the nutrition database
// and saves the result as a reusable history meal.
package mealimport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"dieetplanner/internal/llm"
	"dieetplanner/internal/nutrition"
	"dieetplanner/internal/planner"
)

// Saver persists an imported meal for a user.
type Saver interface {
	SaveImported(ctx context.Context, userID string, meal planner.Meal) error
}

// Importer handles fetching and extracting recipes from URLs.
type Importer struct {
	gen    llm.StructuredGenerator
	lookup nutrition.Lookup
	saver  Saver
	client *http.Client
}

// extractedRecipe is the shape the generator returns for a recipe page.
type extractedRecipe struct {
	Title           string   `json:"title"`
	Slot            string   `json:"slot"`
	Ingredients     []string `json:"ingredients"`
	PrepTimeMinutes int      `json:"prep_time_minutes"`
	Servings        string   `json:"servings"`
}

// NewImporter creates a new Importer instance.
func NewImporter(gen llm.StructuredGenerator, lookup nutrition.Lookup, saver Saver) *Importer {
	return &Importer{
		gen:    gen,
		lookup: lookup,
		saver:  saver,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// ImportURL fetches the URL, extracts the recipe, resolves its ingredients
// and saves it to the user's meal history.
func (i *Importer) ImportURL(ctx context.Context, userID, url string) (*planner.Meal, error) {
	content, err := i.fetchAndCleanHTML(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}

	extracted, err := i.extract(ctx, content)
	if err != nil {
		return nil, err
	}
	if extracted.Title == "" || len(extracted.Ingredients) == 0 {
		return nil, fmt.Errorf("page does not look like a recipe")
	}

	meal := planner.Meal{
		ID:              uuid.New().String(),
		Name:            extracted.Title,
		Slot:            normalizeSlot(extracted.Slot),
		PrepTimeMinutes: extracted.PrepTimeMinutes,
		Servings:        parseServings(extracted.Servings),
	}

	for _, line := range extracted.Ingredients {
		ref, err := i.resolveLine(ctx, line)
		if err != nil {
			slog.Warn("skipping unresolved ingredient line", "line", line, "error", err)
			continue
		}
		meal.Ingredients = append(meal.Ingredients, ref)
	}
	if len(meal.Ingredients) == 0 {
		return nil, fmt.Errorf("no ingredient line could be matched to the nutrition database")
	}

	if i.saver != nil {
		if err := i.saver.SaveImported(ctx, userID, meal); err != nil {
			return nil, fmt.Errorf("failed to save imported meal: %w", err)
		}
	}

	return &meal, nil
}

func (i *Importer) extract(ctx context.Context, content string) (*extractedRecipe, error) {
	prompt := fmt.Sprintf(`Extract the recipe from the following web page text.
Use the meal slot that fits best: ontbijt, lunch, diner or snack.
Each ingredient entry must be "<grams> <ingredient name>", for example "150 kipfilet".

Page text:
%s
`, content)

	resp, err := i.gen.GenerateStructured(ctx, llm.StructuredRequest{
		Prompt: prompt,
		Schema: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"title":             {Type: "string"},
				"slot":              {Type: "string", Enum: []string{"ontbijt", "lunch", "diner", "snack"}},
				"ingredients":       {Type: "array", Items: &llm.Schema{Type: "string"}},
				"prep_time_minutes": {Type: "integer"},
				"servings":          {Type: "string"},
			},
			Required: []string{"title", "slot", "ingredients"},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("recipe extraction failed: %w", err)
	}

	var extracted extractedRecipe
	if err := json.Unmarshal([]byte(resp.Content), &extracted); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return &extracted, nil
}

// resolveLine matches a "<grams> <name>" line to a nutrition record and
// returns a reference by database code.
func (i *Importer) resolveLine(ctx context.Context, line string) (planner.IngredientRef, error) {
	grams, name := splitQuantity(line)

	records, err := i.lookup.Search(ctx, name, 1)
	if err != nil {
		return planner.IngredientRef{}, fmt.Errorf("search failed: %w", err)
	}
	if len(records) == 0 {
		return planner.IngredientRef{}, fmt.Errorf("no match for %q", name)
	}

	return planner.IngredientRef{
		Code:          records[0].Code,
		QuantityGrams: grams,
		DisplayName:   name,
		Tags:          records[0].Categories,
	}, nil
}

func (i *Importer) fetchAndCleanHTML(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// Remove noise to save generator tokens
	doc.Find("script, style, nav, footer, iframe, ads, .ads, #ads").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text(), nil
}

// splitQuantity parses the leading gram amount of an ingredient line.
// A line without one defaults to 100 grams.
func splitQuantity(line string) (float64, string) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return 100, strings.ToLower(strings.TrimSpace(line))
	}
	grams, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || grams <= 0 {
		return 100, strings.ToLower(strings.Join(fields, " "))
	}
	return grams, strings.ToLower(strings.Join(fields[1:], " "))
}

func normalizeSlot(slot string) string {
	slot = strings.ToLower(strings.TrimSpace(slot))
	switch slot {
	case "ontbijt", "lunch", "diner", "snack":
		return slot
	default:
		return "snack"
	}
}

func parseServings(raw string) int {
	for _, field := range strings.Fields(raw) {
		if n, err := strconv.Atoi(field); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
