package nutrition

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ingredients := map[string]Record{
		"nevo-1001": {
			Code:       "nevo-1001",
			Name:       "kipfilet",
			Categories: []string{"proteins"},
			Per100g:    Macros{Calories: 110, Protein: 23},
		},
		"nevo-2002": {
			Code:       "nevo-2002",
			Name:       "zilvervliesrijst",
			Categories: []string{"grains", "vezelrijk"},
			Per100g:    Macros{Calories: 350, Protein: 7, Carbs: 72, Fiber: 4},
		},
	}

	// keep a stable order for search results
	codes := []string{"nevo-1001", "nevo-2002"}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ingredients/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Path[len("/v1/ingredients/"):]
		rec, ok := ingredients[code]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(rec)
	})
	mux.HandleFunc("/v1/ingredients", func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("search")
		var matches []Record
		for _, code := range codes {
			rec := ingredients[code]
			if term == "" || strings.Contains(rec.Name, term) {
				matches = append(matches, rec)
			}
		}
		json.NewEncoder(w).Encode(map[string][]Record{"ingredients": matches})
	})

	return httptest.NewServer(mux)
}

func TestResolve(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")

	rec, err := client.Resolve(context.Background(), "nevo-1001")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.Name != "kipfilet" {
		t.Errorf("Expected name 'kipfilet', got '%s'", rec.Name)
	}
	if rec.Per100g.Protein != 23 {
		t.Errorf("Expected 23g protein per 100g, got %v", rec.Per100g.Protein)
	}
}

func TestResolveNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")

	_, err := client.Resolve(context.Background(), "nevo-9999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")

	results, err := client.Search(context.Background(), "rijst", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Code != "nevo-2002" {
		t.Errorf("Expected code 'nevo-2002', got '%s'", results[0].Code)
	}
}

func TestSumMacros(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")

	total, err := client.SumMacros(context.Background(), []IngredientAmount{
		{Code: "nevo-1001", QuantityGrams: 200},
		{Code: "nevo-2002", QuantityGrams: 50},
	})
	if err != nil {
		t.Fatalf("SumMacros failed: %v", err)
	}

	wantCalories := 110*2.0 + 350*0.5
	if total.Calories != wantCalories {
		t.Errorf("Expected %v kcal, got %v", wantCalories, total.Calories)
	}
	wantProtein := 23*2.0 + 7*0.5
	if total.Protein != wantProtein {
		t.Errorf("Expected %vg protein, got %v", wantProtein, total.Protein)
	}
}

func TestSumMacrosUnknownCode(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")

	_, err := client.SumMacros(context.Background(), []IngredientAmount{
		{Code: "nevo-1001", QuantityGrams: 200},
		{Code: "nevo-0000", QuantityGrams: 100},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown code, got %v", err)
	}
}
