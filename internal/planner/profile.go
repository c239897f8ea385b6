package planner

import (
	"sort"
	"strings"
)

// MacroTargets holds the hard daily targets for a profile.
// A zero value means the target is unset.
type MacroTargets struct {
	CaloriesMin float64 `json:"calories_min,omitempty"`
	CaloriesMax float64 `json:"calories_max,omitempty"`
	ProteinMin  float64 `json:"protein_min,omitempty"`
	CarbsMax    float64 `json:"carbs_max,omitempty"`
	FatMax      float64 `json:"fat_max,omitempty"`
}

// HasCalorieRange reports whether both calorie bounds are configured.
func (t MacroTargets) HasCalorieRange() bool {
	return t.CaloriesMin > 0 && t.CaloriesMax > 0
}

// CalorieMidpoint returns the middle of the configured calorie range.
func (t MacroTargets) CalorieMidpoint() float64 {
	return (t.CaloriesMin + t.CaloriesMax) / 2
}

// SlotPreference requires a meal in Slot to match at least one term.
type SlotPreference struct {
	Slot  string   `json:"slot"`
	Terms []string `json:"terms"`
}

// RequiredCategory requires minPerDay meals per day containing the category.
type RequiredCategory struct {
	Code      string `json:"code"`
	NameNl    string `json:"name_nl"`
	MinPerDay int    `json:"min_per_day"`
}

// DietProfile is the dietary profile for a request. Immutable per call.
type DietProfile struct {
	DietKey            string             `json:"diet_key"`
	Allergies          []string           `json:"allergies,omitempty"`
	Dislikes           []string           `json:"dislikes,omitempty"`
	ForbiddenItems     []string           `json:"forbidden_items,omitempty"`
	Targets            MacroTargets       `json:"targets"`
	SlotPreferences    []SlotPreference   `json:"slot_preferences,omitempty"`
	RequiredCategories []RequiredCategory `json:"required_categories,omitempty"`
	MaxPrepTimeMinutes int                `json:"max_prep_time_minutes,omitempty"`
}

// allergenExpansions maps an allergen to the ingredient terms it covers.
// Names are Dutch, matching the nutrition database locale.
var allergenExpansions = map[string][]string{
	"pinda":      {"pinda", "peanut"},
	"noten":      {"noot", "noten", "amandel", "hazelnoot", "walnoot", "cashew", "pistache"},
	"gluten":     {"gluten", "tarwe", "rogge", "gerst", "spelt"},
	"lactose":    {"lactose", "melk", "room", "yoghurt", "kaas"},
	"ei":         {"ei", "eieren"},
	"soja":       {"soja"},
	"vis":        {"vis", "zalm", "tonijn", "kabeljauw", "haring"},
	"schaaldier": {"schaaldier", "garnaal", "garnalen", "kreeft", "krab"},
	"sesam":      {"sesam", "tahin"},
}

// expandAllergens turns the profile's allergy list into concrete match terms.
func expandAllergens(allergies []string) []string {
	var terms []string
	for _, allergy := range allergies {
		key := strings.ToLower(strings.TrimSpace(allergy))
		if key == "" {
			continue
		}
		if expanded, ok := allergenExpansions[key]; ok {
			terms = append(terms, expanded...)
			continue
		}
		terms = append(terms, key)
	}
	return terms
}

// ruleSet is the fully-resolved constraint view of a profile. Optional
// profile fields are normalized here once, so later stages never re-check
// optionality.
type ruleSet struct {
	allergenTerms  []string
	dislikeTerms   []string
	forbiddenTerms []string
	extraTerms     []string // caller exclusions not already covered above
	exclusions     []string // union of the four above
	slotPrefs      map[string][]string
	requiredPerDay []RequiredCategory
	targets        MacroTargets
	maxPrepMinutes int
}

// newRuleSet resolves a profile and caller exclusions into a ruleSet.
func newRuleSet(profile DietProfile, extraExclusions []string) ruleSet {
	rs := ruleSet{
		allergenTerms:  expandAllergens(profile.Allergies),
		dislikeTerms:   normalizeTerms(profile.Dislikes),
		forbiddenTerms: normalizeTerms(profile.ForbiddenItems),
		slotPrefs:      make(map[string][]string),
		targets:        profile.Targets,
		maxPrepMinutes: profile.MaxPrepTimeMinutes,
	}

	for _, pref := range profile.SlotPreferences {
		if len(pref.Terms) == 0 {
			continue
		}
		rs.slotPrefs[strings.ToLower(pref.Slot)] = normalizeTerms(pref.Terms)
	}

	for _, cat := range profile.RequiredCategories {
		if cat.MinPerDay > 0 {
			rs.requiredPerDay = append(rs.requiredPerDay, cat)
		}
	}

	profileTerms := make(map[string]struct{})
	for _, term := range rs.allergenTerms {
		profileTerms[term] = struct{}{}
	}
	for _, term := range rs.dislikeTerms {
		profileTerms[term] = struct{}{}
	}
	for _, term := range rs.forbiddenTerms {
		profileTerms[term] = struct{}{}
	}
	for _, term := range normalizeTerms(extraExclusions) {
		if _, covered := profileTerms[term]; !covered {
			rs.extraTerms = append(rs.extraTerms, term)
		}
	}

	union := make([]string, 0, len(rs.extraTerms)+len(rs.allergenTerms)+len(rs.dislikeTerms)+len(rs.forbiddenTerms))
	union = append(union, rs.extraTerms...)
	union = append(union, rs.allergenTerms...)
	union = append(union, rs.dislikeTerms...)
	union = append(union, rs.forbiddenTerms...)
	rs.exclusions = dedupeTerms(union)

	return rs
}

func normalizeTerms(terms []string) []string {
	var out []string
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			out = append(out, term)
		}
	}
	return out
}

// dedupeTerms sorts and deduplicates a term list so derived cache keys
// are stable regardless of input order.
func dedupeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	var out []string
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}
