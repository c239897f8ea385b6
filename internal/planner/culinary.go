package planner

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// MatchMode selects how a culinary rule matches meal text.
type MatchMode string

const (
	MatchTerm  MatchMode = "term"
	MatchRegex MatchMode = "regex"
)

// RuleAction is what a culinary rule does on a match.
type RuleAction string

const (
	ActionBlock RuleAction = "block"
	ActionWarn  RuleAction = "warn"
)

// CulinaryRule blocks or warns on implausible combinations in meal text.
type CulinaryRule struct {
	RuleCode   string     `json:"rule_code"`
	SlotType   string     `json:"slot_type"`
	MatchMode  MatchMode  `json:"match_mode"`
	MatchValue string     `json:"match_value"`
	Action     RuleAction `json:"action"`
	ReasonCode string     `json:"reason_code"`
}

// CulinaryViolation reports one blocked rule match in a plan.
type CulinaryViolation struct {
	RuleCode   string `json:"rule_code"`
	ReasonCode string `json:"reason_code"`
	DayIndex   int    `json:"day_index"`
	Date       string `json:"date"`
	Slot       string `json:"slot"`
}

// smoothieKeywords make a meal additionally match the synthetic "smoothie"
// slot on top of its literal slot.
var smoothieKeywords = []string{"smoothie", "shake"}

// DefaultCulinaryRules are the built-in coherence rules. Deployments can
// replace them with an externally managed set.
func DefaultCulinaryRules() []CulinaryRule {
	return []CulinaryRule{
		{RuleCode: "SMOOTHIE_KIP", SlotType: "smoothie", MatchMode: MatchTerm, MatchValue: "kip", Action: ActionBlock, ReasonCode: "meat_in_smoothie"},
		{RuleCode: "SMOOTHIE_VIS", SlotType: "smoothie", MatchMode: MatchTerm, MatchValue: "vis", Action: ActionBlock, ReasonCode: "fish_in_smoothie"},
		{RuleCode: "SMOOTHIE_GEHAKT", SlotType: "smoothie", MatchMode: MatchTerm, MatchValue: "gehakt", Action: ActionBlock, ReasonCode: "meat_in_smoothie"},
		{RuleCode: "SMOOTHIE_RAUW_EI", SlotType: "smoothie", MatchMode: MatchRegex, MatchValue: `rauwe?\s+ei(eren)?\b`, Action: ActionWarn, ReasonCode: "raw_egg_in_smoothie"},
		{RuleCode: "ONTBIJT_FRITUUR", SlotType: "ontbijt", MatchMode: MatchTerm, MatchValue: "gefrituurd", Action: ActionWarn, ReasonCode: "fried_breakfast"},
	}
}

// CulinaryChecker matches externally configured rules against meal text.
// Regex rules are compiled once at construction; term patterns likewise.
type CulinaryChecker struct {
	rules    []CulinaryRule
	patterns map[string]*regexp.Regexp
}

// NewCulinaryChecker compiles all rule patterns. An invalid regex is a
// configuration error, not a silent skip.
func NewCulinaryChecker(rules []CulinaryRule) (*CulinaryChecker, error) {
	checker := &CulinaryChecker{
		rules:    rules,
		patterns: make(map[string]*regexp.Regexp),
	}

	for _, rule := range rules {
		switch rule.MatchMode {
		case MatchRegex:
			re, err := regexp.Compile(rule.MatchValue)
			if err != nil {
				return nil, fmt.Errorf("culinary rule %s has invalid pattern %q: %w", rule.RuleCode, rule.MatchValue, err)
			}
			checker.patterns[rule.RuleCode] = re
		case MatchTerm:
			term := strings.ToLower(strings.TrimSpace(rule.MatchValue))
			if !strings.Contains(term, " ") {
				// Word-boundary match for single words, so "ei" does not hit "eiwit".
				re, err := regexp.Compile(`\b` + regexp.QuoteMeta(term) + `\b`)
				if err != nil {
					return nil, fmt.Errorf("culinary rule %s: %w", rule.RuleCode, err)
				}
				checker.patterns[rule.RuleCode] = re
			}
		default:
			return nil, fmt.Errorf("culinary rule %s has unknown match mode %q", rule.RuleCode, rule.MatchMode)
		}
	}
	return checker, nil
}

// Check collects every blocked rule match in the plan. Warn matches are
// logged and never block.
func (c *CulinaryChecker) Check(days []MealPlanDay) []CulinaryViolation {
	var violations []CulinaryViolation

	for dayIndex, day := range days {
		for _, meal := range day.Meals {
			text := meal.searchText()
			slots := mealSlotTypes(meal, text)

			for _, rule := range c.rules {
				if _, ok := slots[strings.ToLower(rule.SlotType)]; !ok {
					continue
				}
				if !c.ruleMatches(rule, text) {
					continue
				}
				if rule.Action == ActionWarn {
					slog.Warn("culinary rule warned",
						"rule", rule.RuleCode,
						"reason", rule.ReasonCode,
						"date", day.Date,
						"slot", meal.Slot)
					continue
				}
				violations = append(violations, CulinaryViolation{
					RuleCode:   rule.RuleCode,
					ReasonCode: rule.ReasonCode,
					DayIndex:   dayIndex,
					Date:       day.Date,
					Slot:       meal.Slot,
				})
			}
		}
	}
	return violations
}

func (c *CulinaryChecker) ruleMatches(rule CulinaryRule, text string) bool {
	if re, ok := c.patterns[rule.RuleCode]; ok {
		return re.MatchString(text)
	}
	// Multi-word terms use plain substring matching.
	return strings.Contains(text, strings.ToLower(rule.MatchValue))
}

func mealSlotTypes(meal Meal, text string) map[string]struct{} {
	slots := map[string]struct{}{strings.ToLower(meal.Slot): {}}
	for _, keyword := range smoothieKeywords {
		if strings.Contains(text, keyword) {
			slots["smoothie"] = struct{}{}
			break
		}
	}
	return slots
}
