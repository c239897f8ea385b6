// Package guardrails loads and evaluates externally versioned diet rulesets:
// hard allow/block rules over plan text targets, and per-day category-quota
// ("diet logic") rules.
package guardrails

import (
	"context"
	"strings"
)

// Outcome is the result class of a hard-rule evaluation.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeWarned  Outcome = "warned"
	OutcomeBlocked Outcome = "blocked"
)

// Decision is the verdict of a hard-rule evaluation. A warned outcome
// keeps OK true; it is non-blocking.
type Decision struct {
	OK          bool     `json:"ok"`
	Outcome     Outcome  `json:"outcome"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
}

// HardRule matches a term against plan targets and blocks or warns.
type HardRule struct {
	RuleCode   string `json:"rule_code"`
	Action     string `json:"action"` // "block" or "warn"
	MatchValue string `json:"match_value"`
	ReasonCode string `json:"reason_code"`
}

// Ruleset is a versioned, content-hashed set of hard rules for one diet.
type Ruleset struct {
	DietID  string     `json:"diet_id"`
	Mode    string     `json:"mode"`
	Locale  string     `json:"locale"`
	Version string     `json:"version"`
	Hash    string     `json:"-"`
	Rules   []HardRule `json:"rules"`
}

// Loader fetches versioned rulesets and diet-logic rules for a diet.
type Loader interface {
	Load(ctx context.Context, dietID, mode, locale string) (*Ruleset, error)
	LoadDietLogic(ctx context.Context, dietID string) ([]DietRule, error)
}

// Evaluate matches a ruleset against textual/categorical targets extracted
// from a plan. Any block match blocks; otherwise any warn match warns.
func Evaluate(rs *Ruleset, targets []string) Decision {
	var blocked, warned []string

	for _, rule := range rs.Rules {
		match := strings.ToLower(rule.MatchValue)
		if match == "" {
			continue
		}
		for _, target := range targets {
			if !strings.Contains(strings.ToLower(target), match) {
				continue
			}
			switch rule.Action {
			case "block":
				blocked = append(blocked, rule.ReasonCode)
			case "warn":
				warned = append(warned, rule.ReasonCode)
			}
			break
		}
	}

	if len(blocked) > 0 {
		return Decision{OK: false, Outcome: OutcomeBlocked, ReasonCodes: blocked}
	}
	if len(warned) > 0 {
		return Decision{OK: true, Outcome: OutcomeWarned, ReasonCodes: warned}
	}
	return Decision{OK: true, Outcome: OutcomeAllowed}
}
