package planner

import "fmt"

// IssueCode is the closed enum of validation failure codes.
type IssueCode string

const (
	IssueUnknownIngredient  IssueCode = "UNKNOWN_INGREDIENT"
	IssueInvalidQuantity    IssueCode = "INVALID_QUANTITY"
	IssueForbiddenItem      IssueCode = "FORBIDDEN_INGREDIENT"
	IssueAllergenMatch      IssueCode = "ALLERGEN_MATCH"
	IssueDislikedIngredient IssueCode = "DISLIKED_INGREDIENT"
	IssueMealPreferenceMiss IssueCode = "MEAL_PREFERENCE_MISS"
	IssueCategoryMissing    IssueCode = "REQUIRED_CATEGORY_MISSING"
	IssueCalorieTargetMiss  IssueCode = "CALORIE_TARGET_MISS"
	IssueProteinTargetMiss  IssueCode = "PROTEIN_TARGET_MISS"
	IssueCarbsTargetMiss    IssueCode = "CARBS_TARGET_MISS"
	IssueFatTargetMiss      IssueCode = "FAT_TARGET_MISS"
	IssueDateMismatch       IssueCode = "DATE_MISMATCH"
	IssuePrepTimeExceeded   IssueCode = "PREP_TIME_EXCEEDED"

	// Structural codes raised before any nutrition lookup happens.
	IssueParseFailure   IssueCode = "PARSE_FAILURE"
	IssueUnexpectedDate IssueCode = "UNEXPECTED_DATE"
	IssueDuplicateDate  IssueCode = "DUPLICATE_DATE"
	IssueMissingDate    IssueCode = "MISSING_DATE"
	IssueMissingName    IssueCode = "MISSING_NAME"
	IssueUnknownSlot    IssueCode = "UNKNOWN_SLOT"
	IssueMissingSlot    IssueCode = "MISSING_SLOT"
	IssueDuplicateSlot  IssueCode = "DUPLICATE_SLOT"
	IssueEmptyMeal      IssueCode = "EMPTY_MEAL"
	IssueMissingCode    IssueCode = "MISSING_CODE"
)

// ValidationIssue describes one constraint failure at a plan path.
// Slot is set for slot-scoped issues so repair hints can match on it.
type ValidationIssue struct {
	Path    string    `json:"path"`
	Code    IssueCode `json:"code"`
	Slot    string    `json:"slot,omitempty"`
	Message string    `json:"message"`
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Path, v.Code, v.Message)
}

// macroIssueCodes are the issues the deterministic quantity adjuster can fix.
var macroIssueCodes = map[IssueCode]struct{}{
	IssueCalorieTargetMiss: {},
	IssueProteinTargetMiss: {},
	IssueCarbsTargetMiss:   {},
	IssueFatTargetMiss:     {},
}

// onlyMacroIssues reports whether every issue is a calorie/macro miss.
// The adjuster is only attempted when this holds.
func onlyMacroIssues(issues []ValidationIssue) bool {
	if len(issues) == 0 {
		return false
	}
	for _, issue := range issues {
		if _, ok := macroIssueCodes[issue.Code]; !ok {
			return false
		}
	}
	return true
}
