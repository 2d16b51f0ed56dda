package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrMissingRuleInputs     = goerr.New("category, attribute name and values are required")
	ErrMissingRefineInputs   = goerr.New("existing rule and feedback are both required")
	ErrMissingCategoryInputs = goerr.New("category name and description are required")
)

// RuleInputs is the structured input of an attribute rule. Values is a comma
// separated list as typed by the user.
type RuleInputs struct {
	Category      string `json:"category" firestore:"category"`
	AttributeName string `json:"attributeName" firestore:"attributeName"`
	Values        string `json:"values" firestore:"values"`
}

// Validate checks that all fields are filled
func (x RuleInputs) Validate() error {
	if strings.TrimSpace(x.Category) == "" ||
		strings.TrimSpace(x.AttributeName) == "" ||
		strings.TrimSpace(x.Values) == "" {
		return goerr.Wrap(ErrMissingRuleInputs, "invalid rule inputs",
			goerr.V("category", x.Category),
			goerr.V("attribute", x.AttributeName))
	}
	return nil
}

// ValueList returns the parsed attribute values. See ParseValues.
func (x RuleInputs) ValueList() []string {
	return ParseValues(x.Values)
}

// ParseValues splits a comma separated value string. Each value is trimmed,
// empty values are dropped and duplicates are removed keeping the first one.
func ParseValues(values string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, v := range strings.Split(values, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// JoinValues is the inverse of ParseValues
func JoinValues(values []string) string {
	return strings.Join(values, ", ")
}

// RefineRuleInputs asks to rewrite an existing rule according to feedback
type RefineRuleInputs struct {
	ExistingRule string `json:"existingRule"`
	Feedback     string `json:"feedback"`
}

func (x RefineRuleInputs) Validate() error {
	if strings.TrimSpace(x.ExistingRule) == "" || strings.TrimSpace(x.Feedback) == "" {
		return goerr.Wrap(ErrMissingRefineInputs, "invalid refine inputs")
	}
	return nil
}

// CategoryInputs describes a product category to generate assignment rules for
type CategoryInputs struct {
	CategoryName        string `json:"categoryName"`
	CategoryDescription string `json:"categoryDescription"`
}

func (x CategoryInputs) Validate() error {
	if strings.TrimSpace(x.CategoryName) == "" || strings.TrimSpace(x.CategoryDescription) == "" {
		return goerr.Wrap(ErrMissingCategoryInputs, "invalid category inputs",
			goerr.V("category", x.CategoryName))
	}
	return nil
}

// DisplayInputs projects category inputs into the RuleInputs shape used by
// history entries. Long descriptions are cut at 100 characters.
func (x CategoryInputs) DisplayInputs() RuleInputs {
	desc := x.CategoryDescription
	if r := []rune(desc); len(r) > 100 {
		desc = string(r[:100]) + "..."
	}
	return RuleInputs{
		Category:      x.CategoryName,
		AttributeName: "Category Rules",
		Values:        desc,
	}
}

// RefinedRule is the structured record returned by a refine request
type RefinedRule struct {
	Category      string `json:"category"`
	AttributeName string `json:"attributeName"`
	Values        string `json:"values"`
	Rule          string `json:"rule"`
}

// Inputs returns the rule inputs inferred by the model
func (x RefinedRule) Inputs() RuleInputs {
	return RuleInputs{
		Category:      x.Category,
		AttributeName: x.AttributeName,
		Values:        x.Values,
	}
}

// Verdict is the outcome of a sample evaluated against a rule
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// TestResult is the evaluation of one sample line against a rule
type TestResult struct {
	Sample string  `json:"sample"`
	Result Verdict `json:"result"`
	Reason string  `json:"reason"`
}
