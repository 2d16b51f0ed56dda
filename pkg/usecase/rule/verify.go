package rule

import (
	"context"
	"strings"

	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/prompt"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
)

// SplitSamples returns the non-empty trimmed lines of text
func SplitSamples(text string) []string {
	var samples []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			samples = append(samples, line)
		}
	}
	return samples
}

// Test evaluates every sample against rule and returns a pass or fail
// verdict with a reason for each
func (u *UseCase) Test(ctx context.Context, rule string, samples []string) ([]model.TestResult, error) {
	if strings.TrimSpace(rule) == "" {
		return nil, u.fail(ctx, "test", inputError("Cannot test an empty rule.", ErrEmptyRule))
	}
	if len(samples) == 0 {
		return nil, u.fail(ctx, "test", inputError("Sample data cannot be empty.", ErrNoSamples))
	}

	text, err := prompt.Verify(rule, samples)
	if err != nil {
		return nil, u.fail(ctx, "test", err)
	}

	var results []model.TestResult
	if _, err := u.transport.RequestStructured(ctx, text, llm.TestResultsSchema, llm.FlowVerify, &results); err != nil {
		return nil, u.fail(ctx, "test", err)
	}

	passed := 0
	for _, r := range results {
		if r.Result == model.VerdictPass {
			passed++
		}
	}
	u.activity.Success("Tested %d samples: %d passed", len(results), passed)
	return results, nil
}
