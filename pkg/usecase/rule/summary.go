package rule

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/prompt"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
)

func (u *UseCase) entry(ctx context.Context, op string, id model.EntryID) (*model.Entry, error) {
	entry, ok := u.store.Get(id)
	if !ok {
		return nil, u.fail(ctx, op, inputError("The rule was not found in history.", goerr.Wrap(ErrEntryNotFound, "unknown id", goerr.V("id", id))))
	}
	return entry, nil
}

// Summarize returns the compact summary of the entry. It is computed on
// first demand and kept until the rule changes. Concurrent calls for the
// same entry share one request.
func (u *UseCase) Summarize(ctx context.Context, id model.EntryID) (string, error) {
	entry, err := u.entry(ctx, "summarize", id)
	if err != nil {
		return "", err
	}
	if entry.CompactRule != "" {
		return entry.CompactRule, nil
	}

	rule := entry.Rule
	v, err, _ := u.summaries.Do(string(id), func() (any, error) {
		// shared by every waiter, so one caller leaving must not cancel it
		ctx := context.WithoutCancel(ctx)
		summary, err := u.summarize(ctx, rule)
		if err != nil {
			return "", err
		}
		// keep it only if the rule was not edited meanwhile
		u.store.Update(ctx, id, func(e *model.Entry) {
			if e.Rule == rule {
				e.CompactRule = summary
			}
		})
		return summary, nil
	})
	if err != nil {
		return "", u.fail(ctx, "summarize", err)
	}
	return v.(string), nil
}

// SummarizeRule summarizes a rule that is not kept in history
func (u *UseCase) SummarizeRule(ctx context.Context, rule string) (string, error) {
	summary, err := u.summarize(ctx, rule)
	if err != nil {
		return "", u.fail(ctx, "summarize", err)
	}
	return summary, nil
}

func (u *UseCase) summarize(ctx context.Context, rule string) (string, error) {
	if strings.TrimSpace(rule) == "" {
		return "", inputError("Cannot summarize an empty rule.", ErrEmptyRule)
	}
	text, err := prompt.Compact(rule)
	if err != nil {
		return "", err
	}
	return u.transport.RequestOnce(ctx, text, llm.FlowSummary)
}

// Export converts the rule of the entry into a JSON document. The result is
// computed on every call.
func (u *UseCase) Export(ctx context.Context, id model.EntryID) (string, error) {
	entry, err := u.entry(ctx, "export", id)
	if err != nil {
		return "", err
	}
	return u.ExportRule(ctx, entry.Rule)
}

// ExportRule converts a rule into a JSON document
func (u *UseCase) ExportRule(ctx context.Context, rule string) (string, error) {
	if strings.TrimSpace(rule) == "" {
		return "", u.fail(ctx, "export", inputError("Cannot export an empty rule.", ErrEmptyRule))
	}
	text, err := prompt.Export(rule)
	if err != nil {
		return "", u.fail(ctx, "export", err)
	}

	doc, err := u.transport.RequestJSON(ctx, text, llm.FlowExport)
	if err != nil {
		return "", u.fail(ctx, "export", err)
	}
	u.activity.Success("Rule exported as JSON")
	return doc, nil
}
