package rule

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/prompt"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
)

// Refine rewrites the selected entry in place over its session. Entries
// without a live session, such as ones loaded from storage or generated
// from images, cannot be refined. On failure the previous rule is restored.
func (u *UseCase) Refine(ctx context.Context, feedback string, obs *llm.StreamObserver) (*model.Entry, error) {
	return u.refine(ctx, feedback, obs, func() (*model.Entry, error) {
		entry, ok := u.store.SelectedEntry()
		if !ok {
			return nil, inputError("Please select a rule from history first.", ErrNoSelection)
		}
		return entry, nil
	})
}

// RefineID is Refine for the entry with id. The selection is left as is.
func (u *UseCase) RefineID(ctx context.Context, id model.EntryID, feedback string, obs *llm.StreamObserver) (*model.Entry, error) {
	return u.refine(ctx, feedback, obs, func() (*model.Entry, error) {
		entry, ok := u.store.Get(id)
		if !ok {
			return nil, inputError("The rule was not found in history.", goerr.Wrap(ErrEntryNotFound, "unknown id", goerr.V("id", id)))
		}
		return entry, nil
	})
}

// refine resolves the target with lookup only after the guard is held
func (u *UseCase) refine(ctx context.Context, feedback string, obs *llm.StreamObserver, lookup func() (*model.Entry, error)) (*model.Entry, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, u.fail(ctx, "refine", inputError("Please enter your refinement feedback.", ErrEmptyFeedback))
	}
	if err := u.acquire(); err != nil {
		return nil, u.fail(ctx, "refine", err)
	}
	defer u.release()

	entry, err := lookup()
	if err != nil {
		return nil, u.fail(ctx, "refine", err)
	}
	if !entry.Refinable() {
		return nil, u.fail(ctx, "refine", goerr.Wrap(llm.ErrNoActiveSession, "entry has no session", goerr.V("id", entry.ID)))
	}

	text, err := prompt.Attribute(entry.Inputs, entry.Rule, feedback)
	if err != nil {
		return nil, u.fail(ctx, "refine", err)
	}

	logger := logging.From(ctx).With("id", entry.ID)
	ctx = logging.With(ctx, logger)
	u.activity.Info("Refining rule for %s / %s", entry.Inputs.Category, entry.Inputs.AttributeName)

	previous := entry.Rule
	u.store.Update(ctx, entry.ID, func(e *model.Entry) { e.Rule = "" })

	rule, err := u.transport.ContinueSessionStream(ctx, entry.Session, text, u.liveObserver(ctx, entry.ID, obs))
	if err != nil {
		u.store.Update(context.WithoutCancel(ctx), entry.ID, func(e *model.Entry) { e.Rule = previous })
		return nil, u.fail(ctx, "refine", err)
	}

	u.store.Update(ctx, entry.ID, func(e *model.Entry) {
		e.Rule = rule
		e.CompactRule = ""
	})

	refined, ok := u.store.Get(entry.ID)
	if !ok {
		// removed while streaming
		refined = entry.Clone()
		refined.Rule = rule
		refined.CompactRule = ""
	}
	logger.Debug("rule refined", "length", len(rule))
	u.activity.Success("Rule refined")
	return refined, nil
}

// UpdateRule replaces the rule of the entry at index with a manual edit.
// The cached summary is dropped.
func (u *UseCase) UpdateRule(ctx context.Context, index int, rule string) error {
	entry, ok := u.store.At(index)
	if !ok {
		return u.fail(ctx, "edit", inputError("No rule exists at that position.", goerr.Wrap(ErrEntryNotFound, "invalid index", goerr.V("index", index))))
	}

	u.store.Update(ctx, entry.ID, func(e *model.Entry) {
		e.Rule = rule
		e.CompactRule = ""
	})
	u.activity.Info("Rule edited")
	return nil
}
