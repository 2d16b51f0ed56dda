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

// generation is the settled outcome of one request variant
type generation struct {
	inputs  model.RuleInputs
	rule    string
	session *model.Session
}

// Generate runs req. A temporary entry is inserted at the head of history
// and receives the streamed text; on success it is replaced by a settled
// entry with a new id, on failure it is removed and the selection cleared.
func (u *UseCase) Generate(ctx context.Context, req model.Request, obs *llm.StreamObserver) (*model.Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, u.fail(ctx, "generate", err)
	}
	if err := u.acquire(); err != nil {
		return nil, u.fail(ctx, "generate", err)
	}
	defer u.release()

	logger := logging.From(ctx).With("kind", req.Kind())
	ctx = logging.With(ctx, logger)

	createdAt := u.now()
	display := req.DisplayInputs(createdAt)
	tempID := model.NewEntryID()
	u.store.Prepend(ctx, &model.Entry{
		ID:        tempID,
		Inputs:    display,
		CreatedAt: createdAt,
	})
	u.activity.Info("Generating rule for %s / %s", display.Category, display.AttributeName)

	result, err := u.dispatch(ctx, req, display, u.liveObserver(ctx, tempID, obs))
	if err != nil {
		u.store.Remove(context.WithoutCancel(ctx), tempID)
		u.store.ClearSelection()
		return nil, u.fail(ctx, "generate", err)
	}

	settled := &model.Entry{
		ID:        model.NewEntryID(),
		Inputs:    result.inputs,
		Rule:      result.rule,
		CreatedAt: createdAt,
		Session:   result.session,
	}
	if !u.store.Replace(ctx, tempID, settled) {
		logger.Info("generated entry was removed before it settled", "temp_id", tempID)
	}

	logger.Debug("rule generated", "id", settled.ID, "length", len(settled.Rule))
	u.activity.Success("Rule generated for %s / %s", result.inputs.Category, result.inputs.AttributeName)
	return settled, nil
}

// liveObserver mirrors streamed text into the entry with id and forwards it
// to obs. Chunks for an entry that no longer exists are dropped from the
// store.
func (u *UseCase) liveObserver(ctx context.Context, id model.EntryID, obs *llm.StreamObserver) *llm.StreamObserver {
	return &llm.StreamObserver{
		OnChunk: func(chunk string) {
			u.store.Update(ctx, id, func(e *model.Entry) { e.Rule += chunk })
			if obs != nil && obs.OnChunk != nil {
				obs.OnChunk(chunk)
			}
		},
		OnReset: func() {
			u.store.Update(ctx, id, func(e *model.Entry) { e.Rule = "" })
			u.activity.Warn("Model is overloaded, retrying")
			if obs != nil && obs.OnReset != nil {
				obs.OnReset()
			}
		},
	}
}

func (u *UseCase) dispatch(ctx context.Context, req model.Request, display model.RuleInputs, obs *llm.StreamObserver) (*generation, error) {
	switch r := req.(type) {
	case model.TextRequest:
		text, err := prompt.Attribute(r.Inputs, "", "")
		if err != nil {
			return nil, err
		}
		return u.converse(ctx, llm.FlowAttribute, text, r.Inputs, obs)

	case model.CategoryRequest:
		text, err := prompt.Category(r.Inputs)
		if err != nil {
			return nil, err
		}
		return u.converse(ctx, llm.FlowCategory, text, r.Inputs.DisplayInputs(), obs)

	case model.ImageRequest:
		text, err := prompt.ImageOnly()
		if err != nil {
			return nil, err
		}
		rule, err := u.transport.RequestStream(ctx, text, r.Images, llm.FlowAttribute, obs)
		if err != nil {
			return nil, err
		}
		return &generation{inputs: display, rule: rule}, nil

	case model.TextAndImageRequest:
		text, err := prompt.TextAndImage(r.Inputs)
		if err != nil {
			return nil, err
		}
		rule, err := u.transport.RequestStream(ctx, text, r.Images, llm.FlowAttribute, obs)
		if err != nil {
			return nil, err
		}
		return &generation{inputs: r.Inputs, rule: rule}, nil

	case model.RefineRequest:
		return u.refineStructured(ctx, r.Inputs, obs)

	default:
		return nil, goerr.New("unsupported request kind", goerr.V("kind", req.Kind()))
	}
}

// converse streams text on a new session so the entry can be refined later
func (u *UseCase) converse(ctx context.Context, flow llm.Flow, text string, inputs model.RuleInputs, obs *llm.StreamObserver) (*generation, error) {
	session := u.transport.OpenSession(flow)
	rule, err := u.transport.ContinueSessionStream(ctx, session, text, obs)
	if err != nil {
		return nil, err
	}
	return &generation{inputs: inputs, rule: rule, session: session}, nil
}

// refineStructured asks for the whole refined document as a record and
// seeds a session with the exchange for further conversational refinement
func (u *UseCase) refineStructured(ctx context.Context, inputs model.RefineRuleInputs, obs *llm.StreamObserver) (*generation, error) {
	text, err := prompt.Refine(inputs)
	if err != nil {
		return nil, err
	}

	var refined model.RefinedRule
	raw, err := u.transport.RequestStructured(ctx, text, llm.RefinedRuleSchema, llm.FlowRefine, &refined)
	if err != nil {
		return nil, err
	}

	rule := strings.TrimSpace(refined.Rule)
	if obs != nil && obs.OnChunk != nil {
		obs.OnChunk(rule)
	}

	session := u.transport.OpenSession(llm.FlowAttribute,
		model.ChatMessage{Role: model.ChatRoleUser, Text: text},
		model.ChatMessage{Role: model.ChatRoleModel, Text: raw},
	)
	return &generation{inputs: refined.Inputs(), rule: rule, session: session}, nil
}
