package rule_test

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/rulesmith/pkg/adapter/mock"
	"github.com/m-mizutani/rulesmith/pkg/history"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/repository"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/usecase/rule"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"google.golang.org/genai"
)

type streamFunc = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

type generateFunc = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

func streams(chunks ...string) streamFunc {
	return func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		return mock.Stream(chunks...)
	}
}

func failingStream(err error) streamFunc {
	return func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		return mock.ErrorStream(err)
	}
}

func responds(text string) generateFunc {
	return func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return mock.Response(text), nil
	}
}

func setup(gemini *mock.Gemini, opts ...rule.Option) (*rule.UseCase, *history.Store) {
	transport := llm.New(gemini, llm.WithRetry(llm.RetryPolicy{
		Sleep:  func(ctx context.Context, d time.Duration) error { return nil },
		Jitter: func() time.Duration { return 0 },
	}))
	store := history.New(repository.NewMemory())
	return rule.New(transport, store, opts...), store
}

var footwear = model.RuleInputs{Category: "Footwear", AttributeName: "Style", Values: "Sneaker, Boot, Sandal"}

func kindOf(t *testing.T, err error) llm.Kind {
	t.Helper()
	var e *llm.Error
	gt.True(t, errors.As(err, &e))
	return e.Kind
}

func TestGenerateTextSettlesWithNewID(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("### Def", "inition\n", "...")}
	uc, store := setup(gemini)

	var chunks []string
	var tempIDs []model.EntryID
	entry, err := uc.Generate(context.Background(), model.TextRequest{Inputs: footwear}, &llm.StreamObserver{
		OnChunk: func(s string) {
			chunks = append(chunks, s)
			head, ok := store.At(0)
			gt.True(t, ok)
			tempIDs = append(tempIDs, head.ID)
		},
	})
	gt.NoError(t, err)
	gt.Equal(t, chunks, []string{"### Def", "inition\n", "..."})
	gt.Equal(t, entry.Rule, "### Definition\n...")
	gt.True(t, entry.Refinable())

	// the temporary id is stable while streaming and replaced on settle
	gt.A(t, tempIDs).Length(3)
	gt.Equal(t, tempIDs[0], tempIDs[2])
	gt.NotEqual(t, entry.ID, tempIDs[0])

	gt.Equal(t, store.Len(), 1)
	head, _ := store.At(0)
	gt.Equal(t, head.ID, entry.ID)
	gt.Equal(t, head.Inputs, footwear)
	idx, ok := store.Selected()
	gt.True(t, ok)
	gt.Equal(t, idx, 0)

	// prompt carries one bullet per value
	contents := gemini.LastContents()
	gt.S(t, contents[0].Parts[0].Text).Contains("  - Sneaker\n  - Boot\n  - Sandal")
}

func TestGenerateFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	gemini := &mock.Gemini{StreamFunc: streams("first")}
	uc, store := setup(gemini)

	_, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)
	gt.Equal(t, store.Len(), 1)

	gemini.StreamFunc = failingStream(errors.New("connection reset by peer"))
	_, err = uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.Error(t, err)
	gt.Equal(t, kindOf(t, err), llm.KindUnknown)
	gt.S(t, err.Error()).NotContains("connection reset")

	gt.Equal(t, store.Len(), 1)
	_, ok := store.Selected()
	gt.False(t, ok)
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	gemini := &mock.Gemini{}
	uc, store := setup(gemini)

	_, err := uc.Generate(context.Background(), model.TextRequest{Inputs: model.RuleInputs{Category: "Footwear"}}, nil)
	gt.Equal(t, kindOf(t, err), llm.KindInvalidInput)
	gt.Equal(t, store.Len(), 0)
	gt.Equal(t, gemini.StreamCalls(), 0)
}

func TestGenerateRefineMalformedJSON(t *testing.T) {
	gemini := &mock.Gemini{GenerateFunc: responds(`{"category": "Footwear", "rule": `)}
	uc, store := setup(gemini)

	_, err := uc.Generate(context.Background(), model.RefineRequest{
		Inputs: model.RefineRuleInputs{ExistingRule: "X", Feedback: "Y"},
	}, nil)
	gt.Error(t, err)
	gt.Equal(t, kindOf(t, err), llm.KindInvalidStructuredOutput)
	gt.S(t, err.Error()).Contains("invalid JSON")
	gt.Equal(t, store.Len(), 0)
}

func TestGenerateRefineRecord(t *testing.T) {
	gemini := &mock.Gemini{
		GenerateFunc: responds(`{"category":"Footwear","attributeName":"Style","values":"Sneaker, Boot","rule":"### Refined"}`),
		StreamFunc:   streams("### Refined again"),
	}
	uc, _ := setup(gemini)
	ctx := context.Background()

	entry, err := uc.Generate(ctx, model.RefineRequest{
		Inputs: model.RefineRuleInputs{ExistingRule: "X", Feedback: "Y"},
	}, nil)
	gt.NoError(t, err)
	gt.Equal(t, entry.Rule, "### Refined")
	gt.Equal(t, entry.Inputs.Category, "Footwear")
	gt.True(t, entry.Refinable())
	gt.Equal(t, entry.Session.Turns(), 2)

	// the seeded session continues the same thread
	refined, err := uc.Refine(ctx, "stricter", nil)
	gt.NoError(t, err)
	gt.Equal(t, refined.Rule, "### Refined again")
	gt.A(t, gemini.LastContents()).Length(3)
}

func TestGenerateCategory(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("### 🎯 Category Definition")}
	uc, _ := setup(gemini)

	entry, err := uc.Generate(context.Background(), model.CategoryRequest{
		Inputs: model.CategoryInputs{CategoryName: "Outdoor", CategoryDescription: "Camping gear"},
	}, nil)
	gt.NoError(t, err)
	gt.Equal(t, entry.Inputs.AttributeName, "Category Rules")
	gt.True(t, entry.Refinable())
	gt.Equal(t, *gemini.LastConfig().ThinkingConfig.ThinkingBudget, int32(128))
}

func TestImageEntryCannotBeRefined(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("### OCR rule")}
	uc, _ := setup(gemini)
	ctx := context.Background()

	img := model.Image{Name: "label.png", MIMEType: "image/png", Data: []byte("png")}
	entry, err := uc.Generate(ctx, model.ImageRequest{Images: []model.Image{img}}, nil)
	gt.NoError(t, err)
	gt.False(t, entry.Refinable())
	gt.Equal(t, entry.Inputs.Category, "Image-Based")

	calls := gemini.StreamCalls()
	_, err = uc.Refine(ctx, "more detail", nil)
	gt.Equal(t, kindOf(t, err), llm.KindNoActiveSession)
	gt.Equal(t, gemini.StreamCalls(), calls)
}

func TestRefineInPlace(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("original rule")}
	uc, store := setup(gemini)
	ctx := context.Background()

	entry, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)
	gemini.GenerateFunc = responds("compact")
	_, err = uc.Summarize(ctx, entry.ID)
	gt.NoError(t, err)

	gemini.StreamFunc = streams("refined ", "rule")
	refined, err := uc.Refine(ctx, "Make Sneaker stricter", nil)
	gt.NoError(t, err)
	gt.Equal(t, refined.ID, entry.ID)
	gt.Equal(t, refined.Rule, "refined rule")
	gt.Equal(t, refined.CompactRule, "")
	gt.Equal(t, store.Len(), 1)

	contents := gemini.LastContents()
	gt.A(t, contents).Length(3)
	gt.S(t, contents[2].Parts[0].Text).Contains("original rule")
	gt.S(t, contents[2].Parts[0].Text).Contains("Make Sneaker stricter")
}

func TestRefineFailureRestoresRule(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("original rule")}
	uc, store := setup(gemini)
	ctx := context.Background()

	entry, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	gemini.StreamFunc = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		return mock.FailingStream(errors.New("400 Bad Request"), "partial")
	}
	_, err = uc.Refine(ctx, "stricter", nil)
	gt.Equal(t, kindOf(t, err), llm.KindMalformedRequest)

	got, ok := store.Get(entry.ID)
	gt.True(t, ok)
	gt.Equal(t, got.Rule, "original rule")
	gt.Equal(t, entry.Session.Turns(), 2)
}

func TestRefineRequiresFeedbackAndSelection(t *testing.T) {
	uc, _ := setup(&mock.Gemini{})
	ctx := context.Background()

	_, err := uc.Refine(ctx, "  ", nil)
	gt.Equal(t, kindOf(t, err), llm.KindInvalidInput)

	_, err = uc.Refine(ctx, "stricter", nil)
	gt.Equal(t, kindOf(t, err), llm.KindInvalidInput)
	gt.True(t, errors.Is(err, rule.ErrNoSelection))
}

func TestRefineAfterReload(t *testing.T) {
	ctx := context.Background()
	slot := repository.NewMemory()
	gemini := &mock.Gemini{StreamFunc: streams("rule")}
	transport := llm.New(gemini)

	uc := rule.New(transport, history.New(slot))
	_, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	reloaded := rule.New(transport, history.Load(ctx, slot))
	_, err = reloaded.Refine(ctx, "stricter", nil)
	gt.Equal(t, kindOf(t, err), llm.KindNoActiveSession)
}

func TestBusyGuard(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gemini := &mock.Gemini{
		StreamFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			return func(yield func(*genai.GenerateContentResponse, error) bool) {
				close(started)
				<-release
				yield(mock.Response("slow rule"), nil)
			}
		},
	}
	uc, store := setup(gemini)
	ctx := context.Background()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	}()

	<-started
	_, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.Equal(t, kindOf(t, err), llm.KindBusy)
	_, err = uc.Refine(ctx, "stricter", nil)
	gt.Equal(t, kindOf(t, err), llm.KindBusy)

	close(release)
	wg.Wait()
	gt.NoError(t, firstErr)
	gt.Equal(t, store.Len(), 1)
}

func TestChunksForDeletedEntryAreDropped(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("A", "B")}
	uc, store := setup(gemini)
	ctx := context.Background()

	entry, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, &llm.StreamObserver{
		OnChunk: func(s string) {
			if s == "A" {
				gt.NoError(t, store.Delete(ctx, 0))
			}
		},
	})
	gt.NoError(t, err)
	gt.Equal(t, entry.Rule, "AB")
	gt.Equal(t, store.Len(), 0)
}

func TestSummarizeIsMemoized(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("full rule"), GenerateFunc: responds("short")}
	uc, store := setup(gemini)
	ctx := context.Background()

	entry, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	for i := 0; i < 2; i++ {
		summary, err := uc.Summarize(ctx, entry.ID)
		gt.NoError(t, err)
		gt.Equal(t, summary, "short")
	}
	gt.Equal(t, gemini.GenerateCalls(), 1)

	gt.NoError(t, uc.UpdateRule(ctx, 0, "edited rule"))
	edited, _ := store.Get(entry.ID)
	gt.Equal(t, edited.CompactRule, "")

	_, err = uc.Summarize(ctx, entry.ID)
	gt.NoError(t, err)
	gt.Equal(t, gemini.GenerateCalls(), 2)
}

func TestSummarizeConcurrentCallsShareRequest(t *testing.T) {
	release := make(chan struct{})
	gemini := &mock.Gemini{
		StreamFunc: streams("full rule"),
		GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			<-release
			return mock.Response("short"), nil
		},
	}
	uc, _ := setup(gemini)
	ctx := context.Background()

	entry, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = uc.Summarize(ctx, entry.ID)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		gt.Equal(t, r, "short")
	}
	gt.Equal(t, gemini.GenerateCalls(), 1)
}

func TestExportIsFreshEveryTime(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("full rule"), GenerateFunc: responds(`{"attributeDefinition":"x"}`)}
	uc, _ := setup(gemini)
	ctx := context.Background()

	entry, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	for i := 0; i < 2; i++ {
		doc, err := uc.Export(ctx, entry.ID)
		gt.NoError(t, err)
		gt.S(t, doc).Contains("attributeDefinition")
	}
	gt.Equal(t, gemini.GenerateCalls(), 2)

	_, err = uc.Export(ctx, model.NewEntryID())
	gt.Equal(t, kindOf(t, err), llm.KindInvalidInput)
}

func TestVerify(t *testing.T) {
	gemini := &mock.Gemini{GenerateFunc: responds(`[{"sample":"red sneaker","result":"pass","reason":"matches"},{"sample":"hat","result":"fail","reason":"not footwear"}]`)}
	recorder := logging.NewRecorder(10)
	uc, _ := setup(gemini, rule.WithRecorder(recorder))
	ctx := context.Background()

	samples := rule.SplitSamples("red sneaker\n\n  hat  \n")
	gt.Equal(t, samples, []string{"red sneaker", "hat"})

	results, err := uc.Test(ctx, "### rule", samples)
	gt.NoError(t, err)
	gt.A(t, results).Length(2)
	gt.Equal(t, results[0].Result, model.VerdictPass)
	gt.S(t, recorder.Entries()[0].Message).Contains("1 passed")

	_, err = uc.Test(ctx, "### rule", nil)
	gt.Equal(t, kindOf(t, err), llm.KindInvalidInput)
	_, err = uc.Test(ctx, " ", samples)
	gt.Equal(t, kindOf(t, err), llm.KindInvalidInput)
}

func TestTransientFailureIsRetried(t *testing.T) {
	attempt := 0
	gemini := &mock.Gemini{
		StreamFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			attempt++
			if attempt == 1 {
				return mock.FailingStream(errors.New("503 model overloaded"), "stale ")
			}
			return mock.Stream("fresh")
		},
	}
	uc, store := setup(gemini)

	resets := 0
	entry, err := uc.Generate(context.Background(), model.TextRequest{Inputs: footwear}, &llm.StreamObserver{
		OnReset: func() { resets++ },
	})
	gt.NoError(t, err)
	gt.Equal(t, entry.Rule, "fresh")
	gt.Equal(t, resets, 1)
	head, _ := store.At(0)
	gt.Equal(t, head.Rule, "fresh")
}

// cancelAwareSlot refuses writes under a done context like the network
// backends do
type cancelAwareSlot struct {
	*repository.Memory
}

func (x *cancelAwareSlot) Save(ctx context.Context, entries []model.PersistedEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return x.Memory.Save(ctx, entries)
}

// cancellingStream yields chunk and then cancels the caller
func cancellingStream(cancel context.CancelFunc, chunk string) streamFunc {
	return func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			if !yield(mock.Response(chunk), nil) {
				return
			}
			cancel()
			yield(nil, ctx.Err())
		}
	}
}

func TestCancelledGenerateLeavesNoPersistedEntry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slot := &cancelAwareSlot{Memory: repository.NewMemory()}
	gemini := &mock.Gemini{StreamFunc: cancellingStream(cancel, "partial ")}
	uc := rule.New(llm.New(gemini), history.New(slot))

	_, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.Error(t, err)

	reloaded := history.Load(context.Background(), slot)
	gt.Equal(t, reloaded.Len(), 0)
}

func TestCancelledRefineRestoresPersistedRule(t *testing.T) {
	slot := &cancelAwareSlot{Memory: repository.NewMemory()}
	gemini := &mock.Gemini{StreamFunc: streams("original rule")}
	uc := rule.New(llm.New(gemini), history.New(slot))

	entry, err := uc.Generate(context.Background(), model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gemini.StreamFunc = cancellingStream(cancel, "partial ")
	_, err = uc.Refine(ctx, "stricter", nil)
	gt.Error(t, err)

	reloaded := history.Load(context.Background(), slot)
	got, ok := reloaded.Get(entry.ID)
	gt.True(t, ok)
	gt.Equal(t, got.Rule, "original rule")
}

func TestRefineIDKeepsSelection(t *testing.T) {
	gemini := &mock.Gemini{StreamFunc: streams("boots rule")}
	uc, store := setup(gemini)
	ctx := context.Background()

	first, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)
	gemini.StreamFunc = streams("sandals rule")
	second, err := uc.Generate(ctx, model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	gemini.StreamFunc = streams("stricter boots rule")
	refined, err := uc.RefineID(ctx, first.ID, "stricter", nil)
	gt.NoError(t, err)
	gt.Equal(t, refined.ID, first.ID)
	gt.Equal(t, refined.Rule, "stricter boots rule")
	gt.S(t, gemini.LastContents()[2].Parts[0].Text).Contains("boots rule")
	gt.S(t, gemini.LastContents()[2].Parts[0].Text).NotContains("sandals rule")

	untouched, _ := store.Get(second.ID)
	gt.Equal(t, untouched.Rule, "sandals rule")
	idx, ok := store.Selected()
	gt.True(t, ok)
	gt.Equal(t, idx, 0)

	_, err = uc.RefineID(ctx, model.NewEntryID(), "stricter", nil)
	gt.Equal(t, kindOf(t, err), llm.KindInvalidInput)
	gt.True(t, errors.Is(err, rule.ErrEntryNotFound))
}

func TestSummarizeIgnoresCallerCancellation(t *testing.T) {
	gemini := &mock.Gemini{
		StreamFunc: streams("full rule"),
		GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return mock.Response("short"), nil
		},
	}
	uc, _ := setup(gemini)

	entry, err := uc.Generate(context.Background(), model.TextRequest{Inputs: footwear}, nil)
	gt.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := uc.Summarize(ctx, entry.ID)
	gt.NoError(t, err)
	gt.Equal(t, summary, "short")
}
