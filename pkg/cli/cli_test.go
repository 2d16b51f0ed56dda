package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/rulesmith/pkg/history"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/repository"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/usecase/rule"
)

func TestRuleArgsRequest(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name string
		args ruleArgs
		kind model.RequestKind
	}{
		{"text", ruleArgs{mode: "text", category: "Footwear", attribute: "Style", values: "Boot"}, model.RequestKindText},
		{"category", ruleArgs{mode: "category", name: "Shoes", description: "Footwear"}, model.RequestKindCategory},
		{"refine", ruleArgs{mode: "refine", feedback: "stricter"}, model.RequestKindRefine},
		{"image without files", ruleArgs{mode: "image"}, model.RequestKindImage},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := tc.args.request(ctx)
			gt.NoError(t, err)
			gt.Equal(t, req.Kind(), tc.kind)
		})
	}

	_, err := (&ruleArgs{mode: "poem"}).request(ctx)
	gt.Error(t, err)

	_, err = (&ruleArgs{mode: "image", images: []string{filepath.Join(t.TempDir(), "missing.png")}}).request(ctx)
	gt.Error(t, err)
}

func TestResolveEntry(t *testing.T) {
	ctx := context.Background()
	store := history.New(repository.NewMemory())
	entry := &model.Entry{ID: model.NewEntryID(), Rule: "### rule", CreatedAt: time.Now()}
	store.Prepend(ctx, entry)

	byIndex, err := resolveEntry(store, "0")
	gt.NoError(t, err)
	gt.Equal(t, byIndex.ID, entry.ID)

	byID, err := resolveEntry(store, string(entry.ID))
	gt.NoError(t, err)
	gt.Equal(t, byID.Rule, "### rule")

	_, err = resolveEntry(store, "3")
	gt.True(t, errors.Is(err, history.ErrIndexOutOfRange))

	_, err = resolveEntry(store, "unknown")
	gt.True(t, errors.Is(err, rule.ErrEntryNotFound))
}

func TestNewSlotFileBackend(t *testing.T) {
	ctx := context.Background()
	cfg := &config{backend: backendFile, historyFile: filepath.Join(t.TempDir(), "history.json")}

	slot, closeSlot, err := cfg.newSlot(ctx)
	gt.NoError(t, err)
	defer closeSlot()

	entries := []model.PersistedEntry{{ID: model.NewEntryID(), Rule: "r", CreatedAt: time.Now().UTC().Truncate(time.Second)}}
	gt.NoError(t, slot.Save(ctx, entries))

	loaded, err := slot.Load(ctx)
	gt.NoError(t, err)
	gt.A(t, loaded).Length(1)
	gt.Equal(t, loaded[0].ID, entries[0].ID)
}

func TestNewSlotRejectsUnknownBackend(t *testing.T) {
	cfg := &config{backend: "tape"}
	_, _, err := cfg.newSlot(context.Background())
	gt.Error(t, err)

	cfg = &config{backend: backendGCS}
	_, _, err = cfg.newSlot(context.Background())
	gt.Error(t, err)
}

func TestNewGeminiRequiresBackend(t *testing.T) {
	cfg := &config{geminiModel: "gemini-2.5-flash"}
	_, err := cfg.newGemini(context.Background())
	gt.Error(t, err)
}

func TestUserMessage(t *testing.T) {
	gt.Equal(t, userMessage(llm.NewInputError("Please enter feedback.", nil)), "Please enter feedback.")
	gt.Equal(t, userMessage(errors.New("index must be a number")), "index must be a number")
	gt.Equal(t, userMessage(llm.ErrBusy), llm.Normalize(llm.ErrBusy).Message)
}

func TestWriteOutput(t *testing.T) {
	var buf bytes.Buffer
	gt.NoError(t, writeOutput(&buf, "", `{"a":1}`))
	gt.Equal(t, buf.String(), "{\"a\":1}\n")

	path := filepath.Join(t.TempDir(), "out.json")
	gt.NoError(t, writeOutput(&buf, path, `{"a":1}`))
	text, err := readInput(path)
	gt.NoError(t, err)
	gt.Equal(t, text, "{\"a\":1}\n")
}

func writePNG(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	copy(data, "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	path := filepath.Join(dir, name)
	gt.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoadImagesStopsAtTotalLimit(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writePNG(t, dir, "a.png", model.MaxImageSize),
		writePNG(t, dir, "b.png", model.MaxImageSize),
		writePNG(t, dir, "c.png", model.MaxImageSize-1024),
		writePNG(t, dir, "d.png", 4*1024),
		writePNG(t, dir, "e.png", 512),
	}

	images, err := loadImages(context.Background(), paths)
	gt.NoError(t, err)
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Name
	}
	gt.Equal(t, names, []string{"a.png", "b.png", "c.png"})
}

func TestLoadImagesSkipsOversizeAndContinues(t *testing.T) {
	dir := t.TempDir()
	huge := filepath.Join(dir, "huge.png")
	gt.NoError(t, os.WriteFile(huge, nil, 0644))
	gt.NoError(t, os.Truncate(huge, model.MaxImageSize+1))
	paths := []string{huge, writePNG(t, dir, "small.png", 512)}

	images, err := loadImages(context.Background(), paths)
	gt.NoError(t, err)
	gt.A(t, images).Length(1)
	gt.Equal(t, images[0].Name, "small.png")

	_, err = loadImages(context.Background(), []string{filepath.Join(dir, "missing.png")})
	gt.Error(t, err)
}

func TestStudioSelectEntry(t *testing.T) {
	ctx := context.Background()
	store := history.New(repository.NewMemory())
	older := &model.Entry{ID: model.NewEntryID(), Rule: "older", CreatedAt: time.Now()}
	newer := &model.Entry{ID: model.NewEntryID(), Rule: "newer", CreatedAt: time.Now()}
	store.Prepend(ctx, older)
	store.Prepend(ctx, newer)
	s := &studio{uc: rule.New(llm.New(nil), store)}

	gt.NoError(t, s.selectEntry([]string{string(older.ID)}))
	idx, ok := store.Selected()
	gt.True(t, ok)
	gt.Equal(t, idx, 1)

	gt.NoError(t, s.selectEntry([]string{"0"}))
	idx, _ = store.Selected()
	gt.Equal(t, idx, 0)

	err := s.selectEntry([]string{"unknown"})
	gt.True(t, errors.Is(err, rule.ErrEntryNotFound))
	gt.Error(t, s.selectEntry(nil))
}
