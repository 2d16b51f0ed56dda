package chat_test

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/rulesmith/pkg/adapter/mock"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/usecase/chat"
	"google.golang.org/genai"
)

var tokenLimit = genai.APIError{
	Code:    400,
	Status:  "INVALID_ARGUMENT",
	Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
}

func newTransport(gemini *mock.Gemini) *llm.Transport {
	return llm.New(gemini, llm.WithRetry(llm.RetryPolicy{
		Sleep:  func(ctx context.Context, d time.Duration) error { return nil },
		Jitter: func() time.Duration { return 0 },
	}))
}

func TestBotSend(t *testing.T) {
	gemini := &mock.Gemini{
		StreamFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			return mock.Stream("Hello", ", there")
		},
	}
	bot := chat.New(newTransport(gemini))

	var chunks []string
	reply, err := bot.Send(context.Background(), "Hi", &llm.StreamObserver{
		OnChunk: func(s string) { chunks = append(chunks, s) },
	})
	gt.NoError(t, err)
	gt.Equal(t, reply, "Hello, there")
	gt.Equal(t, strings.Join(chunks, ""), "Hello, there")
	gt.A(t, bot.History()).Length(2)

	config := gemini.LastConfig()
	gt.True(t, config.SystemInstruction != nil)

	_, err = bot.Send(context.Background(), "And again", nil)
	gt.NoError(t, err)
	// full conversation is sent on every turn
	gt.A(t, gemini.LastContents()).Length(3)
	gt.A(t, bot.History()).Length(4)

	bot.Reset()
	gt.A(t, bot.History()).Length(0)
}

func TestBotRejectsEmptyMessage(t *testing.T) {
	gemini := &mock.Gemini{}
	bot := chat.New(newTransport(gemini))

	_, err := bot.Send(context.Background(), "   ", nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, chat.ErrEmptyMessage))

	var e *llm.Error
	gt.True(t, errors.As(err, &e))
	gt.Equal(t, e.Kind, llm.KindInvalidInput)
	gt.Equal(t, e.Message, "Chat message cannot be empty.")
	gt.Equal(t, gemini.StreamCalls(), 0)
}

func TestBotFailureKeepsHistory(t *testing.T) {
	gemini := &mock.Gemini{
		StreamFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			return mock.ErrorStream(genai.APIError{Code: 403, Message: "permission denied"})
		},
	}
	prior := []model.ChatMessage{
		{Role: model.ChatRoleUser, Text: "before"},
		{Role: model.ChatRoleModel, Text: "reply"},
	}
	bot := chat.New(newTransport(gemini), chat.WithHistory(prior...))

	_, err := bot.Send(context.Background(), "Hi", nil)
	gt.Error(t, err)

	var e *llm.Error
	gt.True(t, errors.As(err, &e))
	gt.Equal(t, e.Kind, llm.KindInvalidCredential)
	gt.Equal(t, bot.History(), prior)
}

func TestBotCondensesOnTokenLimit(t *testing.T) {
	calls := 0
	gemini := &mock.Gemini{
		StreamFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			calls++
			if calls == 1 {
				return mock.ErrorStream(tokenLimit)
			}
			return mock.Stream("fits now")
		},
		GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return mock.Response("they talked about tags"), nil
		},
	}
	bot := chat.New(newTransport(gemini), chat.WithHistory(
		model.ChatMessage{Role: model.ChatRoleUser, Text: "aaaaaaaaaa"},
		model.ChatMessage{Role: model.ChatRoleModel, Text: "bbbbbbbbbb"},
		model.ChatMessage{Role: model.ChatRoleUser, Text: "cccccccccc"},
		model.ChatMessage{Role: model.ChatRoleModel, Text: "dddddddddd"},
	))

	reply, err := bot.Send(context.Background(), "next", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply, "fits now")
	gt.Equal(t, gemini.GenerateCalls(), 1)
	gt.Equal(t, gemini.StreamCalls(), 2)

	history := bot.History()
	gt.A(t, history).Length(4)
	gt.S(t, history[0].Text).Contains("they talked about tags")
	gt.Equal(t, history[1].Text, "dddddddddd")
	gt.Equal(t, history[3].Text, "fits now")
}
