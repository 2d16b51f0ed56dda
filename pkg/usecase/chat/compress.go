package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/prompt"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"google.golang.org/genai"
)

const (
	compressionRatio = 0.7 // condense the oldest 70% by byte size
	summaryHeader    = "=== Previous Conversation Summary ===\n\n"
)

// isTokenLimitError reports whether err is the Gemini input token limit
// error, e.g. "The input token count (2500030) exceeds the maximum number
// of tokens allowed (1048576)."
func isTokenLimitError(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

// compressHistory replaces the oldest messages with a single summary turn
func compressHistory(ctx context.Context, transport *llm.Transport, messages []model.ChatMessage) ([]model.ChatMessage, error) {
	if len(messages) == 0 {
		return nil, goerr.New("history is empty")
	}

	total := 0
	for _, msg := range messages {
		total += len(msg.Text)
	}
	threshold := int(float64(total) * compressionRatio)

	index := 0
	cumulative := 0
	for i, msg := range messages {
		cumulative += len(msg.Text)
		if cumulative >= threshold {
			index = i + 1
			break
		}
	}
	if index == 0 || index >= len(messages) {
		return nil, goerr.New("insufficient content to compress", goerr.V("messages", len(messages)))
	}

	request, err := prompt.Condense(messages[:index])
	if err != nil {
		return nil, err
	}
	summary, err := transport.RequestOnce(ctx, request, llm.FlowCondense)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize chat history")
	}

	condensed := []model.ChatMessage{{Role: model.ChatRoleUser, Text: summaryHeader + summary}}
	return append(condensed, messages[index:]...), nil
}

// IsTokenLimitErrorForTest exposes isTokenLimitError
func IsTokenLimitErrorForTest(err error) bool {
	return isTokenLimitError(err)
}

// CompressHistoryForTest exposes compressHistory
func CompressHistoryForTest(ctx context.Context, transport *llm.Transport, messages []model.ChatMessage) ([]model.ChatMessage, error) {
	return compressHistory(ctx, transport, messages)
}
