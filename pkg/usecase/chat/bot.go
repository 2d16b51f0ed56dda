// Package chat provides the general purpose assistant. The conversation is
// kept in memory and sent in full on every turn.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
)

var ErrEmptyMessage = goerr.New("chat message is empty")

// Bot holds one conversation. Turns are appended only when the reply
// completes, so a failed send leaves the history unchanged.
type Bot struct {
	transport *llm.Transport
	activity  *logging.Recorder

	mu       sync.Mutex
	messages []model.ChatMessage
}

type Option func(*Bot)

// WithHistory seeds the conversation
func WithHistory(messages ...model.ChatMessage) Option {
	return func(b *Bot) {
		b.messages = append(b.messages, messages...)
	}
}

func WithRecorder(r *logging.Recorder) Option {
	return func(b *Bot) {
		b.activity = r
	}
}

func New(transport *llm.Transport, opts ...Option) *Bot {
	b := &Bot{transport: transport}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send streams the reply to message. When the conversation no longer fits
// the model input, older turns are condensed once and the send is retried.
func (x *Bot) Send(ctx context.Context, message string, obs *llm.StreamObserver) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", llm.NewInputError("Chat message cannot be empty.", ErrEmptyMessage)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	reply, err := x.send(ctx, message, obs)
	if err != nil && isTokenLimitError(err) {
		logging.From(ctx).Warn("chat history exceeds input limit, condensing", "turns", len(x.messages))

		condensed, cerr := compressHistory(ctx, x.transport, x.messages)
		if cerr != nil {
			logging.From(ctx).Error("failed to condense chat history", "error", cerr)
			return "", x.fail(ctx, err)
		}
		x.messages = condensed
		x.activity.Warn("Older chat turns were condensed to fit the model input")
		reply, err = x.send(ctx, message, obs)
	}
	if err != nil {
		return "", x.fail(ctx, err)
	}

	x.messages = append(x.messages,
		model.ChatMessage{Role: model.ChatRoleUser, Text: message},
		model.ChatMessage{Role: model.ChatRoleModel, Text: reply},
	)
	return reply, nil
}

func (x *Bot) send(ctx context.Context, message string, obs *llm.StreamObserver) (string, error) {
	session := x.transport.OpenSession(llm.FlowChat, x.messages...)
	return x.transport.ContinueSessionStream(ctx, session, message, obs)
}

func (x *Bot) fail(ctx context.Context, err error) error {
	normalized := llm.Normalize(err)
	logging.From(ctx).Error("chat failed", "kind", normalized.Kind.String(), "error", err)
	x.activity.Error("Chat failed: %s", normalized.Message)
	return normalized
}

// History returns a copy of the conversation
func (x *Bot) History() []model.ChatMessage {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]model.ChatMessage, len(x.messages))
	copy(out, x.messages)
	return out
}

// Reset forgets the conversation
func (x *Bot) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.messages = nil
}
