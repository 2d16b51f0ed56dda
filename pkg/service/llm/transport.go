// Package llm is the only layer that talks to the generative model. It owns
// retry, stream accumulation, structured output validation and the error
// taxonomy surfaced to users.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/adapter"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/prompt"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"google.golang.org/genai"
)

const jsonMIMEType = "application/json"

type Transport struct {
	gemini   adapter.Gemini
	retry    RetryPolicy
	profiles Profiles
}

type Option func(*Transport)

func WithRetry(policy RetryPolicy) Option {
	return func(t *Transport) {
		t.retry = policy
	}
}

// WithProfiles overrides the built-in generation profiles per flow
func WithProfiles(overrides Profiles) Option {
	return func(t *Transport) {
		t.profiles = t.profiles.Override(overrides)
	}
}

func New(gemini adapter.Gemini, opts ...Option) *Transport {
	t := &Transport{
		gemini:   gemini,
		profiles: DefaultProfiles(prompt.ChatSystemInstruction()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Profile returns the generation profile used for flow
func (x *Transport) Profile(flow Flow) Profile {
	return x.profiles.Get(flow)
}

func userContent(text string, images []model.Image) *genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(text)}
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

func (x *Transport) generate(ctx context.Context, text string, config *genai.GenerateContentConfig) (string, error) {
	contents := []*genai.Content{userContent(text, nil)}

	return Retry(ctx, x.retry, func(ctx context.Context) (string, error) {
		resp, err := x.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			return "", goerr.Wrap(err, "failed to generate content")
		}
		out := strings.TrimSpace(responseText(resp))
		if out == "" {
			return "", goerr.Wrap(ErrEmptyResponse, "no text in response")
		}
		return out, nil
	})
}

// RequestOnce sends a single request and returns the trimmed text
func (x *Transport) RequestOnce(ctx context.Context, text string, flow Flow) (string, error) {
	return x.generate(ctx, text, x.Profile(flow).Config())
}

// RequestStructured constrains the response to schema, validates it and
// decodes it into out. The raw JSON text is returned as well.
func (x *Transport) RequestStructured(ctx context.Context, text string, schema *Schema, flow Flow, out any) (string, error) {
	config := x.Profile(flow).Config()
	config.ResponseMIMEType = jsonMIMEType
	config.ResponseSchema = schema.genai

	raw, err := x.generate(ctx, text, config)
	if err != nil {
		return "", err
	}
	if err := schema.Decode(raw, out); err != nil {
		logging.From(ctx).Warn("structured output rejected", "flow", flow, "error", err)
		return "", err
	}
	return raw, nil
}

// RequestJSON asks for a JSON response without a fixed schema and returns
// it indented
func (x *Transport) RequestJSON(ctx context.Context, text string, flow Flow) (string, error) {
	config := x.Profile(flow).Config()
	config.ResponseMIMEType = jsonMIMEType

	raw, err := x.generate(ctx, text, config)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return "", goerr.Wrap(ErrInvalidStructuredOutput, "response is not JSON",
			goerr.V("parse_error", err.Error()))
	}
	return buf.String(), nil
}

// RequestStream opens a streaming call with optional images and returns the
// cleaned full text
func (x *Transport) RequestStream(ctx context.Context, text string, images []model.Image, flow Flow, obs *StreamObserver) (string, error) {
	contents := []*genai.Content{userContent(text, images)}
	return x.stream(ctx, contents, x.Profile(flow).Config(), obs)
}

// OpenSession creates a conversation handle seeded with prior turns
func (x *Transport) OpenSession(flow Flow, prior ...model.ChatMessage) *model.Session {
	return model.NewSession(x.Profile(flow).Config(), prior...)
}

// ContinueSessionStream sends a new turn on session. The exchange is
// recorded in the session only when the stream completes.
func (x *Transport) ContinueSessionStream(ctx context.Context, session *model.Session, text string, obs *StreamObserver) (string, error) {
	if session == nil {
		return "", goerr.Wrap(ErrNoActiveSession, "session handle is absent")
	}

	user := genai.NewContentFromText(text, genai.RoleUser)
	reply, err := x.stream(ctx, session.Contents(user), session.Config(), obs)
	if err != nil {
		return "", err
	}

	session.Record(user, genai.NewContentFromText(reply, genai.RoleModel))
	return reply, nil
}

// stream runs one whole stream per attempt. Output of a failed attempt is
// discarded through the observer before the next one starts.
func (x *Transport) stream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, obs *StreamObserver) (string, error) {
	attempt := 0
	return Retry(ctx, x.retry, func(ctx context.Context) (string, error) {
		if attempt > 0 {
			obs.reset()
		}
		attempt++

		text, err := ConsumeStream(x.gemini.GenerateContentStream(ctx, contents, config), obs.chunk)
		if err != nil {
			return "", goerr.Wrap(err, "failed to stream content", goerr.V("attempt", attempt))
		}
		if text == "" {
			return "", goerr.Wrap(ErrEmptyResponse, "stream produced no text")
		}
		return text, nil
	})
}
