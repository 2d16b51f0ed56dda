// Package mock provides a stub of adapter.Gemini for tests
package mock

import (
	"context"
	"iter"
	"sync"

	"github.com/m-mizutani/rulesmith/pkg/adapter"
	"google.golang.org/genai"
)

var _ adapter.Gemini = (*Gemini)(nil)

// Gemini dispatches calls to the func fields and counts them. A nil func
// fails the call.
type Gemini struct {
	GenerateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	StreamFunc   func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

	mu            sync.Mutex
	generateCalls int
	streamCalls   int
	lastContents  []*genai.Content
	lastConfig    *genai.GenerateContentConfig
}

func (m *Gemini) record(contents []*genai.Content, config *genai.GenerateContentConfig, stream bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stream {
		m.streamCalls++
	} else {
		m.generateCalls++
	}
	m.lastContents = contents
	m.lastConfig = config
}

func (m *Gemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.record(contents, config, false)
	if m.GenerateFunc == nil {
		return nil, errNotConfigured
	}
	return m.GenerateFunc(ctx, contents, config)
}

func (m *Gemini) GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	m.record(contents, config, true)
	if m.StreamFunc == nil {
		return ErrorStream(errNotConfigured)
	}
	return m.StreamFunc(ctx, contents, config)
}

// GenerateCalls returns the number of GenerateContent calls
func (m *Gemini) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// StreamCalls returns the number of GenerateContentStream calls
func (m *Gemini) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// LastContents returns the contents of the latest call
func (m *Gemini) LastContents() []*genai.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastContents
}

// LastConfig returns the config of the latest call
func (m *Gemini) LastConfig() *genai.GenerateContentConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConfig
}
