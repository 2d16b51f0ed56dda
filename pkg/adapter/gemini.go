package adapter

import (
	"context"
	"iter"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const DefaultGenerativeModel = "gemini-2.5-flash"

// Gemini is the subset of the generative model API used by rulesmith
type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
}

type geminiConfig struct {
	apiKey   string
	project  string
	location string
	model    string
}

type GeminiOption func(*geminiConfig)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *geminiConfig) {
		g.model = model
	}
}

// WithAPIKey selects the Gemini Developer API backend
func WithAPIKey(apiKey string) GeminiOption {
	return func(g *geminiConfig) {
		g.apiKey = apiKey
	}
}

// WithVertexAI selects the Vertex AI backend
func WithVertexAI(projectID, location string) GeminiOption {
	return func(g *geminiConfig) {
		g.project = projectID
		g.location = location
	}
}

// NewGemini creates a client. An API key takes precedence over Vertex AI
// settings; one of them is required.
func NewGemini(ctx context.Context, opts ...GeminiOption) (*GeminiClient, error) {
	cfg := &geminiConfig{model: DefaultGenerativeModel}
	for _, opt := range opts {
		opt(cfg)
	}

	var cc *genai.ClientConfig
	switch {
	case cfg.apiKey != "":
		cc = &genai.ClientConfig{
			APIKey:  cfg.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	case cfg.project != "":
		cc = &genai.ClientConfig{
			Project:  cfg.project,
			Location: cfg.location,
			Backend:  genai.BackendVertexAI,
		}
	default:
		return nil, goerr.New("either API key or Vertex AI project is required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &GeminiClient{
		client:          client,
		generativeModel: cfg.model,
	}, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}
	return resp, nil
}

// GenerateContentStream returns the stream as is. Errors are yielded by the
// sequence and wrapped by the consumer.
func (g *GeminiClient) GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return g.client.Models.GenerateContentStream(ctx, g.generativeModel, contents, config)
}
