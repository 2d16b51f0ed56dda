package mock

import (
	"iter"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

var errNotConfigured = goerr.New("mock function is not configured")

// Response builds a single candidate response carrying text
func Response(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

// Stream yields one response per chunk
func Stream(chunks ...string) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range chunks {
			if !yield(Response(c), nil) {
				return
			}
		}
	}
}

// FailingStream yields the chunks and then err
func FailingStream(err error, chunks ...string) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range chunks {
			if !yield(Response(c), nil) {
				return
			}
		}
		yield(nil, err)
	}
}

// ErrorStream fails before producing any chunk
func ErrorStream(err error) iter.Seq2[*genai.GenerateContentResponse, error] {
	return FailingStream(err)
}
