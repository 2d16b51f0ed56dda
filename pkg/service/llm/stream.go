package llm

import (
	"iter"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// StreamObserver receives the output of a streaming call
type StreamObserver struct {
	// OnChunk is called synchronously for every non-empty chunk
	OnChunk func(chunk string)
	// OnReset is called before a retried attempt; partial output delivered
	// by the failed attempt must be discarded
	OnReset func()
}

func (x *StreamObserver) chunk(s string) {
	if x != nil && x.OnChunk != nil {
		x.OnChunk(s)
	}
}

func (x *StreamObserver) reset() {
	if x != nil && x.OnReset != nil {
		x.OnReset()
	}
}

// ConsumeStream accumulates the text of every response in seq, calling
// onChunk for each non-empty piece, and returns the cleaned full text. An
// error yielded by seq aborts consumption.
func ConsumeStream(seq iter.Seq2[*genai.GenerateContentResponse, error], onChunk func(string)) (string, error) {
	var buf strings.Builder
	for resp, err := range seq {
		if err != nil {
			return "", goerr.Wrap(err, "failed to receive stream chunk", goerr.V("received", buf.Len()))
		}
		text := responseText(resp)
		if text == "" {
			continue
		}
		buf.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
	}
	return CleanText(buf.String()), nil
}

// CleanText removes Markdown code fence markers and surrounding whitespace.
// Applying it twice yields the same result.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "```markdown", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// responseText joins the text parts of the first candidate, skipping
// thought summaries
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
