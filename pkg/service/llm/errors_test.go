package llm_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"google.golang.org/genai"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind llm.Kind
	}{
		{"api 503", genai.APIError{Code: 503, Message: "busy", Status: "UNAVAILABLE"}, llm.KindTransientCapacity},
		{"api 429", genai.APIError{Code: 429, Message: "Resource has been exhausted (e.g. check quota).", Status: "RESOURCE_EXHAUSTED"}, llm.KindUnknown},
		{"api 400", genai.APIError{Code: 400, Message: "too long", Status: "INVALID_ARGUMENT"}, llm.KindMalformedRequest},
		{"api bad key", genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key.", Status: "INVALID_ARGUMENT"}, llm.KindInvalidCredential},
		{"overloaded text", errors.New("The model is overloaded"), llm.KindTransientCapacity},
		{"bad key text", errors.New("API Key not valid"), llm.KindInvalidCredential},
		{"400 text", errors.New("got 400 Bad Request"), llm.KindMalformedRequest},
		{"empty", goerr.Wrap(llm.ErrEmptyResponse, "no text"), llm.KindEmptyResponse},
		{"structured", goerr.Wrap(llm.ErrInvalidStructuredOutput, "bad"), llm.KindInvalidStructuredOutput},
		{"no session", goerr.Wrap(llm.ErrNoActiveSession, "absent"), llm.KindNoActiveSession},
		{"busy", llm.ErrBusy, llm.KindBusy},
		{"input", goerr.Wrap(model.ErrMissingRuleInputs, "invalid"), llm.KindInvalidInput},
		{"unknown", errors.New("socket closed: secret-internal-detail"), llm.KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			normalized := llm.Normalize(tc.err)
			gt.Equal(t, normalized.Kind, tc.kind)
			gt.NotEqual(t, normalized.Message, "")
			gt.True(t, normalized.Unwrap() != nil)
		})
	}
}

func TestNormalizeKeepsCause(t *testing.T) {
	normalized := llm.Normalize(goerr.Wrap(llm.ErrBusy, "second call"))
	gt.True(t, errors.Is(normalized, llm.ErrBusy))

	var apiErr genai.APIError
	gt.True(t, errors.As(llm.Normalize(genai.APIError{Code: 503}), &apiErr))
	gt.Equal(t, apiErr.Code, 503)
}

func TestNormalizeHidesDetail(t *testing.T) {
	normalized := llm.Normalize(errors.New("socket closed: secret-internal-detail"))
	gt.S(t, normalized.Error()).NotContains("secret-internal-detail")
}

func TestNormalizeIsStable(t *testing.T) {
	gt.True(t, llm.Normalize(nil) == nil)

	first := llm.Normalize(errors.New("503"))
	again := llm.Normalize(goerr.Wrap(first, "outer"))
	gt.Equal(t, again.Kind, llm.KindTransientCapacity)
	gt.Equal(t, again.Message, first.Message)
}
