package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"google.golang.org/genai"
)

var (
	ErrEmptyResponse           = goerr.New("model returned an empty response")
	ErrInvalidStructuredOutput = goerr.New("model returned invalid structured output")
	ErrNoActiveSession         = goerr.New("no active conversation session")
	ErrBusy                    = goerr.New("another generation is in progress")
)

// Kind classifies a failure for the user
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientCapacity
	KindInvalidCredential
	KindMalformedRequest
	KindEmptyResponse
	KindInvalidStructuredOutput
	KindNoActiveSession
	KindBusy
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindTransientCapacity:
		return "transient_capacity"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindMalformedRequest:
		return "malformed_request"
	case KindEmptyResponse:
		return "empty_response"
	case KindInvalidStructuredOutput:
		return "invalid_structured_output"
	case KindNoActiveSession:
		return "no_active_session"
	case KindBusy:
		return "busy"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

const (
	msgTransientCapacity       = "Whoa, the AI is popular right now! The model is overloaded. Please wait a moment and try again."
	msgInvalidCredential       = "The API key is not valid. Please ensure it is configured correctly."
	msgMalformedRequest        = "The request was malformed. This can happen if the input text is too long, images are too large, or the content is not supported. Please check your inputs and try again."
	msgEmptyResponse           = "The AI returned an empty response. Please try again."
	msgInvalidStructuredOutput = "The AI returned an invalid JSON format. Please try again."
	msgNoActiveSession         = "This rule cannot be refined because it was loaded from history or its session has expired. Please generate a new rule."
	msgBusy                    = "Another generation is already running. Please wait until it finishes."
	msgCanceled                = "The request was cancelled."
	msgUnknown                 = "An unexpected error occurred with the AI service. This might be a temporary service issue. Please try again later."
)

var inputMessages = []struct {
	err error
	msg string
}{
	{model.ErrMissingRuleInputs, "Please fill in Category, Attribute Name and Attribute Values."},
	{model.ErrMissingRefineInputs, "Please provide both the existing rule and your feedback."},
	{model.ErrMissingCategoryInputs, "Please provide both a category name and a description."},
	{model.ErrNoImages, "Please attach at least one image."},
	{model.ErrImageTooLarge, "The image exceeds the 10MB limit."},
	{model.ErrAttachmentsFull, "The attachments exceed the 30MB total limit."},
	{model.ErrUnsupportedImage, "The file is not a supported image."},
}

// Error is the normalized failure surfaced to users. Message never contains
// raw transport details; the cause is kept for logging.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (x *Error) Error() string { return x.Message }
func (x *Error) Unwrap() error { return x.cause }

// NewInputError builds an InvalidInput error with a custom message
func NewInputError(msg string, cause error) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg, cause: cause}
}

// Normalize maps any error into the failure taxonomy. A nil error yields
// nil, and an already normalized error is returned as is.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var normalized *Error
	if errors.As(err, &normalized) {
		return normalized
	}

	kind, msg := classify(err)
	return &Error{Kind: kind, Message: msg, cause: err}
}

func classify(err error) (Kind, string) {
	switch {
	case errors.Is(err, ErrEmptyResponse):
		return KindEmptyResponse, msgEmptyResponse
	case errors.Is(err, ErrInvalidStructuredOutput):
		return KindInvalidStructuredOutput, msgInvalidStructuredOutput
	case errors.Is(err, ErrNoActiveSession):
		return KindNoActiveSession, msgNoActiveSession
	case errors.Is(err, ErrBusy):
		return KindBusy, msgBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindUnknown, msgCanceled
	}

	for _, m := range inputMessages {
		if errors.Is(err, m.err) {
			return KindInvalidInput, m.msg
		}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 503:
			return KindTransientCapacity, msgTransientCapacity
		case 400:
			if isCredentialError(apiErr.Message) {
				return KindInvalidCredential, msgInvalidCredential
			}
			return KindMalformedRequest, msgMalformedRequest
		case 401, 403:
			return KindInvalidCredential, msgInvalidCredential
		}
	}

	text := err.Error()
	switch {
	case IsTransient(err):
		return KindTransientCapacity, msgTransientCapacity
	case isCredentialError(text):
		return KindInvalidCredential, msgInvalidCredential
	case strings.Contains(text, "400"):
		return KindMalformedRequest, msgMalformedRequest
	}

	return KindUnknown, msgUnknown
}

func isCredentialError(text string) bool {
	return strings.Contains(strings.ToLower(text), "api key not valid")
}

var transientMarkers = []string{"overloaded", "503", "unavailable"}

// IsTransient reports whether err signals temporary capacity shortage of the
// model service
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
