package cli

import (
	"context"
	"errors"

	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Version is set at build time
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "rulesmith",
		Usage:   "Generate and refine product tagging rules with Gemini",
		Version: Version,
		Commands: []*cli.Command{
			generateCommand(),
			testCommand(),
			summarizeCommand(),
			exportCommand(),
			historyCommand(),
			chatCommand(),
			studioCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		var normalized *llm.Error
		if !errors.As(err, &normalized) {
			logging.Default().Error("command failed", "error", err)
		}
		return &Error{
			Code:    1,
			Message: userMessage(err),
		}
	}

	return nil
}

// userMessage returns the fixed message of a classified failure, or the
// error text for local failures such as bad arguments
func userMessage(err error) string {
	normalized := llm.Normalize(err)
	if normalized.Kind != llm.KindUnknown {
		return normalized.Message
	}
	var e *llm.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
