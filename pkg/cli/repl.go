package cli

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
)

// errQuit ends a REPL loop
var errQuit = errors.New("quit")

func newReadline(prompt, historyName string) (*readline.Instance, error) {
	historyFile := ""
	if dir, err := os.UserConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "rulesmith", historyName)
		_ = os.MkdirAll(filepath.Dir(historyFile), 0755)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize readline")
	}
	return rl, nil
}

// readLine returns the next trimmed line. Ctrl-C on an empty line and EOF
// both end the loop with errQuit.
func readLine(rl *readline.Instance) (string, error) {
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return "", errQuit
			}
			continue
		case errors.Is(err, io.EOF):
			return "", errQuit
		case err != nil:
			return "", goerr.Wrap(err, "failed to read line")
		}
		return strings.TrimSpace(line), nil
	}
}

// ask prompts for one value with a temporary prompt
func ask(rl *readline.Instance, label string) (string, error) {
	prev := rl.Config.Prompt
	rl.SetPrompt(label + ": ")
	defer rl.SetPrompt(prev)
	return readLine(rl)
}

// readBlock reads lines until a line with a single "." and joins them
func readBlock(rl *readline.Instance, label string) (string, error) {
	prev := rl.Config.Prompt
	rl.SetPrompt(label + "> ")
	defer rl.SetPrompt(prev)

	var lines []string
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return "", errQuit
			}
			return "", goerr.Wrap(err, "failed to read line")
		}
		if strings.TrimSpace(line) == "." {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}
