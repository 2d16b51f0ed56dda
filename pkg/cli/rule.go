package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/history"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/usecase/rule"
	"github.com/urfave/cli/v3"
)

// ruleRef points at a rule either in history or in a file
type ruleRef struct {
	entry string
	file  string
}

func (x *ruleRef) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "entry",
			Aliases:     []string{"e"},
			Usage:       "History index or entry ID",
			Destination: &x.entry,
		},
		&cli.StringFlag{
			Name:        "rule-file",
			Aliases:     []string{"f"},
			Usage:       "Rule file, used when no entry is given",
			Destination: &x.file,
		},
	}
}

func (x *ruleRef) text() (string, error) {
	if x.file == "" {
		return "", goerr.New("either --entry or --rule-file is required")
	}
	return readInput(x.file)
}

// resolveEntry finds an entry by history index or by ID
func resolveEntry(store *history.Store, ref string) (*model.Entry, error) {
	if index, err := strconv.Atoi(ref); err == nil {
		entry, ok := store.At(index)
		if !ok {
			return nil, goerr.Wrap(history.ErrIndexOutOfRange, "no entry at index",
				goerr.V("index", index),
				goerr.V("length", store.Len()))
		}
		return entry, nil
	}

	entry, ok := store.Get(model.EntryID(ref))
	if !ok {
		return nil, goerr.Wrap(rule.ErrEntryNotFound, "unknown entry", goerr.V("id", ref))
	}
	return entry, nil
}

// readInput reads a file, or stdin when path is "-"
func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read stdin")
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read file", goerr.V("path", path))
	}
	return string(data), nil
}

func testCommand() *cli.Command {
	var (
		cfg     config
		ref     ruleRef
		samples string
	)

	flags := append(ref.flags(), &cli.StringFlag{
		Name:        "samples",
		Aliases:     []string{"s"},
		Usage:       "File with one sample per line, - for stdin",
		Value:       "-",
		Destination: &samples,
	})
	flags = append(flags, commandFlags(&cfg, true)...)

	return &cli.Command{
		Name:  "test",
		Usage: "Check sample data against a rule",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			uc, closeSlot, err := cfg.newRuleUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeSlot()

			text, err := ruleText(uc, &ref)
			if err != nil {
				return err
			}
			raw, err := readInput(samples)
			if err != nil {
				return err
			}

			results, err := wait("Testing rule...", func() ([]model.TestResult, error) {
				return uc.Test(ctx, text, rule.SplitSamples(raw))
			})
			if err != nil {
				return err
			}

			w := c.Root().Writer
			passed := 0
			for _, r := range results {
				if r.Result == model.VerdictPass {
					passed++
				}
				fmt.Fprintf(w, "[%s] %s\n       %s\n", strings.ToUpper(string(r.Result)), r.Sample, r.Reason)
			}
			fmt.Fprintf(w, "\n%d passed, %d failed\n", passed, len(results)-passed)
			return nil
		},
	}
}

func ruleText(uc *rule.UseCase, ref *ruleRef) (string, error) {
	if ref.entry == "" {
		return ref.text()
	}
	entry, err := resolveEntry(uc.History(), ref.entry)
	if err != nil {
		return "", err
	}
	return entry.Rule, nil
}

func summarizeCommand() *cli.Command {
	var (
		cfg config
		ref ruleRef
	)
	flags := append(ref.flags(), commandFlags(&cfg, true)...)

	return &cli.Command{
		Name:  "summarize",
		Usage: "Write a compact summary of a rule",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			uc, closeSlot, err := cfg.newRuleUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeSlot()

			summary, err := wait("Summarizing...", func() (string, error) {
				if ref.entry == "" {
					text, err := ref.text()
					if err != nil {
						return "", err
					}
					return uc.SummarizeRule(ctx, text)
				}
				entry, err := resolveEntry(uc.History(), ref.entry)
				if err != nil {
					return "", err
				}
				return uc.Summarize(ctx, entry.ID)
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(c.Root().Writer, summary)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	var (
		cfg    config
		ref    ruleRef
		output string
	)
	flags := append(ref.flags(), &cli.StringFlag{
		Name:        "output",
		Aliases:     []string{"o"},
		Usage:       "Output JSON file, stdout when omitted",
		Destination: &output,
	})
	flags = append(flags, commandFlags(&cfg, true)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Convert a rule into JSON",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			uc, closeSlot, err := cfg.newRuleUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeSlot()

			text, err := ruleText(uc, &ref)
			if err != nil {
				return err
			}
			doc, err := wait("Exporting...", func() (string, error) {
				return uc.ExportRule(ctx, text)
			})
			if err != nil {
				return err
			}

			return writeOutput(c.Root().Writer, output, doc)
		},
	}
}

func writeOutput(w io.Writer, path, doc string) error {
	if path == "" {
		fmt.Fprintln(w, doc)
		return nil
	}
	if err := os.WriteFile(path, []byte(doc+"\n"), 0644); err != nil {
		return goerr.Wrap(err, "failed to write output", goerr.V("path", path))
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", path)
	return nil
}
