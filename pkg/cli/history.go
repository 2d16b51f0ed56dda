package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/history"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var cfg config
	flags := append(globalFlags(&cfg), historyFlags(&cfg)...)

	// every subcommand opens the store the same way
	withStore := func(fn func(ctx context.Context, c *cli.Command, store *history.Store) error) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			store, closeSlot, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeSlot()
			return fn(ctx, c, store)
		}
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Manage generated rules",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List history entries, newest first",
				Action: withStore(func(ctx context.Context, c *cli.Command, store *history.Store) error {
					printEntries(c.Root().Writer, store)
					return nil
				}),
			},
			{
				Name:      "show",
				Usage:     "Print the rule of an entry",
				ArgsUsage: "<index|id>",
				Action: withStore(func(ctx context.Context, c *cli.Command, store *history.Store) error {
					entry, err := resolveEntry(store, c.Args().First())
					if err != nil {
						return err
					}
					printEntry(c.Root().Writer, entry)
					return nil
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete an entry",
				ArgsUsage: "<index>",
				Action: withStore(func(ctx context.Context, c *cli.Command, store *history.Store) error {
					index, err := strconv.Atoi(c.Args().First())
					if err != nil {
						return goerr.Wrap(err, "index must be a number", goerr.V("arg", c.Args().First()))
					}
					if err := store.Delete(ctx, index); err != nil {
						return err
					}
					fmt.Fprintf(c.Root().Writer, "Deleted entry %d\n", index)
					return nil
				}),
			},
			{
				Name:  "clear",
				Usage: "Delete all entries",
				Action: withStore(func(ctx context.Context, c *cli.Command, store *history.Store) error {
					store.Clear(ctx)
					fmt.Fprintln(c.Root().Writer, "History cleared")
					return nil
				}),
			},
		},
	}
}

func printEntries(w io.Writer, store *history.Store) {
	entries := store.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history")
		return
	}

	selected, hasSelection := store.Selected()
	for i, e := range entries {
		mark := " "
		if hasSelection && i == selected {
			mark = "*"
		}
		refinable := ""
		if e.Refinable() {
			refinable = " [refinable]"
		}
		fmt.Fprintf(w, "%s %2d  %s  %s / %s  %s%s\n", mark, i,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Inputs.Category, e.Inputs.AttributeName, e.ID, refinable)
	}
}

func printEntry(w io.Writer, e *model.Entry) {
	fmt.Fprintf(w, "ID:        %s\n", e.ID)
	fmt.Fprintf(w, "Category:  %s\n", e.Inputs.Category)
	fmt.Fprintf(w, "Attribute: %s\n", e.Inputs.AttributeName)
	fmt.Fprintf(w, "Values:    %s\n", e.Inputs.Values)
	fmt.Fprintf(w, "Created:   %s\n\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, e.Rule)
}
