package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-mizutani/rulesmith/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk with the general purpose assistant",
		Flags: commandFlags(&cfg, false),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			transport, err := cfg.newTransport(ctx)
			if err != nil {
				return err
			}
			bot := chat.New(transport)

			rl, err := newReadline("you> ", "chat_history")
			if err != nil {
				return err
			}
			defer rl.Close()

			w := rl.Stdout()
			fmt.Fprintln(w, "Chat started. Type /reset to start over, /exit to quit.")

			for {
				message, err := readLine(rl)
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					return err
				}

				switch message {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/reset":
					bot.Reset()
					fmt.Fprintln(w, "Conversation cleared")
					continue
				}

				printer := newStreamPrinter(w, "Thinking...")
				_, err = bot.Send(ctx, message, printer.observer())
				printer.done()
				if err != nil {
					fmt.Fprintf(w, "Error: %s\n", userMessage(err))
				}
			}
		},
	}
}
