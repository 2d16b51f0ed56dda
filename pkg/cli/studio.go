package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/usecase/rule"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const studioHelp = `Commands:
  /generate            generate an attribute rule (asks for inputs)
  /category            generate a category rule
  /attach <path>...    attach images
  /images              list attached images
  /detach <n>          remove an attached image
  /ocr                 generate a rule from attached images
  /visual              generate an attribute rule using attached images
  /history             list history
  /select <n|id>       select an entry
  /show                print the selected rule
  /edit                replace the selected rule (end input with ".")
  /delete <n>          delete an entry
  /clear               delete all entries
  /summary             compact summary of the selected rule
  /export [path]       export the selected rule as JSON
  /test                check samples against the selected rule (end input with ".")
  /logs                recent activity
  /help                this help
  /exit                quit
Any other text refines the selected rule with it as feedback.`

type studio struct {
	uc          *rule.UseCase
	activity    *logging.Recorder
	attachments model.Attachments
	rl          *readline.Instance
	w           io.Writer
}

func studioCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "studio",
		Usage: "Interactive workspace to generate, refine and test rules",
		Flags: commandFlags(&cfg, true),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			activity := logging.NewRecorder(logging.DefaultActivitySize)
			uc, closeSlot, err := cfg.newRuleUseCase(ctx, rule.WithRecorder(activity))
			if err != nil {
				return err
			}
			defer closeSlot()

			rl, err := newReadline("rulesmith> ", "studio_history")
			if err != nil {
				return err
			}
			defer rl.Close()

			s := &studio{uc: uc, activity: activity, rl: rl, w: rl.Stdout()}
			return s.run(ctx)
		},
	}
}

func (x *studio) run(ctx context.Context) error {
	fmt.Fprintln(x.w, "rulesmith studio. Type /help for commands.")
	printEntries(x.w, x.uc.History())

	for {
		line, err := readLine(x.rl)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}

		if err := x.dispatch(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(x.w, "Error: %s\n", userMessage(err))
		}
	}
}

func (x *studio) dispatch(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return x.refine(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/exit", "/quit":
		return errQuit
	case "/help":
		fmt.Fprintln(x.w, studioHelp)
	case "/generate":
		return x.generateText(ctx, false)
	case "/visual":
		return x.generateText(ctx, true)
	case "/category":
		return x.generateCategory(ctx)
	case "/ocr":
		return x.generate(ctx, model.ImageRequest{Images: x.attachments.Images()})
	case "/attach":
		return x.attach(args)
	case "/images":
		x.listImages()
	case "/detach":
		n, err := argIndex(args)
		if err != nil {
			return err
		}
		x.attachments.Remove(n)
		x.listImages()
	case "/history":
		printEntries(x.w, x.uc.History())
	case "/select":
		if err := x.selectEntry(args); err != nil {
			return err
		}
		return x.show()
	case "/show":
		return x.show()
	case "/edit":
		return x.edit(ctx)
	case "/delete":
		n, err := argIndex(args)
		if err != nil {
			return err
		}
		return x.uc.History().Delete(ctx, n)
	case "/clear":
		x.uc.History().Clear(ctx)
		x.activity.Info("History cleared")
	case "/summary":
		return x.summary(ctx)
	case "/export":
		return x.export(ctx, args)
	case "/test":
		return x.test(ctx)
	case "/logs":
		for _, a := range x.activity.Entries() {
			fmt.Fprintln(x.w, a.String())
		}
	default:
		fmt.Fprintf(x.w, "Unknown command %s. Type /help for commands.\n", cmd)
	}
	return nil
}

// selectEntry selects by index, or by entry ID when the argument is not a
// number
func (x *studio) selectEntry(args []string) error {
	if len(args) == 0 {
		return goerr.New("index or entry ID is required")
	}
	if n, err := strconv.Atoi(args[0]); err == nil {
		return x.uc.History().Select(n)
	}
	if !x.uc.History().SelectID(model.EntryID(args[0])) {
		return llm.NewInputError("The rule was not found in history.", goerr.Wrap(rule.ErrEntryNotFound, "unknown id", goerr.V("id", args[0])))
	}
	return nil
}

func argIndex(args []string) (int, error) {
	if len(args) == 0 {
		return 0, goerr.New("index is required")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, goerr.Wrap(err, "index must be a number", goerr.V("arg", args[0]))
	}
	return n, nil
}

func (x *studio) askInputs() (model.RuleInputs, error) {
	var inputs model.RuleInputs
	var err error
	if inputs.Category, err = ask(x.rl, "Category"); err != nil {
		return inputs, err
	}
	if inputs.AttributeName, err = ask(x.rl, "Attribute"); err != nil {
		return inputs, err
	}
	if inputs.Values, err = ask(x.rl, "Values (comma separated)"); err != nil {
		return inputs, err
	}
	return inputs, nil
}

func (x *studio) generateText(ctx context.Context, withImages bool) error {
	inputs, err := x.askInputs()
	if err != nil {
		return err
	}
	if withImages {
		return x.generate(ctx, model.TextAndImageRequest{Inputs: inputs, Images: x.attachments.Images()})
	}
	return x.generate(ctx, model.TextRequest{Inputs: inputs})
}

func (x *studio) generateCategory(ctx context.Context) error {
	name, err := ask(x.rl, "Category name")
	if err != nil {
		return err
	}
	description, err := readBlock(x.rl, "Description (end with .)")
	if err != nil {
		return err
	}
	return x.generate(ctx, model.CategoryRequest{Inputs: model.CategoryInputs{
		CategoryName:        name,
		CategoryDescription: description,
	}})
}

func (x *studio) generate(ctx context.Context, req model.Request) error {
	printer := newStreamPrinter(x.w, "Generating rule...")
	entry, err := x.uc.Generate(ctx, req, printer.observer())
	printer.done()
	if err != nil {
		return err
	}
	fmt.Fprintf(x.w, "\nSaved as entry 0 (%s / %s)\n", entry.Inputs.Category, entry.Inputs.AttributeName)
	return nil
}

func (x *studio) refine(ctx context.Context, feedback string) error {
	printer := newStreamPrinter(x.w, "Refining rule...")
	_, err := x.uc.Refine(ctx, feedback, printer.observer())
	printer.done()
	return err
}

func (x *studio) attach(paths []string) error {
	images, rejected, err := readImages(paths)
	if err != nil {
		return err
	}
	before := len(x.attachments.Images())
	rejected = append(rejected, x.attachments.AddAll(images)...)
	for _, err := range rejected {
		fmt.Fprintf(x.w, "Skipped %v: %s\n", goerr.Values(err)["name"], userMessage(err))
	}
	for _, img := range x.attachments.Images()[before:] {
		x.activity.Info("Attached %s", img.Name)
	}
	x.listImages()
	return nil
}

func (x *studio) listImages() {
	images := x.attachments.Images()
	if len(images) == 0 {
		fmt.Fprintln(x.w, "No images attached")
		return
	}
	for i, img := range images {
		fmt.Fprintf(x.w, "  %d  %s (%s, %d KB)\n", i, img.Name, img.MIMEType, img.Size()/1024)
	}
	fmt.Fprintf(x.w, "Total %.1f / %d MB\n", float64(x.attachments.TotalSize())/1024/1024, model.MaxTotalImageSize/1024/1024)
}

func (x *studio) selected() (*model.Entry, int, error) {
	index, ok := x.uc.History().Selected()
	if !ok {
		return nil, 0, llm.NewInputError("Please select a rule from history first.", rule.ErrNoSelection)
	}
	entry, ok := x.uc.History().At(index)
	if !ok {
		return nil, 0, llm.NewInputError("Please select a rule from history first.", rule.ErrNoSelection)
	}
	return entry, index, nil
}

func (x *studio) show() error {
	entry, _, err := x.selected()
	if err != nil {
		return err
	}
	printEntry(x.w, entry)
	return nil
}

func (x *studio) edit(ctx context.Context) error {
	_, index, err := x.selected()
	if err != nil {
		return err
	}
	text, err := readBlock(x.rl, "rule")
	if err != nil {
		return err
	}
	return x.uc.UpdateRule(ctx, index, text)
}

func (x *studio) summary(ctx context.Context) error {
	entry, _, err := x.selected()
	if err != nil {
		return err
	}
	summary, err := wait("Summarizing...", func() (string, error) {
		return x.uc.Summarize(ctx, entry.ID)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(x.w, summary)
	return nil
}

func (x *studio) export(ctx context.Context, args []string) error {
	entry, _, err := x.selected()
	if err != nil {
		return err
	}
	doc, err := wait("Exporting...", func() (string, error) {
		return x.uc.Export(ctx, entry.ID)
	})
	if err != nil {
		return err
	}
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	return writeOutput(x.w, path, doc)
}

func (x *studio) test(ctx context.Context) error {
	entry, _, err := x.selected()
	if err != nil {
		return err
	}
	raw, err := readBlock(x.rl, "sample (end with .)")
	if err != nil {
		return err
	}

	results, err := wait("Testing rule...", func() ([]model.TestResult, error) {
		return x.uc.Test(ctx, entry.Rule, rule.SplitSamples(raw))
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(x.w, "[%s] %s\n       %s\n", strings.ToUpper(string(r.Result)), r.Sample, r.Reason)
	}
	return nil
}
