package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type ruleArgs struct {
	mode        string
	category    string
	attribute   string
	values      string
	images      []string
	name        string
	description string
	ruleFile    string
	feedback    string
}

func generateCommand() *cli.Command {
	var (
		cfg  config
		args ruleArgs
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Aliases:     []string{"m"},
			Usage:       "Generation mode (text, image, text-and-image, category, refine)",
			Value:       string(model.RequestKindText),
			Destination: &args.mode,
		},
		&cli.StringFlag{
			Name:        "category",
			Aliases:     []string{"c"},
			Usage:       "Product category",
			Destination: &args.category,
		},
		&cli.StringFlag{
			Name:        "attribute",
			Aliases:     []string{"a"},
			Usage:       "Attribute name",
			Destination: &args.attribute,
		},
		&cli.StringFlag{
			Name:        "values",
			Aliases:     []string{"v"},
			Usage:       "Comma separated attribute values",
			Destination: &args.values,
		},
		&cli.StringSliceFlag{
			Name:        "image",
			Aliases:     []string{"i"},
			Usage:       "Image file (repeatable)",
			Destination: &args.images,
		},
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Category name for category mode",
			Destination: &args.name,
		},
		&cli.StringFlag{
			Name:        "description",
			Usage:       "Category description for category mode",
			Destination: &args.description,
		},
		&cli.StringFlag{
			Name:        "rule-file",
			Aliases:     []string{"f"},
			Usage:       "Existing rule file for refine mode",
			Destination: &args.ruleFile,
		},
		&cli.StringFlag{
			Name:        "feedback",
			Usage:       "Refinement feedback for refine mode",
			Destination: &args.feedback,
		},
	}
	flags = append(flags, commandFlags(&cfg, true)...)

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate a tagging rule and keep it in history",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			req, err := args.request(ctx)
			if err != nil {
				return err
			}

			uc, closeSlot, err := cfg.newRuleUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeSlot()

			printer := newStreamPrinter(c.Root().Writer, "Generating rule...")
			entry, err := uc.Generate(ctx, req, printer.observer())
			printer.done()
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "\nSaved as %s (%s / %s)\n", entry.ID, entry.Inputs.Category, entry.Inputs.AttributeName)
			return nil
		},
	}
}

// request builds the generation request for the selected mode
func (x *ruleArgs) request(ctx context.Context) (model.Request, error) {
	inputs := model.RuleInputs{
		Category:      x.category,
		AttributeName: x.attribute,
		Values:        x.values,
	}

	switch model.RequestKind(x.mode) {
	case model.RequestKindText:
		return model.TextRequest{Inputs: inputs}, nil

	case model.RequestKindImage:
		images, err := loadImages(ctx, x.images)
		if err != nil {
			return nil, err
		}
		return model.ImageRequest{Images: images}, nil

	case model.RequestKindTextAndImage:
		images, err := loadImages(ctx, x.images)
		if err != nil {
			return nil, err
		}
		return model.TextAndImageRequest{Inputs: inputs, Images: images}, nil

	case model.RequestKindCategory:
		return model.CategoryRequest{Inputs: model.CategoryInputs{
			CategoryName:        x.name,
			CategoryDescription: x.description,
		}}, nil

	case model.RequestKindRefine:
		var existing string
		if x.ruleFile != "" {
			data, err := os.ReadFile(x.ruleFile)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read rule file", goerr.V("path", x.ruleFile))
			}
			existing = string(data)
		}
		return model.RefineRequest{Inputs: model.RefineRuleInputs{
			ExistingRule: existing,
			Feedback:     x.feedback,
		}}, nil

	default:
		return nil, goerr.New("unsupported mode", goerr.V("mode", x.mode))
	}
}

// loadImages reads image files into a bounded attachment set. Rejected files
// are reported; once the total limit is hit the rest of the batch is dropped.
func loadImages(ctx context.Context, paths []string) ([]model.Image, error) {
	var attachments model.Attachments
	images, rejected, err := readImages(paths)
	if err != nil {
		return nil, err
	}
	rejected = append(rejected, attachments.AddAll(images)...)
	for _, err := range rejected {
		logging.From(ctx).Warn("image skipped", "name", goerr.Values(err)["name"], "error", err)
	}
	return attachments.Images(), nil
}

// readImages loads files in order. Files that are too large or not images
// are returned as rejections, other read failures abort.
func readImages(paths []string) ([]model.Image, []error, error) {
	var images []model.Image
	var rejected []error
	for _, path := range paths {
		img, err := model.LoadImage(path)
		switch {
		case errors.Is(err, model.ErrImageTooLarge), errors.Is(err, model.ErrUnsupportedImage):
			rejected = append(rejected, err)
		case err != nil:
			return nil, nil, err
		default:
			images = append(images, img)
		}
	}
	return images, rejected, nil
}
