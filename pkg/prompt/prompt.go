// Package prompt builds the instruction texts sent to the model. Every
// builder is pure: the same inputs always produce the same text.
package prompt

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
)

//go:embed templates/*.md
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.md"))

const notAvailable = "N/A"

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute prompt template", goerr.V("template", name))
	}
	return buf.String(), nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

// bulletList renders values as a nested Markdown list under the value list
// parameter. An empty list renders as N/A.
func bulletList(values []string) string {
	if len(values) == 0 {
		return "  - " + notAvailable
	}
	lines := make([]string, len(values))
	for i, v := range values {
		lines[i] = "  - " + v
	}
	return strings.Join(lines, "\n")
}

// Attribute builds the attribute tagging instruction request. existing and
// notes are optional; when empty they render as N/A. existing is embedded
// verbatim.
func Attribute(inputs model.RuleInputs, existing, notes string) (string, error) {
	return render("attribute.md", map[string]string{
		"Category":             inputs.Category,
		"Attribute":            inputs.AttributeName,
		"ValueList":            bulletList(inputs.ValueList()),
		"ExistingInstructions": orNA(existing),
		"UserNotes":            orNA(notes),
	})
}

// Refine builds the structured refinement request for an existing rule
func Refine(inputs model.RefineRuleInputs) (string, error) {
	return render("refine.md", map[string]string{
		"ExistingRule": inputs.ExistingRule,
		"Feedback":     inputs.Feedback,
	})
}

// Category builds the category rule request
func Category(inputs model.CategoryInputs) (string, error) {
	return render("category.md", map[string]string{
		"Name":        inputs.CategoryName,
		"Description": inputs.CategoryDescription,
	})
}

// ImageOnly builds the instruction for rules derived from OCR of images
func ImageOnly() (string, error) {
	return render("ocr.md", nil)
}

// TextAndImage builds the attribute request followed by the visual
// analysis instruction
func TextAndImage(inputs model.RuleInputs) (string, error) {
	base, err := Attribute(inputs, "", "")
	if err != nil {
		return "", err
	}
	visual, err := render("visual.md", nil)
	if err != nil {
		return "", err
	}
	return base + visual, nil
}

// Compact builds the summarization request for a rule
func Compact(rule string) (string, error) {
	return render("compact.md", map[string]string{"Rule": rule})
}

// Export builds the Markdown to JSON conversion request
func Export(rule string) (string, error) {
	return render("export.md", map[string]string{"Rule": rule})
}

// Verify builds the rule verification request. samples are written one per
// line.
func Verify(rule string, samples []string) (string, error) {
	return render("verify.md", map[string]string{
		"Rule":    rule,
		"Samples": strings.Join(samples, "\n"),
	})
}

// ChatSystemInstruction returns the system instruction of the general
// assistant
func ChatSystemInstruction() string {
	text, err := render("chat.md", nil)
	if err != nil {
		// static template without fields
		panic(err)
	}
	return strings.TrimSpace(text)
}

// Condense builds the request that replaces older chat turns with a summary
func Condense(messages []model.ChatMessage) (string, error) {
	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = string(msg.Role) + ": " + msg.Text
	}
	return render("condense.md", map[string]string{
		"Transcript": strings.Join(lines, "\n\n"),
	})
}
