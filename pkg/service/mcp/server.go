// Package mcp exposes the rule operations as Model Context Protocol tools
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
	"github.com/m-mizutani/rulesmith/pkg/usecase/rule"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverName = "rulesmith"

var ErrRuleOrID = goerr.New("either id or rule is required")

type Server struct {
	rules  *rule.UseCase
	server *mcp.Server
}

// NewServer registers every rule tool on a new MCP server
func NewServer(rules *rule.UseCase, version string) *Server {
	s := &Server{
		rules: rules,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "generate_attribute_rule",
		Description: "Generate tagging instructions for one attribute of a product category",
	}, s.generateAttribute)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "generate_category_rule",
		Description: "Generate the classification rule of a product category",
	}, s.generateCategory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "refine_rule",
		Description: "Refine a rule generated earlier in this server session with feedback",
	}, s.refine)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "test_rule",
		Description: "Evaluate sample lines against a rule and report pass or fail for each",
	}, s.test)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "summarize_rule",
		Description: "Write a short summary of a rule given by history id or text",
	}, s.summarize)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "export_rule",
		Description: "Convert a rule given by history id or text into JSON",
	}, s.export)

	return s
}

// RunStdio serves over stdin and stdout until ctx is done or the client
// disconnects
func (x *Server) RunStdio(ctx context.Context) error {
	if err := x.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "failed to run MCP server over stdio")
	}
	return nil
}

// Handler returns the streamable HTTP handler of the server
func (x *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return x.server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult reports a failed operation to the client as a tool error.
// Only the normalized message is sent.
func errorResult(ctx context.Context, tool string, err error) (*mcp.CallToolResult, any, error) {
	normalized := llm.Normalize(err)
	logging.From(ctx).Warn("MCP tool failed", "tool", tool, "kind", normalized.Kind.String())
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: normalized.Message}},
	}, nil, nil
}

func entryResult(entry *model.Entry) *mcp.CallToolResult {
	return textResult(fmt.Sprintf("Entry ID: %s\n\n%s", entry.ID, entry.Rule))
}

type generateAttributeInput struct {
	Category  string `json:"category" jsonschema:"Product category, e.g. Footwear"`
	Attribute string `json:"attribute" jsonschema:"Attribute name, e.g. Style"`
	Values    string `json:"values" jsonschema:"Comma separated list of attribute values"`
}

func (x *Server) generateAttribute(ctx context.Context, req *mcp.CallToolRequest, in *generateAttributeInput) (*mcp.CallToolResult, any, error) {
	entry, err := x.rules.Generate(ctx, model.TextRequest{Inputs: model.RuleInputs{
		Category:      in.Category,
		AttributeName: in.Attribute,
		Values:        in.Values,
	}}, nil)
	if err != nil {
		return errorResult(ctx, "generate_attribute_rule", err)
	}
	return entryResult(entry), nil, nil
}

type generateCategoryInput struct {
	Name        string `json:"name" jsonschema:"Category name"`
	Description string `json:"description" jsonschema:"What the category covers"`
}

func (x *Server) generateCategory(ctx context.Context, req *mcp.CallToolRequest, in *generateCategoryInput) (*mcp.CallToolResult, any, error) {
	entry, err := x.rules.Generate(ctx, model.CategoryRequest{Inputs: model.CategoryInputs{
		CategoryName:        in.Name,
		CategoryDescription: in.Description,
	}}, nil)
	if err != nil {
		return errorResult(ctx, "generate_category_rule", err)
	}
	return entryResult(entry), nil, nil
}

type refineInput struct {
	ID       string `json:"id" jsonschema:"Entry ID returned by a generate tool"`
	Feedback string `json:"feedback" jsonschema:"What to change in the rule"`
}

func (x *Server) refine(ctx context.Context, req *mcp.CallToolRequest, in *refineInput) (*mcp.CallToolResult, any, error) {
	entry, err := x.rules.RefineID(ctx, model.EntryID(in.ID), in.Feedback, nil)
	if err != nil {
		return errorResult(ctx, "refine_rule", err)
	}
	return entryResult(entry), nil, nil
}

type testInput struct {
	Rule    string   `json:"rule" jsonschema:"Rule text to evaluate"`
	Samples []string `json:"samples" jsonschema:"Sample lines, one product per item"`
}

func (x *Server) test(ctx context.Context, req *mcp.CallToolRequest, in *testInput) (*mcp.CallToolResult, any, error) {
	results, err := x.rules.Test(ctx, in.Rule, in.Samples)
	if err != nil {
		return errorResult(ctx, "test_rule", err)
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s\n  %s\n", strings.ToUpper(string(r.Result)), r.Sample, r.Reason)
	}
	return textResult(strings.TrimSpace(b.String())), nil, nil
}

type ruleRefInput struct {
	ID   string `json:"id,omitempty" jsonschema:"History entry ID"`
	Rule string `json:"rule,omitempty" jsonschema:"Rule text, used when id is not given"`
}

func (x *Server) summarize(ctx context.Context, req *mcp.CallToolRequest, in *ruleRefInput) (*mcp.CallToolResult, any, error) {
	return x.byRef(ctx, "summarize_rule", in, x.rules.Summarize, x.rules.SummarizeRule)
}

func (x *Server) export(ctx context.Context, req *mcp.CallToolRequest, in *ruleRefInput) (*mcp.CallToolResult, any, error) {
	return x.byRef(ctx, "export_rule", in, x.rules.Export, x.rules.ExportRule)
}

func (x *Server) byRef(ctx context.Context, tool string, in *ruleRefInput,
	byID func(context.Context, model.EntryID) (string, error),
	byText func(context.Context, string) (string, error),
) (*mcp.CallToolResult, any, error) {
	var (
		out string
		err error
	)
	switch {
	case in.ID != "":
		out, err = byID(ctx, model.EntryID(in.ID))
	case strings.TrimSpace(in.Rule) != "":
		out, err = byText(ctx, in.Rule)
	default:
		err = llm.NewInputError("Either an entry ID or a rule is required.", ErrRuleOrID)
	}
	if err != nil {
		return errorResult(ctx, tool, err)
	}
	return textResult(out), nil, nil
}
