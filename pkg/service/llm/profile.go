package llm

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
	"gopkg.in/yaml.v3"
)

// Flow names a kind of model call that has its own generation profile
type Flow string

const (
	FlowAttribute Flow = "attribute"
	FlowRefine    Flow = "refine"
	FlowCategory  Flow = "category"
	FlowSummary   Flow = "summary"
	FlowExport    Flow = "export"
	FlowVerify    Flow = "verify"
	FlowChat      Flow = "chat"
	FlowCondense  Flow = "condense"
)

// Profile holds the generation parameters of a flow. Nil sampling fields
// leave the model defaults.
type Profile struct {
	MaxOutputTokens   int32    `yaml:"max_output_tokens"`
	ThinkingBudget    *int32   `yaml:"thinking_budget"`
	Temperature       *float32 `yaml:"temperature"`
	TopP              *float32 `yaml:"top_p"`
	TopK              *float32 `yaml:"top_k"`
	SystemInstruction string   `yaml:"system_instruction"`
}

// Config builds the generation config of the profile
func (x Profile) Config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: x.MaxOutputTokens,
		Temperature:     x.Temperature,
		TopP:            x.TopP,
		TopK:            x.TopK,
	}
	if x.ThinkingBudget != nil {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: x.ThinkingBudget}
	}
	if x.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(x.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

// merge overwrites fields that are set in o
func (x Profile) merge(o Profile) Profile {
	if o.MaxOutputTokens > 0 {
		x.MaxOutputTokens = o.MaxOutputTokens
	}
	if o.ThinkingBudget != nil {
		x.ThinkingBudget = o.ThinkingBudget
	}
	if o.Temperature != nil {
		x.Temperature = o.Temperature
	}
	if o.TopP != nil {
		x.TopP = o.TopP
	}
	if o.TopK != nil {
		x.TopK = o.TopK
	}
	if o.SystemInstruction != "" {
		x.SystemInstruction = o.SystemInstruction
	}
	return x
}

func profile(maxTokens, thinking int32) Profile {
	return Profile{MaxOutputTokens: maxTokens, ThinkingBudget: genai.Ptr(thinking)}
}

// Profiles maps flows to their generation profile
type Profiles map[Flow]Profile

// DefaultProfiles returns the built-in profiles. chatInstruction becomes the
// system instruction of the chat flow.
func DefaultProfiles(chatInstruction string) Profiles {
	chat := profile(1000, 256)
	chat.Temperature = genai.Ptr[float32](0.7)
	chat.TopP = genai.Ptr[float32](0.95)
	chat.TopK = genai.Ptr[float32](64)
	chat.SystemInstruction = chatInstruction

	return Profiles{
		FlowAttribute: profile(3000, 1024),
		FlowRefine:    profile(3000, 1024),
		FlowCategory:  profile(500, 128),
		FlowSummary:   profile(200, 50),
		FlowExport:    profile(4000, 1024),
		FlowVerify:    profile(2000, 512),
		FlowChat:      chat,
		FlowCondense:  profile(2000, 0),
	}
}

// Get returns the profile of flow. Unknown flows get an empty profile.
func (x Profiles) Get(flow Flow) Profile {
	return x[flow]
}

// Override returns a copy with the fields of overrides applied per flow
func (x Profiles) Override(overrides Profiles) Profiles {
	out := make(Profiles, len(x))
	for flow, p := range x {
		out[flow] = p
	}
	for flow, o := range overrides {
		out[flow] = out[flow].merge(o)
	}
	return out
}

// LoadProfiles reads per flow overrides from a YAML file, e.g.
//
//	chat:
//	  temperature: 0.2
//	attribute:
//	  max_output_tokens: 4000
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read profile file", goerr.V("path", path))
	}

	var overrides Profiles
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, goerr.Wrap(err, "failed to parse profile file", goerr.V("path", path))
	}
	return overrides, nil
}
