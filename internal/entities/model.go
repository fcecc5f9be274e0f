package entities

import (
	"fmt"
	"strings"
)

// ProviderKind is the closed set of model families the router can talk to.
type ProviderKind int

const (
	ProviderOpenAI ProviderKind = iota
	ProviderAnthropic
	ProviderGemini
	ProviderDeepSeek
	ProviderGrok
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderGemini:
		return "gemini"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGrok:
		return "grok"
	default:
		return fmt.Sprintf("provider(%d)", int(k))
	}
}

// ModelSpec is a model id resolved to its provider. It is computed once,
// when AI settings are loaded.
type ModelSpec struct {
	ID            string
	Provider      ProviderKind
	ProviderModel string
	// ReasoningOnly models reject a system role and consecutive same-role turns.
	ReasoningOnly bool
	SupportsTools bool
}

const DefaultModelID = "gpt-4o-mini"

var modelTable = map[string]ModelSpec{
	"gpt-4o":            {Provider: ProviderOpenAI, ProviderModel: "gpt-4o", SupportsTools: true},
	"gpt-4o-mini":       {Provider: ProviderOpenAI, ProviderModel: "gpt-4o-mini", SupportsTools: true},
	"gpt-4.1":           {Provider: ProviderOpenAI, ProviderModel: "gpt-4.1", SupportsTools: true},
	"gpt-4.1-mini":      {Provider: ProviderOpenAI, ProviderModel: "gpt-4.1-mini", SupportsTools: true},
	"gpt-3.5-turbo":     {Provider: ProviderOpenAI, ProviderModel: "gpt-3.5-turbo", SupportsTools: true},
	"o1-mini":           {Provider: ProviderOpenAI, ProviderModel: "o1-mini", ReasoningOnly: true},
	"o1-preview":        {Provider: ProviderOpenAI, ProviderModel: "o1-preview", ReasoningOnly: true},
	"claude-3-5-sonnet": {Provider: ProviderAnthropic, ProviderModel: "claude-3-5-sonnet-20241022"},
	"claude-3-5-haiku":  {Provider: ProviderAnthropic, ProviderModel: "claude-3-5-haiku-20241022"},
	"claude-3-7-sonnet": {Provider: ProviderAnthropic, ProviderModel: "claude-3-7-sonnet-20250219"},
	"gemini-1.5-flash":  {Provider: ProviderGemini, ProviderModel: "gemini-1.5-flash"},
	"gemini-1.5-pro":    {Provider: ProviderGemini, ProviderModel: "gemini-1.5-pro"},
	"gemini-2.0-flash":  {Provider: ProviderGemini, ProviderModel: "gemini-2.0-flash"},
	"deepseek-chat":     {Provider: ProviderDeepSeek, ProviderModel: "deepseek-chat", SupportsTools: true},
	"deepseek-reasoner": {Provider: ProviderDeepSeek, ProviderModel: "deepseek-reasoner", ReasoningOnly: true},
	"grok-2":            {Provider: ProviderGrok, ProviderModel: "grok-2-latest", SupportsTools: true},
	"grok-3-mini":       {Provider: ProviderGrok, ProviderModel: "grok-3-mini"},
}

// providerDefaults is used for ids that match a family prefix but are not in
// the table.
var providerDefaults = map[ProviderKind]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-20241022",
	ProviderGemini:    "gemini-1.5-flash",
	ProviderDeepSeek:  "deepseek-chat",
	ProviderGrok:      "grok-2-latest",
}

// ResolveModel maps an internal model id to its provider and wire name.
// Unknown ids keep their family (by prefix) and fall back to that family's
// default model; an empty id resolves to DefaultModelID.
func ResolveModel(id string) ModelSpec {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultModelID
	}
	if spec, ok := modelTable[id]; ok {
		spec.ID = id
		return spec
	}

	kind := ProviderOpenAI
	switch {
	case strings.HasPrefix(id, "claude-"):
		kind = ProviderAnthropic
	case strings.HasPrefix(id, "gemini-"):
		kind = ProviderGemini
	case strings.HasPrefix(id, "deepseek-"):
		kind = ProviderDeepSeek
	case strings.HasPrefix(id, "grok-"):
		kind = ProviderGrok
	}
	return ModelSpec{
		ID:            id,
		Provider:      kind,
		ProviderModel: providerDefaults[kind],
		SupportsTools: kind == ProviderOpenAI,
	}
}

// DeltaKind tags a streamed chunk.
type DeltaKind int

const (
	DeltaAnswer DeltaKind = iota
	DeltaReasoning
	DeltaToolCall
	DeltaEnd
)

// Delta is one item of a provider stream. A well-formed stream ends with
// exactly one DeltaEnd.
type Delta struct {
	Kind     DeltaKind
	Text     string
	ToolCall *ToolCall
}
