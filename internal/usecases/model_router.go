package usecases

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"commercebot/internal/logger"
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const (
	LimitReachedMessage    = "This chatbot has reached its usage limit. Please contact the business owner."
	RetrievalFailedMessage = "Sorry, I couldn't look up the information needed to answer right now. Please try again later."
)

var errStreamTruncated = errors.New("provider stream ended without end marker")

type GenerateInput struct {
	TeamID   string
	Settings entities.AISettings
	History  []entities.Message
	// Query is the retrieval search text, usually the latest user message.
	Query   string
	UserTag string
	// AllowTools offers the order tools when the model and settings permit.
	AllowTools bool
}

type GenerateOutput struct {
	Text           string
	Reasoning      string
	ToolCalls      []entities.ToolCall
	Gated          bool
	CreditsCharged int
}

// ModelRouter turns conversation history into one assistant reply through
// the provider of the configured model.
type ModelRouter struct {
	providers interfaces.ProviderRegistry
	retriever interfaces.Retriever
	ledger    interfaces.CreditLedger
	meter     Meter
	tools     []entities.ToolDefinition
}

func NewModelRouter(providers interfaces.ProviderRegistry, retriever interfaces.Retriever, ledger interfaces.CreditLedger) (*ModelRouter, error) {
	if providers == nil {
		return nil, errors.New("usecases: provider registry must not be nil")
	}
	if ledger == nil {
		return nil, errors.New("usecases: credit ledger must not be nil")
	}
	return &ModelRouter{
		providers: providers,
		retriever: retriever,
		ledger:    ledger,
		meter:     FlatMeter,
	}, nil
}

// WithMeter swaps the billing function.
func (r *ModelRouter) WithMeter(m Meter) *ModelRouter {
	if m != nil {
		r.meter = m
	}
	return r
}

// WithTools sets the tool schema offered to tool-capable models.
func (r *ModelRouter) WithTools(defs []entities.ToolDefinition) *ModelRouter {
	r.tools = defs
	return r
}

// Generate gates on credits, retrieves context, streams the reply to the
// end and charges the team once. A gated call returns the limit message
// with Gated set and no error. A retrieval failure returns
// RetrievalFailedMessage together with a RETRIEVAL_ERROR.
func (r *ModelRouter) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	settings := in.Settings
	if settings.Model.ID == "" {
		settings = settings.WithDefaults()
	}
	log := logger.WithModule("router").WithFields(logrus.Fields{
		"team_id": in.TeamID,
		"model":   settings.Model.ID,
	})

	team, err := r.ledger.GetTeam(ctx, in.TeamID)
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "ledger_read_error", err)
	}
	if team.Exhausted() {
		log.WithField("credits", team.Credits).Info("credit limit reached")
		return GenerateOutput{Text: LimitReachedMessage, Gated: true}, nil
	}

	var snippets []string
	if settings.DatasetID != "" && r.retriever != nil && strings.TrimSpace(in.Query) != "" {
		snippets, err = r.retriever.Search(ctx, settings.DatasetID, in.Query)
		if err != nil {
			return GenerateOutput{Text: RetrievalFailedMessage}, newError(ErrorRetrieval, "retrieval_error", err)
		}
	}

	spec := settings.Model
	prompt := BuildPrompt(PromptInput{
		SystemBase:    settings.SystemPrompt,
		Language:      settings.Language,
		Snippets:      snippets,
		History:       in.History,
		ReasoningOnly: spec.ReasoningOnly,
	})

	provider, err := r.providers.For(spec.Provider)
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "provider_not_configured", err)
	}

	req := interfaces.StreamRequest{
		Model:         spec.ProviderModel,
		System:        prompt.System,
		Messages:      prompt.Messages,
		UserTag:       in.UserTag,
		MaxTokens:     settings.MaxTokens,
		Temperature:   settings.Sampling(),
		ReasoningOnly: spec.ReasoningOnly,
	}
	if in.AllowTools && spec.SupportsTools && settings.OrderToolsEnabled {
		req.Tools = r.tools
	}

	var (
		answer    strings.Builder
		reasoning strings.Builder
		out       GenerateOutput
		deltas    int
		ended     bool
	)
	for d, err := range provider.Stream(ctx, req) {
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == 429 {
				return GenerateOutput{}, newError(ErrorRateLimited, "provider_rate_limited", err)
			}
			return GenerateOutput{}, newError(ErrorUpstream, "provider_error", err)
		}
		switch d.Kind {
		case entities.DeltaAnswer:
			answer.WriteString(d.Text)
			deltas++
		case entities.DeltaReasoning:
			reasoning.WriteString(d.Text)
		case entities.DeltaToolCall:
			if d.ToolCall != nil {
				out.ToolCalls = append(out.ToolCalls, *d.ToolCall)
			}
			deltas++
		case entities.DeltaEnd:
			ended = true
		}
	}
	if !ended {
		return GenerateOutput{}, newError(ErrorUpstream, "provider_error", errStreamTruncated)
	}

	out.Text = answer.String()
	out.Reasoning = reasoning.String()

	units := r.meter(MeteredCall{Model: spec, Deltas: deltas, AnswerRunes: utf8.RuneCountInString(out.Text)})
	if units > 0 {
		if err := r.ledger.AddCredits(ctx, in.TeamID, units); err != nil {
			log.WithError(err).Error("charging credits failed")
		} else {
			out.CreditsCharged = units
		}
	}
	return out, nil
}
