package usecases

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DashboardStore is the write side of chatbot configuration.
type DashboardStore interface {
	interfaces.ChatbotStore
	GetChatbot(ctx context.Context, id string) (*entities.Chatbot, error)
	SaveAISettings(ctx context.Context, chatbotID string, s entities.AISettings) error
	SaveFlow(ctx context.Context, flow entities.Flow) error
}

type CreditReporter interface {
	GetCreditStatus(ctx context.Context, teamID string) (entities.CreditStatus, error)
}

type DashboardUsecase struct {
	store    DashboardStore
	credits  CreditReporter
	router   *ModelRouter
	validate *validator.Validate
}

func NewDashboardUsecase(store DashboardStore, credits CreditReporter, router *ModelRouter) *DashboardUsecase {
	return &DashboardUsecase{
		store:    store,
		credits:  credits,
		router:   router,
		validate: validator.New(),
	}
}

// Authorize checks that the chatbot belongs to the team. Chatbots of other
// teams are reported as not found.
func (u *DashboardUsecase) Authorize(ctx context.Context, teamID, chatbotID string) error {
	bot, err := u.store.GetChatbot(ctx, chatbotID)
	if err != nil {
		return newError(ErrorInternal, "chatbot_read_error", err)
	}
	if bot == nil || bot.TeamID != teamID {
		return newError(ErrorNotFound, "chatbot_not_found", nil)
	}
	return nil
}

// GetFlow returns the chatbot's flow, or a disabled empty flow.
func (u *DashboardUsecase) GetFlow(ctx context.Context, chatbotID string) (*entities.Flow, error) {
	flow, err := u.store.GetFlow(ctx, chatbotID)
	if err != nil {
		return nil, newError(ErrorInternal, "flow_read_error", err)
	}
	if flow == nil {
		flow = &entities.Flow{ChatbotID: chatbotID, Graph: &entities.FlowGraph{}}
	}
	return flow, nil
}

func (u *DashboardUsecase) SaveFlow(ctx context.Context, flow entities.Flow) error {
	if flow.ChatbotID == "" {
		return newError(ErrorInvalidInput, "missing_chatbot_id", nil)
	}
	if err := u.validate.Struct(flow.Settings); err != nil {
		return newError(ErrorInvalidInput, "invalid_flow_settings", err)
	}
	if flow.Graph != nil && len(flow.Graph.Nodes) > 0 {
		if err := u.validate.Struct(flow.Graph); err != nil {
			return newError(ErrorInvalidInput, "invalid_flow_graph", err)
		}
		if err := CheckGraph(flow.Graph); err != nil {
			return newError(ErrorInvalidInput, "invalid_flow_graph", err)
		}
	} else if flow.Settings.FlowEnabled {
		return newError(ErrorInvalidInput, "empty_flow_graph", errors.New("an enabled flow needs at least one node"))
	}
	if err := u.store.SaveFlow(ctx, flow); err != nil {
		return newError(ErrorInternal, "flow_write_error", err)
	}
	return nil
}

// CheckGraph verifies the references a flow walk relies on: unique node
// ids, edges between existing nodes, numeric option handles and exactly one
// entry node.
func CheckGraph(g *entities.FlowGraph) error {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
	}

	incoming := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		if _, ok := ids[e.Source]; !ok {
			return fmt.Errorf("edge %q: unknown source %q", e.ID, e.Source)
		}
		if _, ok := ids[e.Target]; !ok {
			return fmt.Errorf("edge %q: unknown target %q", e.ID, e.Target)
		}
		if e.SourceHandle != "" {
			idx, err := strconv.Atoi(e.SourceHandle)
			if err != nil || idx < 0 {
				return fmt.Errorf("edge %q: option handle %q is not an index", e.ID, e.SourceHandle)
			}
		}
		incoming[e.Target]++
	}

	var entries []string
	for _, n := range g.Nodes {
		if incoming[n.ID] == 0 {
			entries = append(entries, n.ID)
		}
	}
	switch len(entries) {
	case 0:
		return errors.New("flow has no entry node")
	case 1:
		return nil
	default:
		return fmt.Errorf("flow has %d entry nodes: %s", len(entries), strings.Join(entries, ", "))
	}
}

func (u *DashboardUsecase) GetAISettings(ctx context.Context, chatbotID string) (entities.AISettings, error) {
	s, err := u.store.GetAISettings(ctx, chatbotID)
	if err != nil {
		return entities.AISettings{}, newError(ErrorInternal, "settings_read_error", err)
	}
	return s, nil
}

// SaveAISettings validates and stores settings. The model id is normalized
// to the one it resolves to.
func (u *DashboardUsecase) SaveAISettings(ctx context.Context, chatbotID string, s entities.AISettings) (entities.AISettings, error) {
	if chatbotID == "" {
		return entities.AISettings{}, newError(ErrorInvalidInput, "missing_chatbot_id", nil)
	}
	if err := u.validate.Struct(s); err != nil {
		return entities.AISettings{}, newError(ErrorInvalidInput, "invalid_ai_settings", err)
	}
	s = s.WithDefaults()
	if err := u.store.SaveAISettings(ctx, chatbotID, s); err != nil {
		return entities.AISettings{}, newError(ErrorInternal, "settings_write_error", err)
	}
	return s, nil
}

type PlaygroundInput struct {
	ChatbotID string             `validate:"required"`
	TeamID    string             `validate:"required"`
	Messages  []entities.Message `validate:"required,min=1,dive"`
	// Overrides, when set, replace the stored settings for this call only.
	Overrides *entities.AISettings
}

// Playground runs the model on a posted history without touching any
// conversation. Calls are metered like production traffic.
func (u *DashboardUsecase) Playground(ctx context.Context, in PlaygroundInput) (GenerateOutput, error) {
	if err := u.validate.Struct(in); err != nil {
		return GenerateOutput{}, newError(ErrorInvalidInput, "invalid_playground_request", err)
	}
	last := in.Messages[len(in.Messages)-1]
	if last.Role != entities.RoleUser {
		return GenerateOutput{}, newError(ErrorInvalidInput, "last_message_not_user", nil)
	}

	var settings entities.AISettings
	if in.Overrides != nil {
		if err := u.validate.Struct(in.Overrides); err != nil {
			return GenerateOutput{}, newError(ErrorInvalidInput, "invalid_ai_settings", err)
		}
		settings = in.Overrides.WithDefaults()
	} else {
		stored, err := u.GetAISettings(ctx, in.ChatbotID)
		if err != nil {
			return GenerateOutput{}, err
		}
		settings = stored
	}

	return u.router.Generate(ctx, GenerateInput{
		TeamID:   in.TeamID,
		Settings: settings,
		History:  in.Messages,
		Query:    last.Content,
		UserTag:  "playground",
	})
}

func (u *DashboardUsecase) CreditStatus(ctx context.Context, teamID string) (entities.CreditStatus, error) {
	if teamID == "" {
		return entities.CreditStatus{}, newError(ErrorInvalidInput, "missing_team_id", nil)
	}
	s, err := u.credits.GetCreditStatus(ctx, teamID)
	if err != nil {
		return entities.CreditStatus{}, newError(ErrorNotFound, "team_not_found", err)
	}
	return s, nil
}
