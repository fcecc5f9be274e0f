package usecases

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"commercebot/internal/logger"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultStaleAfter = 60 * time.Second

	TurnCompletedEvent = "conversation.turn.completed"
)

// TurnEvent is published after every persisted turn.
type TurnEvent struct {
	ConversationID    string             `json:"conversation_id"`
	ChatbotID         string             `json:"chatbot_id"`
	TeamID            string             `json:"team_id"`
	Platform          entities.Platform  `json:"platform"`
	Customer          string             `json:"customer"`
	Decision          string             `json:"decision"`
	FlowState         entities.FlowState `json:"flow_state"`
	AssistantMessages int                `json:"assistant_messages"`
	CreditsCharged    int                `json:"credits_charged"`
	Gated             bool               `json:"gated"`
}

// MessageService handles inbound platform messages: it resolves the account,
// picks flow or model handling, dispatches replies and records the turn.
type MessageService struct {
	chatbots      interfaces.ChatbotStore
	conversations interfaces.ConversationStore
	dispatchers   interfaces.DispatcherResolver
	flows         *FlowEngine
	router        *ModelRouter
	tools         *OrderTools
	deliveries    interfaces.DeliveryFilter
	publisher     interfaces.EventPublisher
	staleAfter    time.Duration
	now           func() time.Time
}

func NewMessageService(
	chatbots interfaces.ChatbotStore,
	conversations interfaces.ConversationStore,
	dispatchers interfaces.DispatcherResolver,
	flows *FlowEngine,
	router *ModelRouter,
) *MessageService {
	return &MessageService{
		chatbots:      chatbots,
		conversations: conversations,
		dispatchers:   dispatchers,
		flows:         flows,
		router:        router,
		staleAfter:    DefaultStaleAfter,
		now:           time.Now,
	}
}

func (s *MessageService) WithOrderTools(tools *OrderTools) *MessageService {
	s.tools = tools
	return s
}

func (s *MessageService) WithDeliveryFilter(f interfaces.DeliveryFilter) *MessageService {
	s.deliveries = f
	return s
}

func (s *MessageService) WithPublisher(p interfaces.EventPublisher) *MessageService {
	s.publisher = p
	return s
}

func (s *MessageService) WithStaleAfter(d time.Duration) *MessageService {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

// HandleInbound processes one webhook event. Configuration problems are
// logged no-ops; the returned error is for logging only.
func (s *MessageService) HandleInbound(ctx context.Context, event entities.InboundEvent) error {
	now := s.now()
	log := logger.WithModule("messages").WithFields(logrus.Fields{
		"platform":   event.Platform,
		"account":    event.PlatformAccountID,
		"sender":     event.SenderID,
		"message_id": event.MessageID,
	})

	if event.IsStale(now, s.staleAfter) {
		log.WithField("sent_at", event.SentAt()).Info("dropping stale delivery")
		return nil
	}
	if s.deliveries != nil && s.deliveries.Seen(event.Platform, event.MessageID) {
		log.Debug("dropping duplicate delivery")
		return nil
	}

	account, err := s.chatbots.ResolveAccount(ctx, event.Platform, event.PlatformAccountID)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	if account == nil {
		log.Warn("no chatbot registered for account")
		return nil
	}
	log = log.WithField("chatbot_id", account.ChatbotID)

	dispatcher, err := s.dispatchers.Dispatcher(*account)
	if err != nil {
		log.WithError(err).Error("no dispatcher for account")
		return nil
	}
	if event.MessageID != "" {
		if err := dispatcher.MarkRead(ctx, event.MessageID); err != nil {
			log.WithError(err).Debug("mark read failed")
		}
	}

	key := entities.ConversationKey{
		ChatbotID: account.ChatbotID,
		Platform:  event.Platform,
		From:      event.SenderID,
		To:        event.RecipientID,
	}
	conv, err := s.conversations.FindConversation(ctx, key)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	flow, err := s.chatbots.GetFlow(ctx, account.ChatbotID)
	if err != nil {
		return fmt.Errorf("load flow: %w", err)
	}

	event = mapNumericReply(event, conv, flow)

	sentAt := event.SentAt()
	if sentAt.IsZero() {
		sentAt = now
	}
	delta := entities.ConversationDelta{At: now}
	delta.Add(entities.Message{Role: entities.RoleUser, Content: event.Content(), Timestamp: sentAt})
	if conv == nil {
		delta.Metadata = map[string]string{"platform_account_id": account.ID}
	}

	turn := TurnEvent{
		ChatbotID: account.ChatbotID,
		TeamID:    account.TeamID,
		Platform:  event.Platform,
		Customer:  event.SenderID,
	}

	if conv != nil && conv.DisableAutoReply {
		turn.Decision = "takeover"
		return s.commit(ctx, key, delta, turn, log)
	}

	decision := Decide(conv, flow, event, now)
	turn.Decision = decision.Kind.String()
	log = log.WithFields(logrus.Fields{"decision": decision.Kind.String(), "reason": decision.Reason})
	target := Target{Dispatcher: dispatcher, To: event.SenderID}

	switch decision.Kind {
	case DecideNone:
		log.Debug("nothing to handle")
		return nil

	case DecideEntry, DecideAdvance:
		var res FlowResult
		if decision.Kind == DecideEntry {
			res = s.flows.Start(ctx, target, flow.Graph)
		} else {
			res = s.flows.Advance(ctx, target, flow.Graph, decision.Selection)
		}
		if res.Changed {
			delta.Add(res.Messages...)
			delta.FlowState = &res.State
			delta.CurrentNodeID = &res.NodeID
		}

	case DecideAI:
		settings, err := s.chatbots.GetAISettings(ctx, account.ChatbotID)
		if err != nil {
			return fmt.Errorf("load ai settings: %w", err)
		}
		history := make([]entities.Message, 0, len(delta.Messages))
		if conv != nil {
			history = append(history, conv.Messages...)
		}
		history = append(history, delta.Messages...)

		out, err := s.router.Generate(ctx, GenerateInput{
			TeamID:     account.TeamID,
			Settings:   settings,
			History:    history,
			Query:      event.Content(),
			UserTag:    event.SenderID,
			AllowTools: s.tools != nil,
		})
		if err != nil {
			log.WithError(err).WithField("code", CodeOf(err)).Error("model call failed")
			if out.Text != "" {
				if _, sendErr := dispatcher.SendText(ctx, event.SenderID, out.Text); sendErr != nil {
					log.WithError(sendErr).Warn("sending fallback failed")
				}
			}
			return err
		}
		turn.CreditsCharged = out.CreditsCharged
		turn.Gated = out.Gated
		if out.Gated {
			log.Warn("credit limit reached, reply suppressed")
			break
		}

		if text := strings.TrimSpace(out.Text); text != "" {
			if _, err := dispatcher.SendText(ctx, event.SenderID, text); err != nil {
				log.WithError(err).Error("sending reply failed")
			} else {
				delta.Add(entities.Message{Role: entities.RoleAssistant, Content: text, Timestamp: s.now()})
			}
		}
		if len(out.ToolCalls) > 0 && s.tools != nil {
			scope := ToolScope{ChatbotID: account.ChatbotID, Customer: event.SenderID}
			send := func(ctx context.Context, text string) (string, error) {
				return dispatcher.SendText(ctx, event.SenderID, text)
			}
			delta.Add(s.tools.Execute(ctx, scope, out.ToolCalls, send)...)
		}
		if !flow.Active() && (conv == nil || conv.FlowState != entities.FlowStateNoFlow) {
			state := entities.FlowStateNoFlow
			delta.FlowState = &state
		}
	}

	return s.commit(ctx, key, delta, turn, log)
}

func (s *MessageService) commit(ctx context.Context, key entities.ConversationKey, delta entities.ConversationDelta, turn TurnEvent, log *logrus.Entry) error {
	conv, err := s.conversations.AppendTurn(ctx, key, delta)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if conv == nil {
		return errors.New("append turn: store returned no conversation")
	}

	turn.ConversationID = conv.ID
	turn.FlowState = conv.FlowState
	turn.AssistantMessages = len(delta.Messages) - 1
	log.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"replies":         turn.AssistantMessages,
	}).Info("turn recorded")

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, TurnCompletedEvent, turn); err != nil {
			log.WithError(err).Warn("publishing turn event failed")
		}
	}
	return nil
}

// mapNumericReply turns "2" into a pick of the second option on platforms
// that render options as a numbered list.
func mapNumericReply(event entities.InboundEvent, conv *entities.Conversation, flow *entities.Flow) entities.InboundEvent {
	if event.Platform.SupportsButtons() || event.PostbackPayload != "" {
		return event
	}
	if conv == nil || conv.FlowState != entities.FlowStateAwaitingOption || conv.CurrentNodeID == "" || !flow.Active() {
		return event
	}
	n, err := strconv.Atoi(strings.TrimSpace(event.Text))
	if err != nil || n < 1 || n > MaxButtonOptions {
		return event
	}
	node, ok := flow.Graph.Node(conv.CurrentNodeID)
	if !ok {
		return event
	}
	opts := flow.Graph.OptionsOf(node)
	if n > len(opts) {
		return event
	}
	event.PostbackPayload = opts[n-1].ID
	event.PostbackTitle = opts[n-1].Title
	return event
}
