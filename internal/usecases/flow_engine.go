package usecases

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"commercebot/internal/logger"
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSendDelay = 2 * time.Second

	// MaxButtonOptions is the most options any platform renders as buttons.
	MaxButtonOptions = 3

	defaultOptionsBody = "Please choose an option:"
	maxFlowSteps       = 64
)

type DecisionKind int

const (
	DecideNone DecisionKind = iota
	DecideEntry
	DecideAdvance
	DecideAI
)

func (k DecisionKind) String() string {
	switch k {
	case DecideEntry:
		return "entry"
	case DecideAdvance:
		return "advance"
	case DecideAI:
		return "ai"
	default:
		return "none"
	}
}

// Decision is what the engine does with one inbound event.
type Decision struct {
	Kind      DecisionKind
	Reason    string
	Selection entities.OptionSelection
}

// Decide picks scripted or generated handling for an inbound event. conv is
// nil on first contact.
func Decide(conv *entities.Conversation, flow *entities.Flow, event entities.InboundEvent, now time.Time) Decision {
	if event.Content() == "" {
		return Decision{Kind: DecideNone, Reason: "empty_event"}
	}
	if !flow.Active() {
		return Decision{Kind: DecideAI, Reason: "no_flow"}
	}

	if conv == nil {
		return Decision{Kind: DecideEntry, Reason: "first_contact"}
	}

	if timeout := flow.Settings.RestartTimeoutMinutes; timeout > 0 {
		last := lastInteraction(conv)
		if !last.IsZero() && now.Sub(last) > time.Duration(timeout)*time.Minute {
			return Decision{Kind: DecideEntry, Reason: "timeout"}
		}
	}

	if sel, ok := entities.ParseOptionPayload(event.PostbackPayload); ok {
		return Decision{Kind: DecideAdvance, Reason: "option_selected", Selection: sel}
	}

	if !flow.Settings.AIResponseEnabled {
		return Decision{Kind: DecideEntry, Reason: "ai_disabled"}
	}

	switch conv.FlowState {
	case entities.FlowStateAwaitingOption:
		return Decision{Kind: DecideEntry, Reason: "expected_option"}
	case entities.FlowStateUnknown:
		// rows written before flow state was stored
		if last, ok := conv.LastMessage(); ok && last.Role == entities.RoleAssistant && entities.IsJSONContent(last.Content) {
			return Decision{Kind: DecideEntry, Reason: "expected_option"}
		}
	}
	return Decision{Kind: DecideAI, Reason: "free_text"}
}

func lastInteraction(conv *entities.Conversation) time.Time {
	if !conv.LastInteractionAt.IsZero() {
		return conv.LastInteractionAt
	}
	if last, ok := conv.LastMessage(); ok && !last.Timestamp.IsZero() {
		return last.Timestamp
	}
	return conv.CreatedAt
}

// Target is where scripted messages go.
type Target struct {
	Dispatcher interfaces.Dispatcher
	To         string
}

// FlowResult is the outcome of one scripted step. Messages holds only what
// was delivered. Changed is false when nothing was attempted.
type FlowResult struct {
	Messages []entities.Message
	State    entities.FlowState
	NodeID   string
	Changed  bool
}

// FlowEngine emits flow nodes through a dispatcher, pacing consecutive sends.
type FlowEngine struct {
	delay time.Duration
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

func NewFlowEngine(delay time.Duration) *FlowEngine {
	if delay < 0 {
		delay = 0
	}
	return &FlowEngine{delay: delay, sleep: sleepCtx, now: time.Now}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Start emits the flow from its entry node.
func (e *FlowEngine) Start(ctx context.Context, target Target, graph *entities.FlowGraph) FlowResult {
	log := logger.WithModule("flow").WithField("to", target.To)
	if graph == nil {
		log.Warn("flow has no graph")
		return FlowResult{}
	}
	entry, ok := graph.EntryNode()
	if !ok {
		log.Warn("flow has no entry node")
		return FlowResult{}
	}
	return e.walk(ctx, target, graph, entry)
}

// Advance follows the edge bound to the selected option and emits from its
// target. An option with no edge is a no-op.
func (e *FlowEngine) Advance(ctx context.Context, target Target, graph *entities.FlowGraph, sel entities.OptionSelection) FlowResult {
	log := logger.WithModule("flow").WithFields(logrus.Fields{
		"to":     target.To,
		"node":   sel.NodeID,
		"option": sel.Index,
	})
	if graph == nil {
		log.Warn("flow has no graph")
		return FlowResult{}
	}
	edge, ok := graph.OptionEdge(sel.NodeID, sel.Index)
	if !ok {
		log.Info("no edge for selected option")
		return FlowResult{}
	}
	next, ok := graph.Node(edge.Target)
	if !ok {
		log.WithField("target", edge.Target).Warn("edge target node not found")
		return FlowResult{}
	}
	return e.walk(ctx, target, graph, next)
}

func (e *FlowEngine) walk(ctx context.Context, target Target, graph *entities.FlowGraph, node entities.FlowNode) FlowResult {
	log := logger.WithModule("flow").WithField("to", target.To)
	res := FlowResult{Changed: true, State: entities.FlowStateTerminal}
	visited := make(map[string]struct{})
	attempted := false

	pace := func() {
		if attempted {
			e.sleep(ctx, e.delay)
		}
		attempted = true
	}
	record := func(content string) {
		res.Messages = append(res.Messages, entities.Message{
			Role:      entities.RoleAssistant,
			Content:   content,
			Timestamp: e.now(),
		})
	}

	for step := 0; step < maxFlowSteps; step++ {
		if _, seen := visited[node.ID]; seen {
			log.WithField("node", node.ID).Warn("flow cycle detected")
			return res
		}
		visited[node.ID] = struct{}{}
		res.NodeID = node.ID

		if text := node.Data.Message; text != "" && node.Type != entities.NodeOption {
			pace()
			if _, err := target.Dispatcher.SendText(ctx, target.To, text); err != nil {
				log.WithError(err).WithField("node", node.ID).Error("send flow text failed")
			} else {
				record(text)
			}
		}

		if img := node.Data.Image; img != "" {
			pace()
			if _, err := target.Dispatcher.SendImage(ctx, target.To, img); err != nil {
				log.WithError(err).WithField("node", node.ID).Error("send flow image failed")
			} else {
				record(entities.ImageContent(img))
			}
		}

		if opts := graph.OptionsOf(node); len(opts) > 0 {
			if len(opts) > MaxButtonOptions {
				opts = opts[:MaxButtonOptions]
			}
			body := node.Data.Question
			if body == "" {
				body = defaultOptionsBody
			}
			pace()
			if _, err := target.Dispatcher.SendOptions(ctx, target.To, body, opts); err != nil {
				log.WithError(err).WithField("node", node.ID).Error("send flow options failed")
			} else {
				record(entities.InteractiveContent(body, opts))
			}
			res.State = entities.FlowStateAwaitingOption
			return res
		}

		edge, ok := graph.NextEdge(node.ID)
		if !ok {
			return res
		}
		next, ok := graph.Node(edge.Target)
		if !ok {
			log.WithField("target", edge.Target).Warn("edge target node not found")
			return res
		}
		node = next
	}
	log.Warn("flow step limit reached")
	return res
}
