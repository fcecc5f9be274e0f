package entities

import (
	"fmt"
	"strconv"
	"strings"
)

type NodeType string

const (
	NodeTrigger NodeType = "trigger"
	NodeMessage NodeType = "message"
	NodeOption  NodeType = "option"
)

// FlowState is persisted on the conversation after every turn. The empty
// value marks rows written before the column existed; their state is derived
// from history instead.
type FlowState string

const (
	FlowStateUnknown        FlowState = ""
	FlowStateNoFlow         FlowState = "NO_FLOW"
	FlowStateAwaitingEntry  FlowState = "AWAITING_ENTRY"
	FlowStateAwaitingOption FlowState = "AWAITING_OPTION"
	FlowStateTerminal       FlowState = "TERMINAL"
)

type NodeData struct {
	Message  string   `json:"message,omitempty"`
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty" validate:"max=3,dive,required"`
	Image    string   `json:"image,omitempty" validate:"omitempty,url"`
}

type FlowNode struct {
	ID   string   `json:"id" validate:"required"`
	Type NodeType `json:"type" validate:"required,oneof=trigger message option"`
	Data NodeData `json:"data"`
}

type FlowEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source" validate:"required"`
	Target       string `json:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

type FlowGraph struct {
	Nodes []FlowNode `json:"nodes" validate:"required,min=1,dive"`
	Edges []FlowEdge `json:"edges" validate:"dive"`
}

type FlowSettings struct {
	FlowEnabled           bool `json:"flowEnabled"`
	AIResponseEnabled     bool `json:"aiResponseEnabled"`
	RestartTimeoutMinutes int  `json:"restartTimeoutMinutes" validate:"gte=0"`
}

// Flow is the authored flow of one chatbot.
type Flow struct {
	ChatbotID string       `json:"chatbot_id"`
	Graph     *FlowGraph   `json:"graph"`
	Settings  FlowSettings `json:"settings"`
}

// Active reports whether scripted replies are possible at all.
func (f *Flow) Active() bool {
	return f != nil && f.Settings.FlowEnabled && f.Graph != nil && len(f.Graph.Nodes) > 0
}

// Option is one selectable reply with its callback identifier.
type Option struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Node returns the node with the given id.
func (g *FlowGraph) Node(id string) (FlowNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return FlowNode{}, false
}

// EntryNode returns the first node, in authoring order, with no incoming edge.
func (g *FlowGraph) EntryNode() (FlowNode, bool) {
	targets := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		targets[e.Target] = struct{}{}
	}
	for _, n := range g.Nodes {
		if _, ok := targets[n.ID]; !ok {
			return n, true
		}
	}
	return FlowNode{}, false
}

// OptionEdge finds the edge leaving source through the handle of option index.
func (g *FlowGraph) OptionEdge(source string, index int) (FlowEdge, bool) {
	for _, c := range g.optionChildren(source) {
		if c.index == index {
			return c.edge, true
		}
	}
	handle := strconv.Itoa(index)
	for _, e := range g.Edges {
		if e.Source == source && e.SourceHandle == handle {
			return e, true
		}
	}
	return FlowEdge{}, false
}

type optionChild struct {
	index int
	edge  FlowEdge
	node  FlowNode
}

// optionChildren numbers the option-typed children of a node. A numeric
// handle keeps its number; unlabelled edges take the lowest index no other
// handle of the node uses, in edge order. OptionsOf and OptionEdge both
// number options here.
func (g *FlowGraph) optionChildren(source string) []optionChild {
	var (
		children []optionChild
		edges    []FlowEdge
	)
	taken := map[int]bool{}
	for _, e := range g.Edges {
		if e.Source != source {
			continue
		}
		if child, ok := g.Node(e.Target); ok && child.Type == NodeOption {
			edges = append(edges, e)
			continue
		}
		if n, err := strconv.Atoi(e.SourceHandle); err == nil {
			taken[n] = true
		}
	}
	for _, e := range edges {
		child, _ := g.Node(e.Target)
		c := optionChild{index: -1, edge: e, node: child}
		if n, err := strconv.Atoi(e.SourceHandle); err == nil && n >= 0 && !taken[n] {
			c.index = n
			taken[n] = true
		}
		children = append(children, c)
	}
	next := 0
	for i := range children {
		if children[i].index >= 0 {
			continue
		}
		for taken[next] {
			next++
		}
		children[i].index = next
		taken[next] = true
	}
	return children
}

// NextEdge finds the plain continuation of a node: the first outgoing edge
// that is not bound to an option handle.
func (g *FlowGraph) NextEdge(source string) (FlowEdge, bool) {
	for _, e := range g.Edges {
		if e.Source == source && e.SourceHandle == "" {
			return e, true
		}
	}
	return FlowEdge{}, false
}

// OptionsOf lists the choices a node offers. Inline options win; otherwise
// the node's option-typed children become the choices, in edge order.
func (g *FlowGraph) OptionsOf(node FlowNode) []Option {
	if len(node.Data.Options) > 0 {
		opts := make([]Option, 0, len(node.Data.Options))
		for i, title := range node.Data.Options {
			opts = append(opts, Option{ID: OptionPayload(node.ID, i), Title: title})
		}
		return opts
	}

	var opts []Option
	for _, c := range g.optionChildren(node.ID) {
		title := c.node.Data.Message
		if title == "" {
			title = c.node.Data.Question
		}
		opts = append(opts, Option{ID: OptionPayload(node.ID, c.index), Title: title})
	}
	return opts
}

const optionMarker = "-option-"

// OptionPayload encodes the callback identifier of an option.
func OptionPayload(nodeID string, index int) string {
	return fmt.Sprintf("%s%s%d", nodeID, optionMarker, index)
}

// OptionSelection is a decoded option callback.
type OptionSelection struct {
	NodeID string
	Index  int
}

// ParseOptionPayload decodes "{nodeId}-option-{index}". Node ids may contain
// dashes, so the last marker wins.
func ParseOptionPayload(payload string) (OptionSelection, bool) {
	i := strings.LastIndex(payload, optionMarker)
	if i <= 0 {
		return OptionSelection{}, false
	}
	idx, err := strconv.Atoi(payload[i+len(optionMarker):])
	if err != nil || idx < 0 {
		return OptionSelection{}, false
	}
	return OptionSelection{NodeID: payload[:i], Index: idx}, true
}
