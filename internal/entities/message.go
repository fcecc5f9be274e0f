package entities

import (
	"encoding/json"
	"strings"
	"time"
)

type Platform string

const (
	PlatformWhatsApp    Platform = "whatsapp"
	PlatformInstagram   Platform = "instagram"
	PlatformMessenger   Platform = "messenger"
	PlatformTelegram    Platform = "telegram"
	PlatformWhatsAppWeb Platform = "whatsapp_web" // paired device via whatsmeow
)

// SupportsButtons reports whether the platform renders tappable options.
// Platforms without buttons get a numbered list and numeric replies.
func (p Platform) SupportsButtons() bool {
	return p != PlatformWhatsAppWeb
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"role" validate:"required,oneof=system user assistant"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationKey identifies one conversation: a chatbot talking to one
// participant pair on one platform.
type ConversationKey struct {
	ChatbotID string   `json:"chatbot_id"`
	Platform  Platform `json:"platform"`
	From      string   `json:"from"`
	To        string   `json:"to"`
}

type Conversation struct {
	ID                string            `json:"id"`
	Key               ConversationKey   `json:"key"`
	Messages          []Message         `json:"messages"`
	DisableAutoReply  bool              `json:"disable_auto_reply"`
	Metadata          map[string]string `json:"metadata"`
	FlowState         FlowState         `json:"flow_state"`
	CurrentNodeID     string            `json:"current_node_id"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
	CreatedAt         time.Time         `json:"created_at"`
}

// LastMessage returns the newest message, or false for an empty history.
func (c *Conversation) LastMessage() (Message, bool) {
	if c == nil || len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// ConversationDelta is everything one turn adds to a conversation. It is
// applied by the store in a single atomic append.
type ConversationDelta struct {
	Messages      []Message
	FlowState     *FlowState
	CurrentNodeID *string
	Metadata      map[string]string
	At            time.Time
}

// Add appends messages to the delta.
func (d *ConversationDelta) Add(msgs ...Message) {
	d.Messages = append(d.Messages, msgs...)
}

// ImageContent is the history envelope recorded for an image send.
func ImageContent(url string) string {
	b, _ := json.Marshal(struct {
		Type  string `json:"type"`
		Image string `json:"image"`
	}{Type: "image", Image: url})
	return string(b)
}

// IsJSONContent reports whether content parses as a JSON value. Legacy
// histories use it to tell an outstanding options payload from plain text.
func IsJSONContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	return json.Valid([]byte(trimmed))
}

// InteractiveContent is the history envelope recorded for an options send.
func InteractiveContent(body string, options []Option) string {
	b, _ := json.Marshal(struct {
		Type    string   `json:"type"`
		Body    string   `json:"body"`
		Options []Option `json:"options"`
	}{Type: "interactive", Body: body, Options: options})
	return string(b)
}
