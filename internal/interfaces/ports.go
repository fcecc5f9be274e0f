package interfaces

import (
	"commercebot/internal/entities"
	"context"
	"encoding/json"
	"iter"
)

// ConversationStore persists conversations. FindConversation returns
// (nil, nil) for a participant pair that has never written.
type ConversationStore interface {
	FindConversation(ctx context.Context, key entities.ConversationKey) (*entities.Conversation, error)
	AppendTurn(ctx context.Context, key entities.ConversationKey, delta entities.ConversationDelta) (*entities.Conversation, error)
}

// ChatbotStore is the read side of chatbot configuration.
// GetFlow returns (nil, nil) when the chatbot has no flow.
type ChatbotStore interface {
	ResolveAccount(ctx context.Context, platform entities.Platform, externalID string) (*entities.PlatformAccount, error)
	GetAISettings(ctx context.Context, chatbotID string) (entities.AISettings, error)
	GetFlow(ctx context.Context, chatbotID string) (*entities.Flow, error)
}

type CreditLedger interface {
	GetTeam(ctx context.Context, teamID string) (entities.Team, error)
	AddCredits(ctx context.Context, teamID string, units int) error
}

type Retriever interface {
	Search(ctx context.Context, datasetID, query string) ([]string, error)
}

type StreamRequest struct {
	Model       string
	System      string
	Messages    []entities.Message
	Tools       []entities.ToolDefinition
	UserTag     string
	MaxTokens   int
	Temperature float64
	// ReasoningOnly models take no sampling parameters; the prompt has
	// already been reshaped for them.
	ReasoningOnly bool
}

// ChatProvider streams a completion. The sequence ends with a DeltaEnd item
// on success; any error ends it early.
type ChatProvider interface {
	Stream(ctx context.Context, req StreamRequest) iter.Seq2[entities.Delta, error]
}

// ProviderRegistry returns the client serving a provider family.
type ProviderRegistry interface {
	For(kind entities.ProviderKind) (ChatProvider, error)
}

// Dispatcher sends as one platform account. Send methods return the
// platform message id when the platform reports one.
type Dispatcher interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendImage(ctx context.Context, to, imageURL string) (string, error)
	SendOptions(ctx context.Context, to, body string, options []entities.Option) (string, error)
	MarkRead(ctx context.Context, messageID string) error
}

type DispatcherResolver interface {
	Dispatcher(account entities.PlatformAccount) (Dispatcher, error)
}

// OrderBackend executes order-management tool calls. Results are returned
// as the backend produced them: usually a JSON object, sometimes a bare string.
type OrderBackend interface {
	Categories(ctx context.Context, chatbotID string) (json.RawMessage, error)
	MenuItems(ctx context.Context, chatbotID, categoryID string) (json.RawMessage, error)
	AddToCart(ctx context.Context, chatbotID, customer, itemID string, quantity int) (json.RawMessage, error)
	ViewCart(ctx context.Context, chatbotID, customer string) (json.RawMessage, error)
	SubmitOrder(ctx context.Context, chatbotID, customer, notes string) (json.RawMessage, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// DeliveryFilter reports platform redeliveries of an inbound message.
type DeliveryFilter interface {
	Seen(platform entities.Platform, messageID string) bool
}
