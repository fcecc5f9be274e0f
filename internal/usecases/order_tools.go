package usecases

import (
	"bytes"
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"commercebot/internal/logger"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	ToolListCategories = "list_categories"
	ToolGetMenuItems   = "get_menu_items"
	ToolAddToCart      = "add_to_cart"
	ToolViewCart       = "view_cart"
	ToolSubmitOrder    = "submit_order"

	ToolFailureMessage = "We're experiencing a technical issue right now. Please try again later."
)

// ToolScope identifies whose cart a tool call acts on.
type ToolScope struct {
	ChatbotID string
	Customer  string
}

// SendFunc delivers one confirmation and returns the platform message id.
type SendFunc func(ctx context.Context, text string) (string, error)

// OrderTools runs order-management tool calls against the order backend and
// turns the results into customer-facing confirmations.
type OrderTools struct {
	backend interfaces.OrderBackend
}

func NewOrderTools(backend interfaces.OrderBackend) *OrderTools {
	return &OrderTools{backend: backend}
}

var toolDefinitions = []entities.ToolDefinition{
	{
		Name:        ToolListCategories,
		Description: "List the menu categories of the shop.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        ToolGetMenuItems,
		Description: "List the items of one menu category with prices.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"category_id":{"type":"string","description":"Category id from list_categories"}},"required":["category_id"]}`),
	},
	{
		Name:        ToolAddToCart,
		Description: "Add a menu item to the customer's cart.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"item_id":{"type":"string"},"quantity":{"type":"integer","minimum":1}},"required":["item_id","quantity"]}`),
	},
	{
		Name:        ToolViewCart,
		Description: "Show the customer's cart and its total.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        ToolSubmitOrder,
		Description: "Place an order for everything in the customer's cart.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"notes":{"type":"string","description":"Delivery or preparation notes"}}}`),
	},
}

// Definitions returns the tool schema offered to the model.
func (t *OrderTools) Definitions() []entities.ToolDefinition {
	out := make([]entities.ToolDefinition, len(toolDefinitions))
	copy(out, toolDefinitions)
	return out
}

type toolArgs struct {
	CategoryID string `json:"category_id"`
	ItemID     string `json:"item_id"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes"`
}

func (t *OrderTools) run(ctx context.Context, scope ToolScope, call entities.ToolCall) (json.RawMessage, error) {
	var args toolArgs
	if raw := bytes.TrimSpace(call.Arguments); len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", call.Name, err)
		}
	}

	switch call.Name {
	case ToolListCategories:
		return t.backend.Categories(ctx, scope.ChatbotID)
	case ToolGetMenuItems:
		return t.backend.MenuItems(ctx, scope.ChatbotID, args.CategoryID)
	case ToolAddToCart:
		return t.backend.AddToCart(ctx, scope.ChatbotID, scope.Customer, args.ItemID, args.Quantity)
	case ToolViewCart:
		return t.backend.ViewCart(ctx, scope.ChatbotID, scope.Customer)
	case ToolSubmitOrder:
		return t.backend.SubmitOrder(ctx, scope.ChatbotID, scope.Customer, args.Notes)
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

// Execute runs calls in the order the model returned them. Each produces one
// confirmation, or ToolFailureMessage when the call or its formatting
// fails. Only confirmations that were delivered are returned for history.
func (t *OrderTools) Execute(ctx context.Context, scope ToolScope, calls []entities.ToolCall, send SendFunc) []entities.Message {
	log := logger.WithModule("order_tools").WithFields(logrus.Fields{
		"chatbot_id": scope.ChatbotID,
		"customer":   scope.Customer,
	})

	var out []entities.Message
	for _, call := range calls {
		text, err := t.confirmation(ctx, scope, call)
		if err != nil {
			log.WithError(err).WithField("tool", call.Name).Error("tool call failed")
			text = ToolFailureMessage
		}
		if _, err := send(ctx, text); err != nil {
			log.WithError(err).WithField("tool", call.Name).Warn("sending tool confirmation failed")
			continue
		}
		out = append(out, entities.Message{Role: entities.RoleAssistant, Content: text})
	}
	return out
}

func (t *OrderTools) confirmation(ctx context.Context, scope ToolScope, call entities.ToolCall) (string, error) {
	raw, err := t.run(ctx, scope, call)
	if err != nil {
		return "", err
	}
	return FormatToolResult(call.Name, raw)
}

// FormatToolResult renders a backend result for the customer. A result that
// is a JSON string is returned verbatim.
func FormatToolResult(name string, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("%s: empty result", name)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return s, nil
	}

	switch name {
	case ToolListCategories:
		var res struct {
			Categories []entities.Category `json:"categories"`
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return formatCategories(res.Categories), nil
	case ToolGetMenuItems:
		var res struct {
			Items []entities.MenuItem `json:"items"`
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return formatMenu(res.Items), nil
	case ToolAddToCart:
		var res struct {
			Added entities.CartLine `json:"added"`
			Cart  entities.Cart     `json:"cart"`
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Sprintf("✅ Added %d x %s to your cart.\n\n%s", res.Added.Quantity, res.Added.Name, formatCart(res.Cart)), nil
	case ToolViewCart:
		var cart entities.Cart
		if err := json.Unmarshal(raw, &cart); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return formatCart(cart), nil
	case ToolSubmitOrder:
		var order entities.Order
		if err := json.Unmarshal(raw, &order); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return formatOrder(order), nil
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func formatCategories(categories []entities.Category) string {
	if len(categories) == 0 {
		return "No menu categories are available yet."
	}
	var b strings.Builder
	b.WriteString("📂 *Menu categories*")
	for i, c := range categories {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Name)
	}
	return b.String()
}

func formatMenu(items []entities.MenuItem) string {
	if len(items) == 0 {
		return "There are no items in this category."
	}
	var b strings.Builder
	b.WriteString("🍽️ *Menu*")
	for _, it := range items {
		fmt.Fprintf(&b, "\n- %s: %s", it.Name, formatPrice(it.Price, it.Currency))
		if it.Description != "" {
			fmt.Fprintf(&b, "\n  %s", it.Description)
		}
	}
	return b.String()
}

func writeLines(b *strings.Builder, lines []entities.CartLine, currency string) {
	for _, l := range lines {
		fmt.Fprintf(b, "\n- %d x %s @ %s = %s",
			l.Quantity, l.Name,
			formatPrice(l.Price, currency),
			formatPrice(l.Price*float64(l.Quantity), currency))
	}
}

func formatCart(cart entities.Cart) string {
	if len(cart.Lines) == 0 {
		return "🛒 Your cart is empty."
	}
	var b strings.Builder
	b.WriteString("🛒 *Your cart*")
	writeLines(&b, cart.Lines, cart.Currency)
	fmt.Fprintf(&b, "\n🏷️ *Total: %s*", formatPrice(cart.Total, cart.Currency))
	return b.String()
}

func formatOrder(order entities.Order) string {
	var b strings.Builder
	b.WriteString("✅ *Order placed*")
	fmt.Fprintf(&b, "\n🧾 Order ID: %s", order.OrderID)
	writeLines(&b, order.Items, order.Currency)
	fmt.Fprintf(&b, "\n🏷️ *Total: %s*", formatPrice(order.Total, order.Currency))
	if order.Status != "" {
		fmt.Fprintf(&b, "\n📦 Status: %s", order.Status)
	}
	return b.String()
}

// formatPrice prints whole amounts without decimals and groups thousands.
func formatPrice(amount float64, currency string) string {
	var digits string
	if amount == math.Trunc(amount) {
		digits = groupThousands(strconv.FormatFloat(math.Abs(amount), 'f', 0, 64))
	} else {
		s := strconv.FormatFloat(math.Abs(amount), 'f', 2, 64)
		dot := strings.IndexByte(s, '.')
		digits = groupThousands(s[:dot]) + s[dot:]
	}
	if amount < 0 {
		digits = "-" + digits
	}
	if currency == "" {
		return digits
	}
	return currency + " " + digits
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
