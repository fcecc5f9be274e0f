package infrastructure

import (
	"bytes"
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	maxButtons        = 3
	maxButtonTitleLen = 20
	maxQuickReplies   = 13
)

// GraphClient is the shared transport for the Meta Graph API.
type GraphClient struct {
	baseURL    string
	version    string
	httpClient *http.Client
}

func NewGraphClient(baseURL, version string) *GraphClient {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	if version == "" {
		version = "v18.0"
	}
	return &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GraphError is a non-2xx Graph API answer.
type GraphError struct {
	StatusCode int
	Message    string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api: status %d: %s", e.StatusCode, e.Message)
}

func (g *GraphClient) post(ctx context.Context, path, token string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/%s", g.baseURL, g.version, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &GraphError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("graph api: decode response: %w", err)
		}
	}
	return nil
}

// WhatsAppBusinessClient sends through the WhatsApp Cloud API as one phone
// number id.
type WhatsAppBusinessClient struct {
	graph         *GraphClient
	accessToken   string
	phoneNumberID string
}

var _ interfaces.Dispatcher = (*WhatsAppBusinessClient)(nil)

func NewWhatsAppBusinessClient(graph *GraphClient, accessToken, phoneNumberID string) *WhatsAppBusinessClient {
	return &WhatsAppBusinessClient{
		graph:         graph,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
	}
}

type cloudSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (w *WhatsAppBusinessClient) send(ctx context.Context, to, kind string, body any) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              kind,
		kind:                body,
	}
	var out cloudSendResponse
	if err := w.graph.post(ctx, w.phoneNumberID+"/messages", w.accessToken, payload, &out); err != nil {
		return "", fmt.Errorf("whatsapp: send %s: %w", kind, err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

func (w *WhatsAppBusinessClient) SendText(ctx context.Context, to, text string) (string, error) {
	return w.send(ctx, to, "text", map[string]any{"body": text, "preview_url": false})
}

func (w *WhatsAppBusinessClient) SendImage(ctx context.Context, to, imageURL string) (string, error) {
	return w.send(ctx, to, "image", map[string]string{"link": imageURL})
}

func (w *WhatsAppBusinessClient) SendOptions(ctx context.Context, to, body string, options []entities.Option) (string, error) {
	if len(options) > maxButtons {
		options = options[:maxButtons]
	}
	buttons := make([]map[string]any, 0, len(options))
	for _, o := range options {
		buttons = append(buttons, map[string]any{
			"type":  "reply",
			"reply": map[string]string{"id": o.ID, "title": truncateRunes(o.Title, maxButtonTitleLen)},
		})
	}
	return w.send(ctx, to, "interactive", map[string]any{
		"type":   "button",
		"body":   map[string]string{"text": body},
		"action": map[string]any{"buttons": buttons},
	})
}

func (w *WhatsAppBusinessClient) MarkRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	payload := map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	if err := w.graph.post(ctx, w.phoneNumberID+"/messages", w.accessToken, payload, nil); err != nil {
		return fmt.Errorf("whatsapp: mark read: %w", err)
	}
	return nil
}

// MessengerClient sends through the Send API of a Facebook page or an
// Instagram professional account.
type MessengerClient struct {
	graph       *GraphClient
	accessToken string
}

var _ interfaces.Dispatcher = (*MessengerClient)(nil)

func NewMessengerClient(graph *GraphClient, accessToken string) *MessengerClient {
	return &MessengerClient{graph: graph, accessToken: accessToken}
}

type sendAPIResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (m *MessengerClient) send(ctx context.Context, to string, message any) (string, error) {
	payload := map[string]any{
		"recipient":      map[string]string{"id": to},
		"messaging_type": "RESPONSE",
		"message":        message,
	}
	var out sendAPIResponse
	if err := m.graph.post(ctx, "me/messages", m.accessToken, payload, &out); err != nil {
		return "", fmt.Errorf("messenger: send: %w", err)
	}
	return out.MessageID, nil
}

func (m *MessengerClient) SendText(ctx context.Context, to, text string) (string, error) {
	return m.send(ctx, to, map[string]string{"text": text})
}

func (m *MessengerClient) SendImage(ctx context.Context, to, imageURL string) (string, error) {
	return m.send(ctx, to, map[string]any{
		"attachment": map[string]any{
			"type":    "image",
			"payload": map[string]any{"url": imageURL, "is_reusable": true},
		},
	})
}

func (m *MessengerClient) SendOptions(ctx context.Context, to, body string, options []entities.Option) (string, error) {
	if len(options) > maxQuickReplies {
		options = options[:maxQuickReplies]
	}
	replies := make([]map[string]string, 0, len(options))
	for _, o := range options {
		replies = append(replies, map[string]string{
			"content_type": "text",
			"title":        truncateRunes(o.Title, maxButtonTitleLen),
			"payload":      o.ID,
		})
	}
	return m.send(ctx, to, map[string]any{"text": body, "quick_replies": replies})
}

// MarkRead is a no-op: read receipts are a WhatsApp-only feature here.
func (m *MessengerClient) MarkRead(context.Context, string) error {
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
