package http

import (
	"commercebot/internal/entities"
	"strconv"
)

// WhatsApp Cloud API webhook body.
type cloudWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []cloudMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		Type        string     `json:"type"`
		ButtonReply *cloudPick `json:"button_reply"`
		ListReply   *cloudPick `json:"list_reply"`
	} `json:"interactive"`
	Button struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
}

type cloudPick struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// cloudEvents flattens a Cloud API delivery. Status updates and message
// types the engine cannot answer are skipped.
func cloudEvents(body cloudWebhook) []entities.InboundEvent {
	var out []entities.InboundEvent
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			phoneID := change.Value.Metadata.PhoneNumberID
			for _, m := range change.Value.Messages {
				ts, _ := strconv.ParseInt(m.Timestamp, 10, 64)
				ev := entities.InboundEvent{
					Platform:          entities.PlatformWhatsApp,
					PlatformAccountID: phoneID,
					SenderID:          m.From,
					RecipientID:       phoneID,
					TimestampSeconds:  ts,
					MessageID:         m.ID,
				}
				switch m.Type {
				case "text":
					ev.Text = m.Text.Body
				case "interactive":
					pick := m.Interactive.ButtonReply
					if pick == nil {
						pick = m.Interactive.ListReply
					}
					if pick == nil {
						continue
					}
					ev.PostbackPayload = pick.ID
					ev.PostbackTitle = pick.Title
				case "button":
					ev.PostbackPayload = m.Button.Payload
					ev.PostbackTitle = m.Button.Text
				default:
					continue
				}
				if ev.Content() == "" {
					continue
				}
				out = append(out, ev)
			}
		}
	}
	return out
}

// Messenger and Instagram webhook body.
type metaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string          `json:"id"`
		Messaging []metaMessaging `json:"messaging"`
	} `json:"entry"`
}

type metaMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID        string `json:"mid"`
		Text       string `json:"text"`
		IsEcho     bool   `json:"is_echo"`
		QuickReply *struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
	Postback *struct {
		MID     string `json:"mid"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

func metaEvents(body metaWebhook) []entities.InboundEvent {
	platform := entities.PlatformMessenger
	if body.Object == "instagram" {
		platform = entities.PlatformInstagram
	}

	var out []entities.InboundEvent
	for _, entry := range body.Entry {
		for _, m := range entry.Messaging {
			ev := entities.InboundEvent{
				Platform:          platform,
				PlatformAccountID: entry.ID,
				SenderID:          m.Sender.ID,
				RecipientID:       m.Recipient.ID,
				// Meta timestamps are milliseconds
				TimestampSeconds: m.Timestamp / 1000,
			}
			switch {
			case m.Message != nil && !m.Message.IsEcho:
				ev.MessageID = m.Message.MID
				ev.Text = m.Message.Text
				if m.Message.QuickReply != nil {
					ev.PostbackPayload = m.Message.QuickReply.Payload
					ev.PostbackTitle = m.Message.Text
				}
			case m.Postback != nil:
				ev.MessageID = m.Postback.MID
				ev.PostbackPayload = m.Postback.Payload
				ev.PostbackTitle = m.Postback.Title
			default:
				continue
			}
			if ev.Content() == "" {
				continue
			}
			out = append(out, ev)
		}
	}
	return out
}
