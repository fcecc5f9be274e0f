package infrastructure

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramSender is the part of *tgbotapi.BotAPI the dispatcher needs.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramClient struct {
	bot telegramSender
}

var _ interfaces.Dispatcher = (*TelegramClient)(nil)

func NewTelegramClient(bot telegramSender) *TelegramClient {
	return &TelegramClient{bot: bot}
}

func parseChatID(to string) (int64, error) {
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", to, err)
	}
	return id, nil
}

func (t *TelegramClient) send(c tgbotapi.Chattable) (string, error) {
	sent, err := t.bot.Send(c)
	if err != nil {
		return "", fmt.Errorf("telegram: send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *TelegramClient) SendText(_ context.Context, to, text string) (string, error) {
	chatID, err := parseChatID(to)
	if err != nil {
		return "", err
	}
	return t.send(tgbotapi.NewMessage(chatID, text))
}

func (t *TelegramClient) SendImage(_ context.Context, to, imageURL string) (string, error) {
	chatID, err := parseChatID(to)
	if err != nil {
		return "", err
	}
	return t.send(tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL)))
}

func (t *TelegramClient) SendOptions(_ context.Context, to, body string, options []entities.Option) (string, error) {
	chatID, err := parseChatID(to)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, body)
	msg.ReplyMarkup = OptionsKeyboard(options)
	return t.send(msg)
}

func (t *TelegramClient) MarkRead(context.Context, string) error {
	return nil
}

// OptionsKeyboard lays options out one button per row; the callback data is
// the option id.
func OptionsKeyboard(options []entities.Option) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, o := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(o.Title, o.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// TelegramUpdateToEvent normalizes a bot update. Updates that are neither a
// text message nor a callback are skipped.
func TelegramUpdateToEvent(botAccountID string, update tgbotapi.Update) (entities.InboundEvent, bool) {
	switch {
	case update.Message != nil && update.Message.Text != "" && update.Message.Chat != nil:
		m := update.Message
		return entities.InboundEvent{
			Platform:          entities.PlatformTelegram,
			PlatformAccountID: botAccountID,
			SenderID:          strconv.FormatInt(m.Chat.ID, 10),
			RecipientID:       botAccountID,
			TimestampSeconds:  int64(m.Date),
			Text:              m.Text,
			MessageID:         strconv.Itoa(m.MessageID),
		}, true

	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		cb := update.CallbackQuery
		return entities.InboundEvent{
			Platform:          entities.PlatformTelegram,
			PlatformAccountID: botAccountID,
			SenderID:          strconv.FormatInt(cb.Message.Chat.ID, 10),
			RecipientID:       botAccountID,
			PostbackPayload:   cb.Data,
			PostbackTitle:     callbackButtonTitle(cb),
			MessageID:         cb.ID,
		}, true
	}
	return entities.InboundEvent{}, false
}

func callbackButtonTitle(cb *tgbotapi.CallbackQuery) string {
	if cb.Message.ReplyMarkup == nil {
		return ""
	}
	for _, row := range cb.Message.ReplyMarkup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil && *btn.CallbackData == cb.Data {
				return btn.Text
			}
		}
	}
	return ""
}
