package infrastructure

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"commercebot/internal/logger"
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// WhatsAppClient is a paired WhatsApp device (whatsmeow) serving one
// platform account. It has no buttons, so options go out as a numbered list.
type WhatsAppClient struct {
	Client  *whatsmeow.Client
	Account entities.PlatformAccount

	qrCode string
	qrLock sync.RWMutex
}

var _ interfaces.Dispatcher = (*WhatsAppClient)(nil)

func NewWhatsAppClient(ctx context.Context, dbPath string, account entities.PlatformAccount) (*WhatsAppClient, error) {
	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	return &WhatsAppClient{
		Client:  whatsmeow.NewClient(deviceStore, clientLog),
		Account: account,
	}, nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	log := logger.WithModule("whatsapp_web").WithField("account_id", w.Account.ID)
	for evt := range qrChan {
		if evt.Event == "code" {
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			log.Debug("new pairing code")
		} else {
			log.WithField("event", evt.Event).Info("login event")
		}
	}
}

func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		return w.Client.Connect()
	}
	qrChan, _ := w.Client.GetQRChannel(ctx)
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

// GetUserInfo returns the paired phone number and push name.
func (w *WhatsAppClient) GetUserInfo() (string, string) {
	if w.Client.Store.ID == nil {
		return "", ""
	}
	return w.Client.Store.ID.User, w.Client.Store.PushName
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()

	if err := w.Client.Logout(ctx); err != nil {
		return err
	}
	w.Client.Disconnect()
	return nil
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

func userJID(to string) (types.JID, error) {
	if !strings.Contains(to, "@") {
		to += "@" + types.DefaultUserServer
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid number format: %w", err)
	}
	return jid, nil
}

func (w *WhatsAppClient) SendText(ctx context.Context, to, text string) (string, error) {
	jid, err := userJID(to)
	if err != nil {
		return "", err
	}
	resp, err := w.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &text,
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp web: send: %w", err)
	}
	return resp.ID, nil
}

// SendImage sends the link; WhatsApp renders a preview for it.
func (w *WhatsAppClient) SendImage(ctx context.Context, to, imageURL string) (string, error) {
	return w.SendText(ctx, to, imageURL)
}

func (w *WhatsAppClient) SendOptions(ctx context.Context, to, body string, options []entities.Option) (string, error) {
	return w.SendText(ctx, to, NumberedOptions(body, options))
}

func (w *WhatsAppClient) MarkRead(context.Context, string) error {
	return nil
}

// NumberedOptions renders options for platforms without buttons.
func NumberedOptions(body string, options []entities.Option) string {
	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("\n")
	for i, o := range options {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, o.Title)
	}
	sb.WriteString("\n\n_Reply with a number to choose_")
	return sb.String()
}

// WhatsAppEventToEvent normalizes a whatsmeow message event. Group chats,
// own messages and non-text messages are skipped.
func WhatsAppEventToEvent(accountID string, evt *events.Message) (entities.InboundEvent, bool) {
	if evt == nil || evt.Info.IsGroup || evt.Info.IsFromMe || evt.Message == nil {
		return entities.InboundEvent{}, false
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return entities.InboundEvent{}, false
	}
	return entities.InboundEvent{
		Platform:          entities.PlatformWhatsAppWeb,
		PlatformAccountID: accountID,
		SenderID:          evt.Info.Sender.User,
		RecipientID:       accountID,
		TimestampSeconds:  evt.Info.Timestamp.Unix(),
		Text:              text,
		MessageID:         evt.Info.ID,
	}, true
}
