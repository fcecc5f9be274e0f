package infrastructure

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"fmt"
)

// Dispatchers picks the outbound client for a platform account.
type Dispatchers struct {
	Graph    *GraphClient
	Telegram *TelegramBotManager
	WhatsApp *WhatsAppManager
}

var _ interfaces.DispatcherResolver = (*Dispatchers)(nil)

func (d *Dispatchers) Dispatcher(account entities.PlatformAccount) (interfaces.Dispatcher, error) {
	switch account.Platform {
	case entities.PlatformWhatsApp:
		if d.Graph == nil {
			return nil, fmt.Errorf("dispatch: graph client not configured")
		}
		return NewWhatsAppBusinessClient(d.Graph, account.AccessToken, account.ExternalID), nil

	case entities.PlatformInstagram, entities.PlatformMessenger:
		if d.Graph == nil {
			return nil, fmt.Errorf("dispatch: graph client not configured")
		}
		return NewMessengerClient(d.Graph, account.AccessToken), nil

	case entities.PlatformTelegram:
		if d.Telegram == nil {
			return nil, fmt.Errorf("dispatch: telegram not configured")
		}
		return d.Telegram.Client(account)

	case entities.PlatformWhatsAppWeb:
		if d.WhatsApp == nil {
			return nil, fmt.Errorf("dispatch: whatsapp web not configured")
		}
		client := d.WhatsApp.GetClient(account.ID)
		if client == nil {
			return nil, fmt.Errorf("dispatch: whatsapp web account %s is not connected", account.ID)
		}
		return client, nil
	}
	return nil, fmt.Errorf("dispatch: unsupported platform %q", account.Platform)
}
