package infrastructure

import (
	"commercebot/internal/entities"
	"commercebot/internal/logger"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramBotInstance is one running bot bound to a platform account.
type TelegramBotInstance struct {
	Bot       *tgbotapi.BotAPI
	Account   entities.PlatformAccount
	StopChan  chan struct{}
	IsRunning bool
	mu        sync.Mutex
}

func (i *TelegramBotInstance) running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.IsRunning
}

// TelegramBotManager owns the bots of all Telegram accounts.
type TelegramBotManager struct {
	bots map[string]*TelegramBotInstance
	mu   sync.RWMutex

	// UpdateHandler receives every update of a polling bot.
	UpdateHandler func(account entities.PlatformAccount, update tgbotapi.Update)

	newBot func(token string) (*tgbotapi.BotAPI, error)
}

func NewTelegramBotManager() *TelegramBotManager {
	return &TelegramBotManager{
		bots:   make(map[string]*TelegramBotInstance),
		newBot: tgbotapi.NewBotAPI,
	}
}

// ValidateToken checks a token against the Bot API and returns the bot name.
func (m *TelegramBotManager) ValidateToken(token string) (string, error) {
	bot, err := m.newBot(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return bot.Self.UserName, nil
}

func (m *TelegramBotManager) instance(account entities.PlatformAccount) (*TelegramBotInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.bots[account.ID]; ok {
		return existing, nil
	}
	bot, err := m.newBot(account.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot for account %s: %w", account.ID, err)
	}
	inst := &TelegramBotInstance{Bot: bot, Account: account, StopChan: make(chan struct{})}
	m.bots[account.ID] = inst
	return inst, nil
}

// Client returns a dispatcher for the account, creating the bot on first use.
func (m *TelegramBotManager) Client(account entities.PlatformAccount) (*TelegramClient, error) {
	inst, err := m.instance(account)
	if err != nil {
		return nil, err
	}
	return NewTelegramClient(inst.Bot), nil
}

// ConnectBot starts long polling for the account.
func (m *TelegramBotManager) ConnectBot(account entities.PlatformAccount) (*TelegramBotInstance, error) {
	inst, err := m.instance(account)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.IsRunning {
		inst.IsRunning = true
		go m.startPolling(inst)
	}
	return inst, nil
}

func (m *TelegramBotManager) startPolling(inst *TelegramBotInstance) {
	log := logger.WithModule("telegram").WithField("account_id", inst.Account.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := inst.Bot.GetUpdatesChan(u)
	log.WithField("bot", inst.Bot.Self.UserName).Info("polling started")

	for {
		select {
		case <-inst.StopChan:
			inst.Bot.StopReceivingUpdates()
			inst.mu.Lock()
			inst.IsRunning = false
			inst.mu.Unlock()
			log.Info("polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				// clears the spinner on the tapped button
				if _, err := inst.Bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
					log.WithError(err).Debug("answer callback failed")
				}
			}
			if m.UpdateHandler != nil {
				go m.UpdateHandler(inst.Account, update)
			}
		}
	}
}

// DisconnectBot stops polling and forgets the bot.
func (m *TelegramBotManager) DisconnectBot(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.bots[accountID]; ok {
		if inst.running() {
			close(inst.StopChan)
		}
		delete(m.bots, accountID)
	}
}

// GetStatus reports whether the account's bot is polling.
func (m *TelegramBotManager) GetStatus(accountID string) (connected bool, botName string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if inst, ok := m.bots[accountID]; ok && inst.running() {
		return true, inst.Bot.Self.UserName
	}
	return false, ""
}

// DisconnectAll stops every bot (graceful shutdown).
func (m *TelegramBotManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inst := range m.bots {
		if inst.running() {
			close(inst.StopChan)
		}
	}
	m.bots = make(map[string]*TelegramBotInstance)
}
