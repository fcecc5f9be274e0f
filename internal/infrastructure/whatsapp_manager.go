package infrastructure

import (
	"commercebot/internal/entities"
	"commercebot/internal/logger"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WhatsAppManager manages the paired devices of whatsapp_web accounts.
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string

	// HandlerFactory builds the whatsmeow event handler of an account.
	HandlerFactory func(account entities.PlatformAccount) func(interface{})
}

func NewWhatsAppManager(baseDir string) *WhatsAppManager {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		logger.WithModule("whatsapp_web").WithError(err).Warn("could not create devices directory")
	}
	return &WhatsAppManager{
		clients: make(map[string]*WhatsAppClient),
		baseDir: baseDir,
	}
}

// GetClient returns the account's client, or nil.
func (m *WhatsAppManager) GetClient(accountID string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[accountID]
}

func (m *WhatsAppManager) GetOrCreateClient(ctx context.Context, account entities.PlatformAccount) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[account.ID]; ok {
		return client, nil
	}

	dbPath := filepath.Join(m.baseDir, fmt.Sprintf("account_%s.db", account.ID))
	client, err := NewWhatsAppClient(ctx, dbPath, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client for account %s: %w", account.ID, err)
	}
	if m.HandlerFactory != nil {
		client.AddHandler(m.HandlerFactory(account))
	}
	m.clients[account.ID] = client
	return client, nil
}

// ConnectClient connects the account's device, creating it if needed.
func (m *WhatsAppManager) ConnectClient(ctx context.Context, account entities.PlatformAccount) (*WhatsAppClient, error) {
	client, err := m.GetOrCreateClient(ctx, account)
	if err != nil {
		return nil, err
	}
	if client.Client.IsConnected() {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect WhatsApp for account %s: %w", account.ID, err)
	}
	return client, nil
}

// LogoutClient unpairs the device. Unknown or already logged out accounts
// are not an error.
func (m *WhatsAppManager) LogoutClient(ctx context.Context, accountID string) error {
	m.mu.Lock()
	client, ok := m.clients[accountID]
	delete(m.clients, accountID)
	m.mu.Unlock()

	if !ok || client == nil {
		return nil
	}
	if !client.IsLoggedIn() && !client.Client.IsConnected() {
		return nil
	}
	return client.Logout(ctx)
}

// ConnectedAccounts lists accounts with a paired device.
func (m *WhatsAppManager) ConnectedAccounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, client := range m.clients {
		if client.IsLoggedIn() {
			ids = append(ids, id)
		}
	}
	return ids
}

// DisconnectAll disconnects all clients (graceful shutdown).
func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		client.Disconnect()
	}
	m.clients = make(map[string]*WhatsAppClient)
}
