package http

import (
	"commercebot/internal/entities"
	"commercebot/internal/infrastructure"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TelegramBots is the part of the bot manager the handler drives.
type TelegramBots interface {
	ValidateToken(token string) (string, error)
	ConnectBot(account entities.PlatformAccount) (*infrastructure.TelegramBotInstance, error)
	DisconnectBot(accountID string)
	GetStatus(accountID string) (connected bool, botName string)
}

// TelegramHandler handles Telegram bot management endpoints
type TelegramHandler struct {
	bots     TelegramBots
	accounts AccountStore
}

func NewTelegramHandler(bots TelegramBots, accounts AccountStore) *TelegramHandler {
	return &TelegramHandler{
		bots:     bots,
		accounts: accounts,
	}
}

func (h *TelegramHandler) RegisterRoutes(api *gin.RouterGroup) {
	tg := api.Group("/telegram/:accountId")
	{
		tg.GET("/status", h.GetStatus)
		tg.POST("/token", h.SaveToken)
		tg.POST("/validate", h.ValidateToken)
		tg.POST("/connect", h.Connect)
		tg.POST("/disconnect", h.Disconnect)
	}
}

// GetStatus returns the polling status of the account's bot
func (h *TelegramHandler) GetStatus(c *gin.Context) {
	account, ok := ownedAccount(c, h.accounts, entities.PlatformTelegram)
	if !ok {
		return
	}

	connected, botName := h.bots.GetStatus(account.ID)
	c.JSON(http.StatusOK, gin.H{
		"has_token": account.AccessToken != "",
		"connected": connected,
		"bot_name":  botName,
	})
}

// SaveToken validates and stores the bot token. An empty token clears it.
func (h *TelegramHandler) SaveToken(c *gin.Context) {
	account, ok := ownedAccount(c, h.accounts, entities.PlatformTelegram)
	if !ok {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	req.Token = strings.TrimSpace(req.Token)

	if req.Token == "" {
		h.bots.DisconnectBot(account.ID)
		if err := h.accounts.SetAccessToken(c.Request.Context(), account.ID, ""); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
		return
	}

	botName, err := h.bots.ValidateToken(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid token: " + err.Error()})
		return
	}
	if err := h.accounts.SetAccessToken(c.Request.Context(), account.ID, req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save token"})
		return
	}
	// a running bot still polls with the old token
	h.bots.DisconnectBot(account.ID)

	c.JSON(http.StatusOK, gin.H{
		"status":   "saved",
		"bot_name": botName,
	})
}

// ValidateToken checks a token without saving it
func (h *TelegramHandler) ValidateToken(c *gin.Context) {
	if _, ok := ownedAccount(c, h.accounts, entities.PlatformTelegram); !ok {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	botName, err := h.bots.ValidateToken(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"bot_name": "@" + botName,
	})
}

// Connect starts long polling for the account's bot
func (h *TelegramHandler) Connect(c *gin.Context) {
	account, ok := ownedAccount(c, h.accounts, entities.PlatformTelegram)
	if !ok {
		return
	}
	if account.AccessToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No token configured. Please save your bot token first."})
		return
	}

	instance, err := h.bots.ConnectBot(*account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to connect: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "connected",
		"bot_name": "@" + instance.Bot.Self.UserName,
	})
}

func (h *TelegramHandler) Disconnect(c *gin.Context) {
	account, ok := ownedAccount(c, h.accounts, entities.PlatformTelegram)
	if !ok {
		return
	}
	h.bots.DisconnectBot(account.ID)
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
