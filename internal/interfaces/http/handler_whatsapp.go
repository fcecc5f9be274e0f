package http

import (
	"commercebot/internal/entities"
	"commercebot/internal/logger"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

// ========================================
// Paired WhatsApp device handlers
// ========================================

// ConnectWhatsApp creates and connects the account's paired device
func (h *Handler) ConnectWhatsApp(c *gin.Context) {
	if h.waManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp not configured"})
		return
	}
	account, ok := ownedAccount(c, h.accounts, entities.PlatformWhatsAppWeb)
	if !ok {
		return
	}

	// pairing outlives the request
	client, err := h.waManager.ConnectClient(context.WithoutCancel(c.Request.Context()), *account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	phone, name := client.GetUserInfo()
	c.JSON(http.StatusOK, gin.H{
		"status":    "connecting",
		"connected": client.IsLoggedIn(),
		"phone":     phone,
		"name":      name,
	})
}

// GetWhatsAppQR returns the pairing QR code as PNG
func (h *Handler) GetWhatsAppQR(c *gin.Context) {
	if h.waManager == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp not configured")
		return
	}
	account, ok := ownedAccount(c, h.accounts, entities.PlatformWhatsAppWeb)
	if !ok {
		return
	}

	client, err := h.waManager.GetOrCreateClient(c.Request.Context(), *account)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to create client: "+err.Error())
		return
	}

	if client.Client.Store.ID == nil && !client.Client.IsConnected() {
		if err := client.Connect(context.WithoutCancel(c.Request.Context())); err != nil {
			c.String(http.StatusInternalServerError, "Failed to connect: "+err.Error())
			return
		}
	}

	code := client.GetQR()
	if code == "" {
		if client.IsLoggedIn() {
			c.String(http.StatusOK, "Already logged in")
			return
		}
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) GetWhatsAppStatus(c *gin.Context) {
	if h.waManager == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "WhatsApp not configured"})
		return
	}
	account, ok := ownedAccount(c, h.accounts, entities.PlatformWhatsAppWeb)
	if !ok {
		return
	}

	client := h.waManager.GetClient(account.ID)
	if client == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "initialized": false})
		return
	}

	phone, name := client.GetUserInfo()
	c.JSON(http.StatusOK, gin.H{
		"connected":   client.IsLoggedIn(),
		"initialized": true,
		"phone":       phone,
		"name":        name,
		"hasQR":       client.GetQR() != "",
	})
}

// LogoutWhatsApp unpairs the device
func (h *Handler) LogoutWhatsApp(c *gin.Context) {
	if h.waManager == nil {
		c.JSON(http.StatusOK, gin.H{"status": "logged_out", "message": "WhatsApp not configured"})
		return
	}
	account, ok := ownedAccount(c, h.accounts, entities.PlatformWhatsAppWeb)
	if !ok {
		return
	}

	// the session is gone either way
	if err := h.waManager.LogoutClient(c.Request.Context(), account.ID); err != nil {
		logger.WithModule("whatsapp_web").WithError(err).WithField("account_id", account.ID).Warn("logout failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
