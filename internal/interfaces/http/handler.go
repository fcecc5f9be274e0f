package http

import (
	"commercebot/internal/entities"
	"commercebot/internal/infrastructure"
	"commercebot/internal/logger"
	"commercebot/internal/usecases"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// inboundTimeout bounds one webhook event, including flow pacing and the
// model call.
const inboundTimeout = 3 * time.Minute

type InboundHandler interface {
	HandleInbound(ctx context.Context, event entities.InboundEvent) error
}

// Dashboard is the configuration API the dashboard routes call.
type Dashboard interface {
	Authorize(ctx context.Context, teamID, chatbotID string) error
	GetFlow(ctx context.Context, chatbotID string) (*entities.Flow, error)
	SaveFlow(ctx context.Context, flow entities.Flow) error
	GetAISettings(ctx context.Context, chatbotID string) (entities.AISettings, error)
	SaveAISettings(ctx context.Context, chatbotID string, s entities.AISettings) (entities.AISettings, error)
	Playground(ctx context.Context, in usecases.PlaygroundInput) (usecases.GenerateOutput, error)
	CreditStatus(ctx context.Context, teamID string) (entities.CreditStatus, error)
}

type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*entities.PlatformAccount, error)
	SetAccessToken(ctx context.Context, accountID, token string) error
}

type Limiter interface {
	Allow(key string) bool
}

type Handler struct {
	inbound     InboundHandler
	dashboard   Dashboard
	accounts    AccountStore
	waManager   *infrastructure.WhatsAppManager
	verifyToken string
	limiter     Limiter

	// async runs webhook work after the response is written
	async func(func())
}

func NewHandler(inbound InboundHandler, dashboard Dashboard, accounts AccountStore, waManager *infrastructure.WhatsAppManager, verifyToken string, limiter Limiter) *Handler {
	return &Handler{
		inbound:     inbound,
		dashboard:   dashboard,
		accounts:    accounts,
		waManager:   waManager,
		verifyToken: verifyToken,
		limiter:     limiter,
		async:       func(f func()) { go f() },
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, telegramHandler *TelegramHandler, middleware *Middleware) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20)) // 10MB max request size
	r.Use(middleware.CORSMiddleware())

	// Platform webhooks
	r.GET("/webhook/whatsapp", h.VerifyWebhook)
	r.POST("/webhook/whatsapp", h.HandleCloudWebhook)
	r.GET("/webhook/meta", h.VerifyWebhook)
	r.POST("/webhook/meta", h.HandleMetaWebhook)

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerTeam())
	{
		bots := api.Group("/chatbots/:id")
		bots.Use(h.ChatbotAccess())
		{
			bots.GET("/flow", h.GetFlow)
			bots.PUT("/flow", h.SaveFlow)
			bots.GET("/ai-settings", h.GetAISettings)
			bots.PUT("/ai-settings", h.SaveAISettings)
			bots.POST("/playground", h.Playground)
		}

		api.GET("/credits", h.GetCredits)

		wa := api.Group("/whatsapp/:accountId")
		{
			wa.POST("/connect", h.ConnectWhatsApp)
			wa.GET("/qr", h.GetWhatsAppQR)
			wa.GET("/status", h.GetWhatsAppStatus)
			wa.POST("/logout", h.LogoutWhatsApp)
		}

		telegramHandler.RegisterRoutes(api)
	}
}

// VerifyWebhook answers the Meta subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	if c.Query("hub.mode") != "subscribe" || h.verifyToken == "" || c.Query("hub.verify_token") != h.verifyToken {
		c.String(http.StatusForbidden, "Verification failed")
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

func (h *Handler) HandleCloudWebhook(c *gin.Context) {
	var body cloudWebhook
	if err := c.ShouldBindJSON(&body); err != nil {
		// webhooks always acknowledge
		logger.WithModule("webhook").WithError(err).WithField("source", "cloud").Warn("unreadable payload")
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}
	h.dispatch(cloudEvents(body))
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (h *Handler) HandleMetaWebhook(c *gin.Context) {
	var body metaWebhook
	if err := c.ShouldBindJSON(&body); err != nil {
		// webhooks always acknowledge
		logger.WithModule("webhook").WithError(err).WithField("source", "meta").Warn("unreadable payload")
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}
	h.dispatch(metaEvents(body))
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// Dispatch hands an event from a non-webhook source (Telegram polling, a
// paired device) to the same pipeline.
func (h *Handler) Dispatch(event entities.InboundEvent) {
	h.dispatch([]entities.InboundEvent{event})
}

func (h *Handler) dispatch(events []entities.InboundEvent) {
	log := logger.WithModule("webhook")
	for _, ev := range events {
		if h.limiter != nil && !h.limiter.Allow(string(ev.Platform)+":"+ev.SenderID) {
			log.WithFields(logrus.Fields{
				"platform": ev.Platform,
				"sender":   ev.SenderID,
			}).Warn("sender rate limited, event dropped")
			continue
		}
		h.async(func() {
			ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
			defer cancel()
			if err := h.inbound.HandleInbound(ctx, ev); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"platform":   ev.Platform,
					"message_id": ev.MessageID,
				}).Error("inbound event failed")
			}
		})
	}
}

// ownedAccount loads :accountId and checks it belongs to the caller's team
// and platform. It writes the error response itself.
func ownedAccount(c *gin.Context, accounts AccountStore, platform entities.Platform) (*entities.PlatformAccount, bool) {
	id := c.Param("accountId")
	if !ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return nil, false
	}
	account, err := accounts.GetAccount(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return nil, false
	}
	if account == nil || account.TeamID != getTeamID(c) || account.Platform != platform {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return nil, false
	}
	return account, true
}
