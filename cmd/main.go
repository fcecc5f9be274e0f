package main

import (
	"commercebot/internal/config"
	"commercebot/internal/entities"
	"commercebot/internal/infrastructure"
	"commercebot/internal/infrastructure/llm"
	"commercebot/internal/interfaces"
	api "commercebot/internal/interfaces/http"
	"commercebot/internal/logger"
	"commercebot/internal/repository"
	"commercebot/internal/usecases"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/types/events"
)

func main() {
	if err := run(); err != nil {
		logger.WithModule("main").WithError(err).Fatal("server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := logger.Init(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	}); err != nil {
		return err
	}
	log := logger.WithModule("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ParamPrefix != "" {
		params, err := infrastructure.NewParamStoreFromEnv(ctx)
		if err != nil {
			return err
		}
		if err := params.ResolveSecrets(ctx, cfg.ParamPrefix, map[string]*string{
			"JWT_SECRET":           &cfg.JWTSecret,
			"OPENAI_API_KEY":       &cfg.OpenAIAPIKey,
			"ANTHROPIC_API_KEY":    &cfg.AnthropicAPIKey,
			"GEMINI_API_KEY":       &cfg.GeminiAPIKey,
			"DEEPSEEK_API_KEY":     &cfg.DeepSeekAPIKey,
			"GROK_API_KEY":         &cfg.GrokAPIKey,
			"RETRIEVAL_API_KEY":    &cfg.RetrievalAPIKey,
			"WEBHOOK_VERIFY_TOKEN": &cfg.WebhookVerifyToken,
			"AMQP_URL":             &cfg.AMQPURL,
		}); err != nil {
			return err
		}
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	// Storage
	pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	chatbotRepo := repository.NewChatbotRepository(pg.Pool)
	conversationRepo := repository.NewConversationRepository(pg.Pool)
	ledgerRepo := repository.NewLedgerRepository(pg.Pool)
	orderRepo := repository.NewOrderRepository(pg.Pool)

	// Model providers and retrieval
	providers, err := llm.NewProviders([]llm.ProviderConfig{
		{Kind: entities.ProviderOpenAI, APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL},
		{Kind: entities.ProviderAnthropic, APIKey: cfg.AnthropicAPIKey, BaseURL: cfg.AnthropicBaseURL},
		{Kind: entities.ProviderGemini, APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL},
		{Kind: entities.ProviderDeepSeek, APIKey: cfg.DeepSeekAPIKey, BaseURL: cfg.DeepSeekBaseURL},
		{Kind: entities.ProviderGrok, APIKey: cfg.GrokAPIKey, BaseURL: cfg.GrokBaseURL},
	}, cfg.ProviderTimeout())
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		return errors.New("no model provider configured")
	}

	var retriever interfaces.Retriever
	if cfg.RetrievalURL != "" {
		rc, err := infrastructure.NewRetrievalClient(cfg.RetrievalURL, cfg.RetrievalAPIKey, cfg.RetrievalPageSize)
		if err != nil {
			return err
		}
		retriever = rc
	} else {
		log.Warn("RETRIEVAL_URL not set, knowledge base lookups disabled")
	}

	// Channels
	tgManager := infrastructure.NewTelegramBotManager()
	waManager := infrastructure.NewWhatsAppManager(cfg.DeviceDir)
	dispatchers := &infrastructure.Dispatchers{
		Graph:    infrastructure.NewGraphClient(cfg.GraphBaseURL, cfg.GraphAPIVersion),
		Telegram: tgManager,
		WhatsApp: waManager,
	}

	var publisher interfaces.EventPublisher = infrastructure.NoopPublisher{}
	if cfg.AMQPURL != "" {
		amqp, err := infrastructure.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer amqp.Close()
		publisher = amqp
	}

	// Usecases
	orderTools := usecases.NewOrderTools(orderRepo)
	router, err := usecases.NewModelRouter(providers, retriever, ledgerRepo)
	if err != nil {
		return err
	}
	router.WithTools(orderTools.Definitions())

	messageService := usecases.NewMessageService(
		chatbotRepo,
		conversationRepo,
		dispatchers,
		usecases.NewFlowEngine(cfg.SendDelay()),
		router,
	).
		WithOrderTools(orderTools).
		WithDeliveryFilter(infrastructure.NewDeliveryGuard(cfg.DedupeTTL())).
		WithPublisher(publisher).
		WithStaleAfter(cfg.StaleAfter())

	dashboard := usecases.NewDashboardUsecase(chatbotRepo, ledgerRepo, router)

	// HTTP
	senderLimiter := infrastructure.NewMessageRateLimiter(float64(cfg.WebhookRatePerSec), cfg.WebhookBurst)
	teamLimiter := infrastructure.NewMessageRateLimiter(5, 10)
	go pruneLimiters(ctx, senderLimiter, teamLimiter)

	handler := api.NewHandler(messageService, dashboard, chatbotRepo, waManager, cfg.WebhookVerifyToken, senderLimiter)

	tgManager.UpdateHandler = func(account entities.PlatformAccount, update tgbotapi.Update) {
		if ev, ok := infrastructure.TelegramUpdateToEvent(account.ExternalID, update); ok {
			handler.Dispatch(ev)
		}
	}
	waManager.HandlerFactory = func(account entities.PlatformAccount) func(interface{}) {
		return func(evt interface{}) {
			switch v := evt.(type) {
			case *events.Message:
				if ev, ok := infrastructure.WhatsAppEventToEvent(account.ExternalID, v); ok {
					handler.Dispatch(ev)
				}
			}
		}
	}
	reconnectSessions(ctx, chatbotRepo, tgManager, waManager)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	api.SetupRoutes(r, handler, api.NewTelegramHandler(tgManager, chatbotRepo), api.NewMiddleware(cfg.JWTSecret, teamLimiter))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	tgManager.DisconnectAll()
	waManager.DisconnectAll()
	return nil
}

// reconnectSessions resumes Telegram polling and paired WhatsApp devices of
// every account that had one before the restart.
func reconnectSessions(ctx context.Context, accounts *repository.ChatbotRepository, tg *infrastructure.TelegramBotManager, wa *infrastructure.WhatsAppManager) {
	log := logger.WithModule("main")

	bots, err := accounts.ListAccounts(ctx, entities.PlatformTelegram)
	if err != nil {
		log.WithError(err).Error("listing telegram accounts failed")
	}
	for _, account := range bots {
		if account.AccessToken == "" {
			continue
		}
		if _, err := tg.ConnectBot(account); err != nil {
			log.WithError(err).WithField("account_id", account.ID).Warn("telegram reconnect failed")
		}
	}

	devices, err := accounts.ListAccounts(ctx, entities.PlatformWhatsAppWeb)
	if err != nil {
		log.WithError(err).Error("listing whatsapp web accounts failed")
	}
	for _, account := range devices {
		client, err := wa.GetOrCreateClient(ctx, account)
		if err != nil {
			log.WithError(err).WithField("account_id", account.ID).Warn("whatsapp web client failed")
			continue
		}
		// unpaired devices wait for a dashboard QR request
		if client.Client.Store.ID == nil {
			continue
		}
		if err := client.Connect(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).WithField("account_id", account.ID).Warn("whatsapp web reconnect failed")
		}
	}
	log.WithFields(logrus.Fields{
		"telegram":     len(bots),
		"whatsapp_web": len(wa.ConnectedAccounts()),
	}).Info("sessions restored")
}

func pruneLimiters(ctx context.Context, limiters ...*infrastructure.MessageRateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range limiters {
				l.Prune()
			}
		}
	}
}
