package http

import (
	"bytes"
	"commercebot/internal/entities"
	"commercebot/internal/infrastructure"
	"commercebot/internal/usecases"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeInbound struct {
	mu     sync.Mutex
	events []entities.InboundEvent
}

func (f *fakeInbound) HandleInbound(_ context.Context, event entities.InboundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeDashboard struct {
	owners  map[string]string
	flow    *entities.Flow
	saveErr error
	saved   *entities.Flow
	reply   usecases.GenerateOutput
	played  usecases.PlaygroundInput
}

func (d *fakeDashboard) Authorize(_ context.Context, teamID, chatbotID string) error {
	if d.owners[chatbotID] != teamID {
		return &usecases.Error{Code: usecases.ErrorNotFound, Reason: "chatbot_not_found"}
	}
	return nil
}

func (d *fakeDashboard) GetFlow(_ context.Context, chatbotID string) (*entities.Flow, error) {
	if d.flow == nil {
		return &entities.Flow{ChatbotID: chatbotID}, nil
	}
	return d.flow, nil
}

func (d *fakeDashboard) SaveFlow(_ context.Context, flow entities.Flow) error {
	if d.saveErr != nil {
		return d.saveErr
	}
	d.saved = &flow
	return nil
}

func (d *fakeDashboard) GetAISettings(context.Context, string) (entities.AISettings, error) {
	return entities.AISettings{}.WithDefaults(), nil
}

func (d *fakeDashboard) SaveAISettings(_ context.Context, _ string, s entities.AISettings) (entities.AISettings, error) {
	return s.WithDefaults(), nil
}

func (d *fakeDashboard) Playground(_ context.Context, in usecases.PlaygroundInput) (usecases.GenerateOutput, error) {
	d.played = in
	return d.reply, nil
}

func (d *fakeDashboard) CreditStatus(_ context.Context, teamID string) (entities.CreditStatus, error) {
	return entities.Team{ID: teamID, Plan: "starter", Credits: 500}.Status(), nil
}

type fakeAccounts struct {
	accounts map[string]entities.PlatformAccount
	tokens   map[string]string
}

func (a *fakeAccounts) GetAccount(_ context.Context, id string) (*entities.PlatformAccount, error) {
	acc, ok := a.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (a *fakeAccounts) SetAccessToken(_ context.Context, accountID, token string) error {
	a.tokens[accountID] = token
	return nil
}

type fakeBots struct {
	connected    []string
	disconnected []string
}

func (b *fakeBots) ValidateToken(token string) (string, error) {
	if token != "123:good" {
		return "", errors.New("unauthorized")
	}
	return "shop_bot", nil
}

func (b *fakeBots) ConnectBot(account entities.PlatformAccount) (*infrastructure.TelegramBotInstance, error) {
	b.connected = append(b.connected, account.ID)
	return &infrastructure.TelegramBotInstance{
		Bot:     &tgbotapi.BotAPI{Self: tgbotapi.User{UserName: "shop_bot"}},
		Account: account,
	}, nil
}

func (b *fakeBots) DisconnectBot(accountID string) {
	b.disconnected = append(b.disconnected, accountID)
}

func (b *fakeBots) GetStatus(string) (bool, string) { return true, "shop_bot" }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type routerFixture struct {
	engine    *gin.Engine
	handler   *Handler
	inbound   *fakeInbound
	dashboard *fakeDashboard
	accounts  *fakeAccounts
	bots      *fakeBots
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &routerFixture{
		engine:    gin.New(),
		inbound:   &fakeInbound{},
		dashboard: &fakeDashboard{owners: map[string]string{"cb1": "t1"}},
		accounts: &fakeAccounts{
			accounts: map[string]entities.PlatformAccount{
				"tg1": {ID: "tg1", ChatbotID: "cb1", TeamID: "t1", Platform: entities.PlatformTelegram, AccessToken: "123:good"},
				"tg2": {ID: "tg2", ChatbotID: "cb1", TeamID: "t1", Platform: entities.PlatformTelegram},
				"wa1": {ID: "wa1", ChatbotID: "cb1", TeamID: "t1", Platform: entities.PlatformWhatsApp},
				"tg9": {ID: "tg9", ChatbotID: "cb9", TeamID: "t9", Platform: entities.PlatformTelegram},
			},
			tokens: map[string]string{},
		},
		bots: &fakeBots{},
	}
	f.handler = NewHandler(f.inbound, f.dashboard, f.accounts, nil, "verify-me", nil)
	f.handler.async = func(fn func()) { fn() }

	SetupRoutes(f.engine, f.handler, NewTelegramHandler(f.bots, f.accounts), NewMiddleware(testSecret, nil))
	return f
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (f *routerFixture) do(t *testing.T, method, path, body, teamID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if teamID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, jwt.MapClaims{"team_id": teamID, "user_id": "u1"}))
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestVerifyWebhook(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "42", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/webhook/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

const cloudTextBody = `{"object":"whatsapp_business_account","entry":[{"id":"W","changes":[{"field":"messages","value":{
	"metadata":{"phone_number_id":"PHONE1"},
	"messages":[{"from":"628111","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"hello"}}]}}]}]}`

func TestCloudWebhook_Dispatches(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/webhook/whatsapp", cloudTextBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "received", jsonBody(t, rec)["status"])
	require.Len(t, f.inbound.events, 1)
	require.Equal(t, "hello", f.inbound.events[0].Text)
	require.Equal(t, "PHONE1", f.inbound.events[0].PlatformAccountID)
}

func TestMetaWebhook_Dispatches(t *testing.T) {
	f := newRouterFixture(t)

	body := `{"object":"instagram","entry":[{"id":"IG1","messaging":[
		{"sender":{"id":"u1"},"recipient":{"id":"IG1"},"timestamp":1700000000000,"message":{"mid":"m1","text":"hi"}}]}]}`
	rec := f.do(t, http.MethodPost, "/webhook/meta", body, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.inbound.events, 1)
	require.Equal(t, entities.PlatformInstagram, f.inbound.events[0].Platform)
}

func TestWebhook_InvalidBodyStillAcknowledged(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/webhook/whatsapp", "/webhook/meta"} {
		rec := f.do(t, http.MethodPost, path, "{not json", "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, "received", jsonBody(t, rec)["status"], path)
	}
	require.Empty(t, f.inbound.events)
}

func TestWebhook_SenderRateLimited(t *testing.T) {
	f := newRouterFixture(t)
	f.handler.limiter = denyAll{}

	rec := f.do(t, http.MethodPost, "/webhook/whatsapp", cloudTextBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, f.inbound.events)
}

func TestAuthRequired(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/credits", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, jwt.MapClaims{"user_id": "u1"}))
	rec = httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitPerTeam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m := NewMiddleware(testSecret, denyAll{})
	r.GET("/x", m.AuthRequired(), m.RateLimitPerTeam(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, jwt.MapClaims{"team_id": "t1"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/credits", "", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestChatbotRoutes_TeamScoped(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/chatbots/cb1/flow", "", "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cb1", jsonBody(t, rec)["chatbot_id"])

	rec = f.do(t, http.MethodGet, "/api/chatbots/cb1/flow", "", "t2")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", jsonBody(t, rec)["error"])

	rec = f.do(t, http.MethodGet, "/api/chatbots/bad%20id/flow", "", "t1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveFlow(t *testing.T) {
	f := newRouterFixture(t)

	body := `{"graph":{"nodes":[{"id":"n1","type":"message","data":{"message":"Hi\u0000"}}],"edges":[]},
		"settings":{"flowEnabled":true,"aiResponseEnabled":true,"restartTimeoutMinutes":30}}`
	rec := f.do(t, http.MethodPut, "/api/chatbots/cb1/flow", body, "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.dashboard.saved)
	require.Equal(t, "cb1", f.dashboard.saved.ChatbotID)
	require.Equal(t, "Hi", f.dashboard.saved.Graph.Nodes[0].Data.Message)
	require.True(t, f.dashboard.saved.Settings.FlowEnabled)

	f.dashboard.saveErr = &usecases.Error{Code: usecases.ErrorInvalidInput, Reason: "invalid_flow_graph"}
	rec = f.do(t, http.MethodPut, "/api/chatbots/cb1/flow", body, "t1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_flow_graph", jsonBody(t, rec)["reason"])
}

func TestSaveAISettings(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPut, "/api/chatbots/cb1/ai-settings", `{"model":"gpt-4o-mini","language":"id"}`, "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	out := jsonBody(t, rec)
	require.Equal(t, "id", out["language"])
	require.Equal(t, entities.DefaultTemperature, out["temperature"])

	long := bytes.Repeat([]byte("a"), MaxPromptLength+1)
	rec = f.do(t, http.MethodPut, "/api/chatbots/cb1/ai-settings", `{"systemPrompt":"`+string(long)+`"}`, "t1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlayground(t *testing.T) {
	f := newRouterFixture(t)
	f.dashboard.reply = usecases.GenerateOutput{Text: "We open at 9. :::85", Reasoning: "hours listed", CreditsCharged: 1}

	rec := f.do(t, http.MethodPost, "/api/chatbots/cb1/playground",
		`{"messages":[{"role":"user","content":"When do you open?"}]}`, "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	out := jsonBody(t, rec)
	require.Equal(t, "We open at 9.", out["answer"])
	require.EqualValues(t, 85, out["confidence"])
	require.Equal(t, "hours listed", out["reasoning"])
	require.Equal(t, "t1", f.dashboard.played.TeamID)
	require.Equal(t, "cb1", f.dashboard.played.ChatbotID)

	f.dashboard.reply = usecases.GenerateOutput{Text: usecases.LimitReachedMessage, Gated: true}
	rec = f.do(t, http.MethodPost, "/api/chatbots/cb1/playground",
		`{"messages":[{"role":"user","content":"again"}]}`, "t1")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestGetCredits(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/credits", "", "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	out := jsonBody(t, rec)
	require.Equal(t, "starter", out["plan"])
	require.EqualValues(t, 1500, out["remaining"])
}

func TestTelegramRoutes(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/telegram/tg1/connect", "", "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "@shop_bot", jsonBody(t, rec)["bot_name"])
	require.Equal(t, []string{"tg1"}, f.bots.connected)

	rec = f.do(t, http.MethodPost, "/api/telegram/tg2/connect", "", "t1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/telegram/tg9/status", "", "t1")
	require.Equal(t, http.StatusNotFound, rec.Code)

	// not a telegram account
	rec = f.do(t, http.MethodGet, "/api/telegram/wa1/status", "", "t1")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/telegram/tg2/token", `{"token":"nope"}`, "t1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.accounts.tokens)

	rec = f.do(t, http.MethodPost, "/api/telegram/tg2/token", `{"token":"123:good"}`, "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "123:good", f.accounts.tokens["tg2"])

	rec = f.do(t, http.MethodPost, "/api/telegram/tg1/disconnect", "", "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, f.bots.disconnected, "tg1")
}

func TestWhatsAppRoutes_NotConfigured(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/whatsapp/wa1/connect", "", "t1")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/whatsapp/wa1/status", "", "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, jsonBody(t, rec)["connected"])
}

func TestSplitConfidence(t *testing.T) {
	for _, tc := range []struct {
		in     string
		answer string
		score  int
	}{
		{"The answer is 42:::87", "The answer is 42", 87},
		{"No score here", "No score here", NoConfidence},
		{"Unsure:::-1", "Unsure", NoConfidence},
		{"Odd:::high", "Odd", NoConfidence},
		{"Too sure:::150", "Too sure", NoConfidence},
		{"a:::b:::40", "a:::b", 40},
	} {
		answer, score := SplitConfidence(tc.in)
		require.Equal(t, tc.answer, answer, tc.in)
		require.Equal(t, tc.score, score, tc.in)
	}
}

func TestValidID(t *testing.T) {
	require.True(t, ValidID("cb_1-a"))
	require.False(t, ValidID(""))
	require.False(t, ValidID("a/b"))
	require.False(t, ValidID(strings.Repeat("x", MaxIDLength+1)))
}
