package usecases

import (
	"commercebot/internal/entities"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func answer(text string) entities.Delta {
	return entities.Delta{Kind: entities.DeltaAnswer, Text: text}
}

func newTestRouter(t *testing.T, provider *fakeProvider, ledger *fakeLedger, retriever *fakeRetriever) *ModelRouter {
	t.Helper()
	reg := fakeRegistry{
		entities.ProviderOpenAI:   provider,
		entities.ProviderDeepSeek: provider,
	}
	var r *ModelRouter
	var err error
	if retriever == nil {
		r, err = NewModelRouter(reg, nil, ledger)
	} else {
		r, err = NewModelRouter(reg, retriever, ledger)
	}
	require.NoError(t, err)
	return r
}

func routerInput(settings entities.AISettings) GenerateInput {
	return GenerateInput{
		TeamID:   "t1",
		Settings: settings.WithDefaults(),
		History:  []entities.Message{msg(entities.RoleUser, "hello")},
		Query:    "hello",
	}
}

func TestModelRouter_CreditGate(t *testing.T) {
	provider := &fakeProvider{deltas: []entities.Delta{answer("Hi there")}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "standard", Credits: 4999})
	router := newTestRouter(t, provider, ledger, nil)

	out, err := router.Generate(context.Background(), routerInput(entities.AISettings{}))
	require.NoError(t, err)
	require.False(t, out.Gated)
	require.Equal(t, "Hi there", out.Text)
	require.Equal(t, 1, out.CreditsCharged)
	require.Equal(t, 5000, ledger.credits("t1"))

	out, err = router.Generate(context.Background(), routerInput(entities.AISettings{}))
	require.NoError(t, err)
	require.True(t, out.Gated)
	require.Equal(t, LimitReachedMessage, out.Text)
	require.Equal(t, 5000, ledger.credits("t1"))
	require.Equal(t, 1, provider.callCount())
}

func TestModelRouter_ChargesOnceWithZeroDeltas(t *testing.T) {
	provider := &fakeProvider{}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "free"})
	router := newTestRouter(t, provider, ledger, nil)

	out, err := router.Generate(context.Background(), routerInput(entities.AISettings{}))
	require.NoError(t, err)
	require.Empty(t, out.Text)
	require.Equal(t, 1, ledger.charges)
	require.Equal(t, 1, ledger.credits("t1"))
}

func TestModelRouter_ProviderErrorNoCharge(t *testing.T) {
	provider := &fakeProvider{deltas: []entities.Delta{answer("partial")}, err: errBoom}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "free"})
	router := newTestRouter(t, provider, ledger, nil)

	out, err := router.Generate(context.Background(), routerInput(entities.AISettings{}))
	require.Error(t, err)
	require.Equal(t, ErrorUpstream, CodeOf(err))
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, out.Text)
	require.Zero(t, ledger.charges)
}

func TestModelRouter_RateLimitedUpstream(t *testing.T) {
	provider := &fakeProvider{err: statusErr{code: 429}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "free"})
	router := newTestRouter(t, provider, ledger, nil)

	_, err := router.Generate(context.Background(), routerInput(entities.AISettings{}))
	require.Equal(t, ErrorRateLimited, CodeOf(err))
	require.Zero(t, ledger.charges)
}

func TestModelRouter_ReasoningKeptSeparate(t *testing.T) {
	provider := &fakeProvider{deltas: []entities.Delta{
		{Kind: entities.DeltaReasoning, Text: "thinking..."},
		answer("The answer"),
		answer(" is 42:::87"),
	}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "pro"})
	router := newTestRouter(t, provider, ledger, nil)

	out, err := router.Generate(context.Background(), routerInput(entities.AISettings{ModelID: "deepseek-reasoner"}))
	require.NoError(t, err)
	require.Equal(t, "The answer is 42:::87", out.Text)
	require.Equal(t, "thinking...", out.Reasoning)
}

func TestModelRouter_ReasoningOnlyPrompt(t *testing.T) {
	provider := &fakeProvider{deltas: []entities.Delta{answer("ok")}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "pro"})
	router := newTestRouter(t, provider, ledger, nil)

	in := routerInput(entities.AISettings{ModelID: "deepseek-reasoner", SystemPrompt: "Base"})
	in.History = []entities.Message{
		msg(entities.RoleUser, "a"),
		msg(entities.RoleUser, "b"),
		msg(entities.RoleAssistant, "c"),
	}
	_, err := router.Generate(context.Background(), in)
	require.NoError(t, err)

	req := provider.calls[0]
	require.Empty(t, req.System)
	require.True(t, req.ReasoningOnly)
	require.Equal(t, "deepseek-reasoner", req.Model)
	require.Equal(t, []entities.Message{
		msg(entities.RoleUser, "Base You must respond in en language only.\na\nb"),
		msg(entities.RoleAssistant, "c"),
	}, req.Messages)
}

func TestModelRouter_RetrievalContext(t *testing.T) {
	provider := &fakeProvider{deltas: []entities.Delta{answer("ok")}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "pro"})
	retriever := &fakeRetriever{snippets: []string{"one", "two"}}
	router := newTestRouter(t, provider, ledger, retriever)

	_, err := router.Generate(context.Background(), routerInput(entities.AISettings{DatasetID: "ds1"}))
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, retriever.queries)

	req := provider.calls[0]
	require.Equal(t, "Please use the following information for answering.\none\ntwo", req.Messages[0].Content)
	require.Equal(t, 0.7, req.Temperature)
	require.Equal(t, 500, req.MaxTokens)
}

func TestModelRouter_RetrievalError(t *testing.T) {
	provider := &fakeProvider{}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "pro"})
	router := newTestRouter(t, provider, ledger, &fakeRetriever{err: errBoom})

	out, err := router.Generate(context.Background(), routerInput(entities.AISettings{DatasetID: "ds1"}))
	require.Equal(t, ErrorRetrieval, CodeOf(err))
	require.Equal(t, RetrievalFailedMessage, out.Text)
	require.Zero(t, provider.callCount())
	require.Zero(t, ledger.charges)
}

func TestModelRouter_ToolsOnlyWhenEnabled(t *testing.T) {
	call := &entities.ToolCall{ID: "call_1", Name: ToolSubmitOrder, Arguments: json.RawMessage(`{}`)}
	provider := &fakeProvider{deltas: []entities.Delta{{Kind: entities.DeltaToolCall, ToolCall: call}}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "pro"})
	router := newTestRouter(t, provider, ledger, nil).WithTools(NewOrderTools(&fakeOrders{}).Definitions())

	in := routerInput(entities.AISettings{OrderToolsEnabled: true})
	in.AllowTools = true
	out, err := router.Generate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	require.Equal(t, ToolSubmitOrder, out.ToolCalls[0].Name)
	require.NotEmpty(t, provider.calls[0].Tools)

	// a model without tool support never sees the schema
	in = routerInput(entities.AISettings{ModelID: "claude-3-5-haiku", OrderToolsEnabled: true})
	in.AllowTools = true
	router.providers = fakeRegistry{entities.ProviderAnthropic: provider}
	_, err = router.Generate(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, provider.calls[1].Tools)
}

func TestModelRouter_CustomMeter(t *testing.T) {
	provider := &fakeProvider{deltas: []entities.Delta{answer("a"), answer("b"), answer("c")}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "pro"})
	router := newTestRouter(t, provider, ledger, nil).WithMeter(func(c MeteredCall) int { return c.Deltas })

	out, err := router.Generate(context.Background(), routerInput(entities.AISettings{}))
	require.NoError(t, err)
	require.Equal(t, 3, out.CreditsCharged)
	require.Equal(t, 3, ledger.credits("t1"))
}

func TestModelRouter_LedgerWriteFailureKeepsReply(t *testing.T) {
	provider := &fakeProvider{deltas: []entities.Delta{answer("ok")}}
	ledger := newFakeLedger(entities.Team{ID: "t1", Plan: "pro"})
	ledger.addErr = errBoom
	router := newTestRouter(t, provider, ledger, nil)

	out, err := router.Generate(context.Background(), routerInput(entities.AISettings{}))
	require.NoError(t, err)
	require.Equal(t, "ok", out.Text)
	require.Zero(t, out.CreditsCharged)
}
