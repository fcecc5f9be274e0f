package usecases

import (
	"commercebot/internal/entities"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type seenFilter map[string]bool

func (f seenFilter) Seen(platform entities.Platform, id string) bool {
	key := string(platform) + ":" + id
	if f[key] {
		return true
	}
	f[key] = true
	return false
}

type serviceFixture struct {
	svc        *MessageService
	convs      *fakeConversations
	dispatcher *fakeDispatcher
	ledger     *fakeLedger
	provider   *fakeProvider
	publisher  *fakePublisher
	chatbots   *fakeChatbots
	now        time.Time
	seq        int
}

func newServiceFixture(t *testing.T, flow *entities.Flow) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		convs:      newFakeConversations(),
		dispatcher: &fakeDispatcher{},
		ledger:     newFakeLedger(entities.Team{ID: "t1", Plan: "pro"}),
		provider:   &fakeProvider{deltas: []entities.Delta{answer("Hello from AI")}},
		publisher:  &fakePublisher{},
		now:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		chatbots: &fakeChatbots{
			accounts: map[string]entities.PlatformAccount{
				"whatsapp:PHONE1":   {ID: "acc1", ChatbotID: "cb1", TeamID: "t1", Platform: entities.PlatformWhatsApp, ExternalID: "PHONE1"},
				"whatsapp_web:dev1": {ID: "acc2", ChatbotID: "cb1", TeamID: "t1", Platform: entities.PlatformWhatsAppWeb, ExternalID: "dev1"},
			},
			flow: flow,
		},
	}

	router, err := NewModelRouter(fakeRegistry{entities.ProviderOpenAI: f.provider}, nil, f.ledger)
	require.NoError(t, err)

	engine := NewFlowEngine(0)
	engine.sleep = func(context.Context, time.Duration) {}

	f.svc = NewMessageService(f.chatbots, f.convs, fakeResolver{d: f.dispatcher}, engine, router).
		WithPublisher(f.publisher).
		WithDeliveryFilter(seenFilter{})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *serviceFixture) event(text string) entities.InboundEvent {
	f.seq++
	return entities.InboundEvent{
		Platform:          entities.PlatformWhatsApp,
		PlatformAccountID: "PHONE1",
		SenderID:          "628111",
		RecipientID:       "PHONE1",
		TimestampSeconds:  f.now.Unix(),
		Text:              text,
		MessageID:         fmt.Sprintf("wamid.%d", f.seq),
	}
}

func (f *serviceFixture) conversation() *entities.Conversation {
	return f.convs.get(entities.ConversationKey{
		ChatbotID: "cb1",
		Platform:  entities.PlatformWhatsApp,
		From:      "628111",
		To:        "PHONE1",
	})
}

func TestHandleInbound_FirstContactStartsFlow(t *testing.T) {
	f := newServiceFixture(t, activeFlow(true, 30))

	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello")))

	conv := f.conversation()
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 4)
	require.Equal(t, entities.RoleUser, conv.Messages[0].Role)
	require.Equal(t, "hello", conv.Messages[0].Content)
	require.Equal(t, entities.FlowStateAwaitingOption, conv.FlowState)
	require.Equal(t, "pick", conv.CurrentNodeID)
	require.Equal(t, "acc1", conv.Metadata["platform_account_id"])
	require.Equal(t, []string{"wamid.1"}, f.dispatcher.read)
	require.Zero(t, f.provider.callCount())

	require.Len(t, f.publisher.events, 1)
	require.Equal(t, TurnCompletedEvent, f.publisher.events[0].Key)
	ev := f.publisher.events[0].Event.(TurnEvent)
	require.Equal(t, "entry", ev.Decision)
	require.Equal(t, 3, ev.AssistantMessages)
}

func TestHandleInbound_TimeoutRestartsFlow(t *testing.T) {
	f := newServiceFixture(t, activeFlow(true, 30))
	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello")))

	f.now = f.now.Add(40 * time.Minute)
	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello again")))

	conv := f.conversation()
	require.Len(t, conv.Messages, 8)
	require.Equal(t, "Hi", conv.Messages[5].Content)
	require.Equal(t, entities.FlowStateAwaitingOption, conv.FlowState)
	require.Zero(t, f.provider.callCount())
}

func TestHandleInbound_OptionPickAdvances(t *testing.T) {
	f := newServiceFixture(t, activeFlow(true, 30))
	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello")))

	pick := f.event("")
	pick.PostbackPayload = "pick-option-0"
	pick.PostbackTitle = "A"
	require.NoError(t, f.svc.HandleInbound(context.Background(), pick))

	conv := f.conversation()
	require.Equal(t, entities.FlowStateTerminal, conv.FlowState)
	require.Equal(t, "after-a", conv.CurrentNodeID)
	require.Equal(t, "A", conv.Messages[4].Content)
	require.Equal(t, "You chose A", conv.Messages[5].Content)

	// free text after the flow ends goes to the model
	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("what are your hours?")))
	conv = f.conversation()
	require.Equal(t, "Hello from AI", conv.Messages[len(conv.Messages)-1].Content)
	require.Equal(t, entities.FlowStateTerminal, conv.FlowState)
	require.Equal(t, 1, f.ledger.credits("t1"))
}

func TestHandleInbound_UnmatchedPickIsNoop(t *testing.T) {
	f := newServiceFixture(t, activeFlow(true, 30))
	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello")))
	sentBefore := len(f.dispatcher.sent)

	pick := f.event("")
	pick.PostbackPayload = "pick-option-2"
	require.NoError(t, f.svc.HandleInbound(context.Background(), pick))

	require.Len(t, f.dispatcher.sent, sentBefore)
	conv := f.conversation()
	require.Equal(t, entities.FlowStateAwaitingOption, conv.FlowState)
	require.Equal(t, "pick", conv.CurrentNodeID)
}

func TestHandleInbound_StaleDropped(t *testing.T) {
	f := newServiceFixture(t, nil)
	ev := f.event("hello")
	ev.TimestampSeconds = f.now.Add(-2 * time.Minute).Unix()

	require.NoError(t, f.svc.HandleInbound(context.Background(), ev))
	require.Zero(t, f.convs.appends)
	require.Empty(t, f.dispatcher.sent)
	require.Empty(t, f.dispatcher.read)
}

func TestHandleInbound_DuplicateDropped(t *testing.T) {
	f := newServiceFixture(t, nil)
	ev := f.event("hello")

	require.NoError(t, f.svc.HandleInbound(context.Background(), ev))
	require.NoError(t, f.svc.HandleInbound(context.Background(), ev))

	require.Equal(t, 1, f.convs.appends)
	require.Equal(t, 1, f.provider.callCount())
	require.Equal(t, 1, f.ledger.charges)
}

func TestHandleInbound_UnknownAccount(t *testing.T) {
	f := newServiceFixture(t, nil)
	ev := f.event("hello")
	ev.PlatformAccountID = "OTHER"

	require.NoError(t, f.svc.HandleInbound(context.Background(), ev))
	require.Zero(t, f.convs.appends)
	require.Empty(t, f.dispatcher.sent)
}

func TestHandleInbound_TakeoverRecordsUserOnly(t *testing.T) {
	f := newServiceFixture(t, activeFlow(true, 30))
	f.convs.put(&entities.Conversation{
		ID:               "c-existing",
		Key:              entities.ConversationKey{ChatbotID: "cb1", Platform: entities.PlatformWhatsApp, From: "628111", To: "PHONE1"},
		DisableAutoReply: true,
		FlowState:        entities.FlowStateTerminal,
	})

	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("is anyone there?")))

	conv := f.conversation()
	require.Len(t, conv.Messages, 1)
	require.Equal(t, entities.RoleUser, conv.Messages[0].Role)
	require.Empty(t, f.dispatcher.sent)
	require.Zero(t, f.provider.callCount())
	require.Equal(t, "takeover", f.publisher.events[0].Event.(TurnEvent).Decision)
}

func TestHandleInbound_ProviderErrorPersistsNothing(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.provider.err = errBoom

	err := f.svc.HandleInbound(context.Background(), f.event("hello"))
	require.Error(t, err)
	require.Equal(t, ErrorUpstream, CodeOf(err))
	require.Zero(t, f.convs.appends)
	require.Empty(t, f.dispatcher.sent)
	require.Zero(t, f.ledger.charges)
	require.Empty(t, f.publisher.events)
}

func TestHandleInbound_GatedReplySuppressed(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.ledger.teams["t1"] = entities.Team{ID: "t1", Plan: "free", Credits: 100}

	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello")))

	conv := f.conversation()
	require.Len(t, conv.Messages, 1)
	require.Empty(t, f.dispatcher.sent)
	require.Zero(t, f.provider.callCount())
	require.Equal(t, 100, f.ledger.credits("t1"))
	require.True(t, f.publisher.events[0].Event.(TurnEvent).Gated)
}

func TestHandleInbound_AppendOnlyHistory(t *testing.T) {
	f := newServiceFixture(t, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.svc.HandleInbound(context.Background(), f.event(fmt.Sprintf("q%d", i))))
		f.now = f.now.Add(time.Minute)
	}

	conv := f.conversation()
	require.Len(t, conv.Messages, 8)
	require.Equal(t, entities.FlowStateNoFlow, conv.FlowState)
	for i, m := range conv.Messages {
		if i%2 == 0 {
			require.Equal(t, entities.RoleUser, m.Role)
			require.Equal(t, fmt.Sprintf("q%d", i/2), m.Content)
		} else {
			require.Equal(t, entities.RoleAssistant, m.Role)
		}
	}

	// the model saw the earlier turns
	last := f.provider.calls[len(f.provider.calls)-1]
	require.Len(t, last.Messages, 7)
}

func TestHandleInbound_FailedSendNotRecorded(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.dispatcher.failOn = map[string]error{"text": errBoom}

	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello")))

	conv := f.conversation()
	require.Len(t, conv.Messages, 1)
	require.Equal(t, 1, f.ledger.charges)
}

func TestHandleInbound_RecordsReplyAsSent(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.provider.deltas = []entities.Delta{answer("\n  Hello there  \n")}

	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("hello")))

	require.Len(t, f.dispatcher.sent, 1)
	conv := f.conversation()
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "Hello there", conv.Messages[1].Content)
	require.Equal(t, f.dispatcher.sent[0].Text, conv.Messages[1].Content)
}

func TestHandleInbound_NumericReplyOnWhatsAppWeb(t *testing.T) {
	f := newServiceFixture(t, activeFlow(true, 30))
	ev := func(text string) entities.InboundEvent {
		e := f.event(text)
		e.Platform = entities.PlatformWhatsAppWeb
		e.PlatformAccountID = "dev1"
		e.RecipientID = "dev1"
		return e
	}

	require.NoError(t, f.svc.HandleInbound(context.Background(), ev("hello")))
	require.NoError(t, f.svc.HandleInbound(context.Background(), ev("1")))

	conv := f.convs.get(entities.ConversationKey{ChatbotID: "cb1", Platform: entities.PlatformWhatsAppWeb, From: "628111", To: "dev1"})
	require.Equal(t, entities.FlowStateTerminal, conv.FlowState)
	require.Equal(t, "after-a", conv.CurrentNodeID)
	require.Equal(t, "1", conv.Messages[4].Content)
	require.Equal(t, "You chose A", conv.Messages[5].Content)
}

func TestHandleInbound_ToolCallStringResult(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.chatbots.settings = entities.AISettings{OrderToolsEnabled: true}
	f.provider.deltas = []entities.Delta{{
		Kind:     entities.DeltaToolCall,
		ToolCall: &entities.ToolCall{ID: "call_1", Name: ToolSubmitOrder, Arguments: json.RawMessage(`{}`)},
	}}
	orders := &fakeOrders{submitResult: json.RawMessage(`"Order received, we'll confirm shortly."`)}
	tools := NewOrderTools(orders)
	f.svc.WithOrderTools(tools)
	f.svc.router.WithTools(tools.Definitions())

	require.NoError(t, f.svc.HandleInbound(context.Background(), f.event("checkout please")))

	require.Equal(t, []string{"Order received, we'll confirm shortly."}, f.dispatcher.texts())
	conv := f.conversation()
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "Order received, we'll confirm shortly.", conv.Messages[1].Content)
}

func TestMapNumericReply(t *testing.T) {
	flow := activeFlow(true, 30)
	waiting := &entities.Conversation{FlowState: entities.FlowStateAwaitingOption, CurrentNodeID: "pick"}
	web := entities.InboundEvent{Platform: entities.PlatformWhatsAppWeb, Text: " 2 "}

	got := mapNumericReply(web, waiting, flow)
	require.Equal(t, "pick-option-1", got.PostbackPayload)
	require.Equal(t, "B", got.PostbackTitle)

	// out of range, wrong state, button platform
	web.Text = "3"
	require.Empty(t, mapNumericReply(web, waiting, flow).PostbackPayload)
	web.Text = "1"
	require.Empty(t, mapNumericReply(web, &entities.Conversation{FlowState: entities.FlowStateTerminal}, flow).PostbackPayload)
	cloud := entities.InboundEvent{Platform: entities.PlatformWhatsApp, Text: "1"}
	require.Empty(t, mapNumericReply(cloud, waiting, flow).PostbackPayload)
}
