package usecases

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"
)

type fakeLedger struct {
	mu      sync.Mutex
	teams   map[string]entities.Team
	charges int
	addErr  error
}

func newFakeLedger(teams ...entities.Team) *fakeLedger {
	l := &fakeLedger{teams: map[string]entities.Team{}}
	for _, t := range teams {
		l.teams[t.ID] = t
	}
	return l
}

func (l *fakeLedger) GetTeam(_ context.Context, teamID string) (entities.Team, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.teams[teamID]
	if !ok {
		return entities.Team{}, fmt.Errorf("team %s not found", teamID)
	}
	return t, nil
}

func (l *fakeLedger) AddCredits(_ context.Context, teamID string, units int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addErr != nil {
		return l.addErr
	}
	t := l.teams[teamID]
	t.Credits += units
	l.teams[teamID] = t
	l.charges++
	return nil
}

func (l *fakeLedger) credits(teamID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.teams[teamID].Credits
}

type fakeProvider struct {
	mu     sync.Mutex
	deltas []entities.Delta
	err    error
	calls  []interfaces.StreamRequest
}

func (p *fakeProvider) Stream(_ context.Context, req interfaces.StreamRequest) iter.Seq2[entities.Delta, error] {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return func(yield func(entities.Delta, error) bool) {
		for _, d := range p.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if p.err != nil {
			yield(entities.Delta{}, p.err)
			return
		}
		yield(entities.Delta{Kind: entities.DeltaEnd}, nil)
	}
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeRegistry map[entities.ProviderKind]interfaces.ChatProvider

func (r fakeRegistry) For(kind entities.ProviderKind) (interfaces.ChatProvider, error) {
	p, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no provider for %s", kind)
	}
	return p, nil
}

type fakeRetriever struct {
	snippets []string
	err      error
	queries  []string
}

func (r *fakeRetriever) Search(_ context.Context, _ string, query string) ([]string, error) {
	r.queries = append(r.queries, query)
	return r.snippets, r.err
}

type sent struct {
	Kind    string
	To      string
	Text    string
	Options []entities.Option
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []sent
	read    []string
	failOn  map[string]error
	counter int
}

func (d *fakeDispatcher) record(kind, to, text string, opts []entities.Option) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOn[kind]; err != nil {
		return "", err
	}
	d.counter++
	d.sent = append(d.sent, sent{Kind: kind, To: to, Text: text, Options: opts})
	return fmt.Sprintf("m%d", d.counter), nil
}

func (d *fakeDispatcher) SendText(_ context.Context, to, text string) (string, error) {
	return d.record("text", to, text, nil)
}

func (d *fakeDispatcher) SendImage(_ context.Context, to, url string) (string, error) {
	return d.record("image", to, url, nil)
}

func (d *fakeDispatcher) SendOptions(_ context.Context, to, body string, options []entities.Option) (string, error) {
	return d.record("options", to, body, options)
}

func (d *fakeDispatcher) MarkRead(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.read = append(d.read, messageID)
	return nil
}

func (d *fakeDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sent))
	for _, s := range d.sent {
		out = append(out, s.Text)
	}
	return out
}

type fakeResolver struct {
	d   *fakeDispatcher
	err error
}

func (r fakeResolver) Dispatcher(entities.PlatformAccount) (interfaces.Dispatcher, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.d, nil
}

type fakeConversations struct {
	mu      sync.Mutex
	convs   map[entities.ConversationKey]*entities.Conversation
	appends int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convs: map[entities.ConversationKey]*entities.Conversation{}}
}

func (s *fakeConversations) FindConversation(_ context.Context, key entities.ConversationKey) (*entities.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Messages = append([]entities.Message(nil), c.Messages...)
	return &cp, nil
}

func (s *fakeConversations) AppendTurn(_ context.Context, key entities.ConversationKey, delta entities.ConversationDelta) (*entities.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		c = &entities.Conversation{ID: fmt.Sprintf("c%d", len(s.convs)+1), Key: key, CreatedAt: delta.At}
		s.convs[key] = c
	}
	c.Messages = append(c.Messages, delta.Messages...)
	if delta.FlowState != nil {
		c.FlowState = *delta.FlowState
	}
	if delta.CurrentNodeID != nil {
		c.CurrentNodeID = *delta.CurrentNodeID
	}
	if len(delta.Metadata) > 0 {
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		for k, v := range delta.Metadata {
			c.Metadata[k] = v
		}
	}
	c.LastInteractionAt = delta.At
	s.appends++
	cp := *c
	return &cp, nil
}

func (s *fakeConversations) put(c *entities.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.Key] = c
}

func (s *fakeConversations) get(key entities.ConversationKey) *entities.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[key]
}

type fakeChatbots struct {
	accounts map[string]entities.PlatformAccount
	settings entities.AISettings
	flow     *entities.Flow
}

func (c *fakeChatbots) ResolveAccount(_ context.Context, platform entities.Platform, externalID string) (*entities.PlatformAccount, error) {
	a, ok := c.accounts[string(platform)+":"+externalID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (c *fakeChatbots) GetAISettings(context.Context, string) (entities.AISettings, error) {
	return c.settings.WithDefaults(), nil
}

func (c *fakeChatbots) GetFlow(context.Context, string) (*entities.Flow, error) {
	return c.flow, nil
}

type published struct {
	Key   string
	Event any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Key: key, Event: event})
	return nil
}

type fakeOrders struct {
	submitResult json.RawMessage
	err          error
	calls        []string
}

func (o *fakeOrders) Categories(context.Context, string) (json.RawMessage, error) {
	o.calls = append(o.calls, "categories")
	return json.RawMessage(`{"categories":[{"id":"c1","name":"Drinks"},{"id":"c2","name":"Food"}]}`), o.err
}

func (o *fakeOrders) MenuItems(_ context.Context, _, categoryID string) (json.RawMessage, error) {
	o.calls = append(o.calls, "menu:"+categoryID)
	return json.RawMessage(`{"items":[{"id":"i1","category_id":"c1","name":"Es Teh","price":5000,"currency":"IDR"}]}`), o.err
}

func (o *fakeOrders) AddToCart(_ context.Context, _, _, itemID string, qty int) (json.RawMessage, error) {
	o.calls = append(o.calls, fmt.Sprintf("add:%s:%d", itemID, qty))
	if o.err != nil {
		return nil, o.err
	}
	return json.RawMessage(`{"added":{"item_id":"i1","name":"Es Teh","quantity":2,"price":5000},"cart":{"lines":[{"item_id":"i1","name":"Es Teh","quantity":2,"price":5000}],"total":10000,"currency":"IDR"}}`), nil
}

func (o *fakeOrders) ViewCart(context.Context, string, string) (json.RawMessage, error) {
	o.calls = append(o.calls, "cart")
	return json.RawMessage(`{"lines":[],"total":0,"currency":"IDR"}`), o.err
}

func (o *fakeOrders) SubmitOrder(context.Context, string, string, string) (json.RawMessage, error) {
	o.calls = append(o.calls, "submit")
	if o.err != nil {
		return nil, o.err
	}
	return o.submitResult, nil
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

var errBoom = errors.New("boom")

// fixedClock returns a clock pinned to t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
