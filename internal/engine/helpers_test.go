package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/ai"
	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/database"
	"github.com/omnidesk/omnidesk/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory database.Store. It copies records on the way in
// and out so callers observe snapshot semantics like with a real database,
// and it enforces the same unique indexes the schema declares.
type memStore struct {
	mu           sync.Mutex
	configs      map[string]*database.MessagingConfig
	convs        map[string]*database.Conversation
	msgs         []*database.Message
	templates    map[string]*database.Template
	quickReplies map[string]*database.QuickReply
	automations  map[string]*database.Automation
}

func newMemStore() *memStore {
	return &memStore{
		configs:      make(map[string]*database.MessagingConfig),
		convs:        make(map[string]*database.Conversation),
		templates:    make(map[string]*database.Template),
		quickReplies: make(map[string]*database.QuickReply),
		automations:  make(map[string]*database.Automation),
	}
}

func cloneConv(c *database.Conversation) *database.Conversation {
	cp := *c
	cp.Tags = append(database.StringList(nil), c.Tags...)
	return &cp
}

func cloneMsg(m *database.Message) *database.Message {
	cp := *m
	return &cp
}

func cloneAutomation(a *database.Automation) *database.Automation {
	cp := *a
	cp.Conditions = append(database.ConditionList(nil), a.Conditions...)
	cp.Channels = append(database.StringList(nil), a.Channels...)
	return &cp
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) GetConfig(_ context.Context, id string) (*database.MessagingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *memStore) SaveConfig(_ context.Context, cfg *database.MessagingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.configs[cfg.ID] = &cp
	return nil
}

func (s *memStore) GetConversation(_ context.Context, id string) (*database.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, nil
	}
	return cloneConv(conv), nil
}

func (s *memStore) FindConversation(_ context.Context, configID, ch, contactID string) (*database.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.convs {
		if conv.ConfigID == configID && conv.Channel == ch && conv.ContactID == contactID {
			return cloneConv(conv), nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateConversation(_ context.Context, conv *database.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.convs {
		if existing.ConfigID == conv.ConfigID && existing.Channel == conv.Channel && existing.ContactID == conv.ContactID {
			return fmt.Errorf("UNIQUE constraint failed: conversations.config_id")
		}
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	s.convs[conv.ID] = cloneConv(conv)
	return nil
}

func (s *memStore) UpdateConversation(_ context.Context, conv *database.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conv.ID]; !ok {
		return fmt.Errorf("conversation %s does not exist", conv.ID)
	}
	conv.UpdatedAt = time.Now().UTC()
	s.convs[conv.ID] = cloneConv(conv)
	return nil
}

func (s *memStore) ListConversations(_ context.Context, configID, status string, _ int) ([]*database.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Conversation
	for _, conv := range s.convs {
		if conv.ConfigID != configID {
			continue
		}
		if status != "" && conv.Status != status {
			continue
		}
		out = append(out, cloneConv(conv))
	}
	return out, nil
}

func (s *memStore) FindStaleConversations(_ context.Context, cutoff time.Time) ([]*database.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Conversation
	for _, conv := range s.convs {
		if conv.Status == database.StatusOpen && conv.LastMessageAt.Valid && conv.LastMessageAt.Time.Before(cutoff) {
			out = append(out, cloneConv(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SaveMessage(_ context.Context, msg *database.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ExternalID != "" {
		for _, existing := range s.msgs {
			if existing.Channel == msg.Channel && existing.ExternalID == msg.ExternalID {
				return fmt.Errorf("UNIQUE constraint failed: messages.external_id")
			}
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.msgs = append(s.msgs, cloneMsg(msg))
	return nil
}

func (s *memStore) GetMessageByExternalID(_ context.Context, ch, externalID string) (*database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.msgs {
		if msg.Channel == ch && msg.ExternalID == externalID {
			return cloneMsg(msg), nil
		}
	}
	return nil, nil
}

func (s *memStore) GetLatestMessage(_ context.Context, conversationID string) (*database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *database.Message
	for _, msg := range s.msgs {
		if msg.ConversationID != conversationID {
			continue
		}
		if latest == nil || !msg.CreatedAt.Before(latest.CreatedAt) {
			latest = msg
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneMsg(latest), nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID string, _ int) ([]*database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Message
	for _, msg := range s.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, cloneMsg(msg))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateMessageStatus(_ context.Context, id, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.msgs {
		if msg.ID == id {
			msg.Status = status
			msg.ErrorMessage = errorMessage
			return nil
		}
	}
	return fmt.Errorf("message %s does not exist", id)
}

func (s *memStore) GetTemplate(_ context.Context, id string) (*database.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	cp := *tpl
	return &cp, nil
}

func (s *memStore) SaveTemplate(_ context.Context, tpl *database.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	tpl.UpdatedAt = time.Now().UTC()
	cp := *tpl
	s.templates[tpl.ID] = &cp
	return nil
}

func (s *memStore) ListTemplates(_ context.Context, configID string) ([]*database.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Template
	for _, tpl := range s.templates {
		if tpl.ConfigID == configID {
			cp := *tpl
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) IncrementTemplateSends(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("template %s does not exist", id)
	}
	tpl.TimesSent++
	return nil
}

func qrKey(configID, shortcut string) string { return configID + "|" + shortcut }

func (s *memStore) GetQuickReply(_ context.Context, configID, shortcut string) (*database.QuickReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qr, ok := s.quickReplies[qrKey(configID, shortcut)]
	if !ok {
		return nil, nil
	}
	cp := *qr
	return &cp, nil
}

func (s *memStore) UpsertQuickReply(_ context.Context, qr *database.QuickReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *qr
	s.quickReplies[qrKey(qr.ConfigID, qr.Shortcut)] = &cp
	return nil
}

func (s *memStore) ListQuickReplies(_ context.Context, configID string) ([]*database.QuickReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.QuickReply
	for _, qr := range s.quickReplies {
		if qr.ConfigID == configID {
			cp := *qr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) DeleteQuickReply(_ context.Context, configID, shortcut string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quickReplies, qrKey(configID, shortcut))
	return nil
}

func (s *memStore) GetAutomation(_ context.Context, id string) (*database.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.automations[id]
	if !ok {
		return nil, nil
	}
	return cloneAutomation(rule), nil
}

func (s *memStore) SaveAutomation(_ context.Context, a *database.Automation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.automations[a.ID] = cloneAutomation(a)
	return nil
}

func (s *memStore) DeleteAutomation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.automations, id)
	return nil
}

func (s *memStore) ListAutomations(_ context.Context, configID string) ([]*database.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Automation
	for _, rule := range s.automations {
		if rule.ConfigID == configID {
			out = append(out, cloneAutomation(rule))
		}
	}
	sortRules(out)
	return out, nil
}

func (s *memStore) ListActiveAutomations(_ context.Context, configID, triggerType string) ([]*database.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Automation
	for _, rule := range s.automations {
		if rule.ConfigID == configID && rule.TriggerType == triggerType && rule.IsActive {
			out = append(out, cloneAutomation(rule))
		}
	}
	sortRules(out)
	return out, nil
}

func (s *memStore) ListTimeElapsedAutomations(context.Context) ([]*database.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Automation
	for _, rule := range s.automations {
		if rule.TriggerType == database.TriggerTimeElapsed && rule.IsActive {
			out = append(out, cloneAutomation(rule))
		}
	}
	sortRules(out)
	return out, nil
}

func (s *memStore) MarkAutomationTriggered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.automations[id]
	if !ok {
		return fmt.Errorf("automation %s does not exist", id)
	}
	rule.TimesTriggered++
	rule.LastTriggeredAt.Time = at
	rule.LastTriggeredAt.Valid = true
	return nil
}

func (s *memStore) RunSQLMaintenance(context.Context) error { return nil }

func sortRules(rules []*database.Automation) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

// fakeAdapter is a scriptable channel adapter.
type fakeAdapter struct {
	mu           sync.Mutex
	name         string
	inbound      *channel.InboundMessage
	normalizeErr error
	dispatchErr  error
	dispatched   []*channel.OutboundMessage
}

func (a *fakeAdapter) Channel() string { return a.name }

func (a *fakeAdapter) NormalizeInbound([]byte) (*channel.InboundMessage, error) {
	if a.normalizeErr != nil {
		return nil, a.normalizeErr
	}
	cp := *a.inbound
	return &cp, nil
}

func (a *fakeAdapter) DispatchOutbound(_ context.Context, _ *database.MessagingConfig, msg *channel.OutboundMessage) (*channel.DeliveryResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dispatchErr != nil {
		return nil, a.dispatchErr
	}
	cp := *msg
	a.dispatched = append(a.dispatched, &cp)
	return &channel.DeliveryResult{ProviderMessageID: "prov-" + msg.MessageID, DeliveredAt: time.Now()}, nil
}

func (a *fakeAdapter) dispatchedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.dispatched)
}

// fakeAI returns a scripted draft or error.
type fakeAI struct {
	mu    sync.Mutex
	draft *ai.Draft
	err   error
	calls int
}

func (f *fakeAI) GenerateDraft(context.Context, string, []*database.Message) (*ai.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.draft
	return &cp, nil
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeNotifier records every notification.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []notify.Notification
	fail  error
}

func (f *fakeNotifier) Notify(_ context.Context, _ *database.MessagingConfig, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) byKind(kind string) []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Notification
	for _, n := range f.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// nopBroadcaster satisfies Broadcaster without a hub.
type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(any) {}

// testEnv bundles an engine with its fakes and a seeded config.
type testEnv struct {
	engine    *Engine
	store     *memStore
	adapter   *fakeAdapter
	waAdapter *fakeAdapter
	ai        *fakeAI
	notifier  *fakeNotifier
	cfg       *database.MessagingConfig
}

func newTestEnv(cfg *database.MessagingConfig) *testEnv {
	if cfg == nil {
		cfg = &database.MessagingConfig{
			ID:                    "cfg-1",
			Name:                  "Test",
			Active:                true,
			AIConfidenceThreshold: 0.6,
			AIDraftTimeoutSecs:    5,
		}
	}

	store := newMemStore()
	_ = store.SaveConfig(context.Background(), cfg)

	adapter := &fakeAdapter{name: database.ChannelWebChat}
	waAdapter := &fakeAdapter{name: database.ChannelWhatsApp}
	registry := channel.NewRegistry(adapter, waAdapter)
	dispatcher := channel.NewDispatcher(registry, channel.RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, testLogger())

	fa := &fakeAI{draft: &ai.Draft{Body: "drafted reply", Confidence: 0.9}}
	fn := &fakeNotifier{}

	eng := New(store, registry, dispatcher, fa, fn, nopBroadcaster{}, testLogger(), Options{
		HistoryLimit:   10,
		ConfigCacheTTL: time.Minute,
	})

	return &testEnv{engine: eng, store: store, adapter: adapter, waAdapter: waAdapter, ai: fa, notifier: fn, cfg: cfg}
}

// seedConversation creates a conversation with one inbound message and
// returns both.
func (env *testEnv) seedConversation(configID, contactID, ch string) (*database.Conversation, *database.Message) {
	ctx := context.Background()
	conv := &database.Conversation{
		ID:        uuid.NewString(),
		ConfigID:  configID,
		Channel:   ch,
		ContactID: contactID,
		Status:    database.StatusOpen,
		Priority:  "normal",
	}
	if err := env.store.CreateConversation(ctx, conv); err != nil {
		panic(err)
	}

	msg := &database.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ConfigID:       configID,
		Channel:        conv.Channel,
		Direction:      database.DirectionInbound,
		Type:           "text",
		Body:           "hello there",
		ExternalID:     uuid.NewString(),
		Status:         database.MessageDelivered,
		CreatedAt:      time.Now().UTC().Add(-time.Minute),
	}
	if err := env.store.SaveMessage(ctx, msg); err != nil {
		panic(err)
	}

	conv.UnreadCount = 1
	conv.LastMessageAt = toNullTime(msg.CreatedAt)
	conv.LastMessagePreview = previewOf(msg.Body)
	if err := env.store.UpdateConversation(ctx, conv); err != nil {
		panic(err)
	}
	return conv, msg
}
