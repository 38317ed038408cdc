package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/omnidesk/omnidesk/internal/channel"
	"github.com/omnidesk/omnidesk/internal/database"
)

func newTestRouter(store database.Store) *Router {
	return NewRouter(store, newKeyedMutex(), testLogger())
}

func TestRouteInboundCreatesConversation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(store)
	ctx := context.Background()

	in := &channel.InboundMessage{
		Channel:     database.ChannelWebChat,
		ExternalID:  "ext-1",
		ContactID:   "visitor-7",
		ContactName: "Ada",
		Type:        "text",
		Body:        "hi, my order never arrived",
	}

	conv, msg, created, err := router.RouteInbound(ctx, "cfg-1", in)
	if err != nil {
		t.Fatalf("RouteInbound returned error: %v", err)
	}
	if !created {
		t.Error("expected a new conversation to be created")
	}
	if conv.Status != database.StatusOpen {
		t.Errorf("new conversation status = %q, want %q", conv.Status, database.StatusOpen)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread count = %d, want 1", conv.UnreadCount)
	}
	if conv.LastMessagePreview != in.Body {
		t.Errorf("preview = %q, want %q", conv.LastMessagePreview, in.Body)
	}
	if msg.Direction != database.DirectionInbound {
		t.Errorf("message direction = %q, want inbound", msg.Direction)
	}

	// Second message from the same contact lands in the same conversation.
	in2 := &channel.InboundMessage{
		Channel:    database.ChannelWebChat,
		ExternalID: "ext-2",
		ContactID:  "visitor-7",
		Type:       "text",
		Body:       "any update?",
	}
	conv2, _, created2, err := router.RouteInbound(ctx, "cfg-1", in2)
	if err != nil {
		t.Fatalf("second RouteInbound returned error: %v", err)
	}
	if created2 {
		t.Error("second message must not create a conversation")
	}
	if conv2.ID != conv.ID {
		t.Errorf("second message routed to %s, want %s", conv2.ID, conv.ID)
	}
	if conv2.UnreadCount != 2 {
		t.Errorf("unread count after second message = %d, want 2", conv2.UnreadCount)
	}
}

func TestRouteInboundDuplicateIsNoOp(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(store)
	ctx := context.Background()

	in := &channel.InboundMessage{
		Channel:    database.ChannelWebChat,
		ExternalID: "ext-dup",
		ContactID:  "visitor-1",
		Type:       "text",
		Body:       "hello",
	}

	conv, first, _, err := router.RouteInbound(ctx, "cfg-1", in)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	conv2, msg2, created, err := router.RouteInbound(ctx, "cfg-1", in)
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("redelivery error = %v, want ErrDuplicateMessage", err)
	}
	if created {
		t.Error("redelivery must not create a conversation")
	}
	if msg2.ID != first.ID {
		t.Errorf("redelivery returned message %s, want original %s", msg2.ID, first.ID)
	}
	if conv2.UnreadCount != conv.UnreadCount {
		t.Errorf("redelivery changed unread count: %d != %d", conv2.UnreadCount, conv.UnreadCount)
	}

	msgs, _ := store.ListMessages(ctx, conv.ID, 10)
	if len(msgs) != 1 {
		t.Errorf("stored messages = %d, want 1", len(msgs))
	}
}

func TestRouteInboundConcurrentSameContact(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(store)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := &channel.InboundMessage{
				Channel:    database.ChannelWebChat,
				ExternalID: "ext-" + string(rune('a'+i)),
				ContactID:  "visitor-races",
				Type:       "text",
				Body:       "msg",
			}
			if _, _, _, err := router.RouteInbound(ctx, "cfg-1", in); err != nil {
				t.Errorf("RouteInbound failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	convs, _ := store.ListConversations(ctx, "cfg-1", "", 100)
	if len(convs) != 1 {
		t.Fatalf("conversations created = %d, want 1", len(convs))
	}
	if convs[0].UnreadCount != n {
		t.Errorf("unread count = %d, want %d", convs[0].UnreadCount, n)
	}
}

// rendezvousStore holds FindConversation callers until every expected
// reader has seen the row, so concurrent RouteInbound calls all carry the
// same pre-lock snapshot into the critical section.
type rendezvousStore struct {
	database.Store
	readers sync.WaitGroup
}

func (s *rendezvousStore) FindConversation(ctx context.Context, configID, ch, contactID string) (*database.Conversation, error) {
	conv, err := s.Store.FindConversation(ctx, configID, ch, contactID)
	s.readers.Done()
	s.readers.Wait()
	return conv, err
}

func TestRouteInboundConcurrentExistingConversation(t *testing.T) {
	t.Parallel()

	store := &rendezvousStore{Store: newMemStore()}
	router := newTestRouter(store)
	ctx := context.Background()

	store.readers.Add(1)
	conv, _, _, err := router.RouteInbound(ctx, "cfg-1", &channel.InboundMessage{
		Channel:    database.ChannelWebChat,
		ExternalID: "ext-seed",
		ContactID:  "visitor-1",
		Type:       "text",
		Body:       "first",
	})
	if err != nil {
		t.Fatalf("seeding RouteInbound failed: %v", err)
	}

	// Both deliveries read unread=1 before either takes the lock.
	store.readers.Add(2)
	var wg sync.WaitGroup
	for _, ext := range []string{"ext-b", "ext-c"} {
		wg.Add(1)
		go func(ext string) {
			defer wg.Done()
			if _, _, _, err := router.RouteInbound(ctx, "cfg-1", &channel.InboundMessage{
				Channel:    database.ChannelWebChat,
				ExternalID: ext,
				ContactID:  "visitor-1",
				Type:       "text",
				Body:       "more",
			}); err != nil {
				t.Errorf("RouteInbound failed: %v", err)
			}
		}(ext)
	}
	wg.Wait()

	updated, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	msgs, _ := store.ListMessages(ctx, conv.ID, 10)
	if len(msgs) != 3 {
		t.Fatalf("stored messages = %d, want 3", len(msgs))
	}
	if updated.UnreadCount != 3 {
		t.Errorf("unread count = %d, want 3 (one increment per inbound message)", updated.UnreadCount)
	}
}

func TestRouteOutboundResetsUnread(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(store)
	ctx := context.Background()

	in := &channel.InboundMessage{
		Channel:    database.ChannelWebChat,
		ExternalID: "ext-1",
		ContactID:  "visitor-1",
		Type:       "text",
		Body:       "question",
	}
	conv, _, _, err := router.RouteInbound(ctx, "cfg-1", in)
	if err != nil {
		t.Fatalf("RouteInbound failed: %v", err)
	}

	updated, msg, err := router.RouteOutbound(ctx, "cfg-1", conv.ID, "answer", OutboundOptions{})
	if err != nil {
		t.Fatalf("RouteOutbound failed: %v", err)
	}
	if updated.UnreadCount != 0 {
		t.Errorf("unread count after outbound = %d, want 0", updated.UnreadCount)
	}
	if msg.Direction != database.DirectionOutbound {
		t.Errorf("direction = %q, want outbound", msg.Direction)
	}
	if msg.Status != database.MessageQueued {
		t.Errorf("fresh outbound status = %q, want queued", msg.Status)
	}
}

func TestRouteOutboundNeverCreatesConversation(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newMemStore())

	_, _, err := router.RouteOutbound(context.Background(), "cfg-1", "no-such-conv", "hi", OutboundOptions{})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("error = %v, want ErrConversationNotFound", err)
	}
}

func TestRouteOutboundRequireLatest(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(store)
	ctx := context.Background()

	in := &channel.InboundMessage{
		Channel:    database.ChannelWebChat,
		ExternalID: "ext-1",
		ContactID:  "visitor-1",
		Type:       "text",
		Body:       "question",
	}
	conv, inboundMsg, _, err := router.RouteInbound(ctx, "cfg-1", in)
	if err != nil {
		t.Fatalf("RouteInbound failed: %v", err)
	}

	// Agent replies first; the guarded send must be rejected.
	if _, _, err := router.RouteOutbound(ctx, "cfg-1", conv.ID, "human answer", OutboundOptions{}); err != nil {
		t.Fatalf("agent RouteOutbound failed: %v", err)
	}

	_, _, err = router.RouteOutbound(ctx, "cfg-1", conv.ID, "stale draft", OutboundOptions{
		RequireLatest: inboundMsg.ID,
	})
	if !errors.Is(err, ErrStaleDraft) {
		t.Fatalf("guarded send error = %v, want ErrStaleDraft", err)
	}

	msgs, _ := store.ListMessages(ctx, conv.ID, 10)
	if len(msgs) != 2 {
		t.Errorf("stored messages = %d, want 2 (inbound + human reply)", len(msgs))
	}
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(store)
	ctx := context.Background()

	in := &channel.InboundMessage{
		Channel:    database.ChannelWebChat,
		ExternalID: "ext-1",
		ContactID:  "visitor-1",
		Type:       "text",
		Body:       "ping",
	}
	conv, _, _, err := router.RouteInbound(ctx, "cfg-1", in)
	if err != nil {
		t.Fatalf("RouteInbound failed: %v", err)
	}

	updated, err := router.MarkRead(ctx, "cfg-1", conv.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if updated.UnreadCount != 0 {
		t.Errorf("unread count = %d, want 0", updated.UnreadCount)
	}
}

func TestPreviewTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 150)
	got := previewOf(long)
	if want := strings.Repeat("é", 100) + "…"; got != want {
		t.Errorf("previewOf truncated to %d runes, want 100 + ellipsis", len([]rune(got)))
	}

	short := "short body"
	if previewOf(short) != short {
		t.Errorf("previewOf(%q) changed a short body", short)
	}
}

func TestRouteInboundKeepsReceivedAt(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(store)
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, msg, _, err := router.RouteInbound(context.Background(), "cfg-1", &channel.InboundMessage{
		Channel:    database.ChannelWebChat,
		ExternalID: "ext-1",
		ContactID:  "visitor-1",
		Type:       "text",
		Body:       "hello",
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatalf("RouteInbound failed: %v", err)
	}
	if !msg.CreatedAt.Equal(received) {
		t.Errorf("message timestamp = %v, want provider time %v", msg.CreatedAt, received)
	}
}
