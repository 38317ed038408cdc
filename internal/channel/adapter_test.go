package channel

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/omnidesk/omnidesk/internal/database"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"provider unavailable", NewAdapterError("email", ProviderUnavailable, errors.New("503")), true},
		{"auth invalid", NewAdapterError("email", AuthInvalid, errors.New("401")), false},
		{"malformed payload", NewAdapterError("email", MalformedPayload, errors.New("bad json")), false},
		{"wrapped transient", fmt.Errorf("dispatch: %w", NewAdapterError("email", ProviderUnavailable, errors.New("timeout"))), true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebChatNormalizeInbound(t *testing.T) {
	t.Parallel()

	adapter := NewWebChatAdapter(nil)

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "valid payload",
			raw:  `{"messageId":"m1","visitorId":"v1","name":"Ada","body":"hi","sentAt":1756600000000}`,
		},
		{
			name: "missing message id gets generated",
			raw:  `{"visitorId":"v1","body":"hi"}`,
		},
		{
			name:    "missing visitor",
			raw:     `{"body":"hi"}`,
			wantErr: true,
		},
		{
			name:    "missing body",
			raw:     `{"visitorId":"v1"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `<xml/>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := adapter.NormalizeInbound([]byte(tt.raw))
			if tt.wantErr {
				var ae *AdapterError
				if !errors.As(err, &ae) || ae.Kind != MalformedPayload {
					t.Fatalf("err = %v, want MalformedPayload AdapterError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeInbound failed: %v", err)
			}
			if msg.ExternalID == "" {
				t.Error("external id is empty")
			}
			if msg.Channel != database.ChannelWebChat {
				t.Errorf("channel = %q", msg.Channel)
			}
		})
	}
}

func TestWebChatDispatchPushesToSink(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	adapter := NewWebChatAdapter(sink)

	result, err := adapter.DispatchOutbound(t.Context(), &database.MessagingConfig{ID: "cfg"}, &OutboundMessage{
		MessageID:      "m1",
		ConversationID: "c1",
		ContactID:      "v1",
		Type:           "text",
		Body:           "hello",
	})
	if err != nil {
		t.Fatalf("DispatchOutbound failed: %v", err)
	}
	if result.ProviderMessageID != "m1" {
		t.Errorf("provider id = %q", result.ProviderMessageID)
	}
	if len(sink.pushes) != 1 || sink.pushes[0].contactID != "v1" {
		t.Errorf("sink pushes = %+v, want one targeted at v1", sink.pushes)
	}
}

type recordingSink struct {
	pushes []struct {
		contactID string
		payload   any
	}
}

func (s *recordingSink) Push(contactID string, payload any) {
	s.pushes = append(s.pushes, struct {
		contactID string
		payload   any
	}{contactID, payload})
}

func TestEmailNormalizeInbound(t *testing.T) {
	t.Parallel()

	adapter := NewEmailAdapter(time.Second, "")

	msg, err := adapter.NormalizeInbound([]byte(
		`{"messageId":"<abc@mail>","from":" Ada.Lovelace@Example.COM ","fromName":"Ada","subject":"Order","text":"Where is it?","timestamp":1756600000}`))
	if err != nil {
		t.Fatalf("NormalizeInbound failed: %v", err)
	}
	if msg.ContactID != "ada.lovelace@example.com" {
		t.Errorf("contact id = %q, want lowercased trimmed address", msg.ContactID)
	}
	if msg.Body != "Where is it?" {
		t.Errorf("body = %q", msg.Body)
	}

	// Subject stands in for an empty text part.
	msg, err = adapter.NormalizeInbound([]byte(`{"from":"a@b.c","subject":"Just the subject"}`))
	if err != nil {
		t.Fatalf("subject-only NormalizeInbound failed: %v", err)
	}
	if msg.Body != "Just the subject" {
		t.Errorf("body = %q, want subject fallback", msg.Body)
	}

	if _, err := adapter.NormalizeInbound([]byte(`{"from":"a@b.c"}`)); err == nil {
		t.Error("empty email accepted")
	}
	if _, err := adapter.NormalizeInbound([]byte(`{"text":"no sender"}`)); err == nil {
		t.Error("email without sender accepted")
	}
}

func TestWhatsAppNormalizeInbound(t *testing.T) {
	t.Parallel()

	adapter := NewWhatsAppAdapter(time.Second, "")

	raw := `{
		"entry": [{
			"changes": [{
				"value": {
					"contacts": [{"wa_id": "4915551234", "profile": {"name": "Ada"}}],
					"messages": [{
						"id": "wamid.1",
						"from": "4915551234",
						"timestamp": "1756600000",
						"type": "text",
						"text": {"body": "hallo"}
					}]
				}
			}]
		}]
	}`

	msg, err := adapter.NormalizeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("NormalizeInbound failed: %v", err)
	}
	if msg.ExternalID != "wamid.1" {
		t.Errorf("external id = %q", msg.ExternalID)
	}
	if msg.ContactID != "4915551234" {
		t.Errorf("contact id = %q", msg.ContactID)
	}
	if msg.ContactName != "Ada" {
		t.Errorf("contact name = %q", msg.ContactName)
	}
	if !msg.ReceivedAt.Equal(time.Unix(1756600000, 0).UTC()) {
		t.Errorf("received at = %v", msg.ReceivedAt)
	}

	// Status-only webhook deliveries carry no messages.
	if _, err := adapter.NormalizeInbound([]byte(`{"entry":[{"changes":[{"value":{}}]}]}`)); err == nil {
		t.Error("payload without messages accepted")
	}
}

func TestWhatsAppNormalizeLocationMessage(t *testing.T) {
	t.Parallel()

	adapter := NewWhatsAppAdapter(time.Second, "")

	raw := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"id": "wamid.2",
						"from": "4915551234",
						"type": "location",
						"location": {"latitude": 52.52, "longitude": 13.405}
					}]
				}
			}]
		}]
	}`

	msg, err := adapter.NormalizeInbound([]byte(raw))
	if err != nil {
		t.Fatalf("NormalizeInbound failed: %v", err)
	}
	if msg.Type != "location" {
		t.Errorf("type = %q, want location", msg.Type)
	}
	if msg.Body == "" {
		t.Error("location body is empty")
	}
}
