package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/omnidesk/omnidesk/internal/database"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// waWebhookPayload mirrors the relevant slice of the WhatsApp Business
// webhook envelope (entry -> changes -> value -> messages/contacts).
type waWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Location *struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"location"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsAppAdapter talks to the WhatsApp Business cloud API. Inbound
// payloads are webhook envelopes; outbound dispatch posts to the messages
// endpoint using the config's token and phone number id.
type WhatsAppAdapter struct {
	client  *resty.Client
	baseURL string
}

// NewWhatsAppAdapter creates a WhatsApp adapter with the given request
// timeout. baseURL overrides the graph endpoint in tests; empty selects the
// production endpoint.
func NewWhatsAppAdapter(timeout time.Duration, baseURL string) *WhatsAppAdapter {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &WhatsAppAdapter{
		client:  resty.New().SetTimeout(timeout),
		baseURL: baseURL,
	}
}

func (a *WhatsAppAdapter) Channel() string { return database.ChannelWhatsApp }

func (a *WhatsAppAdapter) NormalizeInbound(raw []byte) (*InboundMessage, error) {
	var p waWebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, NewAdapterError(a.Channel(), MalformedPayload, fmt.Errorf("invalid webhook payload: %w", err))
	}

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			if len(v.Messages) == 0 {
				continue
			}
			m := v.Messages[0]
			if m.ID == "" || m.From == "" {
				return nil, NewAdapterError(a.Channel(), MalformedPayload,
					fmt.Errorf("webhook message missing id or sender"))
			}

			name := ""
			if len(v.Contacts) > 0 {
				name = v.Contacts[0].Profile.Name
			}

			receivedAt := time.Now().UTC()
			if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && ts > 0 {
				receivedAt = time.Unix(ts, 0).UTC()
			}

			body := m.Text.Body
			msgType := m.Type
			if msgType == "" {
				msgType = "text"
			}
			if m.Location != nil {
				msgType = "location"
				body = fmt.Sprintf("%f,%f", m.Location.Latitude, m.Location.Longitude)
			}

			return &InboundMessage{
				Channel:     a.Channel(),
				ExternalID:  m.ID,
				ContactID:   m.From,
				ContactName: name,
				Type:        msgType,
				Body:        body,
				ReceivedAt:  receivedAt,
			}, nil
		}
	}

	return nil, NewAdapterError(a.Channel(), MalformedPayload, fmt.Errorf("webhook payload carries no messages"))
}

func (a *WhatsAppAdapter) DispatchOutbound(ctx context.Context, cfg *database.MessagingConfig, msg *OutboundMessage) (*DeliveryResult, error) {
	if cfg.WhatsAppToken == "" || cfg.WhatsAppPhoneID == "" {
		return nil, NewAdapterError(a.Channel(), AuthInvalid, fmt.Errorf("config %s has no whatsapp credentials", cfg.ID))
	}

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetAuthToken(cfg.WhatsAppToken).
		SetBody(map[string]any{
			"messaging_product": "whatsapp",
			"recipient_type":    "individual",
			"to":                msg.ContactID,
			"type":              "text",
			"text":              map[string]string{"body": msg.Body},
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/%s/messages", a.baseURL, cfg.WhatsAppPhoneID))
	if err != nil {
		return nil, NewAdapterError(a.Channel(), ProviderUnavailable, fmt.Errorf("request failed: %w", err))
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, NewAdapterError(a.Channel(), AuthInvalid,
			fmt.Errorf("provider rejected credentials: status %d", resp.StatusCode()))
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return nil, NewAdapterError(a.Channel(), ProviderUnavailable,
			fmt.Errorf("provider unavailable: status %d", resp.StatusCode()))
	case resp.StatusCode() >= 400:
		return nil, NewAdapterError(a.Channel(), MalformedPayload,
			fmt.Errorf("provider rejected message: status %d: %s", resp.StatusCode(), resp.String()))
	}

	providerID := msg.MessageID
	if len(result.Messages) > 0 && result.Messages[0].ID != "" {
		providerID = result.Messages[0].ID
	}

	return &DeliveryResult{
		ProviderMessageID: providerID,
		DeliveredAt:       time.Now().UTC(),
	}, nil
}
