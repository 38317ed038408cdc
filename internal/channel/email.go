package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/internal/database"
)

const defaultMailBaseURL = "https://api.mailprovider.io/v1"

// emailInboundPayload is the inbound-parse webhook format posted by the
// mail provider when a customer replies to the support address.
type emailInboundPayload struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// EmailAdapter bridges a transactional mail provider. The contact identity
// on this channel is the lowercased sender address.
type EmailAdapter struct {
	client  *resty.Client
	baseURL string
}

// NewEmailAdapter creates an email adapter with the given request timeout.
// baseURL overrides the provider endpoint in tests.
func NewEmailAdapter(timeout time.Duration, baseURL string) *EmailAdapter {
	if baseURL == "" {
		baseURL = defaultMailBaseURL
	}
	return &EmailAdapter{
		client:  resty.New().SetTimeout(timeout),
		baseURL: baseURL,
	}
}

func (a *EmailAdapter) Channel() string { return database.ChannelEmail }

func (a *EmailAdapter) NormalizeInbound(raw []byte) (*InboundMessage, error) {
	var p emailInboundPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, NewAdapterError(a.Channel(), MalformedPayload, fmt.Errorf("invalid inbound-parse payload: %w", err))
	}
	if p.From == "" {
		return nil, NewAdapterError(a.Channel(), MalformedPayload, fmt.Errorf("inbound email missing sender"))
	}

	body := strings.TrimSpace(p.Text)
	if body == "" && p.Subject != "" {
		body = p.Subject
	}
	if body == "" {
		return nil, NewAdapterError(a.Channel(), MalformedPayload, fmt.Errorf("inbound email has no content"))
	}

	externalID := p.MessageID
	if externalID == "" {
		externalID = uuid.NewString()
	}

	receivedAt := time.Now().UTC()
	if p.Timestamp > 0 {
		receivedAt = time.Unix(p.Timestamp, 0).UTC()
	}

	return &InboundMessage{
		Channel:     a.Channel(),
		ExternalID:  externalID,
		ContactID:   strings.ToLower(strings.TrimSpace(p.From)),
		ContactName: p.FromName,
		Type:        "text",
		Body:        body,
		ReceivedAt:  receivedAt,
	}, nil
}

func (a *EmailAdapter) DispatchOutbound(ctx context.Context, cfg *database.MessagingConfig, msg *OutboundMessage) (*DeliveryResult, error) {
	if cfg.EmailAPIKey == "" || cfg.EmailFrom == "" {
		return nil, NewAdapterError(a.Channel(), AuthInvalid, fmt.Errorf("config %s has no email credentials", cfg.ID))
	}

	var result struct {
		ID string `json:"id"`
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetAuthToken(cfg.EmailAPIKey).
		SetBody(map[string]any{
			"from": cfg.EmailFrom,
			"to":   msg.ContactID,
			"text": msg.Body,
		}).
		SetResult(&result).
		Post(a.baseURL + "/send")
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

	providerID := result.ID
	if providerID == "" {
		providerID = msg.MessageID
	}

	return &DeliveryResult{
		ProviderMessageID: providerID,
		DeliveredAt:       time.Now().UTC(),
	}, nil
}
