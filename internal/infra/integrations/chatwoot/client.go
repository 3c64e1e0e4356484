package chatwoot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

const (
	clientTimeout    = 30 * time.Second
	maxRetryInterval = 10 * time.Second
	maxRetryElapsed  = 45 * time.Second
)

// Client talks to the Chatwoot application API for a single account.
// Requests carry the account token via the api_access_token header.
type Client struct {
	http      *resty.Client
	accountID string
	logger    *logger.Logger
}

// NewClient builds a client from a stored configuration.
func NewClient(cfg *ports.ChatwootConfig, log *logger.Logger) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetHeader("api_access_token", cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(clientTimeout)

	return &Client{
		http:      rc,
		accountID: cfg.AccountID,
		logger:    log.WithModule("chatwoot-client"),
	}
}

func (c *Client) accountPath(format string, args ...interface{}) string {
	return fmt.Sprintf("/api/v1/accounts/%s%s", c.accountID, fmt.Sprintf(format, args...))
}

// withRetry runs fn with exponential backoff. Client errors (4xx) are
// permanent; network failures and 5xx responses are retried.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxRetryInterval
	policy.MaxElapsedTime = maxRetryElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := fn(); err != nil {
			if attempt > 1 {
				c.logger.WarnWithFields("Chatwoot request retry", map[string]interface{}{
					"operation": op,
					"attempt":   attempt,
					"error":     err.Error(),
				})
			}
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("chatwoot %s: %w", op, err)
	}
	return nil
}

func apiError(resp *resty.Response) error {
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func (c *Client) ValidateCredentials(ctx context.Context) (*ports.ChatwootAccount, error) {
	var account ports.ChatwootAccount
	err := c.withRetry(ctx, "validate credentials", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&account).
			Get(fmt.Sprintf("/api/v1/accounts/%s", c.accountID))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) ListInboxes(ctx context.Context) ([]ports.ChatwootInbox, error) {
	var result struct {
		Payload []ports.ChatwootInbox `json:"payload"`
	}
	err := c.withRetry(ctx, "list inboxes", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get(c.accountPath("/inboxes"))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Payload, nil
}

func (c *Client) CreateInbox(ctx context.Context, name, webhookURL string) (*ports.ChatwootInbox, error) {
	body := map[string]interface{}{
		"name": name,
		"channel": map[string]interface{}{
			"type":        "api",
			"webhook_url": webhookURL,
		},
	}
	var inbox ports.ChatwootInbox
	err := c.withRetry(ctx, "create inbox", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&inbox).
			Post(c.accountPath("/inboxes"))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inbox, nil
}

// SearchContactByIdentifier searches contacts by identifier and returns
// the exact match, or nil when none exists.
func (c *Client) SearchContactByIdentifier(ctx context.Context, identifier string) (*ports.ChatwootContact, error) {
	var result struct {
		Payload []ports.ChatwootContact `json:"payload"`
	}
	err := c.withRetry(ctx, "search contact", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("q", identifier).
			SetResult(&result).
			Get(c.accountPath("/contacts/search"))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range result.Payload {
		contact := &result.Payload[i]
		if contact.Identifier == identifier || contact.PhoneNumber == identifier {
			return contact, nil
		}
	}
	return nil, nil
}

func (c *Client) CreateContact(ctx context.Context, inboxID int, identifier, phoneNumber, name string) (*ports.ChatwootContact, error) {
	body := map[string]interface{}{
		"inbox_id":   inboxID,
		"name":       name,
		"identifier": identifier,
	}
	if phoneNumber != "" {
		body["phone_number"] = phoneNumber
	}
	var result struct {
		Payload struct {
			Contact ports.ChatwootContact `json:"contact"`
		} `json:"payload"`
	}
	err := c.withRetry(ctx, "create contact", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&result).
			Post(c.accountPath("/contacts"))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result.Payload.Contact, nil
}

func (c *Client) UpdateContactAttributes(ctx context.Context, contactID int, attributes map[string]interface{}) error {
	return c.withRetry(ctx, "update contact", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(attributes).
			Put(c.accountPath("/contacts/%d", contactID))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
}

func (c *Client) CountContacts(ctx context.Context) (int, error) {
	var result struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	err := c.withRetry(ctx, "count contacts", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get(c.accountPath("/contacts"))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return result.Meta.Count, nil
}

func (c *Client) ListContactConversations(ctx context.Context, contactID int) ([]ports.ChatwootConversation, error) {
	var result struct {
		Payload []ports.ChatwootConversation `json:"payload"`
	}
	err := c.withRetry(ctx, "list contact conversations", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get(c.accountPath("/contacts/%d/conversations", contactID))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Payload, nil
}

func (c *Client) CreateConversation(ctx context.Context, contactID, inboxID int, pending bool) (*ports.ChatwootConversation, error) {
	status := ports.ConversationStatusOpen
	if pending {
		status = ports.ConversationStatusPending
	}
	body := map[string]interface{}{
		"contact_id": contactID,
		"inbox_id":   inboxID,
		"status":     status,
	}
	var conversation ports.ChatwootConversation
	err := c.withRetry(ctx, "create conversation", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&conversation).
			Post(c.accountPath("/conversations"))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (c *Client) ToggleConversationStatus(ctx context.Context, conversationID int, status string) error {
	return c.withRetry(ctx, "toggle conversation status", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"status": status}).
			Post(c.accountPath("/conversations/%d/toggle_status", conversationID))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
}

func (c *Client) CountConversations(ctx context.Context, status string) (int, error) {
	var result struct {
		Meta struct {
			MineCount       int `json:"mine_count"`
			UnassignedCount int `json:"unassigned_count"`
			AllCount        int `json:"all_count"`
		} `json:"meta"`
	}
	err := c.withRetry(ctx, "count conversations", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("status", status).
			SetResult(&result).
			Get(c.accountPath("/conversations"))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return result.Meta.AllCount, nil
}

// CreateMessage posts a message into a conversation. Attachments go as
// multipart; plain messages as JSON.
func (c *Client) CreateMessage(ctx context.Context, conversationID int, draft *ports.MessageDraft) (*ports.ChatwootMessage, error) {
	var message ports.ChatwootMessage
	path := c.accountPath("/conversations/%d/messages", conversationID)

	err := c.withRetry(ctx, "create message", func() error {
		req := c.http.R().SetContext(ctx).SetResult(&message)

		if draft.Attachment != nil {
			req.SetMultipartFormData(messageFormFields(draft)).
				SetMultipartField("attachments[]", draft.Attachment.FileName, draft.Attachment.MimeType,
					strings.NewReader(string(draft.Attachment.Data)))
		} else {
			req.SetBody(messageJSONBody(draft))
		}

		resp, err := req.Post(path)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func messageJSONBody(draft *ports.MessageDraft) map[string]interface{} {
	body := map[string]interface{}{
		"content":      draft.Content,
		"message_type": draft.MessageType,
		"private":      draft.Private,
	}
	if draft.SourceID != "" {
		body["source_id"] = draft.SourceID
	}
	attrs := map[string]interface{}{}
	if draft.InReplyTo != nil {
		attrs["in_reply_to"] = *draft.InReplyTo
	}
	if draft.InReplyToExternalID != "" {
		attrs["in_reply_to_external_id"] = draft.InReplyToExternalID
	}
	if len(attrs) > 0 {
		body["content_attributes"] = attrs
	}
	return body
}

func messageFormFields(draft *ports.MessageDraft) map[string]string {
	fields := map[string]string{
		"message_type": draft.MessageType,
	}
	if draft.Content != "" {
		fields["content"] = draft.Content
	}
	if draft.SourceID != "" {
		fields["source_id"] = draft.SourceID
	}
	if draft.Private {
		fields["private"] = "true"
	}
	return fields
}

// FetchAttachment downloads attachment bytes from a Chatwoot data URL.
func (c *Client) FetchAttachment(ctx context.Context, dataURL string) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, "fetch attachment", func() error {
		resp, err := c.http.R().SetContext(ctx).Get(dataURL)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		data = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
