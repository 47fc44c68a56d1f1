// Package api is the REST client for message history, shared media and
// message mutation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zchat_go/internal/domain"
	"zchat_go/internal/media"
	"zchat_go/internal/timeline"
)

// DefaultPageSize is the limit sent with every page request.
const DefaultPageSize = 50

// FetchError describes a failed request. Status is 0 for transport and
// decode failures.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the backend REST API. BaseURL includes the API prefix,
// e.g. http://localhost:8000/api.
type Client struct {
	BaseURL  string
	Token    string
	PageSize int
	HTTP     *http.Client
}

// NewClient returns a Client with a 10s request timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:    token,
		PageSize: DefaultPageSize,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

var (
	_ timeline.HistoryFetcher = (*Client)(nil)
	_ media.Fetcher           = (*Client)(nil)
)

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

type mediaResponse struct {
	Media      []domain.MediaItem `json:"media"`
	Pagination struct {
		HasMore bool `json:"hasMore"`
	} `json:"pagination"`
}

// FetchOlder returns the page of messages older than cursor, newest first.
func (c *Client) FetchOlder(ctx context.Context, conversationID, cursor int64) (timeline.HistoryPage, error) {
	var resp historyResponse
	u := c.pageURL(fmt.Sprintf("/messages/%d", conversationID), cursor)
	if err := c.do(ctx, "fetch history", http.MethodGet, u, nil, &resp); err != nil {
		return timeline.HistoryPage{}, err
	}
	return timeline.HistoryPage{Messages: resp.Messages, HasMore: resp.HasMore}, nil
}

// FetchMedia returns the media items of kind older than cursor.
func (c *Client) FetchMedia(ctx context.Context, conversationID int64, kind domain.MediaKind, cursor int64) (media.Page[domain.MediaItem], error) {
	var resp mediaResponse
	u := c.pageURL(fmt.Sprintf("/messages/%d/media/%s", conversationID, url.PathEscape(string(kind))), cursor)
	if err := c.do(ctx, "fetch media", http.MethodGet, u, nil, &resp); err != nil {
		return media.Page[domain.MediaItem]{}, err
	}
	return media.Page[domain.MediaItem]{Items: resp.Media, HasMore: resp.Pagination.HasMore}, nil
}

// SendMessageInput is the body of a message create request.
type SendMessageInput struct {
	Content     string              `json:"content"`
	Type        domain.MessageType  `json:"type,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// SendMessage posts a message to conversationID and returns it as stored.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, in SendMessageInput) (domain.Message, error) {
	var out domain.Message
	u := c.BaseURL + fmt.Sprintf("/messages/%d", conversationID)
	err := c.do(ctx, "send message", http.MethodPost, u, in, &out)
	return out, err
}

// DeleteMessage soft-deletes one of the caller's messages.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	u := c.BaseURL + fmt.Sprintf("/messages/%d/%d", conversationID, messageID)
	return c.do(ctx, "delete message", http.MethodDelete, u, nil, nil)
}

type createConversationRequest struct {
	Participants []string `json:"participants"`
	Name         *string  `json:"name,omitempty"`
}

// OpenDirect returns the direct conversation with peer, creating it if
// needed.
func (c *Client) OpenDirect(ctx context.Context, peer string) (domain.Conversation, error) {
	var out domain.Conversation
	err := c.do(ctx, "open conversation", http.MethodPost, c.BaseURL+"/conversations",
		createConversationRequest{Participants: []string{peer}}, &out)
	return out, err
}

func (c *Client) pageURL(path string, cursor int64) string {
	q := url.Values{}
	if cursor > 0 {
		q.Set("last_message_id", strconv.FormatInt(cursor, 10))
	}
	limit := c.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q.Set("limit", strconv.Itoa(limit))
	return c.BaseURL + path + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, op, method, u string, body, v any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &FetchError{Op: op, Err: err}
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return &FetchError{Op: op, Status: resp.StatusCode, Err: errorFromBody(resp)}
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// errorFromBody maps the backend's {"error": "..."} body to an error,
// falling back to the status text.
func errorFromBody(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s", body.Error)
	}
	return fmt.Errorf("%s", http.StatusText(resp.StatusCode))
}
