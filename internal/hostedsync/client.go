package hostedsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adamavenir/inbox/internal/types"
)

// ErrNotFound is returned when the conversation does not exist on the server.
var ErrNotFound = errors.New("not found")

// APIError represents a non-2xx response from the hosted messaging API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("inbox api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("inbox api error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("inbox api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("inbox api error (%d)", e.Status)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the hosted messaging API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a client. A zero timeout uses 20s.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: normalized,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// NormalizeBaseURL normalizes an API base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("api url must include scheme (https://)")
	}
	value = strings.TrimRight(value, "/")
	return value, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type conversationsResponse struct {
	Conversations []types.Conversation `json:"conversations"`
}

// FetchConversations returns the operator's conversation list.
func (c *Client) FetchConversations(ctx context.Context) ([]types.Conversation, error) {
	var resp conversationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/conversations", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// FetchMessages returns the newest limit messages of a conversation, or the
// limit messages before beforeID when it is set.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int, beforeID string) (types.MessagePage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if beforeID != "" {
		query.Set("before", beforeID)
	}
	var page types.MessagePage
	if err := c.doJSON(ctx, http.MethodGet, messagesPath(conversationID), query, nil, &page); err != nil {
		return types.MessagePage{}, err
	}
	return page, nil
}

// SendRequest is the body of a send call.
type SendRequest struct {
	Text      string          `json:"text,omitempty"`
	Media     *types.MediaRef `json:"media,omitempty"`
	ClientRef string          `json:"client_ref,omitempty"`
}

// SendMessage posts a message and returns the stored record.
func (c *Client) SendMessage(ctx context.Context, conversationID string, body types.Body, clientRef string) (types.RemoteMessage, error) {
	req := SendRequest{Text: body.Text, Media: body.Media, ClientRef: clientRef}
	var resp types.RemoteMessage
	if err := c.doJSON(ctx, http.MethodPost, messagesPath(conversationID), nil, req, &resp); err != nil {
		return types.RemoteMessage{}, err
	}
	if resp.ConversationID == "" {
		resp.ConversationID = conversationID
	}
	if err := resp.Validate(); err != nil {
		return types.RemoteMessage{}, fmt.Errorf("send response: %w", err)
	}
	return resp, nil
}

func messagesPath(conversationID string) string {
	return "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	if err := json.Unmarshal(respData, respBody); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
