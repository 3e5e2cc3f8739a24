// Package api is the default REST implementation of the backend
// collaborators: auth, user, conversation and billing services.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatwidget/pkg/session"
)

// TokenSource supplies the current auth state for each request, so the
// client always sends the credentials of the active login.
type TokenSource func() session.Auth

type Config struct {
	BaseURL     string
	TokenSource TokenSource
	// HTTPClient is optional; a client with a sane timeout is used otherwise.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api client: base URL is empty")
	}
	if cfg.TokenSource == nil {
		return nil, errors.New("api client: token source is nil")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, tokens: cfg.TokenSource, http: httpClient}, nil
}

// Login exchanges the device identity for an app user. A 401/403 becomes an
// *AuthError; anything else unexpected is a *TransportError.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	out := &LoginResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/login", req, out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateUser pushes editable attributes to the backend.
func (c *Client) UpdateUser(ctx context.Context, attrs map[string]any) (*session.User, error) {
	return c.updateUser(ctx, attrs, false)
}

// ImmediateUpdateUser is the non-debounced variant used during the login
// sequence.
func (c *Client) ImmediateUpdateUser(ctx context.Context, attrs map[string]any) (*session.User, error) {
	return c.updateUser(ctx, attrs, true)
}

func (c *Client) updateUser(ctx context.Context, attrs map[string]any, immediate bool) (*session.User, error) {
	path := "/v1/appuser"
	if immediate {
		path += "?immediate=true"
	}
	out := &UserResponse{}
	if err := c.do(ctx, http.MethodPut, path, updateUserRequest{Attributes: attrs}, out, false); err != nil {
		return nil, err
	}
	return &out.AppUser, nil
}

// TrackEvent records a named event with optional user properties.
func (c *Client) TrackEvent(ctx context.Context, name string, props map[string]any) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("api client: event name is empty")
	}
	return c.do(ctx, http.MethodPost, "/v1/events", trackEventRequest{Name: name, Properties: props}, nil, false)
}

// GetConversation fetches the user's conversation; the backend creates it if
// absent.
func (c *Client) GetConversation(ctx context.Context) (*session.Conversation, error) {
	out := &ConversationResponse{}
	if err := c.do(ctx, http.MethodGet, "/v1/conversation", nil, out, false); err != nil {
		return nil, err
	}
	return &out.Conversation, nil
}

// PostMessage sends a message into the conversation and returns the accepted
// message as recorded by the backend.
func (c *Client) PostMessage(ctx context.Context, text string) (*session.Message, error) {
	out := &MessageResponse{}
	req := sendMessageRequest{Text: text, Role: session.RoleUser}
	if err := c.do(ctx, http.MethodPost, "/v1/conversation/messages", req, out, false); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// GetBillingAccount fetches the billing account summary. Callers treat
// failures as best-effort.
func (c *Client) GetBillingAccount(ctx context.Context) (*session.BillingAccount, error) {
	out := &BillingResponse{}
	if err := c.do(ctx, http.MethodGet, "/v1/stripe/account", nil, out, false); err != nil {
		return nil, err
	}
	return &out.Account, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, isLogin bool) error {
	op := method + " " + path
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "api client: encode request")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "api client: build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth := c.tokens()
	if auth.AppToken != "" {
		req.Header.Set("App-Token", auth.AppToken)
	}
	if auth.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+auth.JWT)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if isLogin {
			return &AuthError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		}
		return &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Str("component", "api").Str("op", op).Int("status", resp.StatusCode).Msg("unexpected response")
		return &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: errors.Wrap(err, "decode response")}
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}
