package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtchat/models"
)

// ErrUnauthorized is returned when an authenticated endpoint rejects the
// session's credential. The session must be dropped.
var ErrUnauthorized = errors.New("session expired or unauthorized")

// Error is a failed request with the server's explanation.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

// TokenSource supplies the bearer credential of the current session.
type TokenSource interface {
	Token() string
}

// Client talks to the chat HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, tokens TokenSource, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log.Named("api"),
	}
}

// BaseURL is the server root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	var out models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", creds, &out, false)
	return out, err
}

func (c *Client) Register(ctx context.Context, reg models.Registration) (models.AuthResponse, error) {
	var out models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", reg, &out, false)
	return out, err
}

func (c *Client) Profile(ctx context.Context) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodGet, "/api/auth/profile", nil, &out, true)
	return out, err
}

func (c *Client) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodPatch, "/api/auth/profile", upd, &out, true)
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, true)
}

// Users fetches the user directory.
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, http.MethodGet, "/api/user/users", nil, &out, true)
	return out, err
}

func (c *Client) User(ctx context.Context, id string) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &out, true)
	return out, err
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, http.MethodGet, "/api/users/search?"+url.Values{"q": {query}}.Encode(), nil, &out, true)
	return out, err
}

// History fetches one page of the conversation with counterpartID. An empty
// cursor asks for the newest page.
func (c *Client) History(ctx context.Context, counterpartID, cursor string) (models.Page, error) {
	path := "/api/chat/chats/" + url.PathEscape(counterpartID)
	if cursor != "" {
		path += "?" + url.Values{"cursor": {cursor}}.Encode()
	}
	var out models.Page
	err := c.do(ctx, http.MethodGet, path, nil, &out, true)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil, true)
}

func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	body := struct {
		MessageIDs []string `json:"messageIds"`
	}{ids}
	return c.do(ctx, http.MethodPatch, "/api/messages/read", body, nil, true)
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out models.UnreadCount
	err := c.do(ctx, http.MethodGet, "/api/messages/unread-count", nil, &out, true)
	return out.Count, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, auth bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth && c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && auth {
		c.log.Warn("session rejected", zap.String("method", method), zap.String("path", path))
		return errors.Wrapf(ErrUnauthorized, "%s %s", method, path)
	}
	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Message = payload.Message
		}
		if resp.StatusCode >= 500 {
			c.log.Error("server error", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("message", apiErr.Message))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}
