package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Patsimim/GlobalChat/internal/models"
)

// TokenSource supplies the bearer credential for every request. The session
// implements it.
type TokenSource interface {
	Token() string
}

// RequestError is a non-2xx reply from the chat API.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// IsAuthExpired reports whether err is a 401-class rejection. These propagate
// out of the chat core and trigger the credential-invalidation flow.
func IsAuthExpired(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Status == http.StatusUnauthorized
}

// Client is the request/response side of the chat boundary: paginated history,
// sends, and list snapshots. Live delivery happens over the socket channel,
// never here.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
	}
}

func (c *Client) messagesPath(scope models.Scope) string {
	switch scope.Type {
	case models.ChatGroup:
		return "/chat/groups/" + url.PathEscape(scope.ID) + "/messages"
	case models.ChatPrivate:
		return "/chat/private/" + url.PathEscape(scope.ID) + "/messages"
	default:
		return "/chat/world/messages"
	}
}

// LoadMessages fetches one history page for a room, newest page first.
func (c *Client) LoadMessages(ctx context.Context, scope models.Scope, limit, skip int) ([]models.Message, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("skip", strconv.Itoa(skip))

	var resp models.MessagesResponse
	if err := c.get(ctx, c.messagesPath(scope)+"?"+query.Encode(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &RequestError{Status: http.StatusOK, Message: "server reported failure"}
	}
	return resp.Messages, nil
}

// SendMessage posts a new message. The returned record is informational only:
// the log is appended when the socket echo arrives, not here.
func (c *Client) SendMessage(ctx context.Context, scope models.Scope, content string) (models.Message, error) {
	body := map[string]string{"content": content}

	var resp models.SendResponse
	if err := c.post(ctx, c.messagesPath(scope), body, &resp); err != nil {
		return models.Message{}, err
	}
	if !resp.Success {
		return models.Message{}, &RequestError{Status: http.StatusOK, Message: "send rejected"}
	}
	return resp.Message, nil
}

func (c *Client) LoadGroups(ctx context.Context) ([]models.Room, error) {
	var resp models.GroupsResponse
	if err := c.get(ctx, "/chat/groups", &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

func (c *Client) LoadPrivateChats(ctx context.Context) ([]models.Room, error) {
	var resp models.PrivateChatsResponse
	if err := c.get(ctx, "/chat/private", &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, participants []string, description string) (*models.Room, error) {
	if participants == nil {
		participants = []string{}
	}
	body := map[string]any{
		"name":         name,
		"participants": participants,
		"description":  description,
	}

	var resp models.GroupResponse
	if err := c.post(ctx, "/chat/groups", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &RequestError{Status: http.StatusOK, Message: "group creation rejected"}
	}
	return &resp.Group, nil
}

func (c *Client) StartPrivateChat(ctx context.Context, participantID string) (*models.Room, bool, error) {
	body := map[string]string{"participantId": participantID}

	var resp models.PrivateChatResponse
	if err := c.post(ctx, "/chat/private/start", body, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Success {
		return nil, false, &RequestError{Status: http.StatusOK, Message: "private chat rejected"}
	}
	return &resp.Chat, resp.IsNew, nil
}

func (c *Client) LoadOnlineUsers(ctx context.Context) ([]models.User, error) {
	var resp models.UsersResponse
	if err := c.get(ctx, "/chat/online-users", &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) SearchUsers(ctx context.Context, q string, limit int) ([]models.User, error) {
	query := url.Values{}
	query.Set("q", q)
	query.Set("limit", strconv.Itoa(limit))

	var resp models.UsersResponse
	if err := c.get(ctx, "/chat/search/users?"+query.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) ChatStats(ctx context.Context) (*models.ChatStats, error) {
	var resp models.StatsResponse
	if err := c.get(ctx, "/chat/stats", &resp); err != nil {
		return nil, err
	}
	return &resp.Stats, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, raw, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := extractErrorMessage(data)
		log.Printf("[API] %s %s failed: %d %s", method, path, resp.StatusCode, msg)
		return &RequestError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func extractErrorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
