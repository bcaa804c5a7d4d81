// Package api is the REST client for the messaging backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"wesync/internal/entity"
	"wesync/pkg/logger"
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNotFound     = errors.New("api: not found")
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// response is the envelope every endpoint answers with.
type response struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Config struct {
	Timeout         time.Duration
	LoginMaxElapsed time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	conf    Config
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, conf Config, log *zap.Logger) *Client {
	if conf.Timeout <= 0 {
		conf.Timeout = 15 * time.Second
	}
	if conf.LoginMaxElapsed <= 0 {
		conf.LoginMaxElapsed = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf:    conf,
		logger:  logger.OrNop(log).Named("api"),
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for an access token and keeps it for later calls.
// Network errors and 5xx answers are retried with exponential backoff.
func (c *Client) Login(ctx context.Context, req entity.LoginRequest) (entity.AuthResponse, error) {
	var out entity.AuthResponse
	operation := func() error {
		err := c.do(ctx, http.MethodPost, "/auth/login", nil, req, &out)
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.conf.LoginMaxElapsed
	notify := func(err error, d time.Duration) {
		c.logger.Warn("login failed, retrying", zap.Duration("in", d), zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return entity.AuthResponse{}, err
	}

	c.SetToken(out.AccessToken)
	return out, nil
}

func (c *Client) Register(ctx context.Context, req entity.RegisterRequest) (entity.AuthResponse, error) {
	var out entity.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, req, &out); err != nil {
		return entity.AuthResponse{}, err
	}
	c.SetToken(out.AccessToken)
	return out, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]entity.Conversation, error) {
	var out []entity.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, req entity.CreateConversationRequest) (entity.Conversation, error) {
	var out entity.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, req, &out); err != nil {
		return entity.Conversation{}, err
	}
	return out, nil
}

func (c *Client) FetchMessages(ctx context.Context, conversationId string, page, limit int) ([]entity.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out []entity.Message
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationId, "messages"), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PostMessage(ctx context.Context, conversationId string, req entity.SendMessageRequest) (entity.Message, error) {
	var out entity.Message
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationId, "messages"), nil, req, &out); err != nil {
		return entity.Message{}, err
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationId string, messageIds []string) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationId, "read"), nil,
		entity.MarkReadRequest{MessageIds: messageIds}, nil)
}

func (c *Client) EditMessage(ctx context.Context, conversationId, messageId, content string) (entity.Message, error) {
	var out entity.Message
	path := conversationPath(conversationId, "messages", messageId)
	if err := c.do(ctx, http.MethodPatch, path, nil, entity.EditMessageRequest{Content: content}, &out); err != nil {
		return entity.Message{}, err
	}
	return out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, conversationId, messageId string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(conversationId, "messages", messageId), nil, nil, nil)
}

func conversationPath(conversationId string, rest ...string) string {
	parts := append([]string{"conversations", url.PathEscape(conversationId)}, rest...)
	for i := 2; i < len(parts); i++ {
		parts[i] = url.PathEscape(parts[i])
	}
	return "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= http.StatusBadRequest {
			return &StatusError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
