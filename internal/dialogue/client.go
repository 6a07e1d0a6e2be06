package dialogue

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
)

// voiceModePrefix is a protocol contract with the roleplay backend: it asks
// for short, conversational, markdown-free replies suited for synthesis. The
// backend keys on the [VOICE_MODE] marker, so the text must not change.
const voiceModePrefix = "[VOICE_MODE] Antwoord KORT en CONVERSATIONEEL — max 2-3 zinnen. Geen opsommingen, geen markdown, geen bullet points. Spreek alsof je aan de telefoon bent. Vraag altijd iets terug.\n\nGebruiker zegt: "

// FallbackGreeting opens the session when the backend supplies no greeting
// or cannot be reached at all.
const (
	FallbackGreeting = "Hallo, welkom bij de training sessie."
	fallbackReply    = "Ik begrijp het."
)

// Session is the result of creating a remote roleplay session.
type Session struct {
	SessionID string
	Greeting  string
}

// Client talks to the roleplay dialogue backend.
type Client interface {
	CreateSession(ctx context.Context, topicID, userID string) (Session, error)
	SendMessage(ctx context.Context, sessionID, text string) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// HTTPClient implements Client against the backend's v2 HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type createSessionRequest struct {
	TechniqueID string `json:"techniqueId"`
	UserID      string `json:"userId"`
}

type sendMessageRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

func (c *HTTPClient) CreateSession(ctx context.Context, topicID, userID string) (Session, error) {
	obj, err := c.postJSON(ctx, c.baseURL+"/api/v2/sessions", createSessionRequest{
		TechniqueID: topicID,
		UserID:      userID,
	})
	if err != nil {
		return Session{}, newFailure(FailureStart, err)
	}

	sessionID, _ := obj["sessionId"].(string)
	if strings.TrimSpace(sessionID) == "" {
		return Session{}, newFailure(FailureStart, fmt.Errorf("response missing sessionId"))
	}

	return Session{
		SessionID: sessionID,
		Greeting:  firstString(obj, FallbackGreeting, "initialMessage", "openingMessage", "message"),
	}, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	obj, err := c.postJSON(ctx, c.baseURL+"/api/v2/message", sendMessageRequest{
		SessionID: sessionID,
		Content:   voiceModePrefix + text,
	})
	if err != nil {
		return "", newFailure(FailureTurn, err)
	}
	return firstString(obj, fallbackReply, "response", "message"), nil
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v2/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return newFailure(FailureTeardown, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return newFailure(FailureTeardown, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return newFailure(FailureTeardown, fmt.Errorf("http status %d", res.StatusCode))
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("http status %d: %s", res.StatusCode, strings.TrimSpace(string(detail)))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return obj, nil
}

// firstString returns the first non-empty string field among keys; the
// backend has used several field names for the same payload across versions.
func firstString(obj map[string]any, fallback string, keys ...string) string {
	for _, key := range keys {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return fallback
}
