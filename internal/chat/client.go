// Package chat implements the delivery client for the chat platform: sending
// case notifications into channels, dissolving dedicated case channels, and
// managing channel membership.
//
// The platform reports outcomes through a numeric code in the response body.
// Two codes get special handling rather than ad hoc caller inspection:
//   - the expired-interaction code is classified as ErrDeliveryRejected, a
//     known non-fatal outcome the dispatcher absorbs;
//   - the already-a-member code on membership calls is an AlreadyDone
//     success, surfaced through the explicit Result outcome enum.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-case-sync/internal/cache"
)

// Platform result codes with dedicated semantics.
const (
	codeOK               = 0
	codeStaleInteraction = 200341  // interaction expired; expected, non-fatal
	codeAlreadyMember    = 1254044 // user already in the channel
)

// ErrDeliveryRejected marks a delivery the platform refused for a known,
// expected reason (channel gone, interaction expired). Callers log and
// continue instead of propagating it as a failure.
var ErrDeliveryRejected = errors.New("delivery rejected by chat platform")

// Outcome is the explicit result classification for membership operations.
type Outcome int

// Membership outcomes.
const (
	Success Outcome = iota
	AlreadyDone
	Failure
)

// Result carries the outcome of a membership call along with the raw
// platform code and message for logging.
type Result struct {
	Outcome Outcome
	Code    int
	Msg     string
}

// Block is one styled fragment of a structured post line.
type Block struct {
	Tag    string   `json:"tag"`
	Text   string   `json:"text,omitempty"`
	Href   string   `json:"href,omitempty"`
	Styles []string `json:"style,omitempty"`
}

// Sender is the narrow delivery surface the notification dispatcher needs.
type Sender interface {
	// SendText delivers a plain text message to the channel.
	SendText(ctx context.Context, chatID, text string) error

	// SendPost delivers a structured rich-text post; each element of lines is
	// one rendered line of styled blocks.
	SendPost(ctx context.Context, chatID, title string, lines [][]Block) error
}

// Deleter dissolves channels. Split from Sender so the janitor can be tested
// against exactly the capability it uses.
type Deleter interface {
	// DeleteChannel dissolves the channel. Deleting an already-gone channel
	// is an error the caller retries by recurrence.
	DeleteChannel(ctx context.Context, chatID string) error
}

// TokenProvider supplies the app-scoped access token for API calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIClient talks to the chat platform's REST API. It implements Sender and
// Deleter plus channel membership management.
type APIClient struct {
	// BaseURL is the platform API root, without trailing slash.
	BaseURL string
	// Tokens provides the app access token per call.
	Tokens TokenProvider
	// HTTP is the underlying client; a zero value uses http.DefaultClient.
	HTTP *http.Client
	// Log receives per-call structured logs.
	Log zerolog.Logger
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}

// SendText implements Sender.
func (c *APIClient) SendText(ctx context.Context, chatID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return c.sendMessage(ctx, chatID, "text", string(content))
}

// SendPost implements Sender.
func (c *APIClient) SendPost(ctx context.Context, chatID, title string, lines [][]Block) error {
	post := map[string]any{
		"en_us": map[string]any{
			"title":   title,
			"content": lines,
		},
	}
	content, err := json.Marshal(post)
	if err != nil {
		return err
	}
	return c.sendMessage(ctx, chatID, "post", string(content))
}

func (c *APIClient) sendMessage(ctx context.Context, chatID, msgType, content string) error {
	payload := map[string]string{
		"receive_id": chatID,
		"msg_type":   msgType,
		"content":    content,
	}
	resp, err := c.do(ctx, http.MethodPost, "/messages?receive_id_type=chat_id", payload)
	if err != nil {
		return err
	}
	switch resp.Code {
	case codeOK:
		return nil
	case codeStaleInteraction:
		return fmt.Errorf("%w: code=%d msg=%s", ErrDeliveryRejected, resp.Code, resp.Msg)
	default:
		return fmt.Errorf("send %s to %s failed: code=%d msg=%s", msgType, chatID, resp.Code, resp.Msg)
	}
}

// DeleteChannel implements Deleter.
func (c *APIClient) DeleteChannel(ctx context.Context, chatID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/chats/"+chatID, nil)
	if err != nil {
		return err
	}
	if resp.Code != codeOK {
		return fmt.Errorf("delete channel %s failed: code=%d msg=%s", chatID, resp.Code, resp.Msg)
	}
	return nil
}

// AddMember invites userID into chatID. An already-present member is a
// success, reported as AlreadyDone rather than an error.
func (c *APIClient) AddMember(ctx context.Context, chatID, userID string) (Result, error) {
	payload := map[string]any{"id_list": []string{userID}}
	resp, err := c.do(ctx, http.MethodPost, "/chats/"+chatID+"/members", payload)
	if err != nil {
		return Result{Outcome: Failure, Code: -1, Msg: err.Error()}, err
	}
	switch resp.Code {
	case codeOK:
		return Result{Outcome: Success, Code: resp.Code, Msg: resp.Msg}, nil
	case codeAlreadyMember:
		return Result{Outcome: AlreadyDone, Code: resp.Code, Msg: resp.Msg}, nil
	default:
		return Result{Outcome: Failure, Code: resp.Code, Msg: resp.Msg}, nil
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, payload any) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("chat api %s %s: bad response: %w", method, path, err)
	}
	c.Log.Debug().Str("method", method).Str("path", path).Int("code", out.Code).Msg("chat api call")
	return &out, nil
}

// AppTokenProvider exchanges app credentials for a tenant-scoped access
// token and caches it for its lifetime, so a warm process does not hammer
// the auth endpoint.
type AppTokenProvider struct {
	// AuthURL is the token issuance endpoint.
	AuthURL string
	// AppID and AppSecret identify this app to the platform.
	AppID     string
	AppSecret string
	// HTTP is the underlying client; a zero value uses http.DefaultClient.
	HTTP *http.Client

	tokens *cache.TTL[string]
}

// NewAppTokenProvider builds a provider whose cached token expires after ttl.
func NewAppTokenProvider(authURL, appID, appSecret string, ttl time.Duration) *AppTokenProvider {
	return &AppTokenProvider{
		AuthURL:   authURL,
		AppID:     appID,
		AppSecret: appSecret,
		tokens:    cache.NewTTL[string](ttl, 4),
	}
}

// Token implements TokenProvider.
func (p *AppTokenProvider) Token(ctx context.Context) (string, error) {
	if tok, ok := p.tokens.Get("app"); ok {
		return tok, nil
	}

	raw, err := json.Marshal(map[string]string{
		"app_id":     p.AppID,
		"app_secret": p.AppSecret,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.AuthURL, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Code  int    `json:"code"`
		Msg   string `json:"msg"`
		Token string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Code != codeOK || out.Token == "" {
		return "", fmt.Errorf("token issuance failed: code=%d msg=%s", out.Code, out.Msg)
	}
	p.tokens.Set("app", out.Token)
	return out.Token, nil
}
