package community

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tradojo/booking/booking"
)

// BotConfig configures the REST client.
type BotConfig struct {
	Token        string
	GuildID      string
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// APIBase is the API root, overridable for tests.
	// Default: https://discord.com/api/v10
	APIBase string

	// Timeout bounds each request.
	// Default: 10s
	Timeout time.Duration
}

func (c *BotConfig) validate() {
	if c.APIBase == "" {
		c.APIBase = "https://discord.com/api/v10"
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord: %s %s: %d %s", e.Method, e.Path, e.Status, e.Body)
}

// ErrBotClosed is returned by calls after Close.
var ErrBotClosed = errors.New("discord: bot closed")

// Bot is a Guild over the Discord REST API. It is created once per process;
// Start verifies the token and Close releases the connections.
type Bot struct {
	config BotConfig
	client *http.Client

	mu      sync.RWMutex
	started bool
	closed  bool
}

var _ Guild = (*Bot)(nil)

// NewBot creates a bot. It makes no requests until Start.
func NewBot(config BotConfig) *Bot {
	config.validate()
	return &Bot{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Start checks that the token is accepted and the bot can see the guild.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBotClosed
	}
	if err := b.do(ctx, http.MethodGet, "/guilds/"+b.config.GuildID, b.botAuth(), nil, nil, nil); err != nil {
		return fmt.Errorf("discord: start: %w", err)
	}
	b.started = true
	return nil
}

// Close releases idle connections. Later calls fail with ErrBotClosed.
func (b *Bot) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.client.CloseIdleConnections()
	return nil
}

// Exchange trades an OAuth2 authorization code for the account it grants.
func (b *Bot) Exchange(ctx context.Context, code string) (booking.DiscordLink, error) {
	if err := b.ready(); err != nil {
		return booking.DiscordLink{}, err
	}
	form := url.Values{
		"client_id":     {b.config.ClientID},
		"client_secret": {b.config.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {b.config.RedirectURI},
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	if err := b.do(ctx, http.MethodPost, "/oauth2/token", header, strings.NewReader(form.Encode()), nil, &token); err != nil {
		return booking.DiscordLink{}, err
	}

	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := b.do(ctx, http.MethodGet, "/users/@me", http.Header{"Authorization": {"Bearer " + token.AccessToken}}, nil, nil, &me); err != nil {
		return booking.DiscordLink{}, err
	}
	return booking.DiscordLink{AccountID: me.ID, Username: me.Username, AccessToken: token.AccessToken}, nil
}

// AddMember joins the account to the guild with roles.
func (b *Bot) AddMember(ctx context.Context, link booking.DiscordLink, roles []string) error {
	if err := b.ready(); err != nil {
		return err
	}
	body := map[string]any{"access_token": link.AccessToken, "roles": roles}
	return b.do(ctx, http.MethodPut, b.memberPath(link.AccountID), b.botAuth(), nil, body, nil)
}

// Kick removes the account from the guild.
func (b *Bot) Kick(ctx context.Context, accountID, reason string) error {
	if err := b.ready(); err != nil {
		return err
	}
	header := b.botAuth()
	header.Set("X-Audit-Log-Reason", reason)
	return b.do(ctx, http.MethodDelete, b.memberPath(accountID), header, nil, nil, nil)
}

// SwapRole removes one role from the member and grants another.
func (b *Bot) SwapRole(ctx context.Context, accountID, remove, add string) error {
	if err := b.ready(); err != nil {
		return err
	}
	base := b.memberPath(accountID) + "/roles/"
	if remove != "" {
		if err := b.do(ctx, http.MethodDelete, base+remove, b.botAuth(), nil, nil, nil); err != nil {
			return err
		}
	}
	if add != "" {
		if err := b.do(ctx, http.MethodPut, base+add, b.botAuth(), nil, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) ready() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBotClosed
	}
	if !b.started {
		return errors.New("discord: bot not started")
	}
	return nil
}

func (b *Bot) memberPath(accountID string) string {
	return "/guilds/" + b.config.GuildID + "/members/" + url.PathEscape(accountID)
}

func (b *Bot) botAuth() http.Header {
	return http.Header{"Authorization": {"Bot " + b.config.Token}}
}

// do sends one request. Either raw or body (JSON-encoded) is sent; out, when
// non-nil, receives the decoded response.
func (b *Bot) do(ctx context.Context, method, path string, header http.Header, raw io.Reader, body any, out any) error {
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("discord: encode %s: %w", path, err)
		}
		raw = bytes.NewReader(encoded)
		header.Set("Content-Type", "application/json")
	}
	req, err := http.NewRequestWithContext(ctx, method, b.config.APIBase+path, raw)
	if err != nil {
		return fmt.Errorf("discord: build %s %s: %w", method, path, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("discord: decode %s: %w", path, err)
	}
	return nil
}
