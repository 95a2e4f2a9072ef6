// Package platform adapts a chat gateway's REST API to the engine's
// collaborator interfaces: membership lookups, role grants and direct-message
// presentation all go through one authenticated HTTP client.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/uvensys/gatekeeper"
	"github.com/uvensys/gatekeeper/lib"
)

// Options configures a gateway client. BaseURL and Token are required.
type Options struct {
	// BaseURL is the gateway API root, e.g. https://gateway.example.com/api/v10.
	BaseURL string

	// Token authenticates every request.
	Token string

	// HTTP overrides the underlying client. Defaults to one with a 10 second
	// timeout.
	HTTP *http.Client
}

// Client is a gateway API client. It satisfies lib.Directory,
// lib.RoleGrantor and lib.Presenter.
type Client struct {
	baseURL string
	token   string
	cli     *http.Client
}

var (
	_ lib.Directory   = &Client{}
	_ lib.RoleGrantor = &Client{}
	_ lib.Presenter   = &Client{}
)

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("platform: Options.BaseURL is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("platform: Options.Token is required")
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("platform: can't parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("platform: unsupported base URL scheme %q", u.Scheme)
	}

	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		baseURL: u.String(),
		token:   opts.Token,
		cli:     opts.HTTP,
	}, nil
}

type member struct {
	Username      string   `json:"username"`
	Discriminator string   `json:"discriminator"`
	RoleIDs       []string `json:"role_ids"`
}

type guild struct {
	Name string `json:"name"`
}

// IsMember reports whether the principal is currently in the guild. A 404
// from the gateway means they left.
func (c *Client) IsMember(ctx context.Context, guildID, principalID string) (bool, error) {
	_, err := c.member(ctx, guildID, principalID)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// HasAnyRole reports whether the principal holds at least one of roleIDs.
// A principal who left the guild holds none.
func (c *Client) HasAnyRole(ctx context.Context, guildID, principalID string, roleIDs []string) (bool, error) {
	m, err := c.member(ctx, guildID, principalID)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}

	held := make(map[string]struct{}, len(m.RoleIDs))
	for _, id := range m.RoleIDs {
		held[id] = struct{}{}
	}

	for _, id := range roleIDs {
		if _, ok := held[id]; ok {
			return true, nil
		}
	}

	return false, nil
}

// Describe resolves the principal's display identity for audit records.
func (c *Client) Describe(ctx context.Context, guildID, principalID string) (lib.MemberInfo, error) {
	m, err := c.member(ctx, guildID, principalID)
	if err != nil {
		return lib.MemberInfo{}, err
	}

	var g guild
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s", url.PathEscape(guildID)), nil, &g); err != nil {
		return lib.MemberInfo{}, err
	}

	return lib.MemberInfo{
		Username:      m.Username,
		Discriminator: m.Discriminator,
		GuildName:     g.Name,
	}, nil
}

// Grant assigns every role in roleIDs to the principal. The gateway grants
// one role per call; the first failure aborts the batch.
func (c *Client) Grant(ctx context.Context, guildID, principalID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
			url.PathEscape(guildID), url.PathEscape(principalID), url.PathEscape(roleID))
		if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
			return fmt.Errorf("platform: can't grant role %s: %w", roleID, err)
		}
	}

	return nil
}

type message struct {
	Content       string   `json:"content"`
	AttachmentURL string   `json:"attachment_url,omitempty"`
	Actions       []string `json:"actions,omitempty"`
}

// Present direct-messages the puzzle to the principal.
func (c *Client) Present(ctx context.Context, principalID string, p lib.Presentation) error {
	minutes := int(p.Remaining.Minutes())
	msg := message{
		Content:       fmt.Sprintf("%s You have %d minute(s) to answer.", p.PanelMessage, minutes),
		AttachmentURL: p.ArtifactHandle,
	}
	for _, a := range p.Actions {
		msg.Actions = append(msg.Actions, string(a))
	}

	path := fmt.Sprintf("/users/%s/messages", url.PathEscape(principalID))
	return c.do(ctx, http.MethodPost, path, msg, nil)
}

func (c *Client) member(ctx context.Context, guildID, principalID string) (member, error) {
	var m member
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(guildID), url.PathEscape(principalID))
	if err := c.do(ctx, http.MethodGet, path, nil, &m); err != nil {
		return member{}, err
	}

	return m, nil
}

// do issues one API request. Status codes map onto the engine's error
// taxonomy: 403 is a permission problem, 429 and server errors are transient.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: can't encode request body: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("platform: can't build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "gatekeeper/"+gatekeeper.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", lib.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", lib.ErrPermissionDenied, method, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: %s", lib.ErrUpstreamUnavailable, method, path, resp.Status)
	case resp.StatusCode >= 400:
		return &statusError{method: method, path: path, code: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("platform: can't decode response: %w", err)
		}
	}

	return nil
}

type statusError struct {
	method string
	path   string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("platform: %s %s: unexpected status %d", e.method, e.path, e.code)
}
