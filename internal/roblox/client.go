// Package roblox implements the rate-limited HTTP client for the external
// game-platform profile service. It exposes three independently fallible
// operations — identity search by name, profile-text fetch, and avatar fetch —
// each returning either a value or one of the typed failures below.
//
// The client enforces a minimum inter-request spacing, backs off into a
// cooldown window after repeated rate limiting (see pacer.go), and prefers an
// authenticated code path when a platform session cookie is configured,
// transparently falling back to the public endpoints when the credential is
// rejected (see auth.go).
package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Typed failures of the lookup operations. Callers branch with errors.Is.
var (
	// ErrNotFound: the requested identity or resource does not exist.
	ErrNotFound = errors.New("profile api: not found")
	// ErrRateLimited: the remote API throttled the request (or the client is
	// in a local cooldown window after repeated throttling).
	ErrRateLimited = errors.New("profile api: rate limited")
	// ErrTransient: network failure or 5xx; worth retrying.
	ErrTransient = errors.New("profile api: transient error")
	// ErrAuthInvalid: the privileged credential was rejected.
	ErrAuthInvalid = errors.New("profile api: credential invalid")
)

// Identity is an external game-platform account.
type Identity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Lookup is the contract the verification engine depends on. Client is the
// production implementation; tests inject fakes.
type Lookup interface {
	// FindByName resolves a claimed account name to an identity, matching the
	// name exactly (case-insensitive) among search results.
	FindByName(ctx context.Context, name string) (*Identity, error)

	// FetchProfileText returns the free-text profile description. An empty
	// string is a valid result, distinct from a fetch failure.
	FetchProfileText(ctx context.Context, id int64) (string, error)

	// FetchAvatar returns a headshot image URL. Best-effort; failures must
	// never block verification.
	FetchAvatar(ctx context.Context, id int64) (string, error)
}

// Options configures a Client. Zero values select production defaults.
type Options struct {
	UsersBaseURL      string        // default https://users.roblox.com
	ThumbnailsBaseURL string        // default https://thumbnails.roblox.com
	Cookie            string        // optional privileged session cookie
	MinInterval       time.Duration // minimum spacing between requests
	CooldownThreshold int           // consecutive 429s before cooldown
	CooldownWindow    time.Duration // fail-fast window after threshold
	RequestTimeout    time.Duration // per-request timeout
}

// Client talks to the profile service. Safe for concurrent use; the pacing
// and credential state are process-local and shared across all operations.
type Client struct {
	http       *http.Client
	usersBase  string
	thumbsBase string
	timeout    time.Duration
	pacer      *pacer
	auth       *authState
}

// NewClient builds a Client with the given options.
func NewClient(opt Options) *Client {
	if opt.UsersBaseURL == "" {
		opt.UsersBaseURL = "https://users.roblox.com"
	}
	if opt.ThumbnailsBaseURL == "" {
		opt.ThumbnailsBaseURL = "https://thumbnails.roblox.com"
	}
	if opt.RequestTimeout <= 0 {
		opt.RequestTimeout = 10 * time.Second
	}
	if opt.CooldownWindow <= 0 {
		opt.CooldownWindow = time.Minute
	}
	return &Client{
		http:       &http.Client{Timeout: opt.RequestTimeout},
		usersBase:  strings.TrimRight(opt.UsersBaseURL, "/"),
		thumbsBase: strings.TrimRight(opt.ThumbnailsBaseURL, "/"),
		timeout:    opt.RequestTimeout,
		pacer:      newPacer(opt.MinInterval, opt.CooldownThreshold, opt.CooldownWindow),
		auth:       newAuthState(opt.Cookie),
	}
}

// FindByName searches for the account by keyword and picks the exact
// case-insensitive name match. Returns ErrNotFound when no result matches.
func (c *Client) FindByName(ctx context.Context, name string) (*Identity, error) {
	u := fmt.Sprintf("%s/v1/users/search?keyword=%s&limit=10", c.usersBase, url.QueryEscape(name))

	var body struct {
		Data []Identity `json:"data"`
	}
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	for i := range body.Data {
		if strings.EqualFold(body.Data[i].Name, name) {
			out := body.Data[i]
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// FetchProfileText returns the account's profile description. Empty text is
// a valid — not erroneous — result.
func (c *Client) FetchProfileText(ctx context.Context, id int64) (string, error) {
	u := fmt.Sprintf("%s/v1/users/%d/description", c.usersBase, id)

	var body struct {
		Description string `json:"description"`
	}
	if err := c.getJSON(ctx, u, &body); err != nil {
		return "", err
	}
	return body.Description, nil
}

// FetchAvatar returns a headshot URL for the account, or ErrNotFound when the
// thumbnail service has none.
func (c *Client) FetchAvatar(ctx context.Context, id int64) (string, error) {
	u := fmt.Sprintf("%s/v1/users/avatar-headshot?userIds=%s&size=150x150&format=Png",
		c.thumbsBase, strconv.FormatInt(id, 10))

	var body struct {
		Data []struct {
			ImageURL string `json:"imageUrl"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, u, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 || body.Data[0].ImageURL == "" {
		return "", ErrNotFound
	}
	return body.Data[0].ImageURL, nil
}

// ValidateCredential probes the authenticated-user endpoint with the
// configured cookie. Returns nil when the credential works, ErrAuthInvalid
// when it is rejected (which also flips the cached validity flag), and the
// usual typed failures otherwise.
func (c *Client) ValidateCredential(ctx context.Context) error {
	if !c.auth.usable() {
		return ErrAuthInvalid
	}
	var body struct {
		ID int64 `json:"id"`
	}
	err := c.getJSON(ctx, c.usersBase+"/v1/users/authenticated", &body)
	if errors.Is(err, ErrAuthInvalid) || (err == nil && body.ID == 0) {
		return ErrAuthInvalid
	}
	return err
}

// getJSON performs a paced GET, preferring the authenticated path while the
// credential is believed valid, and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := c.pacer.acquire(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.auth.usable() {
		err := c.doOnce(ctx, rawURL, out, true)
		if !errors.Is(err, ErrAuthInvalid) {
			return err
		}
		// Credential rejected: flag is already invalidated, retry public.
	}
	return c.doOnce(ctx, rawURL, out, false)
}

// doOnce issues a single GET (plus at most one CSRF-challenge retry on the
// authenticated path) and maps the response status to a typed failure.
func (c *Client) doOnce(ctx context.Context, rawURL string, out any, authed bool) error {
	resp, err := c.issue(ctx, rawURL, authed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if authed && resp.StatusCode == http.StatusForbidden {
		// A 403 carrying a fresh CSRF token is a challenge, not a rejection.
		challenged := c.auth.refreshCSRF(resp)
		resp.Body.Close()
		if challenged {
			resp, err = c.issue(ctx, rawURL, true)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
		} else {
			c.auth.invalidate()
			return ErrAuthInvalid
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.pacer.onRateLimited()
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		c.pacer.onSuccess()
		return ErrNotFound
	case authed && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		c.auth.invalidate()
		return ErrAuthInvalid
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: unexpected status %d", ErrTransient, resp.StatusCode)
	}

	c.pacer.onSuccess()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrTransient, err)
	}
	return nil
}

// issue builds and sends one GET request.
func (c *Client) issue(ctx context.Context, rawURL string, authed bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		c.auth.decorate(req)
	}
	return c.http.Do(req)
}
