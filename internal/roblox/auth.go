// Package roblox – privileged credential handling.
//
// An optional platform session cookie unlocks an authenticated code path that
// is far less likely to be rate limited. The privileged path uses a CSRF
// token challenge: a 403 carrying an x-csrf-token header means "retry with
// this token", not "credential rejected". A genuine authorization failure
// invalidates the cached session-validity flag; from then on every call in
// the process uses the public path until restart.
package roblox

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

const csrfHeader = "x-csrf-token"

type authState struct {
	cookie string

	mu          sync.Mutex
	invalidated bool
	xsrf        string
	logged      bool
}

func newAuthState(cookie string) *authState {
	return &authState{cookie: cookie}
}

// usable reports whether the privileged path should be attempted.
func (a *authState) usable() bool {
	if a.cookie == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.invalidated
}

// decorate attaches the session cookie and, when known, the CSRF token.
func (a *authState) decorate(req *http.Request) {
	req.Header.Set("Cookie", ".ROBLOSECURITY="+a.cookie)
	a.mu.Lock()
	if a.xsrf != "" {
		req.Header.Set("X-CSRF-TOKEN", a.xsrf)
	}
	a.mu.Unlock()
}

// refreshCSRF stores a token issued by a 403 challenge response and reports
// whether a token was actually present (i.e. the 403 was a challenge, not a
// rejection).
func (a *authState) refreshCSRF(resp *http.Response) bool {
	tok := resp.Header.Get(csrfHeader)
	if tok == "" {
		return false
	}
	a.mu.Lock()
	a.xsrf = tok
	a.mu.Unlock()
	return true
}

// invalidate marks the credential rejected. Logged once; subsequent calls go
// through the public path silently.
func (a *authState) invalidate() {
	a.mu.Lock()
	already := a.invalidated
	a.invalidated = true
	shouldLog := !a.logged
	a.logged = true
	a.mu.Unlock()

	if !already && shouldLog {
		log.Warn().Msg("profile API credential rejected, downgrading to public endpoints")
	}
}
