// Package session tracks per-browser state in a signed cookie, most notably
// the last page a visitor browsed so that logging in can send them back.
package session

import (
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "tdmr"
	lastPageKey = "last_page"

	defaultMaxAgeSeconds = 86400 * 7
)

// ErrInvalidSessionConfig indicates a misconfigured session tracker.
var ErrInvalidSessionConfig = errors.New("session: cookie secret must be provided")

// TrackerConfig configures the cookie-backed session tracker.
type TrackerConfig struct {
	CookieSecret []byte
	// Secure marks the cookie as HTTPS-only. Off for local development.
	Secure bool
}

// Tracker remembers where a visitor last was.
type Tracker struct {
	store *sessions.CookieStore
}

// NewTracker constructs a Tracker with a signed cookie store.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if len(cfg.CookieSecret) == 0 {
		return nil, ErrInvalidSessionConfig
	}
	store := sessions.NewCookieStore(cfg.CookieSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   defaultMaxAgeSeconds,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Tracker{store: store}, nil
}

// RememberPage stores the full request path as the visitor's last page.
func (t *Tracker) RememberPage(w http.ResponseWriter, r *http.Request) error {
	// Get falls back to a fresh session when the cookie is garbled, which
	// is exactly what we want here.
	current, _ := t.store.Get(r, sessionName)
	current.Values[lastPageKey] = r.URL.RequestURI()
	return current.Save(r, w)
}

// LastPage returns the most recently remembered page, or fallback when the
// session holds none.
func (t *Tracker) LastPage(r *http.Request, fallback string) string {
	current, _ := t.store.Get(r, sessionName)
	page, ok := current.Values[lastPageKey].(string)
	if !ok || page == "" {
		return fallback
	}
	return page
}
