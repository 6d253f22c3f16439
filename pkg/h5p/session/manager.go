package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCookieName names the session cookie.
	DefaultCookieName = "hh5p_session"

	flashKey = "_flashes"
)

// Flash levels
const (
	FlashSuccess = "success"
	FlashDanger  = "danger"
)

// Flash is a message shown once on the next page.
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type contextKey struct{}

// Manager binds a Store to requests through a session cookie.
type Manager struct {
	store      Store
	cookieName string
	maxAge     time.Duration
	secure     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(m *Manager) { m.cookieName = name }
}

// WithMaxAge sets the cookie lifetime. Zero issues a browser-session cookie.
func WithMaxAge(maxAge time.Duration) Option {
	return func(m *Manager) { m.maxAge = maxAge }
}

// WithSecureCookie marks the cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, cookieName: DefaultCookieName}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Middleware loads the session id from the cookie, issuing a new one when
// the request has none, and stores it in the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := ""
		if c, err := r.Cookie(m.cookieName); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				sid = c.Value
			}
		}
		if sid == "" {
			sid = uuid.NewString()
			cookie := &http.Cookie{
				Name:     m.cookieName,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			}
			if m.maxAge > 0 {
				cookie.MaxAge = int(m.maxAge.Seconds())
			}
			http.SetCookie(w, cookie)
		}
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), sid)))
	})
}

// WithID returns a context carrying session id sid.
func WithID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, contextKey{}, sid)
}

// IDFromContext returns the session id stored by Middleware.
func IDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(contextKey{}).(string)
	return sid, ok && sid != ""
}

func (m *Manager) sid(ctx context.Context) (string, error) {
	sid, ok := IDFromContext(ctx)
	if !ok {
		return "", ErrNoSession
	}
	return sid, nil
}

// Get reads key from the current session.
func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	sid, err := m.sid(ctx)
	if err != nil {
		return "", false, err
	}
	return m.store.Get(ctx, sid, key)
}

// Put writes key in the current session.
func (m *Manager) Put(ctx context.Context, key, value string) error {
	sid, err := m.sid(ctx)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, sid, key, value)
}

// Flash queues a message for the next Flashes call.
func (m *Manager) Flash(ctx context.Context, level, message string) error {
	sid, err := m.sid(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(Flash{Level: level, Message: message})
	if err != nil {
		return err
	}
	return m.store.Append(ctx, sid, flashKey, string(data))
}

// Flashes returns and clears the queued messages.
func (m *Manager) Flashes(ctx context.Context) ([]Flash, error) {
	sid, err := m.sid(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := m.store.PullList(ctx, sid, flashKey)
	if err != nil {
		return nil, err
	}
	flashes := make([]Flash, 0, len(raw))
	for _, item := range raw {
		var f Flash
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			return nil, fmt.Errorf("failed to decode flash: %w", err)
		}
		flashes = append(flashes, f)
	}
	return flashes, nil
}
