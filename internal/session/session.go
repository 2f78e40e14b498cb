// Package session resolves the browser session id. A session lives in the
// session-scoped store, so a reload within the same browsing session keeps
// its id while a new browsing session starts fresh.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/api"
	"github.com/large-farva/storytime/internal/storage"
)

// CacheKey is the session-store key holding the raw session id.
const CacheKey = "papercups:storytime:session"

// Backend is the part of the REST client session resolution uses.
type Backend interface {
	CreateBrowserSession(ctx context.Context, accountID, customerID string, metadata map[string]any) (api.BrowserSession, error)
	BrowserSessionExists(ctx context.Context, sessionID string) (bool, error)
	IdentifyBrowserSession(ctx context.Context, sessionID, customerID string) error
	RestartBrowserSession(sessionID string)
}

// Options configures a Resolver.
type Options struct {
	Store   storage.Store
	Backend Backend
	// Info returns page details sent as the new session's metadata.
	Info   func() map[string]any
	Logger zerolog.Logger
}

// Resolver finds, revives or creates the browser session.
type Resolver struct {
	store   storage.Store
	backend Backend
	info    func() map[string]any
	log     zerolog.Logger
}

// New returns a Resolver. A nil store behaves as an unavailable one.
func New(opts Options) *Resolver {
	store := opts.Store
	if store == nil {
		store = storage.Unavailable{}
	}
	info := opts.Info
	if info == nil {
		info = func() map[string]any { return nil }
	}
	return &Resolver{
		store:   store,
		backend: opts.Backend,
		info:    info,
		log:     opts.Logger.With().Str("component", "session").Logger(),
	}
}

// Cached returns the session id held in the session store, or "".
func (r *Resolver) Cached() string {
	if !r.store.Supported() {
		return ""
	}
	id, err := r.store.Get(CacheKey)
	if err != nil {
		return ""
	}
	return id
}

// Resolve returns the session id for customerID.
//
// A cached id the backend still knows is restarted, rebound to customerID
// and reused. A cached id it doesn't know is dropped without error and a new
// session is created in its place.
func (r *Resolver) Resolve(ctx context.Context, accountID, customerID string) (string, error) {
	if !r.store.Supported() {
		r.log.Debug().Msg("session storage unavailable, creating session")
		return r.create(ctx, accountID, customerID)
	}

	if existing := r.Cached(); existing != "" {
		ok, err := r.backend.BrowserSessionExists(ctx, existing)
		if err != nil {
			return "", err
		}
		if ok {
			r.backend.RestartBrowserSession(existing)
			if err := r.backend.IdentifyBrowserSession(ctx, existing, customerID); err != nil {
				return "", err
			}
			r.log.Debug().Str("session_id", existing).Msg("resumed session")
			return existing, nil
		}
		r.log.Debug().Str("session_id", existing).Msg("discarding unknown cached session")
	}

	id, err := r.create(ctx, accountID, customerID)
	if err != nil {
		return "", err
	}
	if err := r.store.Set(CacheKey, id); err != nil && !errors.Is(err, storage.ErrUnavailable) {
		r.log.Warn().Err(err).Msg("cache session id")
	}
	return id, nil
}

// Forget drops the cached session id so the next Resolve creates one.
func (r *Resolver) Forget() error {
	err := r.store.Remove(CacheKey)
	if errors.Is(err, storage.ErrUnavailable) {
		return nil
	}
	return err
}

func (r *Resolver) create(ctx context.Context, accountID, customerID string) (string, error) {
	s, err := r.backend.CreateBrowserSession(ctx, accountID, customerID, r.info())
	if err != nil {
		return "", err
	}
	if s.ID == "" {
		return "", fmt.Errorf("create browser session: backend returned no id")
	}
	r.log.Debug().Str("session_id", s.ID).Msg("created session")
	return s.ID, nil
}
