// Package identity resolves the customer id a visitor is known by. The id is
// cached in the durable store so the same visitor keeps it across sessions.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/api"
	"github.com/large-farva/storytime/internal/storage"
)

// CacheKey is the durable-store key holding the JSON-encoded customer id.
const CacheKey = "__PAPERCUPS____CUSTOMER_ID__"

// CustomerMetadata describes the visitor as the embedding site knows them.
type CustomerMetadata struct {
	Name       string         `toml:"name" json:"name,omitempty"`
	Email      string         `toml:"email" json:"email,omitempty"`
	ExternalID string         `toml:"external_id" json:"external_id,omitempty"`
	Metadata   map[string]any `toml:"metadata" json:"metadata,omitempty"`
	// Extra holds any further top-level fields; they are sent as strings.
	Extra map[string]any `toml:"extra" json:"-"`
}

// Backend is the part of the REST client identity resolution uses.
type Backend interface {
	FindCustomerByExternalID(ctx context.Context, externalID, accountID string) (string, error)
	CreateCustomer(ctx context.Context, accountID string, metadata map[string]any) (api.Customer, error)
}

// Options configures a Resolver.
type Options struct {
	Store   storage.Store
	Backend Backend
	// Info returns page details merged into a new customer's metadata.
	Info   func() map[string]any
	Logger zerolog.Logger
}

// Resolver finds or creates the customer id and keeps it cached.
type Resolver struct {
	store   storage.Store
	backend Backend
	info    func() map[string]any
	log     zerolog.Logger

	mu        sync.Mutex
	observers map[int]func(customerID string)
	nextObs   int
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
		store:     store,
		backend:   opts.Backend,
		info:      info,
		log:       opts.Logger.With().Str("component", "identity").Logger(),
		observers: make(map[int]func(string)),
	}
}

// Cached returns the customer id in the durable store, or "" when there is
// none or the store can't be read.
func (r *Resolver) Cached() string {
	var id string
	if err := storage.GetJSON(r.store, CacheKey, &id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrUnavailable) {
			r.log.Debug().Err(err).Msg("ignoring unreadable cached customer id")
		}
		return ""
	}
	return id
}

// Resolve returns the customer id for meta under accountID.
//
// Without an external id the cached id wins. With one, the backend's match
// is authoritative: no match means a new customer even if an id is cached.
// The resolved id is persisted and observers are told before returning.
func (r *Resolver) Resolve(ctx context.Context, accountID string, meta CustomerMetadata) (string, error) {
	id := r.Cached()

	if meta.ExternalID != "" {
		match, err := r.backend.FindCustomerByExternalID(ctx, meta.ExternalID, accountID)
		if err != nil {
			return "", err
		}
		switch {
		case match == "":
			r.log.Debug().Str("external_id", meta.ExternalID).Msg("no customer matches external id")
		case match == id:
			r.log.Debug().Str("customer_id", id).Msg("external id matches cached customer")
		default:
			r.log.Debug().Str("customer_id", match).Str("cached_id", id).Msg("external id matches another customer")
		}
		id = match
	} else if id != "" {
		r.log.Debug().Str("customer_id", id).Msg("using cached customer id")
	}

	if id == "" {
		created, err := r.backend.CreateCustomer(ctx, accountID, FormatMetadata(r.info(), meta))
		if err != nil {
			return "", err
		}
		if created.ID == "" {
			return "", fmt.Errorf("create customer: backend returned no id")
		}
		id = created.ID
		r.log.Debug().Str("customer_id", id).Msg("created customer")
	}

	r.persist(id)
	return id, nil
}

// Adopt makes customerID the cached identity, as when another component on
// the page has identified the visitor.
func (r *Resolver) Adopt(customerID string) {
	if customerID == "" {
		return
	}
	r.persist(customerID)
}

// Forget removes the cached customer id.
func (r *Resolver) Forget() error {
	err := r.store.Remove(CacheKey)
	if errors.Is(err, storage.ErrUnavailable) {
		return nil
	}
	return err
}

// Observe registers fn to be called with every newly persisted customer id.
// The returned function unregisters it.
func (r *Resolver) Observe(fn func(customerID string)) (unsubscribe func()) {
	r.mu.Lock()
	key := r.nextObs
	r.nextObs++
	r.observers[key] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, key)
			r.mu.Unlock()
		})
	}
}

func (r *Resolver) persist(id string) {
	if err := storage.SetJSON(r.store, CacheKey, id); err != nil && !errors.Is(err, storage.ErrUnavailable) {
		r.log.Warn().Err(err).Msg("cache customer id")
	}

	r.mu.Lock()
	fns := make([]func(string), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

// FormatMetadata builds the customer payload: page info first, then the
// customer's own fields on top. Every value is sent as a string except the
// nested metadata map, which is passed through.
func FormatMetadata(info map[string]any, meta CustomerMetadata) map[string]any {
	out := make(map[string]any, len(info)+len(meta.Extra)+4)
	for k, v := range info {
		if v != nil {
			out[k] = stringify(v)
		}
	}
	for k, v := range meta.Extra {
		if v != nil {
			out[k] = stringify(v)
		}
	}
	if meta.Name != "" {
		out["name"] = meta.Name
	}
	if meta.Email != "" {
		out["email"] = meta.Email
	}
	if meta.ExternalID != "" {
		out["external_id"] = meta.ExternalID
	}
	if meta.Metadata != nil {
		out["metadata"] = meta.Metadata
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
