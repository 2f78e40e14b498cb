package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/storytime/internal/api"
	"github.com/large-farva/storytime/internal/storage"
)

type fakeBackend struct {
	matches map[string]string
	nextID  string
	err     error

	lookups []string
	created []map[string]any
}

func (f *fakeBackend) FindCustomerByExternalID(_ context.Context, externalID, accountID string) (string, error) {
	f.lookups = append(f.lookups, accountID+"/"+externalID)
	if f.err != nil {
		return "", f.err
	}
	return f.matches[externalID], nil
}

func (f *fakeBackend) CreateCustomer(_ context.Context, accountID string, metadata map[string]any) (api.Customer, error) {
	if f.err != nil {
		return api.Customer{}, f.err
	}
	f.created = append(f.created, metadata)
	return api.Customer{ID: f.nextID}, nil
}

func newResolver(store storage.Store, backend Backend) *Resolver {
	return New(Options{
		Store:   store,
		Backend: backend,
		Info: func() map[string]any {
			return map[string]any{"pathname": "/pricing", "lib_version": "1.0.5"}
		},
		Logger: zerolog.Nop(),
	})
}

func TestResolveCreatesAndCaches(t *testing.T) {
	store := storage.NewMemory()
	backend := &fakeBackend{nextID: "cust_1"}
	r := newResolver(store, backend)

	var seen []string
	r.Observe(func(id string) { seen = append(seen, id) })

	id, err := r.Resolve(context.Background(), "acct_1", CustomerMetadata{Email: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "cust_1", id)
	assert.Equal(t, []string{"cust_1"}, seen)
	assert.Empty(t, backend.lookups)

	raw, err := store.Get(CacheKey)
	require.NoError(t, err)
	assert.Equal(t, `"cust_1"`, raw)

	require.Len(t, backend.created, 1)
	assert.Equal(t, map[string]any{
		"pathname":    "/pricing",
		"lib_version": "1.0.5",
		"email":       "a@b.c",
	}, backend.created[0])

	// A second resolution reuses the cache.
	id, err = r.Resolve(context.Background(), "acct_1", CustomerMetadata{})
	require.NoError(t, err)
	assert.Equal(t, "cust_1", id)
	assert.Len(t, backend.created, 1)
}

func TestResolveWithExternalID(t *testing.T) {
	tests := []struct {
		name        string
		cached      string
		match       string
		wantID      string
		wantCreated int
	}{
		{"match equals cache", "cust_1", "cust_1", "cust_1", 0},
		{"match replaces cache", "cust_1", "cust_2", "cust_2", 0},
		{"match without cache", "", "cust_2", "cust_2", 0},
		{"no match ignores cache", "cust_1", "", "cust_new", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			if tt.cached != "" {
				require.NoError(t, storage.SetJSON(store, CacheKey, tt.cached))
			}
			backend := &fakeBackend{matches: map[string]string{}, nextID: "cust_new"}
			if tt.match != "" {
				backend.matches["ext_1"] = tt.match
			}
			r := newResolver(store, backend)

			id, err := r.Resolve(context.Background(), "acct_1", CustomerMetadata{ExternalID: "ext_1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Len(t, backend.created, tt.wantCreated)
			assert.Equal(t, []string{"acct_1/ext_1"}, backend.lookups)
			assert.Equal(t, tt.wantID, r.Cached())
		})
	}
}

func TestResolvePropagatesErrors(t *testing.T) {
	boom := errors.New("backend down")
	store := storage.NewMemory()
	r := newResolver(store, &fakeBackend{err: boom})

	notified := false
	r.Observe(func(string) { notified = true })

	_, err := r.Resolve(context.Background(), "acct_1", CustomerMetadata{ExternalID: "ext_1"})
	assert.ErrorIs(t, err, boom)

	_, err = r.Resolve(context.Background(), "acct_1", CustomerMetadata{})
	assert.ErrorIs(t, err, boom)

	assert.False(t, notified)
	assert.Empty(t, r.Cached())
}

func TestResolveWithoutStorage(t *testing.T) {
	backend := &fakeBackend{nextID: "cust_1"}
	r := newResolver(storage.Unavailable{}, backend)

	id, err := r.Resolve(context.Background(), "acct_1", CustomerMetadata{})
	require.NoError(t, err)
	assert.Equal(t, "cust_1", id)

	// Nothing persisted, so the next call creates again.
	backend.nextID = "cust_2"
	id, err = r.Resolve(context.Background(), "acct_1", CustomerMetadata{})
	require.NoError(t, err)
	assert.Equal(t, "cust_2", id)
	assert.NoError(t, r.Forget())
}

func TestObserveUnsubscribe(t *testing.T) {
	r := newResolver(storage.NewMemory(), &fakeBackend{})

	var calls int
	unsubscribe := r.Observe(func(string) { calls++ })
	r.Adopt("cust_1")
	unsubscribe()
	unsubscribe()
	r.Adopt("cust_2")
	r.Adopt("")

	assert.Equal(t, 1, calls)
	assert.Equal(t, "cust_2", r.Cached())

	require.NoError(t, r.Forget())
	assert.Empty(t, r.Cached())
}

func TestFormatMetadata(t *testing.T) {
	got := FormatMetadata(
		map[string]any{"host": "shop.test", "screen_width": 1280, "name": "page title"},
		CustomerMetadata{
			Name:     "Ada",
			Metadata: map[string]any{"plan": "pro", "seats": 3},
			Extra:    map[string]any{"vip": true, "tags": []string{"a", "b"}, "skip": nil},
		},
	)

	assert.Equal(t, map[string]any{
		"host":         "shop.test",
		"screen_width": "1280",
		"name":         "Ada",
		"vip":          "true",
		"tags":         `["a","b"]`,
		"metadata":     map[string]any{"plan": "pro", "seats": 3},
	}, got)
}
