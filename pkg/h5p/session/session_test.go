package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	sid := uuid.NewString()

	_, ok, err := store.Get(ctx, sid, "contentRedirectUrl")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, sid, "contentRedirectUrl", "/admin/h5p"))
	v, ok, err := store.Get(ctx, sid, "contentRedirectUrl")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/admin/h5p", v)

	v, ok, err = store.Pull(ctx, sid, "contentRedirectUrl")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/admin/h5p", v)

	_, ok, err = store.Pull(ctx, sid, "contentRedirectUrl")
	require.NoError(t, err)
	assert.False(t, ok)

	values, err := store.PullList(ctx, sid, "_flashes")
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, store.Append(ctx, sid, "_flashes", "first"))
	require.NoError(t, store.Append(ctx, sid, "_flashes", "second"))
	values, err = store.PullList(ctx, sid, "_flashes")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, values)

	values, err = store.PullList(ctx, sid, "_flashes")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sid", "k", "v"))
	now = now.Add(30 * time.Second)
	_, ok, err := store.Get(ctx, "sid", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get(ctx, "sid", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	testStore(t, NewRedisStore(client, "hh5p:test:session:", time.Minute))
}

func TestManager_Middleware(t *testing.T) {
	m := NewManager(NewMemoryStore(0), WithMaxAge(time.Hour))

	var seen string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IDFromContext(r.Context())
	}))

	t.Run("IssuesCookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, DefaultCookieName, cookies[0].Name)
		assert.Equal(t, 3600, cookies[0].MaxAge)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, cookies[0].Value, seen)
	})

	t.Run("ReusesCookie", func(t *testing.T) {
		sid := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: sid})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Empty(t, rr.Result().Cookies())
		assert.Equal(t, sid, seen)
	})

	t.Run("ReplacesInvalidCookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-uuid"})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		require.Len(t, rr.Result().Cookies(), 1)
		assert.NotEqual(t, "not-a-uuid", seen)
	})
}

func TestManager_ValuesAndFlashes(t *testing.T) {
	m := NewManager(NewMemoryStore(0))
	ctx := WithID(context.Background(), uuid.NewString())

	require.NoError(t, m.Put(ctx, "contentRedirectUrl", "/back"))
	v, ok, err := m.Get(ctx, "contentRedirectUrl")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/back", v)

	require.NoError(t, m.Flash(ctx, FlashSuccess, "Content created"))
	require.NoError(t, m.Flash(ctx, FlashDanger, "Something failed"))

	flashes, err := m.Flashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Flash{
		{Level: FlashSuccess, Message: "Content created"},
		{Level: FlashDanger, Message: "Something failed"},
	}, flashes)

	flashes, err = m.Flashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, flashes)
}

func TestManager_ConcurrentFlashes(t *testing.T) {
	m := NewManager(NewMemoryStore(0))
	ctx := WithID(context.Background(), uuid.NewString())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.Flash(ctx, FlashSuccess, fmt.Sprintf("message %d", i)))
		}(i)
	}
	wg.Wait()

	flashes, err := m.Flashes(ctx)
	require.NoError(t, err)
	assert.Len(t, flashes, 50)
}

func TestManager_NoSession(t *testing.T) {
	m := NewManager(NewMemoryStore(0))
	ctx := context.Background()

	assert.ErrorIs(t, m.Put(ctx, "k", "v"), ErrNoSession)
	_, _, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, m.Flash(ctx, FlashSuccess, "x"), ErrNoSession)
}
