package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, nil), srv
}

func TestRegister(t *testing.T) {
	t.Run("200 succeeds", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/v1/agent/service/register", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusOK)
		})

		err := client.Register(context.Background(), ServiceRegistration{ID: "abc123", Name: "cdcron"})
		require.NoError(t, err)
	})

	t.Run("non-200 is fatal", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		})

		err := client.Register(context.Background(), ServiceRegistration{ID: "abc123", Name: "cdcron"})
		require.Error(t, err)
		var fatal *FatalError
		require.True(t, errors.As(err, &fatal))
		assert.Equal(t, http.StatusInternalServerError, fatal.StatusCode)
	})
}

func TestDeregister(t *testing.T) {
	t.Run("404 is not an error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/agent/service/deregister/abc123", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		})

		err := client.Deregister(context.Background(), "abc123")
		require.NoError(t, err)
	})

	t.Run("other status is fatal", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		err := client.Deregister(context.Background(), "abc123")
		require.Error(t, err)
		var fatal *FatalError
		require.True(t, errors.As(err, &fatal))
	})
}

func TestCatalogLookup(t *testing.T) {
	t.Run("empty array means absent", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		})

		present, err := client.CatalogLookup(context.Background(), "cdcron")
		require.NoError(t, err)
		assert.False(t, present)
	})

	t.Run("non-empty array means present", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"ServiceID":"abc123"}]`))
		})

		present, err := client.CatalogLookup(context.Background(), "cdcron")
		require.NoError(t, err)
		assert.True(t, present)
	})
}

func TestSessionCreate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/session/create", r.URL.Path)
		w.Write([]byte(`{"ID":"session-123"}`))
	})

	id, err := client.SessionCreate(context.Background(), "cdcron")
	require.NoError(t, err)
	assert.Equal(t, "session-123", id)
}

func TestSessionRenew(t *testing.T) {
	t.Run("200 succeeds", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/session/renew/session-123", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		})

		err := client.SessionRenew(context.Background(), "session-123")
		require.NoError(t, err)
	})

	t.Run("missing session is fatal", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		err := client.SessionRenew(context.Background(), "session-123")
		require.Error(t, err)
	})
}

func TestLockAcquireAndRelease(t *testing.T) {
	t.Run("acquire succeeds", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.RawQuery, "acquire=session-1")
			w.Write([]byte("true"))
		})

		acquired, err := client.LockAcquire(context.Background(), "service/cdcron/leader", "session-1")
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("acquire contended is not an error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("false"))
		})

		acquired, err := client.LockAcquire(context.Background(), "service/cdcron/leader", "session-1")
		require.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("release succeeds", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.RawQuery, "release=session-1")
			w.Write([]byte("true"))
		})

		released, err := client.LockRelease(context.Background(), "service/cdcron/leader", "session-1")
		require.NoError(t, err)
		assert.True(t, released)
	})
}

func TestLockRead(t *testing.T) {
	t.Run("absent key returns nil, nil", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		state, err := client.LockRead(context.Background(), "service/cdcron/leader")
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("present key returns session and modify index", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"Session":"session-1","ModifyIndex":42}]`))
		})

		state, err := client.LockRead(context.Background(), "service/cdcron/leader")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, "session-1", state.Session)
		assert.Equal(t, uint64(42), state.ModifyIndex)
	})

	t.Run("transient failure is a plain error, not fatal", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		state, err := client.LockRead(context.Background(), "service/cdcron/leader")
		require.Error(t, err)
		assert.Nil(t, state)
		var fatal *FatalError
		assert.False(t, errors.As(err, &fatal), "lock_read failures must not be FatalError")
	})
}

func TestTokenHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Consul-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Token: "s.abc"}, nil)
	err := client.Deregister(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "s.abc", gotToken)
}
