package sendhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Username: "studio", APIKey: "secret"})
	require.NoError(t, err)
	c.retryWait = time.Millisecond
	return c
}

func requireAuth(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "studio", r.URL.Query().Get("username"))
	assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "https://api.sendhub.com"})
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(Config{BaseURL: "::", Username: "u", APIKey: "k"})
	require.Error(t, err)
}

func TestFindContactIDsMatchesSubstringAcrossPages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireAuth(t, r)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, contactsPath, r.URL.Path)

		if r.URL.Query().Get("offset") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"meta": map[string]any{"next": "/v1/contacts/?offset=2"},
				"objects": []map[string]string{
					{"id_str": "1", "number": "+31612345678"},
					{"id_str": "2", "number": "+3220000000"},
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"meta":    map[string]any{"next": nil},
			"objects": []map[string]string{{"id_str": "3", "number": "0031612345678"}},
		})
	}))

	ids, err := c.FindContactIDs(context.Background(), "612345678")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids)
}

func TestFindContactIDsNoMatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"objects":[{"id_str":"1","number":"+1555"}]}`))
	}))
	ids, err := c.FindContactIDs(context.Background(), "+31")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSendMessagePostsAllIDs(t *testing.T) {
	var got messageRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireAuth(t, r)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, messagesPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, c.SendMessage(context.Background(), []string{"id1", "id2"}, "it's loud"))
	assert.Equal(t, []string{"id1", "id2"}, got.Contacts)
	assert.Equal(t, "it's loud", got.Text)

	require.ErrorIs(t, c.SendMessage(context.Background(), nil, "x"), ErrNoRecipients)
}

func TestAddContact(t *testing.T) {
	var got contactRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, contactsPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, c.AddContact(context.Background(), " +31612345678 ", "Studio"))
	assert.Equal(t, contactRequest{Name: "Studio", Number: "+31612345678"}, got)
}

func TestRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, c.SendMessage(context.Background(), []string{"1"}, "x"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := c.SendMessage(context.Background(), []string{"1"}, "x")
	require.ErrorIs(t, err, ErrAPI)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad api key"}`, http.StatusUnauthorized)
	}))

	_, err := c.FindContactIDs(context.Background(), "+31")
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad api key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelledContextAbandonsRequest(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.FindContactIDs(ctx, "+31")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
