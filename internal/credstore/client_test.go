package credstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"b24bot/internal/observability/logger"
	"b24bot/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookURL = "https://example.bitrix24.ru/rest/17/abcd1234efgh/"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.New("b24bot-test", "error")
	require.NoError(t, err)
	return NewClient(srv.URL, log)
}

func TestGet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/bitrix-token/telegram/42/", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"full_webhook_url": testWebhookURL})
	})

	desc, err := client.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "17", desc.UserID)
	assert.Equal(t, "abcd1234efgh", desc.Token)
}

func TestGetNotLinked(t *testing.T) {
	t.Run("404", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := client.Get(context.Background(), 42)
		assert.ErrorIs(t, err, ErrNotLinked)
	})

	t.Run("empty url", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"full_webhook_url": ""})
		})
		_, err := client.Get(context.Background(), 42)
		assert.ErrorIs(t, err, ErrNotLinked)
	})
}

func TestGetStoredWebhookInvalid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"full_webhook_url": "https://example.com/nope"})
	})

	_, err := client.Get(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, webhook.ErrMalformedWebhook)
	assert.NotErrorIs(t, err, ErrNotLinked)
}

func TestPut(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bitrix-token/telegram/42/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	})

	desc, err := webhook.Parse(testWebhookURL)
	require.NoError(t, err)

	require.NoError(t, client.Put(context.Background(), 42, desc))
	assert.Equal(t, desc.FullURL, gotBody["full_webhook_url"])
}

func TestPutRemoteErrorDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "invalid webhook"})
	})

	desc, err := webhook.Parse(testWebhookURL)
	require.NoError(t, err)

	err = client.Put(context.Background(), 42, desc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook")
}

func TestPutUnexpectedStatusField(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	})

	desc, err := webhook.Parse(testWebhookURL)
	require.NoError(t, err)

	err = client.Put(context.Background(), 42, desc)
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	t.Run("linked", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(http.StatusNoContent)
		})
		assert.NoError(t, client.Delete(context.Background(), 42))
	})

	t.Run("not linked is still success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		assert.NoError(t, client.Delete(context.Background(), 42))
	})

	t.Run("server failure", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		assert.Error(t, client.Delete(context.Background(), 42))
	})
}
