package bitrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"b24bot/internal/observability/logger"
	"b24bot/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestWebhook() (webhook.Descriptor, error) {
	return webhook.Parse("https://example.bitrix24.ru/rest/17/abcd1234efgh/")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.New("b24bot-test", "error")
	require.NoError(t, err)

	desc, err := parseTestWebhook()
	require.NoError(t, err)

	client := NewClient(desc, log, WithBaseURL(srv.URL))
	t.Cleanup(client.Close)
	return client, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestClientAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"error":             "NOT_FOUND",
			"error_description": "Deal not found",
		})
	})

	_, err := client.GetDeal(context.Background(), "999")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "Deal not found", apiErr.Description)
}

func TestClientNetworkError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClientListDealsScoping(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm.deal.list", r.URL.Path)
		got = decodeBody(t, r)
		writeJSON(w, map[string]any{"result": []any{
			map[string]any{"ID": "1", "TITLE": "Deal one"},
		}})
	})

	deals, err := client.ListDeals(context.Background(), map[string]any{
		"STAGE_ID":       "NEW",
		"ASSIGNED_BY_ID": "9999",
	})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "Deal one", deals[0].Str("TITLE"))

	filter := got["filter"].(map[string]any)
	assert.Equal(t, "NEW", filter["STAGE_ID"])
	assert.Equal(t, float64(17), filter["ASSIGNED_BY_ID"], "caller cannot widen the scope to another user")
}

func TestClientListTasksNormalized(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks.task.list", r.URL.Path)
		got = decodeBody(t, r)
		writeJSON(w, map[string]any{"result": map[string]any{"tasks": []any{
			map[string]any{"id": "55", "title": "Prepare invoice", "status": "3", "responsibleId": "17"},
		}}})
	})

	tasks, err := client.ListTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "55", tasks[0].Str("ID"))
	assert.Equal(t, "Prepare invoice", tasks[0].Str("TITLE"))

	filter := got["filter"].(map[string]any)
	assert.Equal(t, float64(17), filter["RESPONSIBLE_ID"])
}

func TestClientCreateDealInjectsOwner(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		writeJSON(w, map[string]any{"result": float64(4215)})
	})

	id, err := client.CreateDeal(context.Background(), map[string]any{"TITLE": "New deal"})
	require.NoError(t, err)
	assert.Equal(t, int64(4215), id)

	fields := got["fields"].(map[string]any)
	assert.Equal(t, "17", fields["ASSIGNED_BY_ID"])
}

func TestClientCreateTaskUnwrapsNestedID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks.task.add", r.URL.Path)
		body := decodeBody(t, r)
		fields := body["fields"].(map[string]any)
		assert.Equal(t, "17", fields["RESPONSIBLE_ID"])
		writeJSON(w, map[string]any{"result": map[string]any{"task": map[string]any{"id": float64(321)}}})
	})

	id, err := client.CreateTask(context.Background(), map[string]any{"TITLE": "Call back"})
	require.NoError(t, err)
	assert.Equal(t, int64(321), id)
}

func TestClientCreateContactNoInjection(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		fields := body["fields"].(map[string]any)
		assert.NotContains(t, fields, "ASSIGNED_BY_ID")
		writeJSON(w, map[string]any{"result": "88"})
	})

	id, err := client.CreateContact(context.Background(), map[string]any{"NAME": "Anna"})
	require.NoError(t, err)
	assert.Equal(t, int64(88), id)
}

func TestClientSumDeals(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"result": []any{
			map[string]any{"ID": "1", "OPPORTUNITY": "100"},
			map[string]any{"ID": "2", "OPPORTUNITY": nil},
			map[string]any{"ID": "3", "OPPORTUNITY": "not numeric"},
		}})
	})

	total, err := client.SumDeals(context.Background(), "2024-06-01", "2024-06-30")
	require.NoError(t, err)
	assert.Equal(t, 100.0, total)
}

func TestClientAddComment(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks.task.comment.add", r.URL.Path)
		body := decodeBody(t, r)
		fields := body["fields"].(map[string]any)
		assert.Equal(t, "Client called back", fields["COMMENT"])
		writeJSON(w, map[string]any{"result": float64(1)})
	})

	err := client.AddComment(context.Background(), "task", "55", "Client called back")
	require.NoError(t, err)
}

func TestClientAddCommentUnsupportedEntity(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	err := client.AddComment(context.Background(), "invoice", "1", "hi")
	assert.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClientUpdateTaskUsesTaskID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks.task.update", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "55", body["taskId"])
		writeJSON(w, map[string]any{"result": true})
	})

	err := client.UpdateTask(context.Background(), "55", map[string]any{"PRIORITY": "2"})
	require.NoError(t, err)
}
