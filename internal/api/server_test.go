package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"taskmill/internal/api"
	"taskmill/internal/domain"
	"taskmill/internal/queue"
)

func newTestServer(t *testing.T) (*httptest.Server, queue.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, queue.EnsureSchema(db))

	store := queue.NewSQLiteStore(db)
	srv := httptest.NewServer(api.NewServer(store))
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeID(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.ID
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitAndGetTask(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tasks", map[string]any{
		"kind":    "shell",
		"payload": map[string]any{"command": "true"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decodeID(t, resp)
	require.NotEmpty(t, id)

	got, err := http.Get(srv.URL + "/api/tasks/" + id)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var view map[string]any
	require.NoError(t, json.NewDecoder(got.Body).Decode(&view))
	assert.Equal(t, "shell", view["kind"])
	assert.Equal(t, "new", view["state"])
}

func TestSubmitTaskRequiresKind(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tasks", map[string]any{"payload": map[string]any{}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitDuplicateUniqKey(t *testing.T) {
	srv, _ := newTestServer(t)
	body := map[string]any{"kind": "shell", "uniq_key": "only-one"}

	first := postJSON(t, srv.URL+"/api/tasks", body)
	first.Body.Close()
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := postJSON(t, srv.URL+"/api/tasks", body)
	second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tasks/tsk_nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListTasksByState(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, domain.Task{Kind: "shell"})
	require.NoError(t, err)
	id2, err := store.Insert(ctx, domain.Task{Kind: "shell", ScheduledAt: time.Now().UTC().Add(-time.Second)})
	require.NoError(t, err)
	_, err = store.ClaimNextReady(ctx, time.Now().UTC())
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/tasks?state=in_progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, id2, views[0]["id"])
}

func TestDefinitionCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/definitions", map[string]any{
		"name":      "cleanup",
		"cron_expr": "0 0 * * * *",
		"kind":      "shell",
		"payload":   map[string]any{"command": "true"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeID(t, resp)

	got, err := http.Get(srv.URL + "/api/definitions/" + id)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)

	var view map[string]any
	require.NoError(t, json.NewDecoder(got.Body).Decode(&view))
	assert.Equal(t, "cleanup", view["name"])
	assert.Equal(t, true, view["enabled"])

	// Update: disable it.
	raw, _ := json.Marshal(map[string]any{"enabled": false})
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/definitions/"+id, bytes.NewReader(raw))
	require.NoError(t, err)
	updResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer updResp.Body.Close()
	require.Equal(t, http.StatusOK, updResp.StatusCode)

	var updated map[string]any
	require.NoError(t, json.NewDecoder(updResp.Body).Decode(&updated))
	assert.Equal(t, false, updated["enabled"])

	// Delete.
	del, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/definitions/"+id, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	gone, err := http.Get(srv.URL + "/api/definitions/" + id)
	require.NoError(t, err)
	gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestCreateDefinitionRejectsBadCron(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/definitions", map[string]any{
		"name":      "broken",
		"cron_expr": "not a cron",
		"kind":      "shell",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
