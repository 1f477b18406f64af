package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/orchestral/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedPath, receivedMethod, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "orchestral-audit")
	e := history.NewEvent(history.KindPerformerFailed, "sync-2", "production", map[string]any{"attempts": 5}, time.Now())
	require.NoError(t, sink.Send(context.Background(), e))

	assert.Equal(t, http.MethodPost, receivedMethod)
	assert.Equal(t, "/orchestral-audit/_doc", receivedPath)
	assert.Equal(t, "application/json", contentType)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(receivedBody, &doc))
	assert.Equal(t, "performer_failed", doc["event"])
	assert.Equal(t, "sync-2", doc["performer_name"])
	assert.Equal(t, e.ID, doc["id"])
	data, ok := doc["data"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5, data["attempts"])
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.NewEvent(history.KindPerformanceStopped, "all", "local", nil, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := New(url, "idx").Send(context.Background(), history.NewEvent(history.KindPerformanceStopped, "all", "local", nil, time.Now()))
	assert.Error(t, err)
}
