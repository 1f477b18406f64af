package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	path   string
	query  string
}

func newServer(t *testing.T, routes map[string]string) (*Client, *[]call) {
	t.Helper()
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery})
		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"performance \"ghost\" is not defined"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/api/"})
	require.NoError(t, err)
	return c, &calls
}

func TestStatus(t *testing.T) {
	c, calls := newServer(t, map[string]string{
		"GET /api/status": `{"conducting":true,"environment":"production","performers":[{"name":"worker-1","pid":10,"running":true,"uptime":"3 minutes","memory_mb":12.5,"cpu_percent":null}],"total_performers":1,"running_performers":1,"health":{"worker-1":{"healthy":true,"issues":[]}}}`,
	})

	st, err := c.Status(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, st.Conducting)
	assert.Equal(t, 1, st.Total)
	require.Len(t, st.Performers, 1)
	assert.Equal(t, "worker-1", st.Performers[0].Name)
	require.NotNil(t, st.Performers[0].MemoryMB)
	assert.Equal(t, 12.5, *st.Performers[0].MemoryMB)
	assert.Nil(t, st.Performers[0].CPUPercent)
	assert.True(t, st.Health["worker-1"].Healthy)
	assert.Equal(t, "health=1", (*calls)[0].query)
}

func TestCommands(t *testing.T) {
	c, calls := newServer(t, map[string]string{
		"POST /api/conduct": `{"ok":true}`,
		"POST /api/pause":   `{"ok":true}`,
		"POST /api/encore":  `{"ok":true}`,
		"POST /api/monitor": `{"checked":2,"restarted":["worker-2"]}`,
	})
	ctx := context.Background()

	require.NoError(t, c.Conduct(ctx, "worker"))
	require.NoError(t, c.Pause(ctx, "", true))
	require.NoError(t, c.Encore(ctx, "horizon:work"))
	report, err := c.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []string{"worker-2"}, report.Restarted)

	assert.Equal(t, []call{
		{http.MethodPost, "/api/conduct", "name=worker"},
		{http.MethodPost, "/api/pause", "wait=1"},
		{http.MethodPost, "/api/encore", "name=horizon%3Awork"},
		{http.MethodPost, "/api/monitor", ""},
	}, *calls)
}

func TestInstrumentsAndHealth(t *testing.T) {
	c, _ := newServer(t, map[string]string{
		"GET /api/instruments": `{"worker":{"command":"queue:work","command_line":"php artisan queue:work","performers":2,"memory":512,"timeout":null,"options":{"--queue":"default"}}}`,
		"GET /api/health":      `{"worker-1":{"healthy":false,"issues":["Process is not running"],"metrics":{"uptime_seconds":0}}}`,
	})
	ctx := context.Background()

	in, err := c.Instruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), in["worker"].Performers)
	assert.Equal(t, "default", in["worker"].Options["--queue"])

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.False(t, h["worker-1"].Healthy)
	assert.Equal(t, []string{"Process is not running"}, h["worker-1"].Issues)
}

func TestErrorResponse(t *testing.T) {
	c, _ := newServer(t, nil)
	err := c.Conduct(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error")
	assert.Contains(t, err.Error(), "ghost")
}

func TestIsReachable(t *testing.T) {
	c, _ := newServer(t, map[string]string{"GET /api/status": `{}`})
	assert.True(t, c.IsReachable(context.Background()))

	down, err := New(Config{BaseURL: "http://127.0.0.1:1/api"})
	require.NoError(t, err)
	assert.False(t, down.IsReachable(context.Background()))
}

func TestNew_TLSConfigErrors(t *testing.T) {
	_, err := New(Config{TLS: &TLSClientConfig{CACert: "/does/not/exist.pem"}})
	assert.Error(t, err)

	c, err := New(Config{Insecure: true})
	require.NoError(t, err)
	tr := c.client.Transport.(*http.Transport)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, "http://localhost:8080/api", c.baseURL)
}
