package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/batchsim/internal/config"
	"github.com/san-kum/batchsim/internal/manager"
	"github.com/san-kum/batchsim/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Store, *StatusBoard) {
	t.Helper()
	st := storage.New(t.TempDir())
	require.NoError(t, st.Init())
	board := NewStatusBoard()
	return New(":0", st, board, zerolog.Nop()), st, board
}

func get(t *testing.T, ts *httptest.Server, path string, v any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body healthResponse
	assert.Equal(t, http.StatusOK, get(t, ts, "/healthz", &body))
	assert.Equal(t, "ok", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	get(t, ts, "/healthz", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw := new(strings.Builder)
	_, err = io.Copy(raw, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), `batchsim_http_requests_total{method="GET",path="/healthz",status="200"}`)
}

func TestRunsEndpoints(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id, err := st.Save(storage.RunMetadata{NumWorlds: 2, ExecMode: "host"}, []float64{0.1, 0.2})
	require.NoError(t, err)

	var runs []storage.RunMetadata
	assert.Equal(t, http.StatusOK, get(t, ts, "/v1/runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)

	var meta storage.RunMetadata
	assert.Equal(t, http.StatusOK, get(t, ts, "/v1/runs/"+id, &meta))
	assert.Equal(t, 2, meta.Steps)

	var steps stepsResponse
	assert.Equal(t, http.StatusOK, get(t, ts, "/v1/runs/"+id+"/steps", &steps))
	assert.Equal(t, []float64{0.1, 0.2}, steps.Latencies)

	var e errorResponse
	assert.Equal(t, http.StatusNotFound, get(t, ts, "/v1/runs/missing", &e))
	assert.Contains(t, e.Error, "missing")
}

func TestManagerStatus(t *testing.T) {
	srv, _, board := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	assert.Equal(t, http.StatusNotFound, get(t, ts, "/v1/manager", nil))

	cfg := config.DefaultConfig()
	cfg.NumWorlds = 3
	cfg.DataDir = "../../data"
	m, err := manager.New(context.Background(), cfg, manager.WithObserver(board.Observer()))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Step())
	board.Publish(StatusOf(m))
	require.NoError(t, m.Step())

	var status ManagerStatus
	assert.Equal(t, http.StatusOK, get(t, ts, "/v1/manager", &status))
	assert.Equal(t, m.ID(), status.ID)
	assert.Equal(t, "host", status.ExecMode)
	assert.Equal(t, "host", status.Location)
	assert.Equal(t, 3, status.NumWorlds)
	assert.Equal(t, uint64(2), status.Ticks)
}

func TestObserverIgnoresStepsBeforePublish(t *testing.T) {
	board := NewStatusBoard()
	board.Observer().OnStep(5, time.Millisecond)

	_, ok := board.Snapshot()
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	st := storage.New(t.TempDir())
	srv := New("127.0.0.1:0", st, NewStatusBoard(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRunIDCannotLeaveStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.json"), []byte(`{"id":"outside"}`), 0644))
	st := storage.New(filepath.Join(root, "runs"))
	require.NoError(t, st.Init())
	srv := New(":0", st, NewStatusBoard(), zerolog.Nop())

	for _, path := range []string{"/v1/runs/..", "/v1/runs/../steps", "/v1/runs/%2E%2E"} {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "outside", path)
	}
}
