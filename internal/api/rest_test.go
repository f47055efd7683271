package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djkaif/status-monitor/internal/server"
	"github.com/djkaif/status-monitor/internal/storage"
)

const testSecret = "sekrit"

func newTestAPI(t *testing.T) (*httptest.Server, *server.Server) {
	t.Helper()
	state, err := storage.NewBadgerStateStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	archive, err := storage.NewBadgerArchiveStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	srv := server.New(server.Config{
		LivenessThreshold: 60 * time.Second,
		RotateAfter:       0, // any buffered record is old enough to rotate
	}, state, archive, nil, nil)

	ts := httptest.NewServer(NewHTTPHandler(srv, testSecret, nil))
	t.Cleanup(ts.Close)
	return ts, srv
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, key string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth_NoAuth(t *testing.T) {
	ts, _ := newTestAPI(t)
	resp, out := doJSON(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
}

func TestAuth_BadKeyRejected(t *testing.T) {
	ts, _ := newTestAPI(t)
	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPost, "/heartbeat"},
		{http.MethodGet, "/events"},
		{http.MethodGet, "/archive/pull"},
		{http.MethodPost, "/archive/ack"},
		{http.MethodGet, "/nodes"},
	} {
		resp, _ := doJSON(t, ts, tc.method, tc.path, "wrong", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestHeartbeat_Validation(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, out := doJSON(t, ts, http.MethodPost, "/heartbeat", testSecret,
		map[string]string{"node_type": "gpu"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "node")
}

func TestHeartbeat_AndNodes(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, out := doJSON(t, ts, http.MethodPost, "/heartbeat", testSecret,
		map[string]interface{}{"node": "worker-1", "node_type": "gpu", "timestamp": 1000})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])

	// duplicate still succeeds
	resp, out = doJSON(t, ts, http.MethodPost, "/heartbeat", testSecret,
		map[string]interface{}{"node": "worker-1", "node_type": "gpu", "timestamp": 1000})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])

	resp, out = doJSON(t, ts, http.MethodGet, "/nodes", testSecret, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])
	nodes := out["nodes"].([]interface{})
	node := nodes[0].(map[string]interface{})
	assert.Equal(t, "worker-1", node["node_id"])
	assert.Equal(t, "online", node["status"])
}

func TestEvents_DrainedOnRead(t *testing.T) {
	ts, _ := newTestAPI(t)

	doJSON(t, ts, http.MethodPost, "/heartbeat", testSecret,
		map[string]interface{}{"node": "worker-1", "timestamp": 1000})

	resp, out := doJSON(t, ts, http.MethodGet, "/events", testSecret, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["count"])
	ev := out["events"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "worker-1", ev["node_id"])
	assert.Equal(t, "offline", ev["old_status"])
	assert.Equal(t, "online", ev["new_status"])

	// second read finds the queue cleared
	_, out = doJSON(t, ts, http.MethodGet, "/events", testSecret, nil)
	assert.EqualValues(t, 0, out["count"])
}

func TestPullAckOverHTTP(t *testing.T) {
	ts, srv := newTestAPI(t)
	ctx := context.Background()

	// empty archive: count 0, no batch_id, state stays Idle
	resp, out := doJSON(t, ts, http.MethodGet, "/archive/pull", testSecret, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, out["count"])
	assert.NotContains(t, out, "batch_id")

	// buffer five signals, then drive one rotation (rotate_after is 0)
	for i := 0; i < 5; i++ {
		doJSON(t, ts, http.MethodPost, "/heartbeat", testSecret,
			map[string]interface{}{"node": "worker-1", "timestamp": 1000 + i})
	}
	require.NoError(t, srv.RotateOnce(ctx))

	resp, out = doJSON(t, ts, http.MethodGet, "/archive/pull", testSecret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, out["count"])
	batchID := out["batch_id"].(string)
	require.NotEmpty(t, batchID)
	assert.Len(t, out["data"], 5)

	// wrong token: conflict, archive keeps its records
	resp, _ = doJSON(t, ts, http.MethodPost, "/archive/ack", testSecret,
		map[string]string{"batch_id": "Y"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, out = doJSON(t, ts, http.MethodGet, "/archive/pull", testSecret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, out["count"])
	batchID = out["batch_id"].(string) // repull superseded the first token

	// matching token clears the archive
	resp, out = doJSON(t, ts, http.MethodPost, "/archive/ack", testSecret,
		map[string]string{"batch_id": batchID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])

	resp, out = doJSON(t, ts, http.MethodGet, "/archive/pull", testSecret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, out["count"])

	// the spent token is invalid now
	resp, _ = doJSON(t, ts, http.MethodPost, "/archive/ack", testSecret,
		map[string]string{"batch_id": batchID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAck_UnknownBatch(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, out := doJSON(t, ts, http.MethodPost, "/archive/ack", testSecret,
		map[string]string{"batch_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, out["error"])

	resp, _ = doJSON(t, ts, http.MethodPost, "/archive/ack", testSecret,
		map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
