package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/operator"
)

type captured struct {
	path   string
	auth   string
	header string
	body   operator.CommandRequest
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []captured
	status   int
	response any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := captured{path: r.URL.Path, auth: r.Header.Get("Authorization"), header: r.Header.Get("X-Operator")}
	if r.Method == http.MethodPost {
		json.NewDecoder(r.Body).Decode(&c.body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, c)
	f.mu.Unlock()

	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(f.response)
}

func (f *fakeAPI) last(t *testing.T) captured {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func run(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--addr", srv.URL, "--operator", "alice"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPause(t *testing.T) {
	api := &fakeAPI{response: operator.CommandResponse{Command: "pause", Changed: true}}
	out, err := run(t, api, "pause", "--token", "s3cret")
	require.NoError(t, err)

	req := api.last(t)
	assert.Equal(t, "/control/pause", req.path)
	assert.Equal(t, "Bearer s3cret", req.auth)
	assert.Equal(t, "alice", req.header)
	assert.Equal(t, "alice", req.body.Operator)
	assert.Contains(t, out, "pause: ok")
}

func TestMode_Uppercases(t *testing.T) {
	api := &fakeAPI{response: operator.CommandResponse{Command: "mode"}}
	out, err := run(t, api, "mode", "equity")
	require.NoError(t, err)
	assert.Equal(t, "EQUITY", api.last(t).body.Mode)
	assert.Contains(t, out, "mode: no change")

	_, err = run(t, api, "mode")
	assert.Error(t, err, "mode requires an argument")
}

func TestFlatten(t *testing.T) {
	api := &fakeAPI{response: operator.CommandResponse{
		Command: "flatten",
		Changed: true,
		Results: []operator.ResultView{{Kind: "FILLED", Symbol: "AAPL", Action: "FLATTEN", Attempts: 1}},
	}}
	out, err := run(t, api, "flatten", "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", api.last(t).body.Symbol)
	assert.Contains(t, out, "AAPL")

	_, err = run(t, api, "flatten")
	require.NoError(t, err)
	assert.Equal(t, "", api.last(t).body.Symbol)
}

func TestFlatten_FailurePrintsResults(t *testing.T) {
	api := &fakeAPI{
		status: http.StatusBadGateway,
		response: operator.CommandResponse{
			Command: "flatten",
			Error:   "one or more orders failed",
			Results: []operator.ResultView{{Kind: "TRANSIENT_FAILURE", Symbol: "TSLA", Action: "FLATTEN", Attempts: 3, Error: "timeout"}},
		},
	}
	out, err := run(t, api, "flatten", "TSLA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one or more orders failed")
	assert.Contains(t, out, "error=timeout")
}

func TestShutdown_RequiresConfirmation(t *testing.T) {
	api := &fakeAPI{response: operator.CommandResponse{Command: "shutdown", Changed: true}}
	_, err := run(t, api, "shutdown")
	require.Error(t, err)
	assert.Empty(t, api.requests)

	_, err = run(t, api, "shutdown", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "/control/shutdown", api.last(t).path)
}

func TestUnauthorized(t *testing.T) {
	api := &fakeAPI{status: http.StatusUnauthorized, response: map[string]string{"error": "unauthorized"}}
	_, err := run(t, api, "resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestStatus(t *testing.T) {
	api := &fakeAPI{response: operator.StatusResponse{
		Status: "paused",
		Uptime: "5m0s",
		Loop:   operator.LoopView{Phase: "ACTIVE", Interval: "1m0s"},
		State:  operator.StateResponse{Mode: "BOTH", Paused: true},
		Open:   []operator.PositionView{{Symbol: "AAPL", Quantity: 10, AgeMinutes: 12}},
	}}
	out, err := run(t, api, "status")
	require.NoError(t, err)
	assert.Equal(t, "/status", api.last(t).path)
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "held 12m")

	out, err = run(t, api, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"paused"`)
}
