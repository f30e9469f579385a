package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/advisory"
	"switchboard/pkg/catalog"
	"switchboard/pkg/jobs"
	"switchboard/pkg/orchestrator"
)

const testSecret = "test-secret"

type fakeOrchestrator struct {
	delay time.Duration
	resp  *orchestrator.Response
	err   error
}

func (f *fakeOrchestrator) Invoke(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.SessionKey = req.SessionKey
	return &resp, nil
}

type fakeAdvisor struct {
	resp *advisory.Response
	err  error
}

func (f *fakeAdvisor) Query(ctx context.Context, req advisory.Request) (*advisory.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeModels struct{ models []catalog.ModelSpec }

func (f *fakeModels) List() []catalog.ModelSpec { return f.models }

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	jm, err := jobs.New(filepath.Join(t.TempDir(), "jobs.json"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { jm.Close() })

	cfg := Config{
		Host:               "127.0.0.1",
		Port:               8372,
		SharedSecret:       testSecret,
		RateLimitPerMinute: 1000,
		SyncBudget:         2 * time.Second,
		Orchestrator:       &fakeOrchestrator{resp: &orchestrator.Response{Content: "hello", Agent: "claude"}},
		Advisor:            &fakeAdvisor{resp: &advisory.Response{Content: "advice", Model: "haiku", Provider: "anthropic"}},
		Jobs:               jm,
		Models:             &fakeModels{models: []catalog.ModelSpec{{Name: "claude-sonnet-4", Provider: "anthropic", Agent: "claude"}}},
		Logger:             zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthzUnauthenticated(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeMap(t, resp)["status"])
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doRequest(t, ts, http.MethodGet, "/v1/models", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodGet, "/v1/models", "wrong-secret", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodGet, "/v1/models", testSecret, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAgentSyncCompletion(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doRequest(t, ts, http.MethodPost, "/v1/agent", testSecret, map[string]interface{}{
		"project":     "proj",
		"session_key": "s1",
		"model":       "claude-sonnet-4",
		"task":        "ping",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeMap(t, resp)
	assert.Equal(t, "hello", body["content"])
	assert.Equal(t, "s1", body["session_key"])
}

func TestAgentSlowFallsBackToJob(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *Config) {
		cfg.SyncBudget = 100 * time.Millisecond
		cfg.Orchestrator = &fakeOrchestrator{
			delay: time.Second,
			resp:  &orchestrator.Response{Content: "late"},
		}
	})

	resp := doRequest(t, ts, http.MethodPost, "/v1/agent", testSecret, map[string]interface{}{
		"session_key": "s1", "model": "m", "task": "slow",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeMap(t, resp)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	// Poll until the detached job completes.
	require.Eventually(t, func() bool {
		r := doRequest(t, ts, http.MethodGet, "/v1/jobs/"+jobID, testSecret, nil)
		defer r.Body.Close()
		var job jobs.Job
		require.NoError(t, json.NewDecoder(r.Body).Decode(&job))
		return job.Status == jobs.StatusDone
	}, 5*time.Second, 50*time.Millisecond)
}

func TestAgentAsyncAlwaysReturnsJob(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doRequest(t, ts, http.MethodPost, "/v1/agent", testSecret, map[string]interface{}{
		"session_key": "s1", "model": "m", "task": "x", "async": true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, decodeMap(t, resp)["job_id"])
}

func TestAgentValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doRequest(t, ts, http.MethodPost, "/v1/agent", testSecret, map[string]interface{}{
		"session_key": "s1", "model": "m",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodPost, "/v1/agent", testSecret, map[string]interface{}{
		"session_key": "s1", "task": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAdvisory(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doRequest(t, ts, http.MethodPost, "/v1/advisory", testSecret, map[string]interface{}{
		"session_key": "s1", "model": "haiku", "query": "why?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "advice", decodeMap(t, resp)["content"])
}

func TestAdvisoryUnknownModel(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *Config) {
		cfg.Advisor = &fakeAdvisor{err: catalog.ErrUnknownModel}
	})

	resp := doRequest(t, ts, http.MethodPost, "/v1/advisory", testSecret, map[string]interface{}{
		"session_key": "s1", "model": "nope", "query": "q",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestJobNotFound(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doRequest(t, ts, http.MethodGet, "/v1/jobs/missing", testSecret, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestJobCancel(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	started := make(chan struct{})
	id, err := srv.cfg.Jobs.Start("agent", nil, func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	resp := doRequest(t, ts, http.MethodDelete, "/v1/jobs/"+id, testSecret, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		job, err := srv.cfg.Jobs.Get(id)
		return err == nil && job.Status == jobs.StatusCancelled
	}, 2*time.Second, 20*time.Millisecond)
}

func TestModelsAndAgents(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doRequest(t, ts, http.MethodGet, "/v1/models", testSecret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	models := body["models"].([]interface{})
	require.Len(t, models, 1)

	resp = doRequest(t, ts, http.MethodGet, "/v1/agents", testSecret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimitPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		resp := doRequest(t, ts, http.MethodGet, "/v1/models", testSecret, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doRequest(t, ts, http.MethodGet, "/v1/models", testSecret, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	resp.Body.Close()
}

func TestStatusRecorderForwardsHijack(t *testing.T) {
	// The upgrade path needs http.Hijacker to survive the middleware wrap.
	var w http.ResponseWriter = &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, ok := w.(http.Hijacker)
	assert.True(t, ok)
}

func TestWebSocketReceivesJobEvents(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + testSecret}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.broadcaster.Count() == 1
	}, time.Second, 10*time.Millisecond)

	_, err = srv.cfg.Jobs.Start("agent", nil, func(ctx context.Context) (interface{}, error) {
		return "out", nil
	})
	require.NoError(t, err)

	// started, then finished
	var got EventMessage
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &got))
	}
	assert.Equal(t, "job.finished", got.Event)
	assert.Equal(t, jobs.StatusDone, got.Job.Status)
	assert.Equal(t, "out", got.Job.Result)
}
