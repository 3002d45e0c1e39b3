package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultnet/consultnet/network"
	"github.com/consultnet/consultnet/types"
)

// specialistServer fakes a remote agent with a health path and an execute
// path returning the given response body.
func specialistServer(t *testing.T, respond func(req executeRequest) any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(respond(req))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPConnector_ExecuteRoundTrip(t *testing.T) {
	srv := specialistServer(t, func(req executeRequest) any {
		return executeResponse{
			Success:     true,
			Cost:        0.25,
			Enrichments: []types.Enrichment{{Kind: "answer", Title: "remote", Content: "answer to " + req.Question}},
		}
	})

	c := newTestClient(t, DefaultClientConfig())
	require.NoError(t, c.RegisterAgent(context.Background(), AgentConfig{
		Name:     "remote",
		Kind:     KindHTTP,
		Endpoint: srv.URL,
	}))

	status, _ := c.AgentStatus("remote")
	assert.Equal(t, NodeStatusConnected, status)

	res, err := c.ExecuteTask(context.Background(), &types.TaskDescription{Question: "vat rate"}, Options{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 0.25, res.Cost)
	assert.Equal(t, "answer to vat rate", res.Enrichments[0].Content)
}

func TestHTTPConnector_ConsultationFlattening(t *testing.T) {
	srv := specialistServer(t, func(req executeRequest) any {
		return map[string]any{
			"success": true,
			"data": map[string]any{
				"specialists": []map[string]any{
					{"name": "tax", "answer": "deductible", "cost": 0.5},
					{"name": "legal", "answer": "compliant", "cost": 0.3,
						"enrichments": []map[string]any{{"kind": "citation", "title": "statute"}}},
				},
			},
		}
	})

	conn := newHTTPConnector(AgentConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
	res, err := conn.Execute(context.Background(), &types.TaskDescription{Question: "q"})
	require.NoError(t, err)
	require.True(t, res.Success)

	// Each specialist answer becomes a consultation enrichment, nested
	// enrichments are appended, costs are summed.
	require.Len(t, res.Enrichments, 3)
	assert.Equal(t, "consultation", res.Enrichments[0].Kind)
	assert.Equal(t, "tax", res.Enrichments[0].Title)
	assert.Equal(t, "deductible", res.Enrichments[0].Content)
	assert.Equal(t, "citation", res.Enrichments[2].Kind)
	assert.InDelta(t, 0.8, res.Cost, 1e-9)
}

func TestHTTPConnector_FailureResponse(t *testing.T) {
	srv := specialistServer(t, func(req executeRequest) any {
		return executeResponse{Success: false, Error: "out of scope"}
	})

	conn := newHTTPConnector(AgentConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
	res, err := conn.Execute(context.Background(), &types.TaskDescription{Question: "q"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "out of scope", res.Error)
}

func TestHTTPConnector_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	conn := newHTTPConnector(AgentConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})

	err := conn.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrTransport, types.GetErrorCode(err))

	_, err = conn.Execute(context.Background(), &types.TaskDescription{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTransport, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPConnector_HeadersForwarded(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn := newHTTPConnector(AgentConfig{
		Endpoint: srv.URL,
		Timeout:  5 * time.Second,
		Headers:  map[string]string{"Authorization": "Bearer token"},
	})
	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, "Bearer token", gotAuth)
}

func TestClient_UnreachableAgentEmitsErrorEvent(t *testing.T) {
	c := newTestClient(t, DefaultClientConfig())

	errored := make(chan network.Event, 1)
	c.Events().Subscribe(network.EventAgentError, func(e network.Event) { errored <- e })

	// Registration must not fail the caller even though the endpoint is dead.
	err := c.RegisterAgent(context.Background(), AgentConfig{
		Name:     "dead",
		Kind:     KindHTTP,
		Endpoint: "http://127.0.0.1:1",
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)

	status, ok := c.AgentStatus("dead")
	require.True(t, ok)
	assert.Equal(t, NodeStatusError, status)

	select {
	case e := <-errored:
		assert.Equal(t, "dead", e.Worker)
		assert.NotEmpty(t, e.Error)
	case <-time.After(time.Second):
		t.Fatal("agent:error event not delivered")
	}
}
