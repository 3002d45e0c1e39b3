package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultnet/consultnet/types"
)

// socketAgentServer fakes a socket agent that answers pings and echoes an
// answer for execute frames.
func socketAgentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			var frame socketFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			switch frame.Type {
			case "ping":
				wsjson.Write(ctx, conn, socketFrame{Type: "pong", TaskID: frame.TaskID})
			case "execute":
				wsjson.Write(ctx, conn, socketFrame{
					Type:   "result",
					TaskID: frame.TaskID,
					Result: &executeResponse{
						Success:     true,
						Enrichments: []types.Enrichment{{Kind: "answer", Content: "socket: " + frame.Task.Question}},
					},
				})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSocketConnector_ExecuteRoundTrip(t *testing.T) {
	srv := socketAgentServer(t)

	conn := newSocketConnector(AgentConfig{Endpoint: wsURL(srv), Timeout: 5 * time.Second})
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	res, err := conn.Execute(context.Background(), &types.TaskDescription{Question: "rates"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "socket: rates", res.Enrichments[0].Content)
}

func TestSocketConnector_TaggedPingPong(t *testing.T) {
	srv := socketAgentServer(t)

	conn := newSocketConnector(AgentConfig{Endpoint: wsURL(srv), Timeout: 5 * time.Second})
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	require.NoError(t, conn.HealthCheck(context.Background()))
}

func TestSocketConnector_ListenerDetachesOnTimeout(t *testing.T) {
	// A server that never answers execute frames.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			var frame socketFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	conn := newSocketConnector(AgentConfig{Endpoint: wsURL(srv), Timeout: 5 * time.Second})
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.Execute(ctx, &types.TaskDescription{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))

	// The timed-out call must not leak its listener.
	conn.mu.Lock()
	pending := len(conn.pending)
	conn.mu.Unlock()
	assert.Equal(t, 0, pending)
}

func TestSocketConnector_ExecuteWithoutConnect(t *testing.T) {
	conn := newSocketConnector(AgentConfig{Endpoint: "ws://127.0.0.1:1", Timeout: time.Second})

	_, err := conn.Execute(context.Background(), &types.TaskDescription{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTransport, types.GetErrorCode(err))
}

func TestSocketConnector_ConnectionLossFailsInFlight(t *testing.T) {
	closeServer := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		<-closeServer
		conn.CloseNow()
	}))
	t.Cleanup(srv.Close)

	conn := newSocketConnector(AgentConfig{Endpoint: wsURL(srv), Timeout: 5 * time.Second})
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := conn.Execute(context.Background(), &types.TaskDescription{Question: "q"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	close(closeServer)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection lost")
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call not failed after connection loss")
	}
}

func TestClient_SocketAgentEndToEnd(t *testing.T) {
	srv := socketAgentServer(t)

	c := newTestClient(t, DefaultClientConfig())
	require.NoError(t, c.RegisterAgent(context.Background(), AgentConfig{
		Name:     "sock",
		Kind:     KindSocket,
		Endpoint: wsURL(srv),
	}))

	status, _ := c.AgentStatus("sock")
	assert.Equal(t, NodeStatusConnected, status)

	res, err := c.ExecuteTask(context.Background(), &types.TaskDescription{Question: "q"}, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.NoError(t, c.DisconnectAgent("sock"))
}
