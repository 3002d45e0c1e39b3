package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/consultnet/consultnet/types"
)

// pingTimeout bounds the wait for a tagged pong during a health check.
const pingTimeout = 5 * time.Second

// socketFrame is the wire envelope for the persistent socket transport.
// Every frame carries a task id so concurrent calls on one connection can
// correlate their responses.
type socketFrame struct {
	Type   string           `json:"type"` // execute | result | ping | pong
	TaskID string           `json:"task_id"`
	Task   *executeRequest  `json:"task,omitempty"`
	Result *executeResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// socketConnector keeps one long-lived websocket open and multiplexes
// tagged request/response pairs over it. Per-call listeners detach
// themselves once fired so timed-out calls never leak handlers.
type socketConnector struct {
	endpoint string
	headers  map[string]string
	timeout  time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *socketFrame
}

func newSocketConnector(cfg AgentConfig) *socketConnector {
	return &socketConnector{
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		timeout:  cfg.Timeout,
		pending:  make(map[string]chan *socketFrame),
	}
}

func (c *socketConnector) Connect(ctx context.Context) error {
	header := http.Header{}
	for k, v := range c.headers {
		header.Set(k, v)
	}

	conn, _, err := websocket.Dial(ctx, c.endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return types.NewError(types.ErrTransport, "socket dial failed").WithCause(err).WithRetryable(true)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// readLoop routes inbound frames to their waiting caller. A listener is
// removed from the pending map before delivery, so it fires at most once.
func (c *socketConnector) readLoop(conn *websocket.Conn) {
	for {
		var frame socketFrame
		if err := wsjson.Read(context.Background(), conn, &frame); err != nil {
			c.failPending(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[frame.TaskID]
		if ok {
			delete(c.pending, frame.TaskID)
		}
		c.mu.Unlock()

		if ok {
			ch <- &frame
		}
	}
}

// failPending wakes every in-flight caller after a connection loss so they
// fail immediately instead of waiting out their timeouts.
func (c *socketConnector) failPending(err error) {
	c.mu.Lock()
	waiting := c.pending
	c.pending = make(map[string]chan *socketFrame)
	if c.conn != nil {
		c.conn.Close(websocket.StatusInternalError, "read loop terminated")
		c.conn = nil
	}
	c.mu.Unlock()

	for _, ch := range waiting {
		ch <- &socketFrame{Type: "result", Error: "connection lost: " + err.Error()}
	}
}

// listen registers a one-shot listener for a task id.
func (c *socketConnector) listen(taskID string) (chan *socketFrame, func()) {
	ch := make(chan *socketFrame, 1)
	c.mu.Lock()
	c.pending[taskID] = ch
	c.mu.Unlock()

	detach := func() {
		c.mu.Lock()
		delete(c.pending, taskID)
		c.mu.Unlock()
	}
	return ch, detach
}

func (c *socketConnector) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, types.NewError(types.ErrTransport, "socket not connected").WithRetryable(true)
	}
	return c.conn, nil
}

func (c *socketConnector) Execute(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	taskID := uuid.New().String()
	ch, detach := c.listen(taskID)
	defer detach()

	req := socketFrame{
		Type:   "execute",
		TaskID: taskID,
		Task: &executeRequest{
			Question:    desc.Question,
			RequesterID: desc.RequesterID,
			Tier:        desc.Tier,
			Metadata:    desc.Metadata,
		},
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, types.NewError(types.ErrTransport, "socket write failed").WithCause(err).WithRetryable(true)
	}

	select {
	case frame := <-ch:
		if frame.Error != "" {
			return nil, types.NewError(types.ErrTransport, frame.Error).WithRetryable(true)
		}
		if frame.Result == nil {
			return nil, types.NewError(types.ErrTransport, "socket response missing result")
		}
		return normalizeResponse(frame.Result), nil
	case <-ctx.Done():
		return nil, types.NewError(types.ErrTimeout, "socket call timed out").WithRetryable(true)
	}
}

// HealthCheck sends a tagged ping and waits for the matching pong.
func (c *socketConnector) HealthCheck(ctx context.Context) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	pingID := uuid.New().String()
	ch, detach := c.listen(pingID)
	defer detach()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := wsjson.Write(pingCtx, conn, socketFrame{Type: "ping", TaskID: pingID}); err != nil {
		return types.NewError(types.ErrTransport, "ping write failed").WithCause(err).WithRetryable(true)
	}

	select {
	case frame := <-ch:
		if frame.Type != "pong" {
			return types.NewError(types.ErrTransport, "unexpected frame in place of pong")
		}
		return nil
	case <-pingCtx.Done():
		return types.NewError(types.ErrTimeout, "pong not received").WithRetryable(true)
	}
}

func (c *socketConnector) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "agent disconnected")
	}
	return nil
}

var _ connector = (*socketConnector)(nil)
