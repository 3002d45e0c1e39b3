package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/consultnet/consultnet/types"
)

const (
	healthPath  = "/health"
	executePath = "/execute"
)

// httpConnector reaches an agent over plain request/response HTTP. The
// connection step is a liveness probe against the health path; execution
// posts a JSON task payload to the execute path.
type httpConnector struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

func newHTTPConnector(cfg AgentConfig) *httpConnector {
	return &httpConnector{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		headers:  cfg.Headers,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *httpConnector) Connect(ctx context.Context) error {
	return c.HealthCheck(ctx)
}

func (c *httpConnector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+healthPath, nil)
	if err != nil {
		return types.NewError(types.ErrTransport, "building health request").WithCause(err)
	}
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrTransport, "health probe failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrTransport,
			fmt.Sprintf("health probe returned status %d", resp.StatusCode)).WithRetryable(true)
	}
	return nil
}

// executeRequest is the wire form of a task posted to a remote agent.
type executeRequest struct {
	Question    string         `json:"question"`
	RequesterID string         `json:"requester_id,omitempty"`
	Tier        string         `json:"tier,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// executeResponse is the wire form of a remote agent's answer.
type executeResponse struct {
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
	Cost        float64            `json:"cost,omitempty"`
	Enrichments []types.Enrichment `json:"enrichments,omitempty"`
	Data        json.RawMessage    `json:"data,omitempty"`
}

// consultationData is the multi-specialist payload shape some remote agents
// return instead of a flat enrichment list.
type consultationData struct {
	Specialists []struct {
		Name        string             `json:"name"`
		Answer      string             `json:"answer,omitempty"`
		Cost        float64            `json:"cost,omitempty"`
		Enrichments []types.Enrichment `json:"enrichments,omitempty"`
	} `json:"specialists"`
}

func (c *httpConnector) Execute(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
	body, err := json.Marshal(executeRequest{
		Question:    desc.Question,
		RequesterID: desc.RequesterID,
		Tier:        desc.Tier,
		Metadata:    desc.Metadata,
	})
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "encoding task payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "building execute request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "execute call failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, types.NewError(types.ErrTransport,
			fmt.Sprintf("execute returned status %d", resp.StatusCode)).WithRetryable(true)
	}

	var wire executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, types.NewError(types.ErrTransport, "decoding execute response").WithCause(err)
	}

	return normalizeResponse(&wire), nil
}

// normalizeResponse maps the wire response to the execution contract,
// flattening consultation-shaped payloads into the enrichment list.
func normalizeResponse(wire *executeResponse) *types.ExecutionResult {
	res := &types.ExecutionResult{
		Success:     wire.Success,
		Error:       wire.Error,
		Cost:        wire.Cost,
		Enrichments: wire.Enrichments,
	}

	if len(wire.Data) == 0 {
		return res
	}
	var consultation consultationData
	if err := json.Unmarshal(wire.Data, &consultation); err != nil || len(consultation.Specialists) == 0 {
		return res
	}

	for _, s := range consultation.Specialists {
		if s.Answer != "" {
			res.Enrichments = append(res.Enrichments, types.Enrichment{
				Kind:    "consultation",
				Title:   s.Name,
				Content: s.Answer,
			})
		}
		res.Enrichments = append(res.Enrichments, s.Enrichments...)
		res.Cost += s.Cost
	}
	return res
}

func (c *httpConnector) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

func (c *httpConnector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

var _ connector = (*httpConnector)(nil)
