package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tideflow-io/tideflow/internal/executors"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// httpAgentInvoker forwards agent prompts to an external completion
// endpoint as JSON over POST. The endpoint replies with
// {"text": "...", "metadata": {...}}.
type httpAgentInvoker struct {
	endpoint string
	client   *http.Client
}

func newHTTPAgentInvoker(endpoint string) *httpAgentInvoker {
	return &httpAgentInvoker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *httpAgentInvoker) Invoke(ctx context.Context, req executors.AgentRequest) (*executors.AgentReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "encode agent request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "build agent request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "agent endpoint unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "read agent response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor,
			"agent endpoint returned %s", resp.Status).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(data)})
	}

	var reply executors.AgentReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecutor,
			fmt.Sprintf("malformed agent response: %v", err))
	}
	return &reply, nil
}
