package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// HTTPOptions bounds http_request executions.
type HTTPOptions struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPRequestExecutor runs http_request nodes. Any non-2xx response is a
// node failure; 4xx responses are marked non-retryable, 5xx retryable.
type HTTPRequestExecutor struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPRequestExecutor creates the http_request executor. A nil client
// falls back to a plain client; requests carry their own timeout contexts.
func NewHTTPRequestExecutor(client *http.Client, opts HTTPOptions) *HTTPRequestExecutor {
	if client == nil {
		client = &http.Client{}
	}
	if opts.MaxResponseBody <= 0 {
		opts.MaxResponseBody = defaultMaxResponseBody
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequestExecutor{client: client, opts: opts}
}

func (e *HTTPRequestExecutor) Type() schema.NodeType { return schema.NodeTypeHTTPRequest }

func (e *HTTPRequestExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.HTTPRequestConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	if cfg.URL == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "http_request node %q: url is required", node.ID).WithNode(node.ID)
	}
	if cfg.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Timeout); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "http_request node %q: invalid timeout %q", node.ID, cfg.Timeout).WithNode(node.ID)
		}
	}
	return nil
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	var cfg schema.HTTPRequestConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	rawURL, err := in.RenderString(cfg.URL)
	if err != nil {
		return nil, err
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL).
			WithNode(in.Node.ID)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	bodyReader, contentType, err := e.buildBody(in, cfg)
	if err != nil {
		return nil, err
	}

	timeout := e.opts.DefaultTimeout
	if cfg.Timeout != "" {
		if d, perr := time.ParseDuration(cfg.Timeout); perr == nil {
			timeout = d
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "failed to create request: %v", err).
			WithCause(err).WithNode(in.Node.ID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range cfg.Headers {
		rendered, rerr := in.RenderString(v)
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set(k, rendered)
	}
	if len(cfg.Query) > 0 {
		q := req.URL.Query()
		for k, v := range cfg.Query {
			rendered, rerr := in.RenderString(v)
			if rerr != nil {
				return nil, rerr
			}
			q.Set(k, rendered)
		}
		req.URL.RawQuery = q.Encode()
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "request exceeded %s", timeout).
				WithCause(err).WithNode(in.Node.ID)
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "request failed: %v", err).
			WithCause(err).WithNode(in.Node.ID)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "failed to read response body: %v", err).
			WithCause(err).WithNode(in.Node.ID)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(respContentType, "application/json"):
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	output := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "server returned %d", resp.StatusCode).
			WithNode(in.Node.ID).
			WithDetails(map[string]any{
				"status_code": resp.StatusCode,
				"body":        parsedBody,
				"retryable":   resp.StatusCode >= 500,
			})
	}

	return &ExecutionResult{Output: output}, nil
}

func (e *HTTPRequestExecutor) buildBody(in ExecutionInput, cfg schema.HTTPRequestConfig) (io.Reader, string, error) {
	if len(cfg.Body) == 0 {
		return nil, "", nil
	}

	var rawBody any
	if err := json.Unmarshal(cfg.Body, &rawBody); err != nil {
		return nil, "", schema.NewErrorf(schema.ErrCodeValidation, "invalid body: %v", err).WithNode(in.Node.ID)
	}
	rendered, err := in.Resolver.InterpolateBody(rawBody, in.Context, map[string]any{"params": in.Params})
	if err != nil {
		return nil, "", err
	}

	switch cfg.BodyEncoding {
	case "form":
		formData, ok := rendered.(map[string]any)
		if !ok {
			return nil, "", schema.NewErrorf(schema.ErrCodeValidation, "form body must be an object").WithNode(in.Node.ID)
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "raw":
		return strings.NewReader(fmt.Sprintf("%v", rendered)), "", nil
	default: // json
		b, err := json.Marshal(rendered)
		if err != nil {
			return nil, "", schema.NewErrorf(schema.ErrCodeExecutor, "failed to marshal body as JSON").
				WithCause(err).WithNode(in.Node.ID)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

var _ NodeExecutor = (*HTTPRequestExecutor)(nil)
