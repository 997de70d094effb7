// Package comfy is the client for the node-graph generation engine: job
// submission and control over HTTP, and per-job event streams over a
// WebSocket.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/simplui/simplui/internal/metrics"
	"github.com/simplui/simplui/internal/workflow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// maxMessageSize bounds a single WebSocket frame. Preview and output
	// frames are whole images.
	maxMessageSize = 10 * 1024 * 1024

	maxErrorBody = 64 * 1024

	defaultControlTimeout = 5 * time.Second
	defaultDialTimeout    = 15 * time.Second
)

// Client talks to one engine. The client id is fixed for the lifetime of the
// Client and identifies the session to the engine.
type Client struct {
	base     *url.URL
	clientID string

	httpClient     *http.Client
	dialer         *websocket.Dialer
	baseLogger     *zap.Logger
	logger         *zap.Logger
	controlTimeout time.Duration
	dialTimeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClientID overrides the generated session client id.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithControlTimeout bounds interrupt and clear-queue calls.
func WithControlTimeout(d time.Duration) Option {
	return func(c *Client) { c.controlTimeout = d }
}

// WithDialTimeout bounds the total time spent retrying the WebSocket dial.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// NewClient returns a client for the engine at baseURL. A bare host:port is
// treated as http.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid engine url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid engine url %q: unsupported scheme %s", baseURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid engine url %q: missing host", baseURL)
	}

	c := &Client{
		base:           u,
		clientID:       uuid.NewString(),
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:         zap.NewNop(),
		controlTimeout: defaultControlTimeout,
		dialTimeout:    defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseLogger = c.logger
	c.logger = c.logger.With(zap.String("engine", u.Host), zap.String("client_id", c.clientID))
	return c, nil
}

// ForSession returns a client for the same engine under a fresh client id.
// The engine routes events by client id, so concurrent sessions each need
// their own.
func (c *Client) ForSession() *Client {
	n := *c
	n.clientID = uuid.NewString()
	n.logger = c.baseLogger.With(zap.String("engine", c.base.Host), zap.String("client_id", n.clientID))
	return &n
}

// ClientID returns the session client id sent with every submission.
func (c *Client) ClientID() string { return c.clientID }

// BaseURL returns the engine's base URL.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientID}}.Encode()
	return u.String()
}

type promptRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit queues g on the engine and returns its job id.
func (c *Client) Submit(ctx context.Context, g workflow.Graph) (string, error) {
	id, err := c.submit(ctx, g)
	if err != nil {
		metrics.JobSubmissions.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.JobSubmissions.WithLabelValues("ok").Inc()
	c.logger.Debug("job submitted", zap.String("job_id", id))
	return id, nil
}

func (c *Client) submit(ctx context.Context, g workflow.Graph) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: g, ClientID: c.clientID})
	if err != nil {
		return "", &SubmissionError{Err: fmt.Errorf("encode graph: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out promptResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(data), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.PromptID == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(data), Err: errors.New("response has no prompt_id")}
	}
	return out.PromptID, nil
}

// Interrupt asks the engine to abandon the job it is executing. Failures are
// logged and otherwise ignored.
func (c *Client) Interrupt(ctx context.Context) {
	c.control(ctx, "interrupt", "/interrupt", map[string]any{"client_id": c.clientID})
}

// ClearQueue asks the engine to drop every pending job. Failures are logged
// and otherwise ignored.
func (c *Client) ClearQueue(ctx context.Context) {
	c.control(ctx, "clear_queue", "/queue", map[string]any{"clear": true, "client_id": c.clientID})
}

// control runs detached from ctx cancellation so that it still reaches the
// engine when called from a cancelled batch, bounded by controlTimeout.
func (c *Client) control(ctx context.Context, signal, path string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.controlTimeout)
	defer cancel()

	err := c.post(ctx, path, payload)
	if err != nil {
		metrics.ControlSignals.WithLabelValues(signal, "error").Inc()
		c.logger.Warn("engine control signal failed", zap.String("signal", signal), zap.Error(err))
		return
	}
	metrics.ControlSignals.WithLabelValues(signal, "ok").Inc()
	c.logger.Debug("engine control signal sent", zap.String("signal", signal))
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// OutputFile references a file produced by a job, as listed by an
// "executed" message.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// View downloads an output file.
func (c *Client) View(ctx context.Context, f OutputFile) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", f.Filename)
	q.Set("subfolder", f.Subfolder)
	q.Set("type", f.Type)

	data, err := c.get(ctx, "/view", q)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", f.Filename, err)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ObjectInfo fetches the input schema of the given node types concurrently,
// or of every node type when none are given.
func (c *Client) ObjectInfo(ctx context.Context, types ...string) (workflow.ObjectInfo, error) {
	if len(types) == 0 {
		return c.fetchObjectInfo(ctx, "")
	}

	var (
		mu  sync.Mutex
		all = workflow.ObjectInfo{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range types {
		g.Go(func() error {
			info, err := c.fetchObjectInfo(gctx, t)
			if err != nil {
				return err
			}
			mu.Lock()
			all.Merge(info)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *Client) fetchObjectInfo(ctx context.Context, nodeType string) (workflow.ObjectInfo, error) {
	path := "/object_info"
	if nodeType != "" {
		path += "/" + url.PathEscape(nodeType)
	}
	data, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, &SchemaError{NodeType: nodeType, Err: err}
	}
	var info workflow.ObjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &SchemaError{NodeType: nodeType, Err: fmt.Errorf("decode: %w", err)}
	}
	return info, nil
}

// CheckConnection reports whether the engine answers GET /system_stats.
func (c *Client) CheckConnection(ctx context.Context) bool {
	if _, err := c.get(ctx, "/system_stats", nil); err != nil {
		c.logger.Debug("engine not reachable", zap.Error(err))
		return false
	}
	return true
}
