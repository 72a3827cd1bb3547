// Package invoker implements the plugin invocation contract: translate an
// incoming HTTP request into a PluginRequest, deposit it in the rendezvous
// store, call the plugin's HandleRequest symbol on a background goroutine,
// and poll for the posted response under a fixed timeout, guaranteeing
// store cleanup on every exit path.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goatkit/goatflow/internal/dylib/abi"
	"github.com/goatkit/goatflow/internal/dylib/cache"
	"github.com/goatkit/goatflow/internal/dylib/metrics"
	"github.com/goatkit/goatflow/internal/dylib/rendezvous"
)

const (
	pollInterval   = 10 * time.Millisecond
	defaultTimeout = 30 * time.Second
)

// ErrTimeout is returned by Invoke when the plugin never posts a response
// within the invoker's timeout, letting callers tell this apart from a
// load failure or a bad request.
var ErrTimeout = errors.New("plugin response timeout")

// Response is the HTTP-shaped result of an invocation, independent of any
// particular web framework so it can be adapted by gin, net/http, or tests.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Invoker ties a rendezvous store and a library cache together to run
// request-scoped plugins.
type Invoker struct {
	store   *rendezvous.Store
	cache   *cache.Cache
	logger  *slog.Logger
	timeout time.Duration
}

// New creates an Invoker. logger may be nil, in which case slog.Default is used.
func New(store *rendezvous.Store, libCache *cache.Cache, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{store: store, cache: libCache, logger: logger, timeout: defaultTimeout}
}

// WithTimeout returns a copy of the invoker using the given poll timeout,
// primarily for tests that want a short timeout.
func (inv *Invoker) WithTimeout(d time.Duration) *Invoker {
	clone := *inv
	clone.timeout = d
	return &clone
}

// BuildRequest translates an *http.Request into the ABI PluginRequest.
func BuildRequest(r *http.Request, hostURL, pluginPrefix, dataDir string, configText *string) (abi.PluginRequest, error) {
	method, ok := abi.ParseMethod(r.Method)
	if !ok {
		return abi.PluginRequest{}, fmt.Errorf("unsupported method %q", r.Method)
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		if !utf8.ValidString(v) {
			return abi.PluginRequest{}, fmt.Errorf("header %q is not valid UTF-8", name)
		}
		headers[name] = v
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return abi.PluginRequest{}, fmt.Errorf("read request body: %w", err)
	}
	if !utf8.Valid(body) {
		return abi.PluginRequest{}, fmt.Errorf("request body is not valid UTF-8")
	}

	url := strings.TrimSuffix(r.URL.Path, "/")

	return abi.PluginRequest{
		Method:  method,
		Headers: headers,
		Query:   r.URL.RawQuery,
		URL:     url,
		Body:    string(body),
		Context: abi.PluginContext{
			HostURL:         hostURL,
			PluginPrefixURL: pluginPrefix,
			DataDir:         dataDir,
			ConfigText:      configText,
		},
	}, nil
}

// Invoke runs the plugin at filePath against req and returns the
// assembled HTTP response.
func (inv *Invoker) Invoke(ctx context.Context, filePath string, req abi.PluginRequest) (*Response, error) {
	done := metrics.RecordInvocation(filePath)
	resp, err := inv.invoke(ctx, filePath, req)
	done(err == nil)
	return resp, err
}

func (inv *Invoker) invoke(ctx context.Context, filePath string, req abi.PluginRequest) (*Response, error) {
	id := rendezvous.NextRequestID()
	inv.store.StoreRequest(id, req)

	handle, err := inv.cache.LoadOrOpen(filePath, abi.HandleRequestSymbol)
	if err != nil {
		inv.store.RemoveRequest(id)
		inv.logger.Error("plugin load failed", "path", filePath, "request_id", id, "error", err)
		return nil, fmt.Errorf("load plugin: %w", err)
	}
	metrics.SetCacheSize(inv.cache.Count())

	go func(h *cache.Handle, requestID int64) {
		defer func() {
			if p := recover(); p != nil {
				inv.logger.Error("plugin handler panicked", "request_id", requestID, "panic", p)
			}
		}()
		h.HandleRequest(requestID)
	}(handle, id)

	return inv.poll(ctx, id)
}

// poll polls every 10ms up to the invoker's timeout, removing the
// request entry on every exit path.
func (inv *Invoker) poll(ctx context.Context, id int64) (*Response, error) {
	deadline := time.Now().Add(inv.timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if resp, ok := inv.store.TakeResponse(id); ok {
			inv.store.RemoveRequest(id)
			return assembleResponse(resp), nil
		}

		if time.Now().After(deadline) {
			inv.store.RemoveRequest(id)
			inv.logger.Warn("plugin response timeout", "request_id", id, "timeout", inv.timeout)
			metrics.RecordTimeout()
			return nil, fmt.Errorf("%w after %s", ErrTimeout, inv.timeout)
		}

		select {
		case <-ctx.Done():
			// Client disconnect does not cancel the plugin call; a response it
			// posts before the deadline is taken and discarded on the host side
			// only. We still must reach terminal state for this request-id.
			inv.store.RemoveRequest(id)
			go func() {
				t := time.NewTicker(pollInterval)
				defer t.Stop()
				for range t.C {
					if _, ok := inv.store.TakeResponse(id); ok || time.Now().After(deadline) {
						return
					}
				}
			}()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func assembleResponse(resp abi.PluginResponse) *Response {
	status := int(resp.StatusCode)
	if status == 0 {
		status = 200
	}
	if resp.Error != nil {
		// A plugin-reported error always surfaces as a 500 regardless of
		// status_code, with the error text carried in the body.
		status = http.StatusInternalServerError
		body := []byte(fmt.Sprintf("plugin error: %s", *resp.Error))
		headers := cloneHeaders(resp.Headers)
		headers["Content-Type"] = "text/plain;charset=UTF-8"
		return &Response{StatusCode: status, Headers: headers, Body: body}
	}
	return &Response{StatusCode: status, Headers: cloneHeaders(resp.Headers), Body: resp.Body}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
