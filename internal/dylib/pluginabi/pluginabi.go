// Package pluginabi is linked into plugin .so files (not the host). It
// performs the fetch-from-host / call-user-handler / push-to-host round
// trip and recovers panics into an error response, so plugin authors only
// write func(context.Context, abi.PluginRequest) (abi.PluginResponse, error).
package pluginabi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goatkit/goatflow/internal/dylib/abi"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// FetchRequest retrieves the PluginRequest for requestID from the host's
// rendezvous endpoint.
func FetchRequest(ctx context.Context, hostURL string, requestID int64) (abi.PluginRequest, error) {
	url := fmt.Sprintf("%s/admin/get-request-info?request_id=%d", hostURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return abi.PluginRequest{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return abi.PluginRequest{}, fmt.Errorf("fetch request %d: %w", requestID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return abi.PluginRequest{}, fmt.Errorf("fetch request %d: host returned %d: %s", requestID, resp.StatusCode, body)
	}

	var out abi.PluginRequest
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return abi.PluginRequest{}, fmt.Errorf("decode request %d: %w", requestID, err)
	}
	return out, nil
}

// PushResponse posts resp to the host's rendezvous endpoint under requestID.
func PushResponse(ctx context.Context, hostURL string, requestID int64, resp abi.PluginResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response %d: %w", requestID, err)
	}
	url := fmt.Sprintf("%s/admin/push-response-info?request_id=%d", hostURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	httpResp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push response %d: %w", requestID, err)
	}
	defer httpResp.Body.Close()
	return nil
}

// Handler is the user-supplied business logic a plugin registers.
type Handler func(ctx context.Context, req abi.PluginRequest) (abi.PluginResponse, error)

// Serve performs the full round trip for one invocation: fetch, call,
// push, recovering any panic raised by handler into an error response so
// it never crosses the plugin boundary as a crash. A plugin's exported
// HandleRequest wraps this:
//
//	func HandleRequest(requestID int64) { pluginabi.Serve(requestID, myHandler) }
func Serve(requestID int64, handler Handler) {
	hostURL := os.Getenv("HOST")
	if hostURL == "" {
		hostURL = "http://127.0.0.1:3000"
	}
	ctx := context.Background()

	resp := safeInvoke(ctx, hostURL, requestID, handler)

	if err := PushResponse(ctx, hostURL, requestID, resp); err != nil {
		fmt.Fprintf(os.Stderr, "failed to push response for request %d: %v\n", requestID, err)
	}
}

func safeInvoke(ctx context.Context, hostURL string, requestID int64, handler Handler) (resp abi.PluginResponse) {
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("panic in plugin handler: %v", p)
			fmt.Fprintln(os.Stderr, msg)
			resp = abi.ErrorResponse(fmt.Errorf("%s", msg))
		}
	}()

	req, err := FetchRequest(ctx, hostURL, requestID)
	if err != nil {
		return abi.ErrorResponse(err)
	}

	out, err := handler(ctx, req)
	if err != nil {
		return abi.ErrorResponse(err)
	}
	return out
}
