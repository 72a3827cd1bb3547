// Package main implements a minimal request-scoped native dylib plugin for
// GoatKit, exercising the internal/dylib/pluginabi ABI helper. Build with:
//
//	go build -buildmode=plugin -o hello.so main.go
package main

import (
	"context"
	"encoding/json"

	"github.com/goatkit/goatflow/internal/dylib/abi"
	"github.com/goatkit/goatflow/internal/dylib/pluginabi"
)

// HandleRequest is the exported symbol the host resolves via plugin.Lookup
// and calls on a background goroutine for every request routed to this
// plugin.
func HandleRequest(requestID int64) {
	pluginabi.Serve(requestID, handle)
}

func handle(ctx context.Context, req abi.PluginRequest) (abi.PluginResponse, error) {
	if req.MatchSuffix("/echo") {
		return echo(req), nil
	}
	return abi.TextResponse("Hello from a native dylib plugin!"), nil
}

func echo(req abi.PluginRequest) abi.PluginResponse {
	payload := map[string]any{
		"method": req.Method,
		"url":    req.URL,
		"query":  req.Query,
		"body":   req.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return abi.ErrorResponse(err)
	}
	return abi.PluginResponse{
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
		StatusCode: 200,
	}
}

func main() {}
