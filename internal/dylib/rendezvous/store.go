// Package rendezvous implements the process-wide request-id-keyed handoff
// between the plugin invoker and a plugin's self-service HTTP calls. Two
// independent maps hold the request and the response; neither side
// notifies the other — the invoker polls.
package rendezvous

import (
	"sync"
	"sync/atomic"

	"github.com/goatkit/goatflow/internal/dylib/abi"
)

// requestIDCounter is the process-wide monotonically increasing RequestID
// source, allocated by atomic fetch-and-add and never reused within a run.
var requestIDCounter atomic.Int64

// NextRequestID allocates a new unique request id.
func NextRequestID() int64 {
	return requestIDCounter.Add(1)
}

// Store holds the request and response rendezvous maps. The zero value is
// an empty store ready for use; New returns one.
type Store struct {
	requests  sync.Map // int64 -> abi.PluginRequest
	responses sync.Map // int64 -> abi.PluginResponse
}

// New creates an empty rendezvous store.
func New() *Store {
	return &Store{}
}

// StoreRequest deposits a request under id, overwriting any prior value.
func (s *Store) StoreRequest(id int64, req abi.PluginRequest) {
	s.requests.Store(id, req)
}

// GetRequest returns a copy of the request stored under id, if present.
func (s *Store) GetRequest(id int64) (abi.PluginRequest, bool) {
	v, ok := s.requests.Load(id)
	if !ok {
		return abi.PluginRequest{}, false
	}
	return v.(abi.PluginRequest), true
}

// TakeRequest removes and returns the request stored under id, if present.
func (s *Store) TakeRequest(id int64) (abi.PluginRequest, bool) {
	v, ok := s.requests.LoadAndDelete(id)
	if !ok {
		return abi.PluginRequest{}, false
	}
	return v.(abi.PluginRequest), true
}

// RemoveRequest deletes any request stored under id. Safe to call when no
// entry is present (used on cleanup paths where presence is unknown).
func (s *Store) RemoveRequest(id int64) {
	s.requests.Delete(id)
}

// StoreResponse deposits a response under id, overwriting any prior value.
func (s *Store) StoreResponse(id int64, resp abi.PluginResponse) {
	s.responses.Store(id, resp)
}

// TakeResponse removes and returns the response stored under id, if present.
// This is the only way a response is ever read — once observed by the
// invoker's poll loop it is gone.
func (s *Store) TakeResponse(id int64) (abi.PluginResponse, bool) {
	v, ok := s.responses.LoadAndDelete(id)
	if !ok {
		return abi.PluginResponse{}, false
	}
	return v.(abi.PluginResponse), true
}
