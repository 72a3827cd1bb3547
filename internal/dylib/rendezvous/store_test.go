package rendezvous

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/goatflow/internal/dylib/abi"
)

func TestNextRequestID_Monotonic(t *testing.T) {
	a := NextRequestID()
	b := NextRequestID()
	c := NextRequestID()
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestStore_RequestRoundTrip(t *testing.T) {
	s := New()
	req := abi.PluginRequest{Method: abi.MethodGet, URL: "/hello"}

	s.StoreRequest(1, req)

	got, ok := s.GetRequest(1)
	require.True(t, ok)
	assert.Equal(t, req, got)

	// GetRequest does not consume the entry.
	got2, ok := s.GetRequest(1)
	require.True(t, ok)
	assert.Equal(t, req, got2)

	taken, ok := s.TakeRequest(1)
	require.True(t, ok)
	assert.Equal(t, req, taken)

	_, ok = s.GetRequest(1)
	assert.False(t, ok, "TakeRequest should remove the entry")
}

func TestStore_ResponseIsConsumedOnce(t *testing.T) {
	s := New()
	resp := abi.PluginResponse{StatusCode: 200, Body: []byte("ok")}
	s.StoreResponse(42, resp)

	got, ok := s.TakeResponse(42)
	require.True(t, ok)
	assert.Equal(t, resp, got)

	_, ok = s.TakeResponse(42)
	assert.False(t, ok, "a response observed once must not be observable again")
}

func TestStore_RemoveRequestIsSafeWhenAbsent(t *testing.T) {
	s := New()
	assert.NotPanics(t, func() { s.RemoveRequest(999) })
}
