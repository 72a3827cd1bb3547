package invoker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/goatflow/internal/dylib/abi"
	"github.com/goatkit/goatflow/internal/dylib/cache"
	"github.com/goatkit/goatflow/internal/dylib/rendezvous"
)

func TestBuildRequest_RejectsUnsupportedMethod(t *testing.T) {
	r := httptest.NewRequest(http.MethodPatch, "/plugin/x", nil)
	_, err := BuildRequest(r, "http://host", "/plugin", "/data", nil)
	require.Error(t, err)
}

func TestBuildRequest_RejectsNonUTF8Body(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/plugin/x", strings.NewReader(string([]byte{0xff, 0xfe})))
	_, err := BuildRequest(r, "http://host", "/plugin", "/data", nil)
	require.Error(t, err)
}

func TestBuildRequest_TrimsTrailingSlash(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/plugin/widgets/", nil)
	req, err := BuildRequest(r, "http://host", "/plugin", "/data", nil)
	require.NoError(t, err)
	assert.Equal(t, "/plugin/widgets", req.URL)
	assert.Equal(t, abi.MethodGet, req.Method)
	assert.Equal(t, "http://host", req.Context.HostURL)
	assert.Equal(t, "/data", req.Context.DataDir)
}

func TestBuildRequest_CarriesQueryAndHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/plugin?x=1", nil)
	r.Header.Set("X-Test", "value")
	req, err := BuildRequest(r, "http://host", "/plugin", "/data", nil)
	require.NoError(t, err)
	assert.Equal(t, "x=1", req.Query)
	assert.Equal(t, "value", req.Headers["X-Test"])
}

func TestInvoker_Invoke_FailsWhenLibraryIsMissing(t *testing.T) {
	store := rendezvous.New()
	libCache := cache.New()
	inv := New(store, libCache, nil).WithTimeout(30 * time.Millisecond)

	_, err := inv.Invoke(context.Background(), "/nonexistent/plugin.so", abi.PluginRequest{Method: abi.MethodGet})
	require.Error(t, err, "a missing library should fail at load, not at poll")
}

func TestInvoker_Poll_ReturnsAssembledResponse(t *testing.T) {
	store := rendezvous.New()
	libCache := cache.New()
	inv := New(store, libCache, nil).WithTimeout(time.Second)

	id := rendezvous.NextRequestID()
	store.StoreRequest(id, abi.PluginRequest{})

	go func() {
		time.Sleep(5 * time.Millisecond)
		store.StoreResponse(id, abi.PluginResponse{StatusCode: 201, Body: []byte("created")})
	}()

	resp, err := inv.poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, []byte("created"), resp.Body)

	_, ok := store.GetRequest(id)
	assert.False(t, ok, "poll must remove the request entry once resolved")
}

func TestInvoker_Poll_TimesOutAndCleansUp(t *testing.T) {
	store := rendezvous.New()
	libCache := cache.New()
	inv := New(store, libCache, nil).WithTimeout(20 * time.Millisecond)

	id := rendezvous.NextRequestID()
	store.StoreRequest(id, abi.PluginRequest{})

	_, err := inv.poll(context.Background(), id)
	require.Error(t, err)

	_, ok := store.GetRequest(id)
	assert.False(t, ok, "a timed-out request must be cleaned up")
}

func TestInvoker_Poll_RespectsContextCancellation(t *testing.T) {
	store := rendezvous.New()
	libCache := cache.New()
	inv := New(store, libCache, nil).WithTimeout(time.Second)

	id := rendezvous.NextRequestID()
	store.StoreRequest(id, abi.PluginRequest{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := inv.poll(ctx, id)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAssembleResponse_ErrorBecomes500(t *testing.T) {
	msg := "plugin blew up"
	resp := assembleResponse(abi.PluginResponse{StatusCode: 200, Error: &msg})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(resp.Body), msg)
}
