package router

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/goatflow/internal/dylib/abi"
	"github.com/goatkit/goatflow/internal/dylib/cache"
	"github.com/goatkit/goatflow/internal/dylib/invoker"
	"github.com/goatkit/goatflow/internal/dylib/rendezvous"
)

func newTestRouter(t *testing.T) (*Router, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := rendezvous.New()
	inv := invoker.New(store, cache.New(), nil)
	rt := New(Deps{Store: store, Invoker: inv, HostURL: "http://localhost:8080", DataDir: t.TempDir()})

	host := gin.New()
	rt.Mount(host)
	return rt, host
}

func TestRouter_StoreAndGetRequestInfoRoundTrip(t *testing.T) {
	_, host := newTestRouter(t)

	body := strings.NewReader(`{"method":"GET","headers":{},"query":"","url":"/hello","body":""}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/store-request-info?request_id=7", body)
	host.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	w2 := httptest.NewRecorder()
	getReq := httptest.NewRequest(http.MethodGet, "/admin/get-request-info?request_id=7", nil)
	host.ServeHTTP(w2, getReq)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Contains(t, w2.Body.String(), "/hello")
}

func TestRouter_GetRequestInfo_UnknownID(t *testing.T) {
	_, host := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/get-request-info?request_id=999", nil)
	host.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GetRequestInfo_MissingRequestID(t *testing.T) {
	_, host := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/get-request-info", nil)
	host.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_PushResponseInfo_StoresResponseForTheInvoker(t *testing.T) {
	store := rendezvous.New()
	inv := invoker.New(store, cache.New(), nil).WithTimeout(1)
	rt := New(Deps{Store: store, Invoker: inv, HostURL: "http://localhost", DataDir: t.TempDir()})
	host := gin.New()
	rt.Mount(host)

	id := rendezvous.NextRequestID()
	body := strings.NewReader(`{"status_code":200,"headers":{},"body":"aGVsbG8="}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/push-response-info?request_id="+strconv.FormatInt(id, 10), body)
	host.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	resp, ok := store.TakeResponse(id)
	require.True(t, ok)
	assert.EqualValues(t, 200, resp.StatusCode)
}

func TestRouter_NoRoute_FallsThroughTo404(t *testing.T) {
	_, host := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nowhere-registered", nil)
	host.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Rebuild_LongestPrefixRegisteredFirst(t *testing.T) {
	store := rendezvous.New()
	inv := invoker.New(store, cache.New(), nil)
	rt := New(Deps{Store: store, Invoker: inv, HostURL: "http://localhost", DataDir: t.TempDir()})

	rt.Rebuild([]abi.PluginConfig{
		{Name: "root", URLPrefix: "/api", FilePath: "/plugins/api.so"},
		{Name: "nested", URLPrefix: "/api/widgets", FilePath: "/plugins/widgets.so"},
		{Name: "disabled", URLPrefix: "/api/off", FilePath: "/plugins/off.so", Disable: true},
		{Name: "server", URLPrefix: "/api/srv", FilePath: "/plugins/srv.so", IsServer: true},
		{Name: "empty-prefix", URLPrefix: "", FilePath: "/plugins/noop.so"},
	})

	cfgs := rt.currentConfigs()
	require.Len(t, cfgs, 2)
	assert.Equal(t, "/api/widgets", cfgs[0].URLPrefix, "longer prefixes must sort first")
	assert.Equal(t, "/api", cfgs[1].URLPrefix)
}
