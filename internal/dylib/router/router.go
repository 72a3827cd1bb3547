// Package router wires the dylib runtime into gin: the three rendezvous
// admin endpoints and per-plugin route registration with longest-prefix
// matching, composed as a dedicated gin.Engine that is rebuilt wholesale
// on every config change and mounted under the host's NoRoute fallback.
package router

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatflow/internal/apierrors"
	"github.com/goatkit/goatflow/internal/dylib/abi"
	"github.com/goatkit/goatflow/internal/dylib/invoker"
	"github.com/goatkit/goatflow/internal/dylib/rendezvous"
)

const (
	CodeTimeout       = "dylib:timeout"
	CodeLoadFailed    = "dylib:load_failed"
	CodeBadRequest    = "dylib:bad_request"
	CodeNoSuchRequest = "dylib:no_such_request"
)

func init() {
	apierrors.Registry.Register(apierrors.ErrorCode{Code: CodeTimeout, Message: "Plugin did not respond in time", HTTPStatus: http.StatusGatewayTimeout})
	apierrors.Registry.Register(apierrors.ErrorCode{Code: CodeLoadFailed, Message: "Plugin library failed to load", HTTPStatus: http.StatusInternalServerError})
	apierrors.Registry.Register(apierrors.ErrorCode{Code: CodeBadRequest, Message: "Request could not be translated for the plugin ABI", HTTPStatus: http.StatusBadRequest})
	apierrors.Registry.Register(apierrors.ErrorCode{Code: CodeNoSuchRequest, Message: "No pending request for that request_id", HTTPStatus: http.StatusNotFound})
}

// Deps bundles everything route registration and the admin endpoints need.
type Deps struct {
	Store   *rendezvous.Store
	Invoker *invoker.Invoker
	HostURL string
	DataDir string
}

// registeredPlugin is a non-server plugin with a non-empty URL prefix.
type registeredPlugin struct {
	cfg abi.PluginConfig
}

// Router builds and swaps a gin.Engine mounting every enabled plugin's
// prefix under a lock, replacing the live engine wholesale on rebuild.
type Router struct {
	deps Deps

	mu      sync.RWMutex
	engine  *gin.Engine
	plugins []registeredPlugin
}

// New creates a Router. Call Mount once at bootstrap, then Rebuild whenever
// the plugin set changes (config reload, DB-backed plugin CRUD).
func New(deps Deps) *Router {
	return &Router{deps: deps}
}

// Mount installs the router's engine as the host's NoRoute fallback.
func (rt *Router) Mount(host *gin.Engine) {
	rt.Rebuild(rt.currentConfigs())

	host.GET("/admin/get-request-info", rt.handleGetRequestInfo)
	host.POST("/admin/push-response-info", rt.handlePushResponseInfo)
	host.POST("/admin/store-request-info", rt.handleStoreRequestInfo)

	host.NoRoute(func(c *gin.Context) {
		rt.mu.RLock()
		eng := rt.engine
		rt.mu.RUnlock()

		if eng != nil {
			eng.HandleContext(c)
			if c.Writer.Written() {
				return
			}
		}
		apierrors.Error(c, apierrors.CodeNotFound)
	})
}

func (rt *Router) currentConfigs() []abi.PluginConfig {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]abi.PluginConfig, 0, len(rt.plugins))
	for _, p := range rt.plugins {
		out = append(out, p.cfg)
	}
	return out
}

// Rebuild replaces the live engine with one built from cfgs: every enabled,
// non-server plugin with a non-empty URLPrefix gets its prefix (exact and
// wildcard-suffix) registered for GET/POST/PUT/DELETE. Longer prefixes are
// registered first so gin's own matching prefers the most specific route
// when two plugins' prefixes nest.
func (rt *Router) Rebuild(cfgs []abi.PluginConfig) {
	var active []registeredPlugin
	for _, cfg := range cfgs {
		if cfg.Disable || cfg.IsServer || cfg.URLPrefix == "" {
			continue
		}
		active = append(active, registeredPlugin{cfg: cfg})
	}
	sort.Slice(active, func(i, j int) bool {
		return len(active[i].cfg.URLPrefix) > len(active[j].cfg.URLPrefix)
	})

	eng := gin.New()
	eng.Use(gin.Recovery())

	for _, p := range active {
		rt.registerPlugin(eng, p.cfg)
	}

	rt.mu.Lock()
	rt.engine = eng
	rt.plugins = active
	rt.mu.Unlock()
}

func (rt *Router) registerPlugin(eng *gin.Engine, cfg abi.PluginConfig) {
	prefix := "/" + strings.Trim(cfg.URLPrefix, "/")
	handler := rt.pluginHandler(cfg)

	for _, path := range []string{prefix, prefix + "/*rest"} {
		eng.GET(path, handler)
		eng.POST(path, handler)
		eng.PUT(path, handler)
		eng.DELETE(path, handler)
	}
}

func (rt *Router) pluginHandler(cfg abi.PluginConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var configText *string
		if cfg.RenderConfig {
			t := renderPluginConfig(cfg)
			configText = &t
		}

		req, err := invoker.BuildRequest(c.Request, rt.deps.HostURL, cfg.URLPrefix, rt.deps.DataDir, configText)
		if err != nil {
			apierrors.ErrorWithMessage(c, CodeBadRequest, err.Error())
			return
		}

		resp, err := rt.deps.Invoker.Invoke(c.Request.Context(), cfg.FilePath, req)
		if err != nil {
			if c.Request.Context().Err() != nil {
				return
			}
			if errors.Is(err, invoker.ErrTimeout) {
				apierrors.ErrorWithMessage(c, CodeTimeout, err.Error())
			} else {
				apierrors.ErrorWithMessage(c, CodeLoadFailed, err.Error())
			}
			return
		}

		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		c.Data(resp.StatusCode, contentTypeOrDefault(resp.Headers), resp.Body)
	}
}

func contentTypeOrDefault(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return v
		}
	}
	return "application/octet-stream"
}

// renderPluginConfig builds the config text handed to render_config
// plugins: a minimal TOML snippet holding only the plugin's name and
// url_prefix. Deps has no field for substituting another renderer.
func renderPluginConfig(cfg abi.PluginConfig) string {
	return "name = \"" + cfg.Name + "\"\nurl_prefix = \"" + cfg.URLPrefix + "\"\n"
}

// handleGetRequestInfo implements GET /admin/get-request-info: a plugin's
// own self-service fetch of the PluginRequest the host deposited.
func (rt *Router) handleGetRequestInfo(c *gin.Context) {
	id, ok := parseRequestID(c)
	if !ok {
		apierrors.Error(c, CodeBadRequest)
		return
	}
	req, ok := rt.deps.Store.GetRequest(id)
	if !ok {
		apierrors.Error(c, CodeNoSuchRequest)
		return
	}
	c.JSON(http.StatusOK, req)
}

// handlePushResponseInfo implements POST /admin/push-response-info: the
// plugin's self-service deposit of its PluginResponse, observed by the
// invoker's poll loop.
func (rt *Router) handlePushResponseInfo(c *gin.Context) {
	id, ok := parseRequestID(c)
	if !ok {
		apierrors.Error(c, CodeBadRequest)
		return
	}
	var resp abi.PluginResponse
	if err := c.ShouldBindJSON(&resp); err != nil {
		apierrors.ErrorWithMessage(c, CodeBadRequest, err.Error())
		return
	}
	rt.deps.Store.StoreResponse(id, resp)
	c.Status(http.StatusNoContent)
}

// handleStoreRequestInfo implements POST /admin/store-request-info, used by
// server plugins that want to hand a synthetic request to another plugin
// through the same rendezvous mechanism rather than through the invoker.
func (rt *Router) handleStoreRequestInfo(c *gin.Context) {
	id, ok := parseRequestID(c)
	if !ok {
		apierrors.Error(c, CodeBadRequest)
		return
	}
	var req abi.PluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, CodeBadRequest, err.Error())
		return
	}
	rt.deps.Store.StoreRequest(id, req)
	c.Status(http.StatusNoContent)
}

func parseRequestID(c *gin.Context) (int64, bool) {
	raw := c.Query("request_id")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
