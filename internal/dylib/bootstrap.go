package dylib

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatflow/internal/assetstore"
	"github.com/goatkit/goatflow/internal/dproxy"
	"github.com/goatkit/goatflow/internal/dylib/abi"
	"github.com/goatkit/goatflow/internal/dylib/cache"
	"github.com/goatkit/goatflow/internal/dylib/invoker"
	"github.com/goatkit/goatflow/internal/dylib/launcher"
	"github.com/goatkit/goatflow/internal/dylib/rendezvous"
	"github.com/goatkit/goatflow/internal/dylib/router"
	"github.com/goatkit/goatflow/internal/dylib/sweeper"
)

// Runtime is every live piece of the dylib subsystem, assembled once at
// bootstrap and handed to the host's gin.Engine.
type Runtime struct {
	Store    *rendezvous.Store
	Cache    *cache.Cache
	Invoker  *invoker.Invoker
	Router   *router.Router
	Proxy    *dproxy.Proxy
	Assets   *assetstore.Store
	Sweeper  *sweeper.Sweeper
	launcher *launcher.Launcher
	logger   *slog.Logger

	hostURL       string
	dataDir       string
	domainPlugins map[string]abi.PluginConfig
}

// Bootstrap builds the full dylib runtime from cfg and mounts it on host.
// dataDir is the plugin data directory handed to plugins as
// PluginContext.data_dir; hostURL is this process's own externally-reachable
// base URL, used by
// plugins calling back into the rendezvous endpoints.
func Bootstrap(ctx context.Context, host *gin.Engine, cfg *Config, hostURL, dataDir string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := rendezvous.New()
	libCache := cache.New()
	inv := invoker.New(store, libCache, logger)

	rt := &Runtime{
		Store:    store,
		Cache:    libCache,
		Invoker:  inv,
		launcher: launcher.New(logger),
		logger:   logger,
		hostURL:  hostURL,
		dataDir:  dataDir,
	}

	rt.domainPlugins = make(map[string]abi.PluginConfig)
	for _, pcfg := range cfg.PluginConfig {
		if pcfg.Disable || pcfg.ProxyDomain == "" {
			continue
		}
		rt.domainPlugins[pcfg.ProxyDomain] = pcfg
	}

	rt.Router = router.New(router.Deps{
		Store:   store,
		Invoker: inv,
		HostURL: hostURL,
		DataDir: dataDir,
	})
	rt.Router.Rebuild(cfg.PluginConfig)
	rt.Router.Mount(host)

	if len(cfg.DomainProxy) > 0 {
		rt.Proxy = dproxy.New(cfg.DomainProxy, logger)
		rt.Proxy.SetPluginHandler(rt.dispatchServerPluginForDomain)
		host.Use(rt.Proxy.Middleware())
	}

	if cfg.AssetStore.MetaDBPath != "" {
		chunkSize, err := cfg.ResolvedChunkSize()
		if err != nil {
			return nil, err
		}
		assets, err := assetstore.New(cfg.AssetStore.MetaDBPath, cfg.AssetStore.ChunkDBs)
		if err != nil {
			return nil, err
		}
		rt.Assets = assets
		logger.Info("asset store ready", "meta_db", cfg.AssetStore.MetaDBPath, "chunk_dbs", len(cfg.AssetStore.ChunkDBs), "default_chunk_size", chunkSize)

		rt.Sweeper = sweeper.New(logger)
		if cfg.AssetStore.SweepCron != "" {
			if err := rt.Sweeper.RegisterOrphanChunkSweep(cfg.AssetStore.SweepCron, assets); err != nil {
				return nil, err
			}
		}
		if err := rt.Sweeper.RegisterCacheStatsLog("@every 5m", libCache); err != nil {
			return nil, err
		}
		rt.Sweeper.Start()
	}

	for _, pcfg := range cfg.PluginConfig {
		if pcfg.Disable || !pcfg.IsServer {
			continue
		}
		rt.launcher.Launch(ctx, pcfg, hostURL, dataDir, nil)
	}

	return rt, nil
}

// dispatchServerPluginForDomain is the dproxy.PluginHandler hook: a
// domain-proxied folder target defers to a plugin configured with a
// matching ProxyDomain instead of serving static files, mirroring the
// original serve_domain_folder's plugin_config lookup.
func (rt *Runtime) dispatchServerPluginForDomain(c *gin.Context, domain string) bool {
	pcfg, ok := rt.domainPlugins[domain]
	if !ok {
		return false
	}

	req, err := invoker.BuildRequest(c.Request, rt.hostURL, pcfg.URLPrefix, rt.dataDir, nil)
	if err != nil {
		c.AbortWithStatusJSON(400, gin.H{"error": err.Error()})
		return true
	}

	resp, err := rt.Invoker.Invoke(c.Request.Context(), pcfg.FilePath, req)
	if err != nil {
		c.AbortWithStatusJSON(502, gin.H{"error": err.Error()})
		return true
	}

	contentType := "application/octet-stream"
	for k, v := range resp.Headers {
		c.Header(k, v)
		if k == "Content-Type" {
			contentType = v
		}
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
	return true
}

// Shutdown stops background jobs started by Bootstrap.
func (rt *Runtime) Shutdown() {
	if rt.Sweeper != nil {
		rt.Sweeper.Stop()
	}
}
