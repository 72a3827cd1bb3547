package dproxy

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// PluginHandler lets a domain-proxied folder defer to a registered plugin
// instead of serving static files, matching the original's
// serve_domain_folder check against plugin_config[].proxy_domain. It
// reports whether it handled the request.
type PluginHandler func(c *gin.Context, domain string) bool

// Proxy dispatches requests whose Host header matches a configured domain.
// Its Middleware is plain gin middleware: gin applies it to routes
// registered after it is added and to the NoRoute chain, so when it is added
// after the host's own routes (as Bootstrap does) it sees only requests that
// no host route matched.
type Proxy struct {
	domains map[string]DomainProxy
	pool    *ConnPool
	logger  *slog.Logger

	pluginHandler PluginHandler
}

// New builds a Proxy from the configured domain list.
func New(domains []DomainProxy, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]DomainProxy, len(domains))
	for _, d := range domains {
		d.ProxyTarget = d.ProxyTarget.WithDefaults()
		m[d.ProxyDomain] = d
	}
	return &Proxy{domains: m, pool: NewConnPool(), logger: logger}
}

// Middleware returns a gin.HandlerFunc that serves matching Host headers
// and calls c.Next() for everything else.
func (p *Proxy) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(p.domains) == 0 {
			c.Next()
			return
		}

		host := c.Request.Host
		if idx := strings.IndexByte(host, ':'); idx >= 0 {
			if d, ok := p.domains[host]; ok {
				p.serve(c, d)
				return
			}
			host = host[:idx]
		}
		if d, ok := p.domains[host]; ok {
			p.serve(c, d)
			return
		}
		c.Next()
	}
}

func (p *Proxy) serve(c *gin.Context, d DomainProxy) {
	switch d.ProxyTarget.Type {
	case TargetFolder:
		p.serveFolder(c, d)
	case TargetUpstream:
		p.serveUpstream(c, d)
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown proxy target type"})
	}
}

// SetPluginHandler installs the plugin-dispatch hook checked before a
// folder target falls back to static serving.
func (p *Proxy) SetPluginHandler(h PluginHandler) {
	p.pluginHandler = h
}

// serveFolder serves d.ProxyTarget.FolderPath as a static file tree,
// applying the .wasm Content-Encoding/Cache-Control workaround iOS
// Safari needs for wasm assets served without a matching MIME type.
func (p *Proxy) serveFolder(c *gin.Context, d DomainProxy) {
	if p.pluginHandler != nil && p.pluginHandler(c, d.ProxyDomain) {
		return
	}

	reqPath := c.Request.URL.Path
	if strings.HasSuffix(reqPath, ".wasm") {
		c.Header("Content-Encoding", "identity")
		c.Header("Cache-Control", "no-transform")
	}
	c.File(filepath.Join(d.ProxyTarget.FolderPath, filepath.Clean("/"+reqPath)))
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// serveUpstream tunnels the request raw over a pooled TCP connection to
// ip:port, or, for a WebSocket upgrade, bridges two connections
// byte-for-byte after rewriting Origin per d.WebSocket.
func (p *Proxy) serveUpstream(c *gin.Context, d DomainProxy) {
	target := fmt.Sprintf("%s:%d", d.ProxyTarget.IP, d.ProxyTarget.Port)

	if websocket.IsWebSocketUpgrade(c.Request) {
		p.serveWebSocket(c, d, target)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("read request body: %v", err)})
		return
	}

	pc, err := p.pool.Acquire(target)
	if err != nil {
		p.logger.Warn("upstream connection failed", "target", target, "error", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("connection failed to %s: %v", target, err)})
		return
	}
	defer pc.Release()

	resp, err := p.tunnel(pc, c.Request, d.ProxyDomain, body, target)
	if err != nil {
		p.logger.Warn("upstream tunnel failed", "target", target, "error", err)
		p.pool.Evict(target)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}

func (p *Proxy) tunnel(pc *pooledConn, r *http.Request, host string, body []byte, target string) (*rawResponse, error) {
	pc.conn.SetDeadline(time.Now().Add(tunnelTimeout))

	raw := buildRawRequest(r, host, body)
	if _, err := pc.conn.Write(raw); err != nil {
		return nil, fmt.Errorf("write request headers to %s: %w", target, err)
	}
	if len(body) > 0 {
		if _, err := pc.conn.Write(body); err != nil {
			return nil, fmt.Errorf("write request body to %s: %w", target, err)
		}
	}

	resp, err := readResponse(bufio.NewReader(pc.conn))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP response from %s: %w", target, err)
	}
	return resp, nil
}

// serveWebSocket upgrades the client connection, dials the upstream raw,
// forwards the original upgrade request with Origin rewritten per
// d.WebSocket, and bridges frames in both directions until either side
// closes.
func (p *Proxy) serveWebSocket(c *gin.Context, d DomainProxy, target string) {
	upstream, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("websocket upstream dial failed: %v", err)})
		return
	}
	defer upstream.Close()

	rewriteOrigin(c.Request, d)

	raw := buildRawRequest(c.Request, d.ProxyDomain, nil)
	if _, err := upstream.Write(raw); err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("websocket handshake forward failed: %v", err)})
		return
	}

	client, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "target", target, "error", err)
		return
	}
	defer client.Close()

	errc := make(chan error, 2)
	go bridge(client.UnderlyingConn(), upstream, errc)
	go bridge(upstream, client.UnderlyingConn(), errc)
	<-errc
}

func rewriteOrigin(r *http.Request, d DomainProxy) {
	switch d.WebSocket.OriginStrategy {
	case OriginRemove:
		r.Header.Del("Origin")
	case OriginHost:
		r.Header.Set("Origin", d.ProxyDomain)
	case OriginBackend:
		r.Header.Set("Origin", fmt.Sprintf("%s:%d", d.ProxyTarget.IP, d.ProxyTarget.Port))
	case OriginCustom:
		if d.WebSocket.CustomOrigin != "" {
			r.Header.Set("Origin", d.WebSocket.CustomOrigin)
		}
	case OriginKeep, "":
		// leave as-is
	}
}

func bridge(dst io.Writer, src io.Reader, errc chan<- error) {
	_, err := io.Copy(dst, src)
	errc <- err
}
