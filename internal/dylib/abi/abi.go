// Package abi defines the wire types exchanged between the host and a
// loaded plugin, and the two exported symbol names a plugin library must
// provide. Only a RequestID ever crosses the plugin boundary itself; these
// types are the JSON shapes carried over the rendezvous HTTP endpoints,
// not over the symbol call.
package abi

import "encoding/json"

// HandleRequestSymbol is the exported symbol name for request-scoped
// plugins: func(int64).
const HandleRequestSymbol = "HandleRequest"

// RunSymbol is the exported symbol name for server plugins: func().
const RunSymbol = "Run"

// FreeLegacyStringSymbol names the symbol of the earlier string-ABI mode.
// Go plugins never pass C strings across the boundary, so the host never
// looks this symbol up or calls it; the constant only records its name.
const FreeLegacyStringSymbol = "FreeLegacyString"

// Method is one of the four HTTP methods the ABI accepts.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// ParseMethod validates an HTTP method string against the ABI's closed set.
func ParseMethod(raw string) (Method, bool) {
	switch Method(raw) {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return Method(raw), true
	default:
		return "", false
	}
}

// PluginContext is the host-provided context passed inside every PluginRequest.
type PluginContext struct {
	HostURL         string  `json:"host_url"`
	PluginPrefixURL string  `json:"plugin_prefix_url"`
	DataDir         string  `json:"data_dir"`
	ConfigText      *string `json:"config_text,omitempty"`
}

// PluginRequest is the ABI payload flowing host -> plugin.
type PluginRequest struct {
	Method  Method            `json:"method"`
	Headers map[string]string `json:"headers"`
	Query   string            `json:"query"`
	URL     string            `json:"url"`
	Body    string            `json:"body"`
	Context PluginContext     `json:"context"`
}

// GetSuffixURL returns the portion of URL after the plugin's prefix.
func (r *PluginRequest) GetSuffixURL() string {
	prefix := r.Context.PluginPrefixURL
	if prefix == "" || len(r.URL) < len(prefix) {
		return r.URL
	}
	return r.URL[len(prefix):]
}

// MatchSuffix reports whether the request's suffix URL equals suffix.
func (r *PluginRequest) MatchSuffix(suffix string) bool {
	return r.GetSuffixURL() == suffix
}

const defaultStatusCode = 200

// PluginResponse is the ABI payload flowing plugin -> host.
type PluginResponse struct {
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	StatusCode uint16            `json:"status_code"`
	// Error, when set, marks the invocation as failed; the host surfaces it
	// to the client rather than returning StatusCode verbatim.
	Error *string `json:"error,omitempty"`
}

// UnmarshalJSON applies the ABI's default status code (200) when the field
// is absent or zero, matching the Rust #[serde(default = "...")] behaviour.
func (r *PluginResponse) UnmarshalJSON(data []byte) error {
	type alias PluginResponse
	aux := alias{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = PluginResponse(aux)
	if r.StatusCode == 0 {
		r.StatusCode = defaultStatusCode
	}
	return nil
}

// TextResponse builds a 200 text/plain response.
func TextResponse(body string) PluginResponse {
	return PluginResponse{
		Headers:    map[string]string{"Content-Type": "text/plain;charset=UTF-8"},
		Body:       []byte(body),
		StatusCode: defaultStatusCode,
	}
}

// ErrorResponse builds a response carrying only an error, the shape a
// recovered panic at the ABI boundary is translated into.
func ErrorResponse(err error) PluginResponse {
	msg := err.Error()
	return PluginResponse{
		Headers:    map[string]string{},
		StatusCode: defaultStatusCode,
		Error:      &msg,
	}
}

// PluginConfig is the per-plugin configuration entry.
type PluginConfig struct {
	Name          string `mapstructure:"name" json:"name"`
	FilePath      string `mapstructure:"file_path" json:"file_path"`
	URLPrefix     string `mapstructure:"url_prefix" json:"url_prefix"`
	ProxyDomain   string `mapstructure:"proxy_domain" json:"proxy_domain"`
	RenderConfig  bool   `mapstructure:"render_config" json:"render_config"`
	IsServer      bool   `mapstructure:"is_server" json:"is_server"`
	Disable       bool   `mapstructure:"disable" json:"disable"`
	CreateProcess bool   `mapstructure:"create_process" json:"create_process"`
}
