package dproxy

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRawRequest_InjectsHostConnectionAndContentLength(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/widgets?x=1", nil)
	raw := string(buildRawRequest(r, "example.com", []byte("payload")))

	assert.Contains(t, raw, "POST /api/widgets?x=1 HTTP/1.1\r\n")
	assert.Contains(t, raw, "Host: example.com\r\n")
	assert.Contains(t, raw, "Connection: keep-alive\r\n")
	assert.Contains(t, raw, "Content-Length: 7\r\n")
	assert.True(t, len(raw) > 0 && raw[len(raw)-4:] == "\r\n\r\n")
}

func TestBuildRawRequest_DoesNotDuplicateExistingHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Host", "explicit.example")
	r.Header.Set("Connection", "close")

	raw := string(buildRawRequest(r, "fallback.example", nil))
	assert.Contains(t, raw, "Host: explicit.example\r\n")
	assert.Contains(t, raw, "Connection: close\r\n")
	assert.NotContains(t, raw, "Host: fallback.example")
}

func TestReadResponse_ContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello"
	resp, err := readResponse(bufio.NewReader(bytes.NewReader([]byte(raw))))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte("hello"), resp.Body)
}

func TestReadResponse_Chunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	resp, err := readResponse(bufio.NewReader(bytes.NewReader([]byte(raw))))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	// The reassembled body retains chunk framing, matching the original
	// implementation's choice to forward the still-encoded bytes verbatim.
	assert.Contains(t, string(resp.Body), "hello")
}

func TestReadResponse_NoBody(t *testing.T) {
	raw := "HTTP/1.1 204 No Content\r\n\r\n"
	resp, err := readResponse(bufio.NewReader(bytes.NewReader([]byte(raw))))
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestReadResponse_InvalidStatusLine(t *testing.T) {
	raw := "NOT A STATUS LINE\r\n\r\n"
	_, err := readResponse(bufio.NewReader(bytes.NewReader([]byte(raw))))
	assert.Error(t, err)
}
