package streams

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/playlist"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/types"
	"anistream-proxy/pkg/upstream"
)

type testDeps struct {
	fetcher  *upstream.Fetcher
	selector *headers.Selector
	rewriter *playlist.Rewriter
	log      *logging.Logger
}

func newTestDeps() testDeps {
	log := logging.Discard()
	selector := headers.NewSelector(headers.Options{})
	return testDeps{
		fetcher:  upstream.New(&http.Client{}, log),
		selector: selector,
		rewriter: playlist.NewRewriter(playlist.DefaultEndpoints(), selector, log),
		log:      log,
	}
}

func readBody(t *testing.T, resp *types.StreamResponse) string {
	t.Helper()
	require.NotNil(t, resp.Body)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHLSHandler_RewritesMaster(t *testing.T) {
	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\nvariant/stream.m3u8\n")
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewHLSHandler(d.fetcher, d.selector, d.rewriter, time.Second, d.log)

	master := srv.URL + "/hls/master.m3u8"
	resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: master, Referer: "https://embed.example/"})
	require.NoError(t, err)

	assert.Equal(t, "https://embed.example/", gotReferer)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentTypeHLS, resp.ContentType)
	assert.Equal(t, noStore, resp.Headers["Cache-Control"])

	want := "/proxy-manifest?url=" + url.QueryEscape(srv.URL+"/hls/variant/stream.m3u8") +
		"&referer=" + url.QueryEscape("https://embed.example/")
	assert.Contains(t, readBody(t, resp), want)
}

func TestHLSHandler_ClassifiesOnlyAtDebug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\nvariant/stream.m3u8\n")
	}))
	defer srv.Close()

	for _, tt := range []struct {
		level string
		want  bool
	}{
		{"debug", true},
		{"info", false},
	} {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := logging.New(tt.level, true, &buf)
			d := newTestDeps()
			h := NewHLSHandler(d.fetcher, d.selector, d.rewriter, time.Second, log)

			resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/master.m3u8"})
			require.NoError(t, err)
			readBody(t, resp)

			assert.Equal(t, tt.want, strings.Contains(buf.String(), `"kind":"master"`))
		})
	}
}

func TestHLSHandler_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/html":
			io.WriteString(w, "<html>blocked</html>")
		case "/missing":
			http.NotFound(w, r)
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewHLSHandler(d.fetcher, d.selector, d.rewriter, 50*time.Millisecond, d.log)

	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{"missing url", "", http.StatusBadRequest},
		{"not a playlist", srv.URL + "/html", http.StatusInternalServerError},
		{"upstream status", srv.URL + "/missing", http.StatusNotFound},
		{"timeout", srv.URL + "/slow", http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: tt.url})
			assert.Nil(t, resp)
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, proxyerr.StatusCode(err))
		})
	}
}

func TestKeyHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "same-origin", r.Header.Get("Sec-Fetch-Site"))
		w.Write([]byte{0x01, 0x02, 0x03, 0x04})
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewKeyHandler(d.fetcher, d.selector, time.Second, d.log)

	resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/enc.key", Domain: "padorupado"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentTypeOctetStream, resp.ContentType)
	assert.Equal(t, "4", resp.Headers["Content-Length"])
	assert.Equal(t, "\x01\x02\x03\x04", readBody(t, resp))
}

func TestKeyHandler_SlowBodyTimesOutWhole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "16")
		w.Write([]byte{0x01, 0x02})
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewKeyHandler(d.fetcher, d.selector, 100*time.Millisecond, d.log)

	_, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/enc.key"})
	require.Error(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, proxyerr.StatusCode(err))
}

func TestVideoHandler_Range(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "seg.ts", time.Time{}, strings.NewReader("0123456789"))
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewVideoHandler(d.fetcher, d.selector, time.Second, d.log)

	t.Run("ranged", func(t *testing.T) {
		resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/seg.ts", Range: "bytes=2-5"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, "bytes 2-5/10", resp.Headers["Content-Range"])
		assert.Equal(t, "4", resp.Headers["Content-Length"])
		assert.Equal(t, "bytes", resp.Headers["Accept-Ranges"])
		assert.Equal(t, "2345", readBody(t, resp))
	})

	t.Run("full", func(t *testing.T) {
		resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/seg.ts"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Headers["Content-Range"])
		assert.Equal(t, "0123456789", readBody(t, resp))
	})
}

func TestVideoHandler_SlowBodyOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "20")
		io.WriteString(w, "0123456789")
		w.(http.Flusher).Flush()
		time.Sleep(400 * time.Millisecond)
		io.WriteString(w, "abcdefghij")
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewVideoHandler(d.fetcher, d.selector, 200*time.Millisecond, d.log)

	resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/movie.mp4", Range: "bytes=0-"})
	require.NoError(t, err)

	assert.Equal(t, "20", resp.Headers["Content-Length"])
	assert.Equal(t, "0123456789abcdefghij", readBody(t, resp))
}

func TestVideoHandler_HeadersTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewVideoHandler(d.fetcher, d.selector, 50*time.Millisecond, d.log)

	_, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/seg.ts"})
	require.Error(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, proxyerr.StatusCode(err))
}

func TestVideoHandler_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewVideoHandler(d.fetcher, d.selector, time.Second, d.log)

	resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/seg.ts"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, ContentTypeOctetStream, resp.ContentType)
	assert.Contains(t, readBody(t, resp), "403")
}

func TestSegmentContentType(t *testing.T) {
	tests := []struct {
		url      string
		upstream string
		want     string
	}{
		{"https://cdn.example.com/seg-1.jpg", "image/jpeg", "video/mp2t"},
		{"https://cdn.example.com/seg-1.JPG?token=1", "", "video/mp2t"},
		{"https://cdn.example.com/seg-1.ts", "video/MP2T", "video/MP2T"},
		{"https://cdn.example.com/seg-1.ts", "", "video/mp2t"},
		{"https://cdn.example.com/frag.m4s", "", "video/iso.segment"},
		{"https://cdn.example.com/blob", "", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, segmentContentType(tt.url, tt.upstream))
		})
	}
}

func TestImageHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/poster.webp":
			w.Header().Set("Content-Type", "image/webp")
			io.WriteString(w, "RIFFxxxxWEBP")
		case "/empty.jpg":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewImageHandler(d.fetcher, d.selector, time.Second, d.log)

	t.Run("success", func(t *testing.T) {
		resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/poster.webp"})
		require.NoError(t, err)
		assert.Equal(t, "image/webp", resp.ContentType)
		assert.Equal(t, "public, max-age=86400", resp.Headers["Cache-Control"])
		assert.Equal(t, "RIFFxxxxWEBP", readBody(t, resp))
	})

	for _, path := range []string{"/empty.jpg", "/gone.jpg"} {
		t.Run("fallback "+path, func(t *testing.T) {
			resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + path, Title: "One Piece"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, "/placeholder.svg?height=300&width=200&query=One+Piece", resp.RedirectURL)
		})
	}

	_, err := h.Handle(context.Background(), &types.StreamRequest{})
	assert.ErrorIs(t, err, proxyerr.ErrMissingURL)
}

func TestRelayHandler(t *testing.T) {
	var relayed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayed = r.URL.Query().Get("url")
		assert.Equal(t, "https://zoro.to/", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		io.WriteString(w, "#EXTM3U\n#EXTINF:10,\nseg.ts\n")
	}))
	defer srv.Close()

	d := newTestDeps()
	prefix := srv.URL + "/proxy?url="
	h := NewRelayHandler(d.fetcher, prefix, "", time.Second, d.log)

	resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: "https://cdn.example.com/hls/index.m3u8"})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/hls/index.m3u8", relayed)
	assert.Equal(t, "#EXTM3U\n#EXTINF:10,\n"+prefix+url.QueryEscape("https://cdn.example.com/hls/seg.ts")+"\n", readBody(t, resp))
}

func TestRelayHandler_OversizedPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		io.WriteString(w, "#EXTM3U\n"+strings.Repeat("#EXTINF:10,\nseg.ts\n", 100))
	}))
	defer srv.Close()

	d := newTestDeps()
	d.fetcher.WithTextLimit(64)
	h := NewRelayHandler(d.fetcher, srv.URL+"/proxy?url=", "", time.Second, d.log)

	_, err := h.Handle(context.Background(), &types.StreamRequest{URL: "https://cdn.example.com/hls/index.m3u8"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 64 bytes")
}

func TestJSONHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		if r.URL.Path == "/json" {
			io.WriteString(w, `{"results":[]}`)
			return
		}
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	d := newTestDeps()
	h := NewJSONHandler(d.fetcher, "", time.Second, d.log)

	resp, err := h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/json"})
	require.NoError(t, err)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, `{"results":[]}`, readBody(t, resp))

	resp, err = h.Handle(context.Background(), &types.StreamRequest{URL: srv.URL + "/text"})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", resp.ContentType)
}
