package playlist

import (
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/proxyerr"
)

const (
	masterPlaylist = "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"aud\",NAME=\"jp\",URI=\"audio/jp.m3u8\"\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=1280x720,AUDIO=\"aud\"\n" +
		"720p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360,AUDIO=\"aud\"\n" +
		"https://cdn2.example.com/360p/index.m3u8?token=abc\n"

	mediaPlaylist = "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXT-X-KEY:METHOD=AES-128,URI=\"enc.key\",IV=0x00000000000000000000000000000001\n" +
		"#EXTINF:10.0,\n" +
		"seg-0.ts\n" +
		"#EXTINF:10.0,\n" +
		"/abs/seg-1.m4s?token=1\n" +
		"#EXTINF:10.0,\n" +
		"https://other.example.com/seg-2.jpg\n" +
		"# a comment mentioning seg.ts\n" +
		"\n" +
		"#EXT-X-ENDLIST\n"
)

func newTestRewriter(endpoints Endpoints) *Rewriter {
	log := logging.New("error", false, io.Discard)
	return NewRewriter(endpoints, headers.NewSelector(headers.Options{}), log)
}

func lines(s string) []string {
	return strings.Split(s, "\n")
}

func TestRewrite_MasterEndToEnd(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	doc := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\nvariant/stream.m3u8\n"
	out, err := r.Rewrite(doc, "https://x.test/hls/master.m3u8")
	require.NoError(t, err)

	want := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\n" +
		"/proxy-manifest?url=https%3A%2F%2Fx.test%2Fhls%2Fvariant%2Fstream.m3u8&referer=https%3A%2F%2Fkwik.cx%2F\n"
	assert.Equal(t, want, out)
}

func TestRewrite_MasterPropagatesReferer(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	out, err := r.RewriteWithReferer(masterPlaylist, "https://cdn.example.com/hls/abc/master.m3u8", "https://embed.example.org/")
	require.NoError(t, err)

	l := lines(out)
	assert.Equal(t, "#EXT-X-VERSION:3", l[1])
	assert.Equal(t,
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="jp",URI="/proxy-manifest?url=https%3A%2F%2Fcdn.example.com%2Fhls%2Fabc%2Faudio%2Fjp.m3u8&referer=https%3A%2F%2Fembed.example.org%2F"`,
		l[2])
	assert.Equal(t,
		"/proxy-manifest?url=https%3A%2F%2Fcdn.example.com%2Fhls%2Fabc%2F720p%2Findex.m3u8&referer=https%3A%2F%2Fembed.example.org%2F",
		l[4])
	assert.Equal(t,
		"/proxy-manifest?url=https%3A%2F%2Fcdn2.example.com%2F360p%2Findex.m3u8%3Ftoken%3Dabc&referer=https%3A%2F%2Fembed.example.org%2F",
		l[6])
}

func TestRewrite_MediaPlaylist(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())
	base := "https://cdn.example.com/hls/abc/index.m3u8"
	encBase := url.QueryEscape(base)

	out, err := r.Rewrite(mediaPlaylist, base)
	require.NoError(t, err)

	l := lines(out)
	assert.Equal(t,
		`#EXT-X-KEY:METHOD=AES-128,URI="/proxy-key?url=https%3A%2F%2Fcdn.example.com%2Fhls%2Fabc%2Fenc.key&referer=`+encBase+`",IV=0x00000000000000000000000000000001`,
		l[4])
	assert.Equal(t, "/proxy-video?url=https%3A%2F%2Fcdn.example.com%2Fhls%2Fabc%2Fseg-0.ts&referer="+encBase, l[6])
	assert.Equal(t, "/proxy-video?url=https%3A%2F%2Fcdn.example.com%2Fabs%2Fseg-1.m4s%3Ftoken%3D1&referer="+encBase, l[8])
	assert.Equal(t, "/proxy-video?url=https%3A%2F%2Fother.example.com%2Fseg-2.jpg&referer="+encBase, l[10])

	// Structural lines are untouched.
	assert.Equal(t, "#EXTINF:10.0,", l[5])
	assert.Equal(t, "# a comment mentioning seg.ts", l[11])
	assert.Equal(t, "", l[12])
	assert.Equal(t, "#EXT-X-ENDLIST", l[13])
}

func TestRewrite_KeyTagPreservesMethod(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())
	base := "https://cdn.example.com/hls/index.m3u8"

	out, err := r.Rewrite("#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"enc.key\"\n", base)
	require.NoError(t, err)

	want := `#EXT-X-KEY:METHOD=AES-128,URI="/proxy-key?url=` + url.QueryEscape("https://cdn.example.com/hls/enc.key") +
		`&referer=` + url.QueryEscape(base) + `"`
	assert.Equal(t, want, lines(out)[1])
}

func TestRewrite_KeyMethodNoneUntouched(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	doc := "#EXTM3U\n#EXT-X-KEY:METHOD=NONE\n#EXTINF:4,\na.ts\n"
	out, err := r.Rewrite(doc, "https://cdn.example.com/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "#EXT-X-KEY:METHOD=NONE", lines(out)[1])
}

func TestRewrite_Idempotent(t *testing.T) {
	tests := []struct {
		name      string
		endpoints Endpoints
		doc       string
		base      string
	}{
		{"master", DefaultEndpoints(), masterPlaylist, "https://cdn.example.com/hls/abc/master.m3u8"},
		{"media", DefaultEndpoints(), mediaPlaylist, "https://cdn.example.com/hls/abc/index.m3u8"},
		{"special origin", DefaultEndpoints(), mediaPlaylist, "https://vault-01.padorupado.ru/stream/uwu.m3u8"},
		{"public base", Endpoints{PublicBaseURL: "https://proxy.example.com/"}, masterPlaylist, "https://cdn.example.com/master.m3u8"},
		{"public base media", Endpoints{PublicBaseURL: "https://proxy.example.com"}, mediaPlaylist, "https://cdn.example.com/a/index.m3u8"},
		{"map tag", DefaultEndpoints(), "#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:4,\nfrag1.m4s\n", "https://cdn.example.com/v/index.m3u8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRewriter(tt.endpoints)

			once, err := r.Rewrite(tt.doc, tt.base)
			require.NoError(t, err)
			twice, err := r.Rewrite(once, tt.base)
			require.NoError(t, err)

			assert.Equal(t, once, twice)
			assert.NotEqual(t, tt.doc, once)
		})
	}
}

func TestRewrite_AlreadyProxiedLinePassesThrough(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	proxied := "/proxy-video?url=https%3A%2F%2Fcdn.example.com%2Fseg.ts&referer=https%3A%2F%2Fcdn.example.com%2Findex.m3u8"
	doc := "#EXTM3U\n#EXTINF:10,\n" + proxied + "\n"

	out, err := r.Rewrite(doc, "https://cdn.example.com/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestRewrite_AbsoluteProxyURLPassesThrough(t *testing.T) {
	r := newTestRewriter(Endpoints{PublicBaseURL: "https://proxy.example.com"})

	proxied := "https://proxy.example.com/proxy-key?url=https%3A%2F%2Fcdn.example.com%2Fk.key&referer=x"
	doc := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"" + proxied + "\"\n#EXTINF:10,\nseg.ts\n"

	out, err := r.Rewrite(doc, "https://cdn.example.com/index.m3u8")
	require.NoError(t, err)

	l := lines(out)
	assert.Equal(t, `#EXT-X-KEY:METHOD=AES-128,URI="`+proxied+`"`, l[1])
	assert.True(t, strings.HasPrefix(l[3], "https://proxy.example.com/proxy-video?url="))
}

func TestRewrite_DomainTagForSpecialOrigin(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	out, err := r.Rewrite("#EXTM3U\n#EXTINF:10,\nseg.ts\n", "https://vault-01.padorupado.ru/stream/uwu.m3u8")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(lines(out)[2], "&domain=padorupado"), lines(out)[2])
}

func TestRewrite_MediaPlaylistKeepsPlaylistLines(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	// Without #EXT-X-STREAM-INF a .m3u8 line is not a sub-playlist.
	doc := "#EXTM3U\n#EXTINF:10,\nnested.m3u8\n"
	out, err := r.Rewrite(doc, "https://cdn.example.com/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestRewrite_MapTag(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	out, err := r.Rewrite("#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\",BYTERANGE=\"720@0\"\n", "https://cdn.example.com/v/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t,
		`#EXT-X-MAP:URI="/proxy-video?url=https%3A%2F%2Fcdn.example.com%2Fv%2Finit.mp4&referer=https%3A%2F%2Fcdn.example.com%2Fv%2Findex.m3u8",BYTERANGE="720@0"`,
		lines(out)[1])
}

func TestRewrite_PreservesCRLF(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	out, err := r.Rewrite("#EXTM3U\r\n#EXTINF:10,\r\nseg.ts\r\n#EXT-X-ENDLIST", "https://cdn.example.com/index.m3u8")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "#EXTM3U\r\n#EXTINF:10,\r\n/proxy-video?url="))
	assert.True(t, strings.HasSuffix(out, "\r\n#EXT-X-ENDLIST"))
}

func TestRewrite_MalformedBaseFallsBack(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	out, err := r.Rewrite("#EXTM3U\n#EXTINF:10,\nseg.ts\n", "cdn.example.com/hls/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t,
		"/proxy-video?url=cdn.example.com%2Fhls%2Fseg.ts&referer=cdn.example.com%2Fhls%2Findex.m3u8",
		lines(out)[2])
}

func TestRewrite_RejectsNonPlaylist(t *testing.T) {
	r := newTestRewriter(DefaultEndpoints())

	for _, doc := range []string{"not a playlist", "", "<html><body>403</body></html>", "seg.ts\n#EXTM3U\n"} {
		_, err := r.Rewrite(doc, "https://cdn.example.com/index.m3u8")
		var invalid *proxyerr.InvalidManifestError
		assert.ErrorAs(t, err, &invalid, "doc %q", doc)
	}
}

func TestValidate_ToleratesBOM(t *testing.T) {
	assert.NoError(t, Validate("\ufeff#EXTM3U\n"))
	assert.NoError(t, Validate("  \n#EXTM3U\n"))
}
