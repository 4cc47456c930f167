package api

import (
	"fmt"
	"net/http"
)

// testStreams are public streams known to play, served as a last-resort
// fallback when an episode's own sources fail.
var testStreams = map[string]map[string]string{
	"mp4": {
		"720p": "https://storage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4",
		"480p": "https://storage.googleapis.com/gtv-videos-bucket/sample/ElephantsDream.mp4",
		"360p": "https://storage.googleapis.com/gtv-videos-bucket/sample/ForBiggerBlazes.mp4",
	},
	"hls": {
		"720p": "https://test-streams.mux.dev/x36xhzz/x36xhzz.m3u8",
		"480p": "https://bitdash-a.akamaihd.net/content/MI201109210084_1/m3u8s/f08e80da-bf1d-4e3d-8899-f0f6155f6efa.m3u8",
		"360p": "https://bitdash-a.akamaihd.net/content/sintel/hls/playlist.m3u8",
	},
	"dash": {
		"720p": "https://dash.akamaized.net/akamai/bbb_30fps/bbb_30fps.mpd",
		"480p": "https://dash.akamaized.net/dash264/TestCases/1a/netflix/exMPD_BIP_TC1.mpd",
		"360p": "https://dash.akamaized.net/envivio/EnvivioDash3/manifest.mpd",
	},
}

// testStreamURL returns the test stream for kind and quality, falling back
// to the 720p HLS stream for unknown combinations.
func testStreamURL(kind, quality string) string {
	if u, ok := testStreams[kind][quality]; ok {
		return u
	}
	return testStreams["hls"]["720p"]
}

func queryOr(r *http.Request, key, fallback string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return fallback
}

// handleTestStream serves a known-good test stream as a redirect, a JSON
// descriptor or a one-variant master playlist.
func (h *Handlers) handleTestStream(w http.ResponseWriter, r *http.Request) {
	kind := queryOr(r, "type", "hls")
	format := queryOr(r, "format", "redirect")
	quality := queryOr(r, "quality", "720p")

	streamURL := testStreamURL(kind, quality)
	h.log.Debug("test stream request", "type", kind, "format", format, "quality", quality, "url", streamURL)

	switch {
	case format == "json":
		h.writeJSON(w, http.StatusOK, map[string]string{
			"url":     streamURL,
			"type":    kind,
			"quality": quality,
		})
	case format == "m3u8" && kind == "hls":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache")
		fmt.Fprintf(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=1280x720\n%s\n", streamURL)
	default:
		http.Redirect(w, r, streamURL, http.StatusFound)
	}
}
