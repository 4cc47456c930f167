package api

import (
	"fmt"
	"net/http"
)

// handleIndex serves a short endpoint overview.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>AniStream Proxy</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #0f0f0f;
            color: #ffffff;
            max-width: 820px;
            margin: 0 auto;
            padding: 40px 20px;
            line-height: 1.6;
        }
        h1 { color: #6366f1; }
        .endpoint {
            display: flex;
            gap: 12px;
            padding: 10px 14px;
            margin-bottom: 8px;
            background: #242424;
            border-radius: 8px;
            font-family: 'SF Mono', Monaco, monospace;
            font-size: 0.85rem;
        }
        .method { color: #22c55e; font-weight: 600; }
        .path { flex: 1; }
        .desc { color: #a0a0a0; font-family: sans-serif; }
        footer { margin-top: 32px; color: #a0a0a0; font-size: 0.85rem; }
        a { color: #6366f1; }
    </style>
</head>
<body>
    <h1>AniStream Proxy</h1>
    <p>HLS manifest-rewriting proxy. Server running.</p>

    <div class="endpoint"><span class="method">GET</span><span class="path">/proxy-manifest?url=&amp;referer=</span><span class="desc">Fetch and rewrite a playlist</span></div>
    <div class="endpoint"><span class="method">GET</span><span class="path">/proxy-key?url=&amp;referer=&amp;domain=</span><span class="desc">AES-128 key</span></div>
    <div class="endpoint"><span class="method">GET</span><span class="path">/proxy-video?url=&amp;referer=&amp;domain=</span><span class="desc">Media segment, Range aware</span></div>
    <div class="endpoint"><span class="method">GET</span><span class="path">/proxy-image?url=&amp;title=</span><span class="desc">Poster image</span></div>
    <div class="endpoint"><span class="method">GET</span><span class="path">/proxy-hls?url=</span><span class="desc">Legacy relay</span></div>
    <div class="endpoint"><span class="method">GET</span><span class="path">/proxy?url=</span><span class="desc">JSON passthrough</span></div>
    <div class="endpoint"><span class="method">GET</span><span class="path">/test-stream?type=&amp;quality=&amp;format=</span><span class="desc">Test streams</span></div>

    <footer><a href="/api/info">API Status</a> · Version %s</footer>
</body>
</html>`, Version)
}
