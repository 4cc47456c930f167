package playlist

import (
	"net/url"
	"strings"

	"anistream-proxy/pkg/urlutil"
)

// RelayRewrite rewrites a playlist for the legacy single-endpoint relay:
// every non-comment line naming a .m3u8 or .ts resource is resolved against
// originalURL and wrapped in relayPrefix. Lines already carrying the prefix
// are left alone.
func RelayRewrite(content, originalURL, relayPrefix string) string {
	var b strings.Builder
	b.Grow(len(content) * 2)

	for _, raw := range strings.SplitAfter(content, "\n") {
		if raw == "" {
			continue
		}
		line, eol := splitEOL(raw)
		b.WriteString(relayLine(line, originalURL, relayPrefix))
		b.WriteString(eol)
	}
	return b.String()
}

// WrapRelay prefixes target with the relay, unless it already is relayed.
func WrapRelay(target, relayPrefix string) string {
	if strings.Contains(target, relayPrefix) {
		return target
	}
	return relayPrefix + url.QueryEscape(target)
}

func relayLine(line, originalURL, relayPrefix string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line
	}
	if strings.Contains(trimmed, relayPrefix) {
		return line
	}

	switch urlutil.PathExt(trimmed) {
	case ".m3u8", ".ts":
	default:
		return line
	}

	// A malformed base still yields a usable naive resolution.
	absolute, _ := urlutil.ResolveOrNaive(trimmed, originalURL)
	return WrapRelay(absolute, relayPrefix)
}
