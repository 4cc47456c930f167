// Package urlutil resolves URIs found inside playlists against the manifest
// they came from.
package urlutil

import (
	"net/url"
	"path"
	"strings"

	"anistream-proxy/pkg/proxyerr"
)

// IsAbsolute reports whether s carries an http or https scheme.
func IsAbsolute(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Resolve turns a playlist reference into an absolute origin URL using the
// manifest's own URL as base. Absolute references are returned unchanged.
// A base that is not an absolute URL yields a *proxyerr.MalformedBaseURLError;
// callers are expected to fall back to NaiveResolve.
func Resolve(ref, baseManifestURL string) (string, error) {
	if IsAbsolute(ref) {
		return ref, nil
	}

	base, err := url.Parse(baseManifestURL)
	if err != nil {
		return "", &proxyerr.MalformedBaseURLError{Base: baseManifestURL, Err: err}
	}
	if base.Scheme == "" || base.Host == "" {
		return "", &proxyerr.MalformedBaseURLError{Base: baseManifestURL}
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", &proxyerr.MalformedBaseURLError{Base: baseManifestURL, Err: err}
	}

	return base.ResolveReference(refURL).String(), nil
}

// NaiveResolve resolves by string slicing: everything up to the last slash
// of the base (query removed) is the directory. It keeps the original
// encoding of both parts, which makes it usable when Resolve refuses a base.
func NaiveResolve(ref, baseManifestURL string) string {
	if IsAbsolute(ref) {
		return ref
	}

	dir := GetBaseDirectory(baseManifestURL)

	if strings.HasPrefix(ref, "/") {
		if host := GetSchemeHost(baseManifestURL); host != "" {
			return host + ref
		}
		return strings.TrimSuffix(dir, "/") + ref
	}

	result := dir
	remaining := ref
	for {
		switch {
		case strings.HasPrefix(remaining, "./"):
			remaining = remaining[2:]
			continue
		case strings.HasPrefix(remaining, "../"):
			remaining = remaining[3:]
			// Remove trailing slash and last path component
			result = strings.TrimSuffix(result, "/")
			if lastSlash := strings.LastIndex(result, "/"); lastSlash > 0 {
				result = result[:lastSlash+1]
			}
			continue
		}
		break
	}
	return result + remaining
}

// ResolveOrNaive resolves ref and falls back to NaiveResolve when the base is
// malformed. The returned error, if any, is the resolution failure that
// triggered the fallback; the URL is always usable.
func ResolveOrNaive(ref, baseManifestURL string) (string, error) {
	resolved, err := Resolve(ref, baseManifestURL)
	if err != nil {
		return NaiveResolve(ref, baseManifestURL), err
	}
	return resolved, nil
}

// GetBaseDirectory returns the directory portion of a URL (without the filename).
// Preserves original encoding.
func GetBaseDirectory(urlStr string) string {
	if idx := strings.IndexAny(urlStr, "?#"); idx > 0 {
		urlStr = urlStr[:idx]
	}
	if lastSlash := strings.LastIndex(urlStr, "/"); lastSlash > 0 {
		return urlStr[:lastSlash+1]
	}
	return urlStr
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// Hostname returns the lower-cased host of urlStr without port.
func Hostname(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// PathExt returns the lower-cased extension of the path component, ignoring
// any query string or fragment. Works on relative references too.
func PathExt(ref string) string {
	if idx := strings.IndexAny(ref, "?#"); idx >= 0 {
		ref = ref[:idx]
	}
	return strings.ToLower(path.Ext(ref))
}

// Truncate shortens a URL for log output.
func Truncate(urlStr string, max int) string {
	if max <= 3 || len(urlStr) <= max {
		return urlStr
	}
	return urlStr[:max-3] + "..."
}
