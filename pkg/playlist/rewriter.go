// Package playlist rewrites HLS playlists so that every URI they reference
// routes back through the proxy.
//
// Rewriting is line oriented: each line is classified (segment URI, key tag,
// sub-playlist URI, rendition/map tag, anything else) and only the URI part
// of a classified line is replaced. Structural tags, comments and blank lines
// are copied verbatim, line terminators included.
package playlist

import (
	"net/url"
	"regexp"
	"strings"

	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/urlutil"
)

// Default endpoint paths.
const (
	ManifestPath = "/proxy-manifest"
	KeyPath      = "/proxy-key"
	VideoPath    = "/proxy-video"
)

const (
	magicHeader   = "#EXTM3U"
	streamInfTag  = "#EXT-X-STREAM-INF"
	keyTag        = "#EXT-X-KEY:"
	sessionKeyTag = "#EXT-X-SESSION-KEY:"
	mediaTag      = "#EXT-X-MEDIA:"
	iframeTag     = "#EXT-X-I-FRAME-STREAM-INF:"
	mapTag        = "#EXT-X-MAP:"
)

// uriAttr matches the quoted URI attribute of a tag line.
var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// segmentExts are the path extensions treated as media segments. Some CDNs
// disguise transport-stream segments as .jpg.
var segmentExts = map[string]bool{
	".ts":  true,
	".m4s": true,
	".jpg": true,
}

// RefKind classifies a URI found in a playlist.
type RefKind string

const (
	RefSegment  RefKind = "segment"
	RefKey      RefKind = "key"
	RefPlaylist RefKind = "playlist"
	RefMap      RefKind = "map"
)

// URIRef is a single URI found inside a playlist.
type URIRef struct {
	Raw      string
	Resolved string
	Kind     RefKind
	// Proxied is set when Raw already points at one of the proxy endpoints.
	Proxied bool

	// inTag is set for URIs found in a tag's URI attribute.
	inTag bool
}

// Endpoints locates the proxy endpoints that rewritten URIs point at.
type Endpoints struct {
	// PublicBaseURL is the proxy's own origin as seen by players. When empty,
	// rewritten URIs are root-relative paths.
	PublicBaseURL string
	ManifestPath  string
	KeyPath       string
	VideoPath     string
}

// DefaultEndpoints returns root-relative endpoints at the default paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ManifestPath: ManifestPath,
		KeyPath:      KeyPath,
		VideoPath:    VideoPath,
	}
}

func (e Endpoints) withDefaults() Endpoints {
	if e.ManifestPath == "" {
		e.ManifestPath = ManifestPath
	}
	if e.KeyPath == "" {
		e.KeyPath = KeyPath
	}
	if e.VideoPath == "" {
		e.VideoPath = VideoPath
	}
	e.PublicBaseURL = strings.TrimSuffix(e.PublicBaseURL, "/")
	return e
}

// Rewriter rewrites playlists. It holds no per-request state and is safe
// for concurrent use.
type Rewriter struct {
	endpoints Endpoints
	selector  *headers.Selector
	log       *logging.Logger
	// proxiedPrefixes are the URI prefixes recognised as already proxied.
	proxiedPrefixes []string
}

// NewRewriter creates a rewriter routing URIs to the given endpoints. The
// selector supplies the default referer and the domain policy tags.
func NewRewriter(endpoints Endpoints, selector *headers.Selector, log *logging.Logger) *Rewriter {
	endpoints = endpoints.withDefaults()
	r := &Rewriter{
		endpoints: endpoints,
		selector:  selector,
		log:       log.WithComponent("rewriter"),
	}

	for _, p := range []string{endpoints.ManifestPath, endpoints.KeyPath, endpoints.VideoPath} {
		r.proxiedPrefixes = append(r.proxiedPrefixes, p+"?")
		if endpoints.PublicBaseURL != "" {
			r.proxiedPrefixes = append(r.proxiedPrefixes, endpoints.PublicBaseURL+p+"?")
		}
	}
	return r
}

// Endpoints returns the endpoints the rewriter targets.
func (r *Rewriter) Endpoints() Endpoints {
	return r.endpoints
}

// IsProxied reports whether uri already points at one of the proxy endpoints.
func (r *Rewriter) IsProxied(uri string) bool {
	for _, prefix := range r.proxiedPrefixes {
		if strings.HasPrefix(uri, prefix) {
			return true
		}
	}
	return false
}

// Validate checks the mandatory #EXTM3U header. A leading byte-order mark or
// whitespace is tolerated.
func Validate(document string) error {
	trimmed := strings.TrimLeft(document, "\ufeff \t\r\n")
	if strings.HasPrefix(trimmed, magicHeader) {
		return nil
	}
	prefix := trimmed
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	return &proxyerr.InvalidManifestError{Prefix: prefix}
}

// IsMaster reports whether the document references variant streams.
func IsMaster(document string) bool {
	return strings.Contains(document, streamInfTag)
}

// Rewrite rewrites document fetched from baseManifestURL. Sub-playlist URIs
// carry the default referer.
func (r *Rewriter) Rewrite(document, baseManifestURL string) (string, error) {
	return r.RewriteWithReferer(document, baseManifestURL, "")
}

// RewriteWithReferer rewrites document fetched from baseManifestURL.
// originalReferer is the referer the manifest itself was requested with and
// is propagated to sub-playlist URIs; segment and key URIs use the manifest
// URL as referer. Running it on its own output is a no-op.
func (r *Rewriter) RewriteWithReferer(document, baseManifestURL, originalReferer string) (string, error) {
	if err := Validate(document); err != nil {
		return "", err
	}
	if originalReferer == "" {
		originalReferer = r.selector.DefaultReferer()
	}

	domain := r.domainTag(baseManifestURL)

	var b strings.Builder
	b.Grow(len(document) + len(document)/2)

	r.walk(document, baseManifestURL, func(line string, ref *URIRef) string {
		if ref == nil || ref.Proxied {
			return line
		}
		referer := baseManifestURL
		if ref.Kind == RefPlaylist {
			referer = originalReferer
		}
		proxied := r.proxyURL(ref.Kind, ref.Resolved, referer, domain)
		if ref.inTag {
			return strings.Replace(line, `URI="`+ref.Raw+`"`, `URI="`+proxied+`"`, 1)
		}
		return strings.Replace(line, ref.Raw, proxied, 1)
	}, &b)

	return b.String(), nil
}

// walk classifies every line of document and hands it to fn together with
// the URI reference it carries, if any. The value returned by fn is written
// to out followed by the line's original terminator.
func (r *Rewriter) walk(document, base string, fn func(line string, ref *URIRef) string, out *strings.Builder) {
	master := IsMaster(document)

	for _, raw := range strings.SplitAfter(document, "\n") {
		if raw == "" {
			continue
		}
		line, eol := splitEOL(raw)

		out.WriteString(fn(line, r.classify(line, base, master)))
		out.WriteString(eol)
	}
}

// classify returns the URI reference carried by line, or nil.
func (r *Rewriter) classify(line, base string, master bool) *URIRef {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "#") {
		var kind RefKind
		switch {
		case strings.HasPrefix(trimmed, keyTag), strings.HasPrefix(trimmed, sessionKeyTag):
			kind = RefKey
		case master && (strings.HasPrefix(trimmed, mediaTag) || strings.HasPrefix(trimmed, iframeTag)):
			kind = RefPlaylist
		case !master && strings.HasPrefix(trimmed, mapTag):
			kind = RefMap
		default:
			return nil
		}

		m := uriAttr.FindStringSubmatch(trimmed)
		if m == nil || m[1] == "" {
			return nil
		}
		ref := r.newRef(m[1], base, kind)
		ref.inTag = true
		return ref
	}

	ext := urlutil.PathExt(trimmed)
	switch {
	case segmentExts[ext]:
		return r.newRef(trimmed, base, RefSegment)
	case master && ext == ".m3u8":
		return r.newRef(trimmed, base, RefPlaylist)
	}
	return nil
}

func (r *Rewriter) newRef(raw, base string, kind RefKind) *URIRef {
	ref := &URIRef{Raw: raw, Kind: kind}
	if r.IsProxied(raw) {
		ref.Proxied = true
		ref.Resolved = raw
		return ref
	}

	resolved, err := urlutil.ResolveOrNaive(raw, base)
	if err != nil {
		r.log.Warn("falling back to naive URL resolution",
			"base", urlutil.Truncate(base, 120),
			"ref", urlutil.Truncate(raw, 120),
			"error", err,
		)
	}
	ref.Resolved = resolved
	return ref
}

// proxyURL builds the proxy URL for an absolute target.
func (r *Rewriter) proxyURL(kind RefKind, target, referer, domain string) string {
	var path string
	switch kind {
	case RefPlaylist:
		path = r.endpoints.ManifestPath
	case RefKey:
		path = r.endpoints.KeyPath
	default:
		path = r.endpoints.VideoPath
	}

	var b strings.Builder
	b.WriteString(r.endpoints.PublicBaseURL)
	b.WriteString(path)
	b.WriteString("?url=")
	b.WriteString(url.QueryEscape(target))
	b.WriteString("&referer=")
	b.WriteString(url.QueryEscape(referer))
	if domain != "" && kind != RefPlaylist {
		b.WriteString("&domain=")
		b.WriteString(url.QueryEscape(domain))
	}
	return b.String()
}

// domainTag returns the policy name to attach to key and segment URIs of a
// manifest served by a special-cased origin, so their fetches use the same
// header policy even when they live on another host.
func (r *Rewriter) domainTag(baseManifestURL string) string {
	policy := r.selector.PolicyFor("", baseManifestURL)
	if policy.IsDefault() {
		return ""
	}
	return policy.Name
}

func splitEOL(raw string) (line, eol string) {
	switch {
	case strings.HasSuffix(raw, "\r\n"):
		return raw[:len(raw)-2], "\r\n"
	case strings.HasSuffix(raw, "\n"):
		return raw[:len(raw)-1], "\n"
	}
	return raw, ""
}
