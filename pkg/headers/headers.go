// Package headers selects the outbound request headers an origin expects.
//
// Origins are matched against a static table of DomainPolicy entries. A
// policy either impersonates a same-origin browser fetch (Origin and Referer
// point at the target itself, Sec-Fetch-* set accordingly) or sends the
// referer supplied by the caller. Anything unmatched uses the default policy.
package headers

import (
	"net/http"
	"strings"

	"anistream-proxy/pkg/urlutil"
)

// Mode selects how Origin and Referer are derived.
type Mode string

const (
	// ModeReferer uses the caller-supplied referer (or the default one).
	ModeReferer Mode = "referer"
	// ModeSameOrigin uses the target's own origin and same-origin Sec-Fetch headers.
	ModeSameOrigin Mode = "same-origin"
)

// Default header values.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAccept         = "*/*"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
	DefaultReferer        = "https://kwik.cx/"
	DefaultPolicyName     = "default"

	imageAccept = "image/webp,image/apng,image/*,*/*;q=0.8"
)

// DomainPolicy maps hostname patterns to a header template.
type DomainPolicy struct {
	// Name identifies the policy; it doubles as the "domain" hint players send back.
	Name string
	// Match holds substrings tested against the target hostname.
	Match []string
	Mode  Mode
}

// Matches reports whether host matches any of the policy's patterns.
func (p DomainPolicy) Matches(host string) bool {
	for _, pattern := range p.Match {
		if pattern != "" && strings.Contains(host, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// IsDefault reports whether p is the fallback policy.
func (p DomainPolicy) IsDefault() bool {
	return p.Name == DefaultPolicyName
}

// BuiltinPolicies are the origins known to require special handling.
var BuiltinPolicies = []DomainPolicy{
	{Name: "padorupado", Match: []string{"padorupado.ru"}, Mode: ModeSameOrigin},
}

// Selector builds header sets from a read-only policy table.
type Selector struct {
	policies       []DomainPolicy
	fallback       DomainPolicy
	userAgent      string
	defaultReferer string
}

// Options configures a Selector. Zero values use the package defaults.
type Options struct {
	Policies       []DomainPolicy
	UserAgent      string
	DefaultReferer string
}

// NewSelector creates a selector. Policies given in opts are consulted before
// the built-in ones so configuration can override them.
func NewSelector(opts Options) *Selector {
	s := &Selector{
		fallback:       DomainPolicy{Name: DefaultPolicyName, Mode: ModeReferer},
		userAgent:      opts.UserAgent,
		defaultReferer: opts.DefaultReferer,
	}
	if s.userAgent == "" {
		s.userAgent = DefaultUserAgent
	}
	if s.defaultReferer == "" {
		s.defaultReferer = DefaultReferer
	}

	s.policies = make([]DomainPolicy, 0, len(opts.Policies)+len(BuiltinPolicies))
	s.policies = append(s.policies, opts.Policies...)
	s.policies = append(s.policies, BuiltinPolicies...)
	return s
}

// DefaultReferer returns the referer used when the caller supplies none.
func (s *Selector) DefaultReferer() string {
	return s.defaultReferer
}

// PolicyFor returns the policy governing targetURL. A domain hint naming a
// known policy takes precedence over hostname matching.
func (s *Selector) PolicyFor(domainHint, targetURL string) DomainPolicy {
	if domainHint != "" {
		for _, p := range s.policies {
			if strings.EqualFold(p.Name, domainHint) {
				return p
			}
		}
	}

	host := urlutil.Hostname(targetURL)
	if host != "" {
		for _, p := range s.policies {
			if p.Matches(host) {
				return p
			}
		}
	}
	return s.fallback
}

// For returns the headers to send when fetching targetURL.
func (s *Selector) For(domainHint, targetURL, refererOverride string) http.Header {
	policy := s.PolicyFor(domainHint, targetURL)

	h := make(http.Header)
	h.Set("User-Agent", s.userAgent)
	h.Set("Accept", DefaultAccept)
	h.Set("Accept-Language", DefaultAcceptLanguage)

	switch policy.Mode {
	case ModeSameOrigin:
		if origin := urlutil.GetSchemeHost(targetURL); origin != "" {
			h.Set("Origin", origin)
			h.Set("Referer", origin+"/")
		}
		h.Set("Sec-Fetch-Dest", "empty")
		h.Set("Sec-Fetch-Mode", "cors")
		h.Set("Sec-Fetch-Site", "same-origin")
	default:
		referer := refererOverride
		if referer == "" {
			referer = s.defaultReferer
		}
		h.Set("Referer", referer)
		if origin := urlutil.GetSchemeHost(referer); origin != "" {
			h.Set("Origin", origin)
		}
	}

	return h
}

// ImageHeaders returns the headers used for poster images: the image host is
// presented as both Origin and Referer.
func (s *Selector) ImageHeaders(targetURL string) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", s.userAgent)
	h.Set("Accept", imageAccept)
	h.Set("Accept-Language", DefaultAcceptLanguage)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")

	if host := urlutil.Hostname(targetURL); host != "" {
		referer := "https://" + host + "/"
		h.Set("Referer", referer)
		h.Set("Origin", referer)
	}
	return h
}
