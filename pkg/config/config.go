// Package config handles application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"anistream-proxy/pkg/headers"
)

// DefaultRelayURL is the prefix the legacy /proxy-hls endpoint relays through.
const DefaultRelayURL = "https://hls.ciphertv.dev/proxy?url="

// DefaultUTLSDomains are origins known to reject Go's TLS fingerprint.
var DefaultUTLSDomains = []string{"padorupado.ru", "kwik.cx", "owocdn.top"}

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // zero by default; ranged movie transfers run long
	IdleTimeout  time.Duration

	// Upstream timeouts
	ManifestTimeout time.Duration
	SegmentTimeout  time.Duration
	ImageTimeout    time.Duration

	// MaxTextBody bounds manifests and JSON bodies read into memory.
	MaxTextBody int64

	// Outbound headers
	DefaultReferer string
	UserAgent      string
	DomainPolicies []headers.DomainPolicy

	// Legacy relay
	RelayURL string

	// Proxy settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	UTLSDomains     []string

	// Logging
	LogLevel string
	LogJSON  bool
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory, if present, seeds variables that are
// not already set.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnvInt("PORT", 7860),
		BaseURL:         strings.TrimSuffix(getEnvString("BASE_URL", ""), "/"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 0),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ManifestTimeout: getEnvDuration("MANIFEST_TIMEOUT", 60*time.Second),
		SegmentTimeout:  getEnvDuration("SEGMENT_TIMEOUT", 30*time.Second),
		ImageTimeout:    getEnvDuration("IMAGE_TIMEOUT", 30*time.Second),
		DefaultReferer:  getEnvString("DEFAULT_REFERER", headers.DefaultReferer),
		UserAgent:       getEnvString("USER_AGENT", headers.DefaultUserAgent),
		RelayURL:        getEnvString("RELAY_URL", DefaultRelayURL),
		GlobalProxies:   getEnvStringSlice("GLOBAL_PROXIES", nil),
		UTLSDomains:     getEnvStringSlice("UTLS_DOMAINS", DefaultUTLSDomains),
		MaxTextBody:     int64(getEnvInt("MAX_TEXT_BODY", 32<<20)),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
		LogJSON:         getEnvBool("LOG_JSON", false),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))
	cfg.DomainPolicies = parseDomainPolicies(os.Getenv("DOMAIN_POLICIES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg
}

// parseBlocks splits the brace-delimited list format shared by
// TRANSPORT_ROUTES and DOMAIN_POLICIES into key/value maps with upper-cased
// keys. Format: {KEY=value, KEY2=value2}, {KEY=value}
func parseBlocks(s string) []map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var blocks []map[string]string

	// Split by "}, {" pattern
	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		fields := make(map[string]string)
		for _, field := range strings.Split(part, ", ") {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			fields[strings.ToUpper(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
		}
		blocks = append(blocks, fields)
	}

	return blocks
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	var routes []TransportRoute
	for _, fields := range parseBlocks(s) {
		route := TransportRoute{
			URLPattern: fields["URL"],
			Proxy:      fields["PROXY"],
			DisableSSL: strings.ToLower(fields["DISABLE_SSL"]) == "true",
			Direct:     strings.ToLower(fields["DIRECT"]) == "true",
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}
	return routes
}

// parseDomainPolicies parses the DOMAIN_POLICIES env var. MATCH holds
// hostname substrings separated by "|"; MODE is "same-origin" or "referer".
// Format: {NAME=strictcdn, MATCH=strict-cdn.net|edge.example, MODE=same-origin}
func parseDomainPolicies(s string) []headers.DomainPolicy {
	var policies []headers.DomainPolicy
	for _, fields := range parseBlocks(s) {
		policy := headers.DomainPolicy{
			Name: fields["NAME"],
			Mode: headers.ModeReferer,
		}
		if strings.EqualFold(fields["MODE"], string(headers.ModeSameOrigin)) {
			policy.Mode = headers.ModeSameOrigin
		}
		for _, m := range strings.Split(fields["MATCH"], "|") {
			if m = strings.TrimSpace(m); m != "" {
				policy.Match = append(policy.Match, m)
			}
		}
		if policy.Name == "" || len(policy.Match) == 0 {
			continue
		}
		policies = append(policies, policy)
	}
	return policies
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		// Try parsing as duration string
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
