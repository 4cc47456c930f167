// Package httpclient provides the outbound HTTP client used for every origin
// fetch.
//
// Requests are routed per target URL: hosts listed in UTLS_DOMAINS get a
// browser TLS fingerprint, TRANSPORT_ROUTES select a proxy or insecure TLS
// for matching URLs, and GLOBAL_PROXIES (rotated per request) applies to
// everything else.
//
// The clients carry no overall request timeout. Callers bound each request
// with its context, which also covers reading a streamed body.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"

	"anistream-proxy/pkg/config"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/urlutil"
)

const (
	dialTimeout   = 30 * time.Second
	dialKeepAlive = 60 * time.Second
)

// Client picks a pooled http.Client per target URL.
type Client struct {
	direct    *http.Client
	browser   *http.Client // uTLS, Chrome fingerprint
	routes    []config.TransportRoute
	proxies   []string
	utlsHosts []string
	next      atomic.Uint32

	mu     sync.RWMutex
	pooled map[string]*http.Client

	log *logging.Logger
}

// dialIPv4 dials over IPv4 only. Several anime CDNs publish AAAA records
// that do not answer.
func dialIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: dialKeepAlive}
	return d.DialContext(ctx, network, addr)
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           dialIPv4,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// New builds a client from the proxy and fingerprinting settings in cfg.
func New(cfg *config.Config, log *logging.Logger) *Client {
	c := &Client{
		direct:  &http.Client{Transport: newTransport()},
		browser: &http.Client{Transport: newBrowserTransport()},
		routes:  cfg.TransportRoutes,
		proxies: cfg.GlobalProxies,
		pooled:  make(map[string]*http.Client),
		log:     log.WithComponent("httpclient"),
	}
	for _, h := range cfg.UTLSDomains {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			c.utlsHosts = append(c.utlsHosts, h)
		}
	}
	return c
}

// Do sends req through the client selected for its URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.clientFor(req.URL.String()).Do(req)
}

// CloseIdleConnections closes idle connections of every pooled client.
func (c *Client) CloseIdleConnections() {
	c.direct.CloseIdleConnections()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, client := range c.pooled {
		client.CloseIdleConnections()
	}
}

// wantsBrowserTLS reports whether the target host is fingerprint-checked.
func (c *Client) wantsBrowserTLS(targetURL string) bool {
	host := urlutil.Hostname(targetURL)
	if host == "" {
		return false
	}
	for _, h := range c.utlsHosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// clientFor resolves the routing rules for targetURL.
func (c *Client) clientFor(targetURL string) *http.Client {
	short := urlutil.Truncate(targetURL, 120)

	if c.wantsBrowserTLS(targetURL) {
		c.log.Debug("using utls client", "url", short)
		return c.browser
	}

	for _, route := range c.routes {
		if !strings.Contains(targetURL, route.URLPattern) {
			continue
		}
		c.log.Debug("matched transport route", "url", short, "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)

		switch {
		case route.Direct && route.DisableSSL:
			return c.insecure()
		case route.Direct:
			return c.direct
		case route.Proxy != "":
			return c.viaProxy(route.Proxy, route.DisableSSL)
		case route.DisableSSL:
			return c.insecure()
		}
	}

	if len(c.proxies) > 0 {
		p := c.proxies[int(c.next.Add(1)-1)%len(c.proxies)]
		c.log.Debug("using global proxy", "url", short, "proxy", p)
		return c.viaProxy(p, false)
	}

	return c.direct
}

func (c *Client) insecure() *http.Client {
	return c.viaProxy("", true)
}

// viaProxy returns the pooled client for proxyURL, creating it on first use.
// An empty proxyURL means a direct connection.
func (c *Client) viaProxy(proxyURL string, skipVerify bool) *http.Client {
	key := proxyURL
	if skipVerify {
		key += "|insecure"
	}

	c.mu.RLock()
	client, ok := c.pooled[key]
	c.mu.RUnlock()
	if ok {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.pooled[key]; ok {
		return client
	}

	transport, err := proxyTransport(proxyURL, skipVerify)
	if err != nil {
		c.log.Error("unusable proxy, connecting directly", "proxy", proxyURL, "error", err)
		return c.direct
	}
	client = &http.Client{Transport: transport}
	c.pooled[key] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "insecure", skipVerify)
	return client
}

// proxyTransport builds a transport dialing through proxyURL, which may be
// an http(s) or socks5(h) URL.
func proxyTransport(proxyURL string, skipVerify bool) (*http.Transport, error) {
	transport := newTransport()
	if skipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if proxyURL == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse proxy URL")
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, errors.Wrap(err, "socks dialer")
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	default:
		return nil, errors.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}

// browserTransport speaks TLS with a Chrome ClientHello, negotiating h2 when
// the origin offers it. Each request uses its own connection, released when
// the response body is closed.
type browserTransport struct {
	h2    *http2.Transport
	plain http.RoundTripper
}

func newBrowserTransport() *browserTransport {
	return &browserTransport{
		h2:    &http2.Transport{},
		plain: newTransport(),
	}
}

func (t *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	raw, err := dialIPv4(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloChrome_120)
	if err := conn.HandshakeContext(req.Context()); err != nil {
		raw.Close()
		return nil, errors.Wrapf(err, "utls handshake with %s", req.URL.Hostname())
	}

	if conn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
		cc, err := t.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := cc.RoundTrip(req)
		if err != nil {
			cc.Close()
			return nil, err
		}
		resp.Body = &closeWithConn{ReadCloser: resp.Body, conn: cc}
		return resp, nil
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body = &closeWithConn{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// closeWithConn closes the underlying connection along with the body.
type closeWithConn struct {
	io.ReadCloser
	conn io.Closer
}

func (c *closeWithConn) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}
