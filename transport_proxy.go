package mqtt5

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/proxy"
)

// ProxyConfig describes an explicit proxy to dial the broker through,
// as an alternative to ProxyFromEnvironment's HTTP_PROXY/HTTPS_PROXY
// discovery.
type ProxyConfig struct {
	// URL is the proxy address, e.g. "http://host:port" or "socks5://host:port".
	URL      string
	Username string
	Password string
}

// ProxyDialer connects to a target address by first negotiating a
// tunnel through an HTTP CONNECT or SOCKS5 proxy.
type ProxyDialer struct {
	proxyURL *url.URL
	username string
	password string
	forward  net.Dialer
}

// NewProxyDialer builds a dialer for proxyURL ("http://", "https://",
// or "socks5://"). Credentials embedded in the URL (user:pass@host)
// are used when username is empty.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return &ProxyDialer{
		proxyURL: u,
		username: username,
		password: password,
	}, nil
}

// DialContext connects to addr through the configured proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	switch d.proxyURL.Scheme {
	case "http", "https":
		return d.dialHTTPConnect(ctx, addr)
	case "socks5", "socks5h":
		return d.dialSOCKS5(ctx, network, addr)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", d.proxyURL.Scheme)
	}
}

// proxyHostPort returns the proxy's host:port, filling in defaultPort
// when the URL carried no explicit port.
func (d *ProxyDialer) proxyHostPort(defaultPort string) string {
	if d.proxyURL.Port() != "" {
		return d.proxyURL.Host
	}
	return net.JoinHostPort(d.proxyURL.Hostname(), defaultPort)
}

func (d *ProxyDialer) basicAuthHeader() string {
	if d.username == "" {
		return ""
	}
	creds := base64.StdEncoding.EncodeToString([]byte(d.username + ":" + d.password))
	return "Basic " + creds
}

func (d *ProxyDialer) dialHTTPConnect(ctx context.Context, targetAddr string) (net.Conn, error) {
	defaultPort := "8080"
	if d.proxyURL.Scheme == "https" {
		defaultPort = "443"
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyHostPort(defaultPort))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}
	if auth := d.basicAuthHeader(); auth != "" {
		req.Header.Set("Proxy-Authorization", auth)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}

	return conn, nil
}

func (d *ProxyDialer) dialSOCKS5(ctx context.Context, network, targetAddr string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.username != "" {
		auth = &proxy.Auth{User: d.username, Password: d.password}
	}

	dialer, err := proxy.SOCKS5("tcp", d.proxyHostPort("1080"), auth, &d.forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	// golang.org/x/net/proxy.Dialer predates context.Context; run the
	// blocking Dial on a goroutine so a canceled ctx can still return
	// promptly instead of waiting out the underlying connect timeout.
	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := dialer.Dial(network, targetAddr)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("SOCKS5 dial failed: %w", result.err)
		}
		return result.conn, nil
	}
}

// envProxyVar reads name, falling back to its lowercase form; many
// tools (curl, git) only honor the lowercase variant.
func envProxyVar(name string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return os.Getenv(strings.ToLower(name))
}

func matchesNoProxy(host, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "":
		return false
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "."):
		return strings.HasSuffix(host, pattern) || host == pattern[1:]
	default:
		return host == pattern || strings.HasSuffix(host, "."+pattern)
	}
}

// ProxyFromEnvironment resolves the proxy URL to use for targetAddr
// from HTTP_PROXY/HTTPS_PROXY/NO_PROXY, following the same precedence
// curl and net/http use: NO_PROXY short-circuits everything, TLS-ish
// schemes prefer HTTPS_PROXY and fall back to HTTP_PROXY.
func ProxyFromEnvironment(targetAddr string) (*url.URL, error) {
	target, err := url.Parse(targetAddr)
	if err != nil {
		return nil, nil
	}

	if noProxy := envProxyVar("NO_PROXY"); noProxy != "" {
		host := target.Hostname()
		for _, pattern := range strings.Split(noProxy, ",") {
			if matchesNoProxy(host, pattern) {
				return nil, nil
			}
		}
	}

	proxyEnv := envProxyVar("HTTP_PROXY")
	switch target.Scheme {
	case "https", "tls", "ssl", "mqtts", "wss":
		if v := envProxyVar("HTTPS_PROXY"); v != "" {
			proxyEnv = v
		}
	}

	if proxyEnv == "" {
		return nil, nil
	}
	return url.Parse(proxyEnv)
}
