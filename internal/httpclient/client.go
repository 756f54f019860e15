// Package httpclient provides the outbound HTTP client used for webhook
// delivery. Webhook URLs are operator- or task-supplied, so the client
// validates every target (and every redirect) against SSRF: scheme
// allowlist, credential-injection check, and private/loopback IP blocking
// at both parse time and dial time.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/errors"
)

const maxRedirects = 10

// Options tunes target validation.
type Options struct {
	// AllowPrivate permits loopback and RFC 1918 targets. Off by default;
	// enabled for deployments whose webhook receivers live on the same host
	// or network.
	AllowPrivate bool
}

// Client wraps http.Client with target validation for operator-supplied
// URLs.
type Client struct {
	*http.Client
	allowPrivate bool
}

// New creates a validating HTTP client.
func New(timeout time.Duration, opts Options) *Client {
	c := &Client{
		Client:       &http.Client{Timeout: timeout},
		allowPrivate: opts.AllowPrivate,
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.Newf("stopped after %d redirects", maxRedirects)
		}
		if err := c.validate(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if !c.allowPrivate {
		// Re-check at dial time so a DNS answer cannot rebind an allowed
		// hostname onto a private address.
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, ip := range ips {
					if isPrivateIP(ip) {
						return nil, errors.Newf("private address blocked: %s", ip)
					}
				}
				return dialer.DialContext(ctx, network, addr)
			},
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	return c
}

// ValidateURL parses and validates a target URL string.
func (c *Client) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validate(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) validate(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errors.Newf("scheme %q not allowed", scheme)
	}
	if u.User != nil {
		// http://evil.com@localhost/ style confusion.
		return errors.New("URL must not carry credentials")
	}
	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}
	if !c.allowPrivate {
		if isLocalhost(hostname) {
			return errors.New("localhost target blocked")
		}
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return errors.Newf("private address blocked: %s", hostname)
		}
	}
	return nil
}

func isLocalhost(hostname string) bool {
	h := strings.ToLower(hostname)
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}

var privateV4Blocks = []net.IPNet{
	{IP: net.IPv4(10, 0, 0, 0), Mask: net.CIDRMask(8, 32)},
	{IP: net.IPv4(172, 16, 0, 0), Mask: net.CIDRMask(12, 32)},
	{IP: net.IPv4(192, 168, 0, 0), Mask: net.CIDRMask(16, 32)},
	{IP: net.IPv4(127, 0, 0, 0), Mask: net.CIDRMask(8, 32)},
	{IP: net.IPv4(169, 254, 0, 0), Mask: net.CIDRMask(16, 32)},
	{IP: net.IPv4(0, 0, 0, 0), Mask: net.CIDRMask(8, 32)},
	{IP: net.IPv4(224, 0, 0, 0), Mask: net.CIDRMask(4, 32)},
	{IP: net.IPv4(240, 0, 0, 0), Mask: net.CIDRMask(4, 32)},
}

func isPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		for _, block := range privateV4Blocks {
			if block.Contains(ip4) {
				return true
			}
		}
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	// Unique local fc00::/7.
	return len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc
}
