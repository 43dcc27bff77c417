// Package cimd resolves Client ID Metadata Documents: JSON documents hosted
// at an HTTPS URL that is itself the client's identifier
// (draft-ietf-oauth-client-id-metadata-document).
//
// The URL comes from an untrusted caller, so the fetch is hardened against
// server-side request forgery: the hostname is resolved through an injectable
// DNS resolver first, and the HTTP request is pinned to the vetted address so
// a second lookup cannot be rebound to an internal host.
package cimd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/til-jmac/tableau-mcp/internal/auth"
	"github.com/til-jmac/tableau-mcp/internal/auth/store"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

const (
	// maxDocumentSize caps metadata bodies; client metadata should be concise.
	maxDocumentSize = 100 * 1024

	// maxCacheTTL clamps cache expiry regardless of the response's
	// cache directive.
	maxCacheTTL = 24 * time.Hour

	// defaultCacheTTL applies when the response carries no usable max-age.
	defaultCacheTTL = time.Hour

	fetchTimeout = 10 * time.Second
)

// DNSResolver supplies the address lookups performed before any HTTP request
// leaves the process. Injectable so the SSRF defense is testable without
// live DNS.
type DNSResolver interface {
	LookupIPv4(ctx context.Context, host string) ([]net.IP, error)
	LookupIPv6(ctx context.Context, host string) ([]net.IP, error)
}

type netResolver struct {
	r *net.Resolver
}

// SystemDNS returns a DNSResolver backed by the default net.Resolver.
func SystemDNS() DNSResolver {
	return &netResolver{r: net.DefaultResolver}
}

func (n *netResolver) LookupIPv4(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := n.r.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

func (n *netResolver) LookupIPv6(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := n.r.LookupIP(ctx, "ip6", host)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// TransportFactory builds the round tripper used for a single pinned fetch.
// serverName is the original hostname, needed for TLS verification once the
// URL host has been replaced by the resolved address.
type TransportFactory func(serverName string) http.RoundTripper

func defaultTransport(serverName string) http.RoundTripper {
	return &http.Transport{
		TLSClientConfig: &tls.Config{ServerName: serverName},
	}
}

// Options configures a Resolver. Zero-value fields select production
// defaults.
type Options struct {
	DNS       DNSResolver
	Transport TransportFactory
	Clock     store.Clock
	Logger    *slog.Logger
}

// Resolver fetches, validates and caches client metadata documents.
type Resolver struct {
	dns       DNSResolver
	transport TransportFactory
	cache     *store.Expiring[*auth.ClientMetadataDocument]
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewResolver creates a Resolver with a metadata cache bounded by maxCacheTTL.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.DNS == nil {
		opts.DNS = SystemDNS()
	}
	if opts.Transport == nil {
		opts.Transport = defaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cache, err := store.NewExpiring[*auth.ClientMetadataDocument](defaultCacheTTL, opts.Clock)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		dns:       opts.DNS,
		transport: opts.Transport,
		cache:     cache,
		logger:    opts.Logger,
		validate:  validator.New(),
	}, nil
}

// IsMetadataURL reports whether a client_id should be treated as a metadata
// URL rather than the fixed public client id.
func IsMetadataURL(clientID string) bool {
	u, err := url.Parse(clientID)
	return err == nil && u.IsAbs() && u.Scheme == "https" && u.Host != ""
}

// Resolve returns the validated metadata document for clientID, from cache
// when fresh. Every failure maps to a documented OAuth error; transport
// detail is logged, never surfaced.
func (r *Resolver) Resolve(ctx context.Context, clientID string) (*auth.ClientMetadataDocument, error) {
	if doc, ok := r.cache.Get(clientID); ok {
		return doc, nil
	}

	u, err := url.Parse(clientID)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, errors.NewOAuthError(errors.ErrInvalidRequest, "Client metadata URL is not a valid URL", "")
	}
	if u.Scheme != "https" {
		return nil, errors.NewOAuthError(errors.ErrInvalidRequest, "Client metadata URL must use HTTPS", "")
	}

	addr, err := r.resolveAddress(ctx, u.Hostname())
	if err != nil {
		return nil, err
	}

	doc, ttl, err := r.fetchPinned(ctx, u, addr)
	if err != nil {
		return nil, err
	}

	if doc.ClientID != clientID {
		return nil, errors.NewOAuthError(errors.ErrInvalidClientMetadata, "Client ID mismatch", "")
	}

	if ttl > 0 {
		if err := r.cache.SetTTL(clientID, doc, ttl); err != nil {
			// TTL is already clamped; only a degenerate clock could get here.
			r.logger.Warn("failed to cache client metadata", "url", clientID, "error", err)
		}
	}
	return doc, nil
}

// resolveAddress vets the hostname through DNS before any connection is made.
// IPv4 answers win; IPv6 is the fallback.
func (r *Resolver) resolveAddress(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	if addrs, err := r.dns.LookupIPv4(ctx, host); err == nil && len(addrs) > 0 {
		return addrs[0], nil
	}
	if addrs, err := r.dns.LookupIPv6(ctx, host); err == nil && len(addrs) > 0 {
		return addrs[0], nil
	}
	return nil, errors.NewOAuthError(errors.ErrInvalidRequest, "IP address of Client Metadata URL could not be resolved", "")
}

// fetchPinned issues the metadata request against the resolved address while
// preserving the original host for the Host header and TLS verification, so
// the connection cannot be redirected by a second DNS lookup.
func (r *Resolver) fetchPinned(ctx context.Context, u *url.URL, addr net.IP) (*auth.ClientMetadataDocument, time.Duration, error) {
	port := u.Port()
	if port == "" {
		port = "443"
	}

	pinned := *u
	pinned.Host = net.JoinHostPort(addr.String(), port)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pinned.String(), nil)
	if err != nil {
		return nil, 0, errors.NewOAuthError(errors.ErrInvalidRequest, "Unable to fetch client metadata", "")
	}
	req.Host = u.Host
	req.Header.Set("Accept", "application/json")

	// Redirects must not be followed: the Location target would be fetched
	// with a fresh, unvetted lookup, sidestepping the address pinning.
	client := &http.Client{
		Transport: r.transport(u.Hostname()),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		r.logger.Warn("client metadata fetch failed", "url", u.String(), "error", err)
		return nil, 0, errors.NewOAuthError(errors.ErrInvalidRequest, "Unable to fetch client metadata", "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("client metadata fetch returned non-200", "url", u.String(), "status", resp.StatusCode)
		return nil, 0, errors.NewOAuthError(errors.ErrInvalidRequest, "Unable to fetch client metadata", "")
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return nil, 0, errors.NewOAuthError(errors.ErrInvalidClientMetadata,
			fmt.Sprintf("Client metadata response has Content-Type %q, expected application/json", contentType), "")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil || len(body) > maxDocumentSize {
		return nil, 0, errors.NewOAuthError(errors.ErrInvalidClientMetadata, "Client metadata document is too large or unreadable", "")
	}

	var doc auth.ClientMetadataDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, errors.NewOAuthError(errors.ErrInvalidClientMetadata, "Client metadata document is not valid JSON", "")
	}
	if err := r.validate.Struct(&doc); err != nil {
		return nil, 0, errors.NewOAuthError(errors.ErrInvalidClientMetadata, err.Error(), "")
	}

	return &doc, cacheTTL(resp.Header.Get("Cache-Control")), nil
}

// cacheTTL derives the cache lifetime from a Cache-Control header, clamped to
// maxCacheTTL no matter what the directive claims. A zero return means the
// response forbids caching.
func cacheTTL(cacheControl string) time.Duration {
	ttl := defaultCacheTTL
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		if directive == "no-store" {
			return 0
		}
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
				ttl = time.Duration(secs) * time.Second
			}
		}
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	return ttl
}
