// Package linkpreview builds Open Graph previews for links posted in chats.
package linkpreview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultMaxBytes = 512 << 10
	userAgent       = "ParleyLinkPreview/1.0"
)

var (
	ErrInvalidURL = errors.New("url must be absolute http or https")
	ErrNotHTML    = errors.New("url does not point to an html page")
	ErrForbidden  = errors.New("url resolves to a private address")
)

// Preview is the metadata shown under a link
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// Options tune a Fetcher
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowPrivate permits loopback and private network targets
	AllowPrivate bool
}

// Fetcher downloads pages and extracts previews
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. Zero options fall back to the defaults.
func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	if !opts.AllowPrivate {
		dialer.Control = rejectPrivate
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return validateURL(req.URL)
			},
		},
		maxBytes: opts.MaxBytes,
		logger:   logger.With("component", "linkpreview"),
	}
}

// Fetch downloads rawURL and parses its preview
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ErrInvalidURL
	}
	if err := validateURL(target); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("fetch %s: %w", target.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", target.Host, resp.StatusCode)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return nil, ErrNotHTML
	}

	preview := Parse(io.LimitReader(resp.Body, f.maxBytes), resp.Request.URL)
	f.logger.Debug("preview fetched", "host", target.Host, "title", preview.Title)
	return preview, nil
}

// Parse extracts a preview from an html document. Relative image urls are
// resolved against base. Parsing stops at the end of <head>.
func Parse(r io.Reader, base *url.URL) *Preview {
	p := &Preview{URL: base.String()}
	var title, metaDesc string

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return finish(p, title, metaDesc, base)

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Body:
				return finish(p, title, metaDesc, base)
			case atom.Title:
				if z.Next() == html.TextToken && title == "" {
					title = strings.TrimSpace(html.UnescapeString(string(z.Text())))
				}
			case atom.Meta:
				key, content := metaPair(tok)
				switch key {
				case "og:title":
					p.Title = content
				case "og:description":
					p.Description = content
				case "og:image", "og:image:url":
					if p.Image == "" {
						p.Image = content
					}
				case "og:site_name":
					p.SiteName = content
				case "description":
					metaDesc = content
				}
			}

		case html.EndTagToken:
			if z.Token().DataAtom == atom.Head {
				return finish(p, title, metaDesc, base)
			}
		}
	}
}

func finish(p *Preview, title, metaDesc string, base *url.URL) *Preview {
	if p.Title == "" {
		p.Title = title
	}
	if p.Title == "" {
		p.Title = base.Host
	}
	if p.Description == "" {
		p.Description = metaDesc
	}
	if p.Image != "" {
		if ref, err := url.Parse(p.Image); err == nil {
			p.Image = base.ResolveReference(ref).String()
		}
	}
	return p
}

// metaPair returns the property (or name) of a meta tag, lowercased, and its
// trimmed content
func metaPair(tok html.Token) (string, string) {
	var key, content string
	for _, a := range tok.Attr {
		switch strings.ToLower(a.Key) {
		case "property", "name":
			if key == "" {
				key = strings.ToLower(strings.TrimSpace(a.Val))
			}
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	return key, content
}

func validateURL(u *url.URL) error {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// blockedPrefixes are the special-use ranges a preview must never reach
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// blockedAddr reports whether addr falls in a special-use range. IPv4-mapped
// IPv6 addresses are checked as IPv4.
func blockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func rejectPrivate(network, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return ErrForbidden
	}
	if blockedAddr(addrPort.Addr()) {
		return ErrForbidden
	}
	return nil
}
