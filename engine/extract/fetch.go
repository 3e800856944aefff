package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

const (
	maxRedirects = 5
	maxBodyBytes = 4 << 20
	userAgent    = "attendry-bot/1.0 (+https://attendry.com/bot)"
)

// Page is one fetched and converted document.
type Page struct {
	URL      string
	Title    string
	Markdown string
	// Links are same-host absolute URLs harvested from the raw HTML,
	// candidates for sub-page fetching.
	Links []string
}

type etagEntry struct {
	etag string
	page Page
}

// Fetcher retrieves pages politely: paced, redirect-capped, with conditional
// requests for URLs it has seen before.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	etags   sync.Map // canonical URL -> etagEntry
}

// NewFetcher creates a Fetcher pacing outbound requests at rps.
func NewFetcher(rps float64, burst int) *Fetcher {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 4
	}
	return &Fetcher{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Fetch retrieves pageURL, extracts its main content, converts it to
// markdown, and harvests same-host links. A 304 answer replays the last
// seen version.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, timeout time.Duration) (Page, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("extract: build request %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if cached, ok := f.etags.Load(pageURL); ok {
		req.Header.Set("If-None-Match", cached.(etagEntry).etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Page{}, fmt.Errorf("extract: fetch %s: %w", pageURL, domain.ErrProviderTimeout)
		}
		return Page{}, fmt.Errorf("extract: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if cached, ok := f.etags.Load(pageURL); ok {
			return cached.(etagEntry).page, nil
		}
		// Stale validator with no cached body; refetch unconditionally.
		f.etags.Delete(pageURL)
		return f.Fetch(ctx, pageURL, 0)
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("extract: fetch %s: status %d: %w", pageURL, resp.StatusCode, domain.ErrProviderHTTP)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("extract: read %s: %w", pageURL, err)
	}

	page, err := convert(pageURL, body)
	if err != nil {
		return Page{}, err
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		f.etags.Store(pageURL, etagEntry{etag: etag, page: page})
	}
	return page, nil
}

// convert runs readability over the raw HTML, falls back to the full body
// when no main content is found, and converts the result to markdown.
func convert(pageURL string, body []byte) (Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("extract: parse %s: %w", pageURL, err)
	}

	content := string(body)
	title := ""
	if article, err := readability.FromReader(strings.NewReader(content), base); err == nil && article.Content != "" {
		content = article.Content
		title = article.Title
	}

	conv := md.NewConverter("", true, nil)
	markdown, err := conv.ConvertString(content)
	if err != nil {
		return Page{}, fmt.Errorf("extract: convert %s: %w", pageURL, err)
	}

	return Page{
		URL:      pageURL,
		Title:    title,
		Markdown: strings.TrimSpace(markdown),
		Links:    harvestLinks(base, body),
	}, nil
}

// harvestLinks walks the raw HTML for same-host anchors. Raw HTML, not the
// readability output: navigation links to speaker pages live outside the
// main content.
func harvestLinks(base *url.URL, body []byte) []string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if abs.Host != base.Host || (abs.Scheme != "http" && abs.Scheme != "https") {
					continue
				}
				abs.Fragment = ""
				s := abs.String()
				if s == base.String() || seen[s] {
					continue
				}
				seen[s] = true
				links = append(links, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
