package lookup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/falconcharade/nativesys/internal/refindex"
	"github.com/falconcharade/nativesys/internal/resilience"
)

// Options configures the HTTP side of a Client.
type Options struct {
	UserAgent      string
	SearchTimeout  time.Duration
	DetailsTimeout time.Duration
	// SearchRetries is the number of extra search attempts made on transport
	// faults and 429/5xx responses.
	SearchRetries int
	SearchBackoff time.Duration
	// RequestsPerSecond paces both stages together; zero disables pacing.
	RequestsPerSecond float64
}

// StatusError is returned by FetchDetails for unexpected response codes.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// TransportError is a request that failed without a usable response.
// Timeout is set for client and network timeouts.
type TransportError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func transportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Timeout: resilience.IsTimeout(err)}
}

// Client performs the search and details requests against one Source.
type Client struct {
	src      Source
	base     *url.URL
	detailRe *regexp.Regexp
	search   *resty.Client
	details  *resty.Client
	limiter  *rate.Limiter
}

// NewClient builds a client for src.
func NewClient(src Source, opts Options) (*Client, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(src.BaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: parse base url")
	}
	detailRe, err := regexp.Compile(src.DetailPattern)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: compile detail pattern")
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 25 * time.Second
	}
	if opts.DetailsTimeout <= 0 {
		opts.DetailsTimeout = 60 * time.Second
	}
	if opts.SearchBackoff <= 0 {
		opts.SearchBackoff = 1200 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "nativesys/1.0"
	}

	c := &Client{
		src:      src,
		base:     base,
		detailRe: detailRe,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	c.search = c.newHTTP(opts, opts.SearchTimeout)
	c.search.
		SetRetryCount(opts.SearchRetries).
		SetRetryWaitTime(opts.SearchBackoff).
		SetRetryMaxWaitTime(opts.SearchBackoff * 8).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && resilience.IsTransientHTTPStatus(r.StatusCode())
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			fields := []zap.Field{zap.String("source", src.Name)}
			if r != nil {
				fields = append(fields, zap.Int("status", r.StatusCode()))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			zap.L().Debug("lookup: retrying search", fields...)
		})

	// Details are never retried here; the resolver owns that loop.
	c.details = c.newHTTP(opts, opts.DetailsTimeout)
	c.details.SetRetryCount(0)

	return c, nil
}

func (c *Client) newHTTP(opts Options, timeout time.Duration) *resty.Client {
	hc := resty.New()
	hc.SetLogger(zap.S())
	hc.SetTimeout(timeout)
	hc.SetHeaders(map[string]string{
		"User-Agent":      opts.UserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	})
	hc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if c.limiter == nil {
			return nil
		}
		return c.limiter.Wait(req.Context())
	})
	return hc
}

// Source returns the definition the client was built for.
func (c *Client) Source() Source { return c.src }

// Search looks name up and returns the address of its detail page. found is
// false when the search page is not a success or lists no detail links.
// Transport faults that survive the retries and challenge pages are
// returned as errors.
func (c *Client) Search(ctx context.Context, name string) (string, bool, error) {
	resp, err := c.search.R().SetContext(ctx).Get(c.src.SearchURL(name))
	if err != nil {
		return "", false, transportError("search", err)
	}
	if kind := detectBlock(resp.StatusCode(), resp.Header(), resp.String()); kind != BlockNone {
		return "", false, &BlockedError{Op: "search", Kind: kind}
	}
	if resp.StatusCode() != http.StatusOK {
		zap.L().Debug("lookup: search returned non-success status",
			zap.String("name", name),
			zap.Int("status", resp.StatusCode()),
		)
		return "", false, nil
	}

	addr, ok := c.pickCandidate(resp.String(), name)
	return addr, ok, nil
}

type candidate struct {
	text string
	addr string
}

// pickCandidate returns the detail link whose text matches name, else the
// first detail link in document order.
func (c *Client) pickCandidate(body, name string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", false
	}

	var candidates []candidate
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := c.base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		full := ref.String()
		if !c.detailRe.MatchString(full) {
			return
		}
		candidates = append(candidates, candidate{text: s.Text(), addr: full})
	})
	if len(candidates) == 0 {
		return "", false
	}

	target := refindex.NormalizeName(name)
	for _, cand := range candidates {
		if refindex.NormalizeName(cand.text) == target {
			return cand.addr, true
		}
	}
	return candidates[0].addr, true
}

// FetchDetails downloads a detail page. found is false on 404; other
// non-success statuses, challenge pages and transport faults are errors.
func (c *Client) FetchDetails(ctx context.Context, addr string) (string, bool, error) {
	resp, err := c.details.R().SetContext(ctx).Get(addr)
	if err != nil {
		return "", false, transportError("details", err)
	}
	code := resp.StatusCode()
	if code == http.StatusNotFound {
		return "", false, nil
	}
	body := resp.String()
	if kind := detectBlock(code, resp.Header(), body); kind != BlockNone {
		return "", false, &BlockedError{Op: "details", Kind: kind}
	}
	if code < 200 || code > 299 {
		return "", false, &StatusError{Code: code}
	}
	return body, true, nil
}
