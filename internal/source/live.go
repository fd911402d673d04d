package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"catalog-ingest-service/internal/domain"
)

const (
	productPathMarker = "/products/"
	maxResponseBytes  = 8 << 20
)

// Links under /products/ that are storefront pages, not products.
var excludedHandles = map[string]bool{
	"pre-shipment-inspection": true,
}

// LiveConfig tunes how the storefront is crawled.
type LiveConfig struct {
	BaseURL         string
	CollectionPath  string
	UserAgent       string
	RequestInterval time.Duration // minimum spacing between requests
	MaxPages        int
	MaxRetries      uint
	RetryBaseDelay  time.Duration
}

// Live discovers product handles from a collection listing and then fetches
// each product's structured document from the storefront.
type Live struct {
	cfg     LiveConfig
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	handles    []string
	next       int
	discovered bool
}

func NewLive(cfg LiveConfig, client *http.Client, logger *zap.Logger) (*Live, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("source: invalid storefront base URL %q", cfg.BaseURL)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Live{
		cfg:     cfg,
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
		logger:  logger,
	}, nil
}

// Discover walks the collection listing page by page and stops at the first
// page that adds no handle it has not seen, the same signal as a scroll that
// loads nothing new. Handles are returned sorted.
func (l *Live) Discover(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for page := 1; page <= l.cfg.MaxPages; page++ {
		body, err := l.get(ctx, l.listingURL(page))
		if err != nil {
			return nil, fmt.Errorf("source: discovery failed on page %d: %w", page, err)
		}
		added := 0
		for _, handle := range extractHandles(body) {
			if _, ok := seen[handle]; ok {
				continue
			}
			seen[handle] = struct{}{}
			added++
		}
		l.logger.Debug("Scanned listing page", zap.Int("page", page), zap.Int("new_handles", added))
		if added == 0 {
			break
		}
	}

	handles := make([]string, 0, len(seen))
	for handle := range seen {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	l.logger.Info("Discovered product handles", zap.Int("count", len(handles)))
	return handles, nil
}

func (l *Live) Next(ctx context.Context) (*domain.RawProduct, error) {
	if !l.discovered {
		handles, err := l.Discover(ctx)
		if err != nil {
			return nil, err
		}
		l.handles = handles
		l.discovered = true
	}
	if l.next >= len(l.handles) {
		return nil, io.EOF
	}
	handle := l.handles[l.next]
	l.next++

	raw, err := l.fetchProduct(ctx, handle)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &SourceError{Ref: handle, Err: err}
	}
	return raw, nil
}

func (l *Live) fetchProduct(ctx context.Context, handle string) (*domain.RawProduct, error) {
	body, err := l.get(ctx, l.productURL(handle))
	if err != nil {
		return nil, err
	}
	var raw domain.RawProduct
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode product document: %v", ErrUnexpectedReply, err)
	}
	return &raw, nil
}

// get performs a throttled GET, retrying transport failures, 429 and 5xx
// with jittered exponential backoff.
func (l *Live) get(ctx context.Context, target string) ([]byte, error) {
	operation := func() ([]byte, error) {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if l.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", l.cfg.UserAgent)
		}

		resp, err := l.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, target, resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrProductNotFound, target))
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, backoff.Permanent(fmt.Errorf("%w: %s returned %d", ErrUnexpectedReply, target, resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		return body, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.cfg.RetryBaseDelay
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(l.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			l.logger.Warn("Retrying storefront request", zap.String("url", target), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
}

func (l *Live) listingURL(page int) string {
	u := *l.base
	u.Path = l.base.Path + "/" + strings.TrimLeft(l.cfg.CollectionPath, "/")
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func (l *Live) productURL(handle string) string {
	u := *l.base
	u.Path = l.base.Path + productPathMarker + handle + ".js"
	return u.String()
}

// extractHandles returns every product handle linked from an HTML page, in
// document order, possibly with repeats.
func extractHandles(body []byte) []string {
	var handles []string
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF at the end of the document; partial pages yield what was read.
			return handles
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					if handle, ok := handleFromHref(string(val)); ok {
						handles = append(handles, handle)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func handleFromHref(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	idx := strings.LastIndex(u.Path, productPathMarker)
	if idx < 0 {
		return "", false
	}
	handle := strings.Trim(u.Path[idx+len(productPathMarker):], "/")
	if handle == "" || strings.Contains(handle, "/") || excludedHandles[handle] {
		return "", false
	}
	return handle, true
}

// IsNotFound reports whether err means the storefront has no such product.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound)
}
