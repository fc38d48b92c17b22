// Package collection fetches a user's Boozapp bar through a list of public
// CORS proxies and caches the result per username.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"drunk-bob/internal/observability"
)

// BarURL is the Boozapp endpoint listing a user's bar.
const BarURL = "https://services.baxus.co/api/bar/user/"

// Default configuration values.
const (
	DefaultTimeout  = 15 * time.Second
	DefaultCacheTTL = 10 * time.Minute
)

// ErrAllProxiesFailed is returned when every proxy failed for one fetch.
var ErrAllProxiesFailed = errors.New("all proxy attempts failed")

// Item is one bottle in a bar.
type Item struct {
	ID             int64   `json:"id"`
	BarID          int64   `json:"bar_id"`
	FillPercentage float64 `json:"fill_percentage"`
	Product        Product `json:"product"`
}

// Product describes the bottle of an Item.
type Product struct {
	Name        string  `json:"name"`
	ImageURL    string  `json:"image_url"`
	Brand       string  `json:"brand"`
	Spirit      string  `json:"spirit"`
	Proof       float64 `json:"proof"`
	Size        string  `json:"size"`
	AverageMSRP float64 `json:"average_msrp"`
}

// Names returns the product names of items, skipping blanks.
func Names(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if n := strings.TrimSpace(it.Product.Name); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Unwrap extracts the upstream JSON from a proxy response body.
type Unwrap func(body []byte) ([]byte, error)

// Proxy rewrites a target URL through a CORS proxy.
type Proxy struct {
	Name   string
	URL    func(target string) string
	Unwrap Unwrap
}

// raw returns the body as is.
func raw(body []byte) ([]byte, error) { return body, nil }

// field returns an unwrapper that reads a JSON string field holding the
// upstream body.
func field(name string) Unwrap {
	return func(body []byte) ([]byte, error) {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decode proxy envelope: %w", err)
		}
		v, ok := envelope[name]
		if !ok {
			return nil, fmt.Errorf("proxy envelope has no %q field", name)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("proxy field %q: %w", name, err)
		}
		return []byte(s), nil
	}
}

// DefaultProxies is the ordered proxy list.
func DefaultProxies() []Proxy {
	return []Proxy{
		{
			Name:   "allorigins",
			URL:    func(t string) string { return "https://api.allorigins.win/get?url=" + url.QueryEscape(t) },
			Unwrap: field("contents"),
		},
		{
			Name:   "thingproxy",
			URL:    func(t string) string { return "https://thingproxy.freeboard.io/fetch/" + t },
			Unwrap: raw,
		},
		{
			Name:   "htmldriven",
			URL:    func(t string) string { return "https://cors-proxy.htmldriven.com/?url=" + url.QueryEscape(t) },
			Unwrap: field("body"),
		},
		{
			Name:   "corsproxy",
			URL:    func(t string) string { return "https://corsproxy.io/?" + url.QueryEscape(t) },
			Unwrap: raw,
		},
	}
}

// ProxyCursor remembers the last proxy that succeeded. The zero value starts
// at the first proxy. Safe for concurrent use.
type ProxyCursor struct {
	mu  sync.Mutex
	idx int
}

// Index returns the proxy index the next fetch starts from.
func (c *ProxyCursor) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx
}

func (c *ProxyCursor) set(i int) {
	c.mu.Lock()
	c.idx = i
	c.mu.Unlock()
}

// Fetcher loads bar collections.
type Fetcher struct {
	client  *http.Client
	proxies []Proxy
	barURL  string
	cache   *cache.Cache
	logger  *zap.Logger
}

// Option configures Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithProxies replaces the proxy list.
func WithProxies(proxies []Proxy) Option {
	return func(f *Fetcher) {
		f.proxies = proxies
	}
}

// WithBarURL overrides the collection endpoint prefix.
func WithBarURL(u string) Option {
	return func(f *Fetcher) {
		f.barURL = u
	}
}

// WithCacheTTL sets how long a fetched collection is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl <= 0 {
			f.cache = nil
			return
		}
		f.cache = cache.New(ttl, 2*ttl)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher using DefaultProxies.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: DefaultTimeout},
		proxies: DefaultProxies(),
		barURL:  BarURL,
		cache:   cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("collection")
	return f
}

// Fetch returns the bar of username. Proxies are tried in order starting at
// the cursor's proxy and wrapping around; the cursor moves to the first one
// that succeeds. A nil cursor starts at the first proxy and is not remembered.
func (f *Fetcher) Fetch(ctx context.Context, cursor *ProxyCursor, username string) ([]Item, error) {
	if cursor == nil {
		cursor = &ProxyCursor{}
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if f.cache != nil {
		if v, ok := f.cache.Get(username); ok {
			return copyItems(v.([]Item)), nil
		}
	}
	if len(f.proxies) == 0 {
		return nil, ErrAllProxiesFailed
	}

	target := f.barURL + url.PathEscape(username)
	start := cursor.Index() % len(f.proxies)
	var errs []error
	for n := 0; n < len(f.proxies); n++ {
		i := (start + n) % len(f.proxies)
		p := f.proxies[i]

		items, err := f.fetchVia(ctx, p, target)
		observability.RecordCollectionFetch(p.Name, err)
		if err != nil {
			f.logger.Warn("proxy failed", zap.String("proxy", p.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		f.logger.Debug("proxy succeeded", zap.String("proxy", p.Name), zap.Int("items", len(items)))
		cursor.set(i)
		if f.cache != nil {
			f.cache.SetDefault(username, copyItems(items))
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProxiesFailed, errors.Join(errs...))
}

func (f *Fetcher) fetchVia(ctx context.Context, p Proxy, target string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(target), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	unwrap := p.Unwrap
	if unwrap == nil {
		unwrap = raw
	}
	data, err := unwrap(body)
	if err != nil {
		return nil, err
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return items, nil
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
