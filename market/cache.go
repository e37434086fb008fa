package market

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/challenger/metrics"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
	DefaultSyntheticTTL    = 5 * time.Second
)

var ErrInvalidPrice = errors.New("price must be positive")

type entry struct {
	price  float64
	at     time.Time
	origin Source
}

// PriceCache keeps the latest known price per symbol. A background loop
// refreshes the watch-list; reads never touch the network and always
// return a usable price, synthesizing one when nothing is cached.
//
// One mutex guards the whole map. It is held only for map access, never
// across a fetch.
type PriceCache struct {
	mu     sync.Mutex
	prices map[string]entry
	rng    *rand.Rand

	fetcher      Fetcher
	watchlist    []string
	instruments  InstrumentTable
	interval     time.Duration
	fetchTimeout time.Duration
	staleAfter   time.Duration
	syntheticTTL time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
	metrics      *metrics.Metrics

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

type Option func(*PriceCache)

func WithWatchlist(symbols []string) Option {
	return func(c *PriceCache) {
		c.watchlist = append([]string(nil), symbols...)
	}
}

func WithInstruments(t InstrumentTable) Option {
	return func(c *PriceCache) { c.instruments = t }
}

func WithRefreshInterval(d time.Duration) Option {
	return func(c *PriceCache) { c.interval = d }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(c *PriceCache) { c.fetchTimeout = d }
}

// WithStaleAfter marks fetched quotes older than d as SourceCache. Zero
// disables the distinction.
func WithStaleAfter(d time.Duration) Option {
	return func(c *PriceCache) { c.staleAfter = d }
}

// WithSyntheticTTL sets how long a synthesized price is reused. Zero keeps
// it until a refresh replaces it.
func WithSyntheticTTL(d time.Duration) Option {
	return func(c *PriceCache) { c.syntheticTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *PriceCache) { c.now = now }
}

func WithSeed(seed int64) Option {
	return func(c *PriceCache) { c.rng = rand.New(rand.NewSource(seed)) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *PriceCache) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *PriceCache) { c.metrics = m }
}

// NewPriceCache builds a cache over fetcher. A nil fetcher is allowed: the
// cache then serves synthetic prices only.
func NewPriceCache(fetcher Fetcher, opts ...Option) *PriceCache {
	c := &PriceCache{
		prices:       make(map[string]entry),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		fetcher:      fetcher,
		watchlist:    append([]string(nil), DefaultWatchlist...),
		instruments:  InstrumentTable(Instruments),
		interval:     DefaultRefreshInterval,
		fetchTimeout: DefaultFetchTimeout,
		staleAfter:   3 * DefaultRefreshInterval,
		syntheticTTL: DefaultSyntheticTTL,
		now:          time.Now,
		log:          logrus.WithField("component", "pricecache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interval <= 0 {
		c.interval = DefaultRefreshInterval
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	return c
}

// GetPrice returns the cached quote for symbol, or synthesizes and caches
// one. It never blocks on I/O and never returns a non-positive price.
func (c *PriceCache) GetPrice(symbol string) Quote {
	now := c.now()

	c.mu.Lock()
	e, ok := c.prices[symbol]
	synthesized := false
	if !ok || c.syntheticExpired(e, now) {
		base := c.instruments.Lookup(symbol).BasePrice
		e = entry{price: SyntheticPrice(base, now, c.rng), at: now, origin: SourceSynthetic}
		c.prices[symbol] = e
		synthesized = true
	}
	c.mu.Unlock()

	if synthesized {
		c.metrics.Synthetic()
	}
	return c.quote(symbol, e, now)
}

func (c *PriceCache) syntheticExpired(e entry, now time.Time) bool {
	return e.origin == SourceSynthetic && c.syntheticTTL > 0 && now.Sub(e.at) >= c.syntheticTTL
}

func (c *PriceCache) quote(symbol string, e entry, now time.Time) Quote {
	age := now.Sub(e.at)
	if age < 0 {
		age = 0
	}
	src := e.origin
	if src == SourceLive && c.staleAfter > 0 && age > c.staleAfter {
		src = SourceCache
	}
	return Quote{
		Symbol:    symbol,
		Price:     e.price,
		Timestamp: e.at,
		AgeMillis: age.Milliseconds(),
		Source:    src,
	}
}

// Set writes a market price directly, as a feed push would.
func (c *PriceCache) Set(symbol string, price float64) error {
	if !usable(price) {
		return ErrInvalidPrice
	}
	now := c.now()
	c.mu.Lock()
	c.prices[symbol] = entry{price: price, at: now, origin: SourceLive}
	c.mu.Unlock()
	return nil
}

// All snapshots every cached quote, sorted by symbol.
func (c *PriceCache) All() []Quote {
	now := c.now()

	c.mu.Lock()
	out := make([]Quote, 0, len(c.prices))
	for sym, e := range c.prices {
		out = append(out, c.quote(sym, e, now))
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *PriceCache) Watchlist() []string {
	return append([]string(nil), c.watchlist...)
}

// Refresh fetches the watch-list once and stores every positive price it
// got back. A failed fetch leaves existing entries untouched. The returned
// error is informational; the cache stays usable regardless.
func (c *PriceCache) Refresh(ctx context.Context) (int, error) {
	if c.fetcher == nil || len(c.watchlist) == 0 {
		return 0, nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	prices, err := c.fetcher.FetchQuotes(fctx, c.watchlist)

	now := c.now()
	n := 0
	c.mu.Lock()
	for sym, p := range prices {
		if !usable(p) {
			continue
		}
		c.prices[sym] = entry{price: p, at: now, origin: SourceLive}
		n++
	}
	c.mu.Unlock()

	switch {
	case err != nil && n == 0:
		c.metrics.PriceRefresh("error", 0)
		c.log.WithError(err).Warn("price refresh failed, serving cached and synthetic prices")
	case err != nil:
		c.metrics.PriceRefresh("partial", n)
		c.log.WithError(err).WithField("updated", n).Warn("price refresh partially failed")
	default:
		c.metrics.PriceRefresh("ok", n)
		c.log.WithField("updated", n).Debug("price refresh")
	}
	return n, err
}

// Start refreshes once synchronously, then keeps refreshing in the
// background every interval until Stop is called or ctx is done. Calling
// Start on a running cache does nothing.
func (c *PriceCache) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		select {
		case <-c.done:
			// loop ended with its context; allow a restart
		default:
			return
		}
	}

	_, _ = c.Refresh(ctx)

	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(ctx, c.stop, c.done)

	c.log.WithFields(logrus.Fields{
		"interval":  c.interval,
		"watchlist": len(c.watchlist),
	}).Info("price cache started")
}

func (c *PriceCache) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			_, _ = c.Refresh(ctx)
		}
	}
}

// Stop signals the loop and waits for it to finish its current refresh.
func (c *PriceCache) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.runMu.Unlock()

	<-done
	c.log.Info("price cache stopped")
}

// Running reports whether the background loop is alive.
func (c *PriceCache) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func usable(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
