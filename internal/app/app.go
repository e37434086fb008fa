// Package app assembles the challenge engine from a validated config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/desk"
	"github.com/rustyeddy/challenger/feed"
	"github.com/rustyeddy/challenger/feed/oanda"
	"github.com/rustyeddy/challenger/feed/polygon"
	"github.com/rustyeddy/challenger/journal"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/metrics"
	"github.com/rustyeddy/challenger/risk"
	"github.com/rustyeddy/challenger/store"
	"github.com/rustyeddy/challenger/store/memory"
	"github.com/rustyeddy/challenger/store/postgres"
	"github.com/rustyeddy/challenger/store/sqlite"
)

// App owns every long-lived component. Close releases them.
type App struct {
	Config      *config.Config
	Metrics     *metrics.Metrics
	Stores      store.Stores
	Instruments market.InstrumentTable
	Feeds       *feed.Router
	Prices      *market.PriceCache
	Watchdog    *risk.Watchdog
	Desk        *desk.Desk
	Journal     journal.Journal

	oanda *oanda.Client
	log   logrus.FieldLogger
}

// ConfigureLogging applies the log section to the standard logger, which
// every component logs through.
func ConfigureLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// New builds the engine. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Instruments: market.InstrumentTable(market.Instruments).Merge(cfg.Prices.Instruments),
		log:         logrus.WithField("component", "app"),
	}

	stores, err := openStores(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.Stores = stores

	j, err := openJournal(cfg.Journal)
	if err != nil {
		stores.Close()
		return nil, err
	}
	a.Journal = j

	a.Feeds, a.oanda, err = a.buildFeeds(cfg.Feeds)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Prices = market.NewPriceCache(a.Feeds,
		market.WithWatchlist(cfg.Prices.Watchlist),
		market.WithInstruments(a.Instruments),
		market.WithRefreshInterval(cfg.Prices.IntervalDuration()),
		market.WithFetchTimeout(cfg.Prices.TimeoutDuration()),
		market.WithStaleAfter(cfg.Prices.StaleAfterDuration()),
		market.WithSyntheticTTL(cfg.Prices.SyntheticTTLDuration()),
		market.WithMetrics(a.Metrics),
	)

	opts := []risk.Option{
		risk.WithRules(cfg.Rules),
		risk.WithLocation(cfg.Watchdog.Location()),
		risk.WithJournal(a.Journal),
		risk.WithMetrics(a.Metrics),
	}
	if cfg.Watchdog.LockChallenges {
		opts = append(opts, risk.WithChallengeLocks(risk.NewKeyedMutex()))
	}
	a.Watchdog = risk.NewWatchdog(stores.Trades, stores.Challenges, stores.Daily, a.Prices, opts...)

	a.Desk = desk.New(stores.Trades, stores.Challenges, a.Prices, a.Watchdog,
		desk.WithJournal(a.Journal),
		desk.WithMetrics(a.Metrics),
	)
	return a, nil
}

func openStores(ctx context.Context, cfg config.StoreConfig) (store.Stores, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return store.Stores{}, fmt.Errorf("open sqlite store: %w", err)
		}
		return db.Stores(), nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return store.Stores{}, fmt.Errorf("postgres store: $%s is empty", cfg.DSNEnv)
		}
		pool, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return store.Stores{}, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return store.Stores{}, err
		}
		return pool.Stores(), nil
	default:
		return store.Stores{}, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func openJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "csv":
		return journal.NewCSV(cfg.EquityFile, cfg.ActionsFile)
	case "sqlite":
		return journal.NewSQLite(cfg.DBPath)
	default:
		return journal.Nop{}, nil
	}
}

// buildFeeds registers the enabled feeds. A feed whose credentials are
// missing is skipped with a warning; its symbols fall back to synthetic
// prices.
func (a *App) buildFeeds(cfg config.FeedsConfig) (*feed.Router, *oanda.Client, error) {
	router := feed.NewRouter(a.Instruments)
	var oc *oanda.Client

	if cfg.Oanda.Enabled {
		token := os.Getenv(cfg.Oanda.TokenEnv)
		if token == "" {
			a.log.Warnf("oanda feed enabled but $%s is empty", cfg.Oanda.TokenEnv)
		} else {
			c, err := oanda.NewClient(token, cfg.Oanda.AccountID, cfg.Oanda.Env)
			if err != nil {
				return nil, nil, err
			}
			router.Register(market.FeedOanda, c)
			oc = c
		}
	}

	if cfg.Polygon.Enabled {
		key := os.Getenv(cfg.Polygon.APIKeyEnv)
		if key == "" {
			a.log.Warnf("polygon feed enabled but $%s is empty", cfg.Polygon.APIKeyEnv)
		} else {
			f, err := polygon.New(key)
			if err != nil {
				return nil, nil, err
			}
			router.Register(market.FeedPolygon, f.WithTimeout(cfg.Polygon.TimeoutDuration()))
		}
	}
	return router, oc, nil
}

// Start launches the price loop, the optional OANDA stream and the
// watchdog sweep. All stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	a.Prices.Start(ctx)

	if a.oanda != nil && a.Config.Feeds.Oanda.Stream {
		go a.runOandaStream(ctx)
	}
	if every := a.Config.Watchdog.SweepIntervalDuration(); every > 0 {
		go a.runSweeper(ctx, every)
	}
}

// Sweep executes the watchdog on every active challenge. It returns how
// many challenges were checked; individual failures are joined.
func (a *App) Sweep(ctx context.Context) (int, error) {
	active, err := a.Stores.Challenges.ListByStatus(ctx, challenge.Active)
	if err != nil {
		return 0, fmt.Errorf("list active challenges: %w", err)
	}

	var errs []error
	for _, c := range active {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if _, err := a.Watchdog.Execute(ctx, c.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return len(active), errors.Join(errs...)
}

func (a *App) runSweeper(ctx context.Context, every time.Duration) {
	log := a.log.WithField("loop", "sweep")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("watchdog sweep had failures")
			}
			log.WithField("checked", n).Debug("watchdog sweep done")
		}
	}
}

// runOandaStream keeps the pricing stream open, reconnecting with a
// capped backoff, and writes each tick into the cache.
func (a *App) runOandaStream(ctx context.Context) {
	log := a.log.WithField("loop", "oanda-stream")

	local := make(map[string][]string)
	var remote []string
	for _, sym := range a.Config.Prices.Watchlist {
		in := a.Instruments.Lookup(sym)
		if in.Feed != market.FeedOanda {
			continue
		}
		r := in.RemoteSymbol()
		if _, seen := local[r]; !seen {
			remote = append(remote, r)
		}
		local[r] = append(local[r], sym)
	}
	if len(remote) == 0 {
		return
	}

	onPrice := func(instrument string, mid float64, _ time.Time) {
		for _, sym := range local[instrument] {
			if err := a.Prices.Set(sym, mid); err != nil {
				log.WithError(err).WithField("symbol", sym).Debug("stream price rejected")
			}
		}
	}

	backoff := time.Second
	for ctx.Err() == nil {
		n, err := a.oanda.StreamPrices(ctx, remote, onPrice, 0)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			backoff = time.Second
		}
		log.WithError(err).WithField("ticks", n).Warnf("pricing stream closed, reconnecting in %s", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, time.Minute)
	}
}

// Close stops the price loop and releases the journal and stores.
func (a *App) Close() error {
	if a.Prices != nil {
		a.Prices.Stop()
	}
	var errs []error
	if a.Journal != nil {
		errs = append(errs, a.Journal.Close())
	}
	if a.Stores.Close != nil {
		errs = append(errs, a.Stores.Close())
	}
	return errors.Join(errs...)
}
