// Package feed connects the price cache to market data providers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/challenger/market"
)

// Router splits a watch-list by provider and queries each provider
// concurrently, so one slow or failing feed never holds back the others.
type Router struct {
	instruments market.InstrumentTable
	feeds       map[string]market.Fetcher
}

func NewRouter(instruments market.InstrumentTable) *Router {
	return &Router{
		instruments: instruments,
		feeds:       make(map[string]market.Fetcher),
	}
}

// Register attaches a fetcher under a feed name used in the instrument table.
func (r *Router) Register(name string, f market.Fetcher) *Router {
	r.feeds[name] = f
	return r
}

// Feeds lists the registered feed names.
func (r *Router) Feeds() []string {
	names := make([]string, 0, len(r.feeds))
	for n := range r.feeds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FetchQuotes returns prices keyed by local symbol. Symbols whose feed is
// not registered are skipped silently; they are served synthetically.
func (r *Router) FetchQuotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	type batch struct {
		remote []string
		local  map[string][]string
	}
	batches := make(map[string]*batch)
	for _, sym := range symbols {
		in := r.instruments.Lookup(sym)
		if _, ok := r.feeds[in.Feed]; !ok {
			continue
		}
		b := batches[in.Feed]
		if b == nil {
			b = &batch{local: make(map[string][]string)}
			batches[in.Feed] = b
		}
		// instruments sharing a feed symbol ask for it once
		remote := in.RemoteSymbol()
		if _, seen := b.local[remote]; !seen {
			b.remote = append(b.remote, remote)
		}
		b.local[remote] = append(b.local[remote], sym)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		out  = make(map[string]float64)
		errs []error
	)
	for name, b := range batches {
		wg.Add(1)
		go func(name string, b *batch) {
			defer wg.Done()
			prices, err := r.feeds[name].FetchQuotes(ctx, b.remote)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			for remote, p := range prices {
				for _, local := range b.local[remote] {
					out[local] = p
				}
			}
		}(name, b)
	}
	wg.Wait()

	return out, errors.Join(errs...)
}

// Static serves fixed prices. Symbols it does not know are left out.
type Static map[string]float64

func (s Static) FetchQuotes(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if p, ok := s[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

// Failing always errors. Useful for exercising synthetic fallback.
type Failing struct {
	Err error
}

var ErrUnavailable = errors.New("market data unavailable")

func (f Failing) FetchQuotes(context.Context, []string) (map[string]float64, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, ErrUnavailable
}
