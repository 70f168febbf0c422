// Package engine orchestrates the surface pipeline: rate-limited quote
// acquisition, cached get-or-build of surfaces, fan-out across symbols,
// and optional persistence.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/volsurf/internal/feed"
	"github.com/seenimoa/volsurf/internal/infra"
	"github.com/seenimoa/volsurf/internal/pricing"
	"github.com/seenimoa/volsurf/internal/store"
	"github.com/seenimoa/volsurf/internal/surface"
	"github.com/seenimoa/volsurf/pkg/models"
	"github.com/seenimoa/volsurf/pkg/utils"
)

// Options configures an Engine.
type Options struct {
	// QuoteTTL bounds how long a chain snapshot may be reused.
	QuoteTTL time.Duration
	// SurfaceTTL bounds how long a built surface may be served.
	SurfaceTTL time.Duration
	// CacheCapacity bounds both caches; 0 means unbounded.
	CacheCapacity int
	// AsOfInterval is the bucket width for snapshot times. All quotes in
	// one build share one bucket.
	AsOfInterval time.Duration
	// Tolerance and MaxIterations tune the implied-vol solver for every
	// build; zero values select the solver defaults.
	Tolerance     float64
	MaxIterations int
	// Store, when set, receives every successfully built surface.
	Store *store.Store
	// OnUpdate, when set, is invoked with a snapshot DTO after each
	// successful build (websocket broadcast hook).
	OnUpdate func(models.SurfaceUpdate)
}

func (o *Options) applyDefaults() {
	if o.QuoteTTL <= 0 {
		o.QuoteTTL = 30 * time.Second
	}
	if o.SurfaceTTL <= 0 {
		o.SurfaceTTL = time.Minute
	}
	if o.AsOfInterval <= 0 {
		o.AsOfInterval = time.Minute
	}
}

// Engine builds and caches volatility surfaces.
type Engine struct {
	quotes feed.QuoteSource
	spots  feed.SpotSource
	rates  feed.RateSource
	opts   Options

	quoteCache   *infra.Cache
	surfaceCache *infra.Cache
	solveOpts    []pricing.SolveOption

	mu       sync.Mutex
	reports  map[string]surface.Report
	onUpdate func(models.SurfaceUpdate)

	now func() time.Time // injectable for tests
}

// New creates an engine over the given sources.
func New(quotes feed.QuoteSource, spots feed.SpotSource, rates feed.RateSource, opts Options) *Engine {
	opts.applyDefaults()
	var solveOpts []pricing.SolveOption
	if opts.Tolerance > 0 {
		solveOpts = append(solveOpts, pricing.WithTolerance(opts.Tolerance))
	}
	if opts.MaxIterations > 0 {
		solveOpts = append(solveOpts, pricing.WithMaxIterations(opts.MaxIterations))
	}
	return &Engine{
		quotes:       quotes,
		spots:        spots,
		rates:        rates,
		opts:         opts,
		quoteCache:   infra.NewCache(opts.QuoteTTL, opts.CacheCapacity),
		surfaceCache: infra.NewCache(opts.SurfaceTTL, opts.CacheCapacity),
		solveOpts:    solveOpts,
		reports:      make(map[string]surface.Report),
		onUpdate:     opts.OnUpdate,
		now:          time.Now,
	}
}

// SetOnUpdate installs the post-build update hook, replacing any hook set
// via Options. Safe to call at any time, including during builds.
func (e *Engine) SetOnUpdate(fn func(models.SurfaceUpdate)) {
	e.mu.Lock()
	e.onUpdate = fn
	e.mu.Unlock()
}

// Surface returns the surface for symbol at the current as-of bucket,
// building it if no live cached copy exists. Concurrent callers for the
// same (symbol, bucket) share one build; a failed build is never cached.
func (e *Engine) Surface(ctx context.Context, symbol string) (*surface.Surface, error) {
	symbol = utils.NormalizeSymbol(symbol)
	asOf := utils.AsOfBucket(e.now(), e.opts.AsOfInterval)
	key := store.Key(symbol, asOf)

	v, err := e.surfaceCache.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return e.build(ctx, symbol, asOf)
	})
	if err != nil {
		return nil, err
	}
	return v.(*surface.Surface), nil
}

// BuildAll builds surfaces for all symbols concurrently. One symbol's
// failure never fails the others; per-symbol errors come back in the map.
func (e *Engine) BuildAll(ctx context.Context, symbols []string) (map[string]*surface.Surface, map[string]error) {
	surfaces := make(map[string]*surface.Surface, len(symbols))
	failures := make(map[string]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			surf, err := e.Surface(gctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[symbol] = err
				return nil // non-fatal
			}
			surfaces[symbol] = surf
			return nil
		})
	}
	_ = g.Wait()
	return surfaces, failures
}

// Report returns the build report from the most recent build for symbol.
func (e *Engine) Report(symbol string) (surface.Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.reports[utils.NormalizeSymbol(symbol)]
	return r, ok
}

// build runs one full pipeline pass for (symbol, asOf).
func (e *Engine) build(ctx context.Context, symbol string, asOf time.Time) (*surface.Surface, error) {
	snap, err := e.snapshot(ctx, symbol, asOf)
	if err != nil {
		return nil, err
	}

	rate, err := e.rates.RiskFreeRate(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("risk-free rate: %w", err)
	}

	surf, report, err := surface.Build(symbol, snap.Quotes, snap.Spot, rate, asOf, e.solveOpts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.reports[symbol] = report
	onUpdate := e.onUpdate
	e.mu.Unlock()

	if e.opts.Store != nil {
		if _, err := e.opts.Store.Persist(ctx, surf); err != nil {
			// Persistence is best-effort; the in-memory surface is valid.
			log.Printf("engine: persist %s: %v", symbol, err)
		}
	}
	if onUpdate != nil {
		onUpdate(surf.Update())
	}
	return surf, nil
}

// snapshot fetches the chain and spot for one as-of bucket, cached so
// repeated builds inside a bucket reuse one upstream round trip.
func (e *Engine) snapshot(ctx context.Context, symbol string, asOf time.Time) (*models.ChainSnapshot, error) {
	key := "chain:" + store.Key(symbol, asOf)
	v, err := e.quoteCache.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		quotes, err := e.quotes.FetchChain(ctx, symbol, asOf)
		if err != nil {
			return nil, fmt.Errorf("fetch chain %s: %w", symbol, err)
		}
		spot, err := e.spots.Spot(ctx, symbol, asOf)
		if err != nil {
			return nil, fmt.Errorf("fetch spot %s: %w", symbol, err)
		}
		return &models.ChainSnapshot{
			Underlying: symbol,
			Quotes:     quotes,
			Spot:       spot,
			AsOf:       asOf,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ChainSnapshot), nil
}
