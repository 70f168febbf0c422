// volsurf — implied volatility surface engine for listed options.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/volsurf/api"
	"github.com/seenimoa/volsurf/internal/config"
	"github.com/seenimoa/volsurf/internal/engine"
	"github.com/seenimoa/volsurf/internal/feed"
	"github.com/seenimoa/volsurf/internal/infra"
	"github.com/seenimoa/volsurf/internal/store"
	"github.com/seenimoa/volsurf/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "volsurf",
	Short: "volsurf — implied volatility surfaces from listed option quotes",
	Long: `volsurf ingests delayed option chain quotes, extracts implied
volatilities with a hybrid Newton/bisection solver, and assembles
per-underlying volatility surfaces with interpolation, caching, and
optional SQLite persistence.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(surfaceCmd)
	rootCmd.AddCommand(smileCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
}

// newEngine wires the feed, caches, and optional store from config.
func newEngine() (*engine.Engine, *store.Store, error) {
	limiter := infra.NewRateLimiter(cfg.Feed.RateLimitTokens, cfg.Feed.RateLimitInterval())
	client := feed.NewCBOEClient(limiter)

	var st *store.Store
	if cfg.Store.Enabled {
		var err error
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
	}

	eng := engine.New(client, client, feed.FixedRate(cfg.Feed.RiskFreeRate), engine.Options{
		QuoteTTL:      cfg.Cache.QuoteTTL(),
		SurfaceTTL:    cfg.Cache.SurfaceTTL(),
		CacheCapacity: cfg.Cache.Capacity,
		AsOfInterval:  cfg.Cache.AsOfInterval(),
		Tolerance:     cfg.Pricing.Tolerance,
		MaxIterations: cfg.Pricing.MaxIterations,
		Store:         st,
	})
	return eng, st, nil
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("volsurf %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Surface Command ---

var surfaceCmd = &cobra.Command{
	Use:   "surface [symbol...]",
	Short: "Build and print volatility surfaces",
	Long: `Build implied volatility surfaces for one or more underlyings.
With no arguments the configured symbol list is used.

Examples:
  volsurf surface SPY
  volsurf surface SPY AAPL QQQ
  volsurf surface --timeout 60s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols := args
		if len(symbols) == 0 {
			symbols = cfg.Feed.Symbols
		}
		if len(symbols) == 0 {
			return fmt.Errorf("no symbols given and none configured")
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		eng, st, err := newEngine()
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		surfaces, failures := eng.BuildAll(ctx, symbols)

		ordered := make([]string, 0, len(surfaces))
		for sym := range surfaces {
			ordered = append(ordered, sym)
		}
		sort.Strings(ordered)

		for _, sym := range ordered {
			surf := surfaces[sym]
			report, _ := eng.Report(sym)
			fmt.Printf("%s  as of %s\n", sym, surf.AsOf().Format(time.RFC3339))
			fmt.Printf("  quotes: %d  skipped: %d  arbitrage: %d  non-converged: %d  solved: %d\n",
				report.Input, report.Skipped, report.Arbitrage, report.NonConverged, report.Solved)
			fmt.Printf("  strikes: %v\n", surf.Strikes())
			for _, exp := range surf.Expiries() {
				strikes, vols, err := surf.SmileByExpiry(exp)
				if err != nil {
					continue
				}
				fmt.Printf("  %s:", exp.Format("2006-01-02"))
				for i := range strikes {
					fmt.Printf("  %.0f=%.4f", strikes[i], vols[i])
				}
				fmt.Println()
			}
		}
		for sym, err := range failures {
			fmt.Fprintf(os.Stderr, "%s: %v\n", sym, err)
		}
		if len(surfaces) == 0 {
			return fmt.Errorf("no surfaces built")
		}
		return nil
	},
}

func init() {
	surfaceCmd.Flags().Duration("timeout", 2*time.Minute, "overall build timeout")
}

// --- Smile Command ---

var smileCmd = &cobra.Command{
	Use:   "smile [symbol]",
	Short: "Print the volatility smile nearest to a tenor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := utils.NormalizeSymbol(args[0])
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		eng, st, err := newEngine()
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		surf, err := eng.Surface(ctx, symbol)
		if err != nil {
			return err
		}

		tenor, _ := cmd.Flags().GetDuration("tenor")
		target := surf.AsOf().Add(tenor)
		expiries := surf.Expiries()
		best := expiries[0]
		for _, exp := range expiries[1:] {
			if absDuration(exp.Sub(target)) < absDuration(best.Sub(target)) {
				best = exp
			}
		}

		strikes, vols, err := surf.SmileByExpiry(best)
		if err != nil {
			return err
		}
		fmt.Printf("%s smile @ %s (as of %s)\n", symbol, best.Format("2006-01-02"), surf.AsOf().Format(time.RFC3339))
		for i := range strikes {
			fmt.Printf("  %8.2f  %.4f\n", strikes[i], vols[i])
		}
		return nil
	},
}

func init() {
	smileCmd.Flags().Duration("tenor", 30*24*time.Hour, "target time to expiry")
	smileCmd.Flags().Duration("timeout", 2*time.Minute, "build timeout")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, st, err := newEngine()
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		api.Version = version
		srv := api.NewServer(cfg, eng, st)
		eng.SetOnUpdate(srv.Hub().BroadcastSurface)

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("Starting volsurf API server on %s\n", addr)
		return srv.ListenAndServe(addr)
	},
}

// --- History Command ---

var historyCmd = &cobra.Command{
	Use:   "history [symbol]",
	Short: "List persisted surface snapshots for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Store.Enabled {
			return fmt.Errorf("persistence is disabled; enable store in config")
		}
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		keys, err := st.Keys(context.Background(), utils.NormalizeSymbol(args[0]))
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("no stored surfaces")
			return nil
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  volsurf — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time (UTC):    %s\n", time.Now().UTC().Format(time.RFC3339))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Symbols:       %v\n", cfg.Feed.Symbols)
		fmt.Printf("    Rate Limit:    %d per %s\n", cfg.Feed.RateLimitTokens, cfg.Feed.RateLimitInterval())
		fmt.Printf("    Risk-Free:     %.4f\n", cfg.Feed.RiskFreeRate)
		fmt.Printf("    Quote TTL:     %s\n", cfg.Cache.QuoteTTL())
		fmt.Printf("    Surface TTL:   %s\n", cfg.Cache.SurfaceTTL())
		fmt.Printf("    AsOf Bucket:   %s\n", cfg.Cache.AsOfInterval())
		fmt.Printf("    Store:         enabled=%v path=%s\n", cfg.Store.Enabled, cfg.Store.Path)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
