package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sblgo/sbl/pkg/logger"
	"github.com/sblgo/sbl/pkg/pool"
	"github.com/sblgo/sbl/pkg/sqladapter"
)

// PoolOptions holds flags of the pool query command.
type PoolOptions struct {
	SQL         string
	File        string
	Workers     int
	Concurrency int
	Repeat      int
	Respawn     bool
	MetricsAddr string
}

// PoolResult summarizes a pool query run.
type PoolResult struct {
	Requests int           `json:"requests"`
	OK       int64         `json:"ok"`
	Failed   int64         `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
	Workers  int           `json:"workers"`
}

// NewPoolCommand creates the pool command.
func NewPoolCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PoolOptions{}

	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Send queries through a connection pool",
	}

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Submit a query many times concurrently",
		Long: `Open a pool of authenticated connections and submit the same query
--repeat times from --concurrency goroutines. Prints how many requests
succeeded and failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPoolQuery(cmd, rootOpts, opts)
		},
	}
	flags := queryCmd.Flags()
	flags.StringVar(&opts.SQL, "sql", "", "query to submit")
	flags.StringVarP(&opts.File, "file", "f", "", "file holding the query to submit")
	flags.IntVarP(&opts.Workers, "workers", "w", 0, "pool size (defaults to the configured pool size)")
	flags.IntVar(&opts.Concurrency, "concurrency", 10, "concurrent submitters")
	flags.IntVar(&opts.Repeat, "repeat", 1, "number of submissions")
	flags.BoolVar(&opts.Respawn, "respawn", false, "reopen connections of failed workers")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve pool metrics on this address while running")
	queryCmd.MarkFlagsMutuallyExclusive("sql", "file")
	cmd.AddCommand(queryCmd)

	return cmd
}

func runPoolQuery(cmd *cobra.Command, rootOpts *RootOptions, opts *PoolOptions) error {
	ctx := cmd.Context()
	log := rootOpts.Log()

	sql := sqladapter.FromText(opts.SQL)
	if opts.File != "" {
		var err error
		if sql, err = sqladapter.FromFile(opts.File); err != nil {
			return WrapExitError(ExitCommandError, "failed to read sql file", err)
		}
	}
	if sql == "" {
		return NewExitError(ExitCommandError, "no query given, use --sql or --file")
	}
	if opts.Concurrency < 1 || opts.Repeat < 1 {
		return NewExitError(ExitCommandError, "--concurrency and --repeat must be at least 1")
	}

	cfg, err := rootOpts.Config(cmd)
	if err != nil {
		return err
	}
	if opts.Workers > 0 {
		cfg.PoolSize = opts.Workers
	}

	reg := prometheus.NewRegistry()
	poolOpts := []pool.Option{pool.WithRegisterer(reg), pool.WithLogger(log)}
	if opts.Respawn {
		poolOpts = append(poolOpts, pool.WithRespawn(pool.NewExponentialBackoff()))
	}

	if opts.MetricsAddr != "" {
		stop, err := serveMetrics(opts.MetricsAddr, reg, log)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stop()
	}

	p, err := pool.New(ctx, cfg, poolOpts...)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.Close(closeCtx); err != nil {
			log.Warn("pool did not close cleanly", "error", err)
		}
	}()

	var ok, failed atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := 0; i < opts.Repeat; i++ {
		g.Go(func() error {
			_, err := p.Statements(gctx, sql, nil)
			if err != nil {
				failed.Add(1)
				log.Debug("query failed", "request", i, "error", err)
				if errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res := PoolResult{
		Requests: opts.Repeat,
		OK:       ok.Load(),
		Failed:   failed.Load(),
		Elapsed:  time.Since(start),
		Workers:  p.Workers(),
	}
	text := fmt.Sprintf("%d requests: %d ok, %d failed in %s on %d workers",
		res.Requests, res.OK, res.Failed, res.Elapsed.Round(time.Millisecond), res.Workers)
	if err := rootOpts.formatter(cmd).Success(text, res); err != nil {
		return err
	}
	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d requests failed", res.Failed, res.Requests))
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return serveMetricsOn(ln, reg, log), nil
}

func serveMetricsOn(ln net.Listener, reg *prometheus.Registry, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Debug("failed to shut down metrics server", "error", err)
		}
	}
}
