package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/tierkit/pkg/api"
	"github.com/dmitrymomot/tierkit/pkg/config"
	"github.com/dmitrymomot/tierkit/pkg/httpserver"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	var (
		httpCfg httpserver.Config
		apiCfg  api.Config
	)
	if err := config.Load(&httpCfg); err != nil {
		return err
	}
	if err := config.Load(&apiCfg); err != nil {
		return err
	}

	opts := []api.Option{
		api.WithLogger(a.log),
		api.WithConfig(apiCfg),
	}
	if a.paddle != nil {
		opts = append(opts, api.WithPaddle(a.paddle))
	}
	for name, check := range a.checks {
		opts = append(opts, api.WithReadinessCheck(name, check))
	}
	if a.cfg.MetricsAddr != "" {
		opts = append(opts, api.WithMetricsHandler(http.NotFoundHandler()))
	}
	handler := api.NewRouter(a.svc, a.ledger, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(a.log)).Run(ctx, handler)
	})
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := httpserver.New(httpserver.WithAddr(a.cfg.MetricsAddr), httpserver.WithLogger(a.log))
			return srv.Run(ctx, mux)
		})
	}
	return g.Wait()
}
