package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// NewHandler serves the recorder's registry in the Prometheus exposition format.
func NewHandler(r *PrometheusRecorder) http.Handler {
	return promhttp.HandlerFor(r.GetRegistry(), promhttp.HandlerOpts{
		Registry:          r.GetRegistry(),
		EnableOpenMetrics: true,
	})
}

// registerServer exposes the Prometheus registry on backfill.metrics.address while the
// application runs. Nothing is served for other backends.
func registerServer(lc fx.Lifecycle, cfg *config.Config, rec *PrometheusRecorder) {
	mc := cfg.Backfill.Metrics
	if mc.Backend != "prometheus" || mc.Address == "" {
		return
	}
	path := mc.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, NewHandler(rec))
	srv := &http.Server{Addr: mc.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", mc.Address)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics server stopped: %v", err)
				}
			}()
			logger.Infof("Serving metrics on %s%s.", mc.Address, path)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
