// Command fleet-ingestor is the ingestion core's single process: it
// starts the Webhook Ingress HTTP listener and the Poller in the same
// binary, sharing one Pipeline, one vendor Registry and one Database-
// Routing Resolver between them (spec.md §3, §9). Grounded on the
// teacher's cmd/gateway/main.go for the listener/middleware/graceful-
// shutdown shape; the Poller's Start/Stop lifecycle is layered on top of
// that same shutdown dance rather than the teacher's own worker startup
// (which this repository has no equivalent of).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cleanfleet/telemetry-core/internal/config"
	"github.com/cleanfleet/telemetry-core/internal/httputil"
	"github.com/cleanfleet/telemetry-core/internal/logging"
	"github.com/cleanfleet/telemetry-core/internal/metrics"
	"github.com/cleanfleet/telemetry-core/internal/middleware"
	"github.com/cleanfleet/telemetry-core/internal/poller"
	"github.com/cleanfleet/telemetry-core/internal/webhook"
	"github.com/cleanfleet/telemetry-core/pkg/catalog"
	"github.com/cleanfleet/telemetry-core/pkg/notify"
	"github.com/cleanfleet/telemetry-core/pkg/pipeline"
	"github.com/cleanfleet/telemetry-core/pkg/routing"
	"github.com/cleanfleet/telemetry-core/pkg/store"
	"github.com/cleanfleet/telemetry-core/pkg/vendor"
	"github.com/cleanfleet/telemetry-core/pkg/vendor/gausium"
	"github.com/cleanfleet/telemetry-core/pkg/vendor/mapping"
	"github.com/cleanfleet/telemetry-core/pkg/vendor/pudu"
)

const (
	readTimeout       = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	log := logging.NewFromEnv("fleet-ingestor")

	cfg, err := config.Load()
	if err != nil {
		log.WithContext(context.Background()).WithField("error", err.Error()).Error("failed to load configuration")
		os.Exit(1)
	}
	log = logging.New("fleet-ingestor", cfg.Logging)

	if err := run(cfg, log); err != nil {
		log.WithContext(context.Background()).WithField("error", err.Error()).Error("fatal startup error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	router, err := routing.Load(cfg.Paths.DatabaseRouting)
	if err != nil {
		return fmt.Errorf("load database routing: %w", err)
	}

	cat, err := catalog.Load(cfg.Paths.Credentials)
	if err != nil {
		return fmt.Errorf("load credentials catalog: %w", err)
	}

	registry, webhookSecrets, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build vendor registry: %w", err)
	}

	dsnFor, err := dsnResolver(cfg)
	if err != nil {
		return fmt.Errorf("build database resolver: %w", err)
	}
	writer := store.New(dsnFor)
	defer writer.Close()

	notifier := notify.New(
		&http.Client{Timeout: cfg.Notification.Timeout},
		cfg.Notification.Host,
		writer,
		nil,
	)

	pl := pipeline.New(router, writer, notifier)

	m := metrics.Init("fleet-ingestor")

	webhookSrv := webhook.New(registry, pl, webhookSecrets, log, router)
	mountOperational(webhookSrv.Router(), log, m)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           webhookSrv.Router(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	pollWorker, err := poller.New(cat, router, registry, pl, log, cfg.Poller, cfg.Redis.Addr)
	if err != nil {
		return fmt.Errorf("build poller: %w", err)
	}

	pollerCtx, cancelPoller := context.WithCancel(context.Background())
	defer cancelPoller()

	errCh := make(chan error, 1)
	go func() {
		log.WithContext(context.Background()).WithField("addr", httpSrv.Addr).Info("webhook ingress listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("webhook listener: %w", err)
		}
	}()

	// Start schedules the fetch loop in the background and returns once
	// registered; it does not block for the lifetime of the process.
	if err := pollWorker.Start(pollerCtx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithContext(context.Background()).WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-errCh:
		log.WithContext(context.Background()).WithField("error", err.Error()).Error("unrecoverable runtime error")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	pollWorker.Stop(shutdownCtx)
	cancelPoller()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook listener shutdown: %w", err)
	}

	log.WithContext(context.Background()).Info("shutdown complete")
	return nil
}

// defaultRateLimit bounds each (tenant, vendor) guarded adapter to 5
// requests/sec with a burst of 10, absent a per-deployment override
// (spec.md §4.A: the Registry wraps every adapter with a rate limiter).
const (
	defaultRateLimitPerSec = 5.0
	defaultRateLimitBurst  = 10
)

// buildRegistry constructs the vendor Registry with every known adapter
// registered, loading each one's declarative mapping spec from
// cfg.Paths.AdaptersDir. It also returns the webhook verification secret
// configured per vendor, read from cfg.WebhookSecrets.
func buildRegistry(cfg *config.Config) (*vendor.Registry, map[string]string, error) {
	registry := vendor.NewRegistry(defaultRateLimitPerSec, defaultRateLimitBurst)
	secrets := make(map[string]string)

	puduSpec, err := mapping.Load(cfg.Paths.AdaptersDir + "/pudu.yaml")
	if err != nil {
		return nil, nil, fmt.Errorf("load pudu adapter spec: %w", err)
	}
	registry.Register(pudu.New(puduSpec))
	secrets["pudu"] = cfg.WebhookSecrets["pudu"]

	gausiumSpec, err := mapping.Load(cfg.Paths.AdaptersDir + "/gausium.yaml")
	if err != nil {
		return nil, nil, fmt.Errorf("load gausium adapter spec: %w", err)
	}
	registry.Register(gausium.New(gausiumSpec))
	secrets["gausium"] = cfg.WebhookSecrets["gausium"]

	return registry, secrets, nil
}

// dsnResolver builds the database -> (DSN, pool settings) lookup
// pkg/store.Writer uses to open a connection pool lazily, the first time
// a given database name is written to (spec.md §4.I).
func dsnResolver(cfg *config.Config) (func(database string) (string, store.PoolSettings, error), error) {
	type dbInfo struct {
		dsn      string
		settings store.PoolSettings
	}
	dbs := make(map[string]dbInfo, len(cfg.Databases))
	for _, db := range cfg.Databases {
		dbs[db.Tenant] = dbInfo{
			dsn: db.DSN,
			settings: store.PoolSettings{
				MaxOpenConns:    db.MaxOpenConns,
				MaxIdleConns:    db.MaxIdleConns,
				ConnMaxLifetime: time.Duration(db.ConnMaxLifetime) * time.Second,
			},
		}
	}
	return func(database string) (string, store.PoolSettings, error) {
		info, ok := dbs[database]
		if !ok {
			return "", store.PoolSettings{}, fmt.Errorf("no database configured for %q", database)
		}
		return info.dsn, info.settings, nil
	}, nil
}

// mountOperational adds the process-wide /metrics endpoint and request
// logging/recovery/metrics middleware on top of the webhook ingress's own
// routes, so the same listener serves both.
func mountOperational(r *mux.Router, log *logging.Logger, m *metrics.Metrics) {
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogging(log))
	r.Use(middleware.Metrics(m))
	r.Use(httputil.CORSMiddleware(nil))
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}
