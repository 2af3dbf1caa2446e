package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/churnrunner/internal/logger"
	"github.com/wolfeidau/churnrunner/internal/pipeline"
	"github.com/wolfeidau/churnrunner/internal/server"
	postgresstore "github.com/wolfeidau/churnrunner/internal/store/postgres"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
	"github.com/wolfeidau/churnrunner/internal/worker"
)

type ServeCmd struct {
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"CHURN_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"CHURN_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"CHURN_TLS_KEY"`

	CORSOrigins    []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"CHURN_CORS_ORIGINS"`
	MaxUploadBytes int64    `help:"maximum accepted CSV upload size in bytes" default:"104857600" env:"CHURN_MAX_UPLOAD_BYTES"`

	PipelineConfig string  `help:"path to the pipeline YAML configuration" default:"" env:"CHURN_PIPELINE_CONFIG" type:"existingfile"`
	Tracing        bool    `help:"enable OpenTelemetry tracing and metrics export" default:"false" env:"CHURN_TRACING"`
	TraceSample    float64 `help:"fraction of root traces sampled when tracing" default:"1.0" env:"CHURN_TRACE_SAMPLE"`
	NoWorker       bool    `help:"serve the API without processing background jobs" default:"false" env:"CHURN_NO_WORKER"`

	StoreType     string        `help:"store type (memory or postgres)" default:"memory" env:"CHURN_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresFlags `embed:"" prefix:"postgres-"`
	Blob          BlobFlags     `embed:"" prefix:"blob-"`
	Worker        WorkerFlags   `embed:"" prefix:"worker-"`

	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests and jobs on shutdown" default:"30s"`
}

type WorkerFlags struct {
	Concurrency       int           `help:"number of concurrent job loops" default:"0" env:"CHURN_WORKER_CONCURRENCY"`
	VisibilityTimeout time.Duration `help:"job visibility timeout" default:"0s" env:"CHURN_WORKER_VISIBILITY_TIMEOUT"`
}

// apply overrides the YAML worker settings with any flags that were set.
func (f WorkerFlags) apply(cfg *worker.Config) {
	if f.Concurrency > 0 {
		cfg.Concurrency = f.Concurrency
	}
	if f.VisibilityTimeout > 0 {
		cfg.VisibilityTimeout = f.VisibilityTimeout
		cfg.HeartbeatInterval = f.VisibilityTimeout / 3
	}
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Options{
			ServiceName: "churnrunner-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSample,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	cfg, err := pipeline.LoadConfig(c.PipelineConfig)
	if err != nil {
		return err
	}
	c.Worker.apply(&cfg.Worker)
	if err := cfg.Worker.Validate(); err != nil {
		return fmt.Errorf("invalid worker configuration: %w", err)
	}

	stores, pool, err := openStores(ctx, c.StoreType, &c.PostgresStore)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	blobs, err := c.Blob.newStore(ctx)
	if err != nil {
		return err
	}

	svc := pipeline.New(cfg, stores, blobs)

	var handler http.Handler = server.NewServer(svc, server.WithMaxUploadBytes(c.MaxUploadBytes)).
		Handler(log, c.CORSOrigins)
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "churnrunner-api")
	}

	srv := configureHTTPServer(c.Listen, handler)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		var err error
		if c.Cert != "" {
			err = srv.ListenAndServeTLS(c.Cert, c.Key)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	if !c.NoWorker {
		w := worker.New(stores.Jobs, cfg.Worker)
		svc.Register(w)
		g.Go(func() error {
			return w.Run(gctx)
		})
	} else {
		log.Warn().Msg("Background worker disabled (--no-worker), jobs will queue until a worker runs")
	}

	if pool != nil && c.PostgresStore.MonitorInterval > 0 {
		g.Go(func() error {
			postgresstore.MonitorPool(gctx, pool, c.PostgresStore.MonitorInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
