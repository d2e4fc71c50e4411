// Command server runs an example lucets application. It authenticates
// upgrade requests with a JWT bearer token, greets each connection and
// echoes every message back. Faults can be published to NATS and metrics
// are served for Prometheus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/lucets/lucets"
	"github.com/lucets/lucets/hooks"
	"github.com/lucets/lucets/metrics"
	natsreport "github.com/lucets/lucets/nats-report"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "lucets.toml", "path to the TOML config file")
	signFor := flag.String("sign", "", "print a token for the given user and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	cfg, err := loadConfig(*configPath, nil)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *signFor != "" {
		token, err := signToken(*signFor, cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			logger.Error("failed to sign token", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	level, _ := cfg.level()
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		logger.Error(fmt.Sprintf("lucets example server terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("lucets example server stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	registry := prometheus.NewRegistry()
	app := newApplication(cfg, logger, registry)

	if cfg.NATSURL != "" {
		reporter, conn, err := natsreport.Connect(cfg.NATSURL, cfg.NATSSubject, nats.Name("lucets-example"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer conn.Drain()
		reporter.SetLogger(logger)
		app.OnError(reporter.Observe)
		logger.Info("publishing faults to NATS", slog.String("subject", cfg.NATSSubject))
	}

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           newRouter(cfg, app, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server started", slog.String("address", cfg.Address), slog.String("path", cfg.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

func newApplication(cfg Config, logger *slog.Logger, registry prometheus.Registerer) *lucets.Application {
	app := lucets.NewApplication()
	app.SetLogger(logger)
	app.SetMetrics(metrics.New("lucets", registry))
	app.SetOrigins(cfg.Origins)
	app.SetReadLimit(cfg.ReadLimit)

	if cfg.JWTSecret != "" {
		app.UseUpgrade(lucets.PreUpgrade, requireToken(cfg.JWTSecret))
	} else {
		logger.Warn("no JWT secret configured, connections are not authenticated")
	}

	app.UseUpgrade(lucets.PostUpgrade, welcome)
	app.UseMessage(echo)

	app.OnError(func(err error, ctx *lucets.Context) {
		logger.Error("server fault",
			slog.String("connection", ctx.ID()),
			slog.String("state", ctx.State().String()),
			slog.String("error", err.Error()),
		)
	})

	return app
}

func newRouter(cfg Config, app *lucets.Application, registry *prometheus.Registry) http.Handler {
	router := mux.NewRouter()
	router.Handle(cfg.Path, app).Methods(http.MethodGet)
	router.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

func welcome(ctx *lucets.Context, next hooks.Next) error {
	greeting := map[string]any{
		"type":       "welcome",
		"connection": ctx.ID(),
	}
	if user, ok := ctx.Get(userKey); ok {
		greeting["user"] = user
	}
	if err := ctx.Send(greeting); err != nil {
		return err
	}
	return next()
}

func echo(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
	return ctx.Send(map[string]any{
		"type": "echo",
		"data": msg.Data,
	})
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
