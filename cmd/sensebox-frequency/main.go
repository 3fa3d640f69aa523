package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/afero"

	httpapi "github.com/i474232898/sensebox-frequency/internal/api/http"
	"github.com/i474232898/sensebox-frequency/internal/config"
	"github.com/i474232898/sensebox-frequency/internal/logging"
	"github.com/i474232898/sensebox-frequency/internal/publish"
	"github.com/i474232898/sensebox-frequency/internal/scheduler"
	"github.com/i474232898/sensebox-frequency/internal/sensebox"
	"github.com/i474232898/sensebox-frequency/internal/sensebox/providers"
	"github.com/i474232898/sensebox-frequency/internal/store"
)

const appName = "sensebox-frequency"

const usage = `usage: sensebox-frequency [run] [flags]   fetch, merge and compute once
       sensebox-frequency serve             run on a schedule and serve reports over HTTP`

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg := logging.New(os.Stderr, cfg, appName)

	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		err = runOnce(ctx, cfg, lg, args, os.Stdout)
	case "serve":
		err = serve(ctx, cfg, lg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		lg.Error("sensebox-frequency failed", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}

func newService(cfg *config.AppConfig, lg *slog.Logger, opts ...sensebox.Option) *sensebox.Service {
	// Shared HTTP client for outbound API calls.
	httpCfg := providers.HTTPClientConfig{
		Client: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		Backoff: providers.BackoffConfig{
			MaxRetries:      cfg.HTTPMaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		UserAgent: cfg.UserAgent,
	}

	geocoder := providers.NewNominatimGeocoder(httpCfg, cfg.NominatimURL, lg)
	source := providers.NewOpenSenseMapSource(httpCfg, cfg.OpenSenseMapURL, lg)

	return sensebox.NewService(geocoder, source, afero.NewOsFs(), lg, opts...)
}

func runOnce(ctx context.Context, cfg *config.AppConfig, lg *slog.Logger, args []string, out io.Writer) error {
	if err := cfg.ApplyRunFlags(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	service := newService(cfg, lg)
	report, err := service.Run(ctx, cfg.RunRequests(false)[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Bounding box of %s retrieved: %s\n", report.City, report.BBox)
	for _, f := range report.Files {
		fmt.Fprintf(out, "Saved: %s\n", f)
	}
	fmt.Fprintf(out, "Merged data saved to: %s\n", report.MergedFile)
	fmt.Fprintf(out, "Number of Sensors: %d\n", report.SensorCount)
	fmt.Fprintf(out, "Data acquisition frequency saved to '%s'.\n", report.OutputFile)
	return nil
}

func serve(ctx context.Context, cfg *config.AppConfig, lg *slog.Logger) error {
	if err := cfg.ValidateSchedule(); err != nil {
		return err
	}

	reportStore, closeStore, err := openStore(cfg, lg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []sensebox.Option{sensebox.WithStore(reportStore)}
	if cfg.MQTTBroker != "" {
		pub := publish.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, lg)
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := pub.Connect(connectCtx)
		cancel()
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, sensebox.WithPublisher(pub))
	}

	// Core service orchestrating the pipeline and store.
	service := newService(cfg, lg, opts...)

	// Scheduler that periodically runs the pipeline for every city.
	sched := scheduler.New(cfg.RunRequests(true), cfg.FetchInterval, cfg.FetchCron, 5*time.Minute, service, lg)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := newApp(service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Error("fiber server stopped", "error", err)
		}
	}()
	lg.Info("serving frequency reports", "port", cfg.Port, "cities", cfg.Cities)

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Error("error during shutdown", "error", err)
	}
	return nil
}

func newApp(service httpapi.Service) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
		})
	})

	httpapi.RegisterRoutes(app, service)
	return app
}

func openStore(cfg *config.AppConfig, lg *slog.Logger) (sensebox.Store, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite3":
		s, err := store.OpenSQLite(cfg.SQLitePath, cfg.StoreMaxHistory, cfg.StoreMaxAge, lg)
		if err != nil {
			return nil, nil, fmt.Errorf("open report store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge), func() {}, nil
	}
}
