package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/adamscao/vpnaccess/internal/access"
	"github.com/adamscao/vpnaccess/internal/api"
	"github.com/adamscao/vpnaccess/internal/app"
	"github.com/adamscao/vpnaccess/internal/config"
	"github.com/adamscao/vpnaccess/internal/logs"
	"github.com/adamscao/vpnaccess/internal/status"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	pruneInterval     = 24 * time.Hour
	reconcileInterval = time.Minute
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/vpnaccess/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("VPN Access Server\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logs.New(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	log.WithFields(logrus.Fields{"version": Version, "commit": Commit}).Info("starting vpn access server")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped with error")
	}

	log.Info("server stopped")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.WithFields(logrus.Fields{
		"database": cfg.Database.Path,
		"mfa":      cfg.MFA.Enabled,
		"vpn_host": cfg.VPN.Host,
	}).Info("components initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		status.NewCollector(a.Status),
	)

	srv := api.NewServer(cfg, a.Access, registry, log).HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if retention := cfg.GetRetention(); retention > 0 {
		g.Go(func() error {
			pruneLoop(gctx, a.Access, retention, log)
			return nil
		})
	}

	g.Go(func() error {
		reconcileLoop(gctx, a.Access, log)
		return nil
	})

	return g.Wait()
}

// pruneLoop deletes expired connection events once at startup and then daily
func pruneLoop(ctx context.Context, svc *access.Service, retention time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := svc.PruneHistory(ctx, retention)
		if err != nil {
			log.WithError(err).Warn("connection history prune failed")
		} else if n > 0 {
			log.WithField("deleted", n).Info("pruned connection history")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reconcileLoop warns about connected clients that hold no active credential
func reconcileLoop(ctx context.Context, svc *access.Service, log logrus.FieldLogger) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			unknown, err := svc.UnknownClients(ctx)
			if err != nil {
				log.WithError(err).Warn("client reconciliation failed")
				continue
			}
			for _, cl := range unknown {
				log.WithFields(logrus.Fields{
					"common_name":     cl.CommonName,
					"real_address":    cl.RealAddress,
					"connected_since": cl.ConnectedSince,
				}).Warn("connected client has no active vpn access")
			}
		}
	}
}
