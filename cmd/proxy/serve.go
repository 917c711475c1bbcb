package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ppmgo/ppm/internal/acme"
	"github.com/ppmgo/ppm/internal/adminapi"
	"github.com/ppmgo/ppm/internal/certcache"
	"github.com/ppmgo/ppm/internal/config"
	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/proxy"
	"github.com/ppmgo/ppm/internal/snapshot"
	"github.com/ppmgo/ppm/internal/stats"
	"github.com/ppmgo/ppm/internal/store"
	"github.com/ppmgo/ppm/internal/stream"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the proxy, stream forwarder, and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	var logLevel slog.LevelVar
	logLevel.Set(parseLevel(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))
	cfg.Watch(func(level string, trustedProxyIPs []string) {
		logLevel.Set(parseLevel(level))
		logger.Info("config reloaded", "log_level", level, "trusted_proxy_ips", trustedProxyIPs)
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	accessLogger := slog.New(slog.NewJSONHandler(&lumberjack.Logger{
		Filename: filepath.Join(cfg.LogDir, "access.log"),
		MaxSize:  100,
		MaxAge:   28,
		Compress: true,
	}, nil))

	logger.Info("config loaded",
		"http_addr", cfg.HTTPAddr, "https_addr", cfg.HTTPSAddr, "admin_addr", cfg.AdminAddr,
		"data_dir", cfg.DataDir)

	// --- Persistent Store ---
	st, err := store.Open(filepath.Join(cfg.DataDir, "ppm.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := seedTrustedProxyIPs(ctx, st, cfg.TrustedProxyIPs); err != nil {
		return fmt.Errorf("seeding trusted proxy ips: %w", err)
	}

	// --- Certificate Catalog ---
	fallback, err := certcache.GenerateFallback()
	if err != nil {
		return fmt.Errorf("generating fallback certificate: %w", err)
	}
	catalog := certcache.New(fallback)

	// --- Config Snapshot Publisher ---
	publisher := snapshot.New(st, catalog, logger)
	if _, err := publisher.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}

	// --- ACME Worker ---
	tokens, err := acme.NewTokenStore(filepath.Join(cfg.DataDir, "acme-tokens"))
	if err != nil {
		return fmt.Errorf("opening acme token store: %w", err)
	}
	acmeWorker := acme.New(acme.Config{
		CertbotPath:       cfg.CertbotPath,
		DataDir:           cfg.DataDir,
		DNSNameserver:     cfg.ACMEDNSNameserver,
		InvocationTimeout: cfg.ACMEInvocationTimeout,
		ChallengeTimeout:  cfg.ACMEChallengeTimeout,
		RenewalWindow:     cfg.ACMERenewalWindow,
		ScanInterval:      cfg.ACMERenewalScanInterval,
	}, st, catalog, publisher, tokens, logger)

	// --- Stream Forwarder ---
	forwarder := stream.New(logger)
	forwarder.Seed(publisher.Current())
	publisher.OnStreamDiff(forwarder.ApplyDiff)

	// --- Statistics Collector + Proxy Engine ---
	collector := stats.New()
	engine := proxy.New(publisher, tokens, collector, logger)
	proxyHandler := accessLogMiddleware(accessLogger, engine)

	// --- Admin API + static UI ---
	adminSrv := adminapi.New(st, publisher, acmeWorker, collector, cfg.JWTSecret, cfg.LogDir, logger)
	adminMux := http.NewServeMux()
	adminMux.Handle("/api/", adminSrv)
	adminMux.Handle("/metrics", adminSrv)
	adminMux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: proxyHandler}
	httpsServer := &http.Server{
		Addr:    cfg.HTTPSAddr,
		Handler: proxyHandler,
		TLSConfig: &tls.Config{
			GetCertificate: catalog.GetCertificate,
		},
	}
	adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("received shutdown signal")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http proxy listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("https proxy listening", "addr", cfg.HTTPSAddr)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("https server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("admin api listening", "addr", cfg.AdminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		acmeWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = httpsServer.Shutdown(shutdownCtx)
		_ = adminServer.Shutdown(shutdownCtx)
		forwarder.Shutdown(shutdownCtx, cfg.ShutdownGrace)
		return nil
	})

	return g.Wait()
}

// seedTrustedProxyIPs installs the configured default trusted-proxy set on
// first boot only; once an operator has edited the set via the admin API, an
// empty store reading the config's defaults would be indistinguishable from
// an operator who intentionally cleared it, so this only fires against a
// genuinely empty table.
func seedTrustedProxyIPs(ctx context.Context, st *store.Store, defaults []string) error {
	full, err := st.ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(full.Settings.TrustedProxyIPs) > 0 {
		return nil
	}
	audit := model.AuditEvent{Actor: "system", Action: "seed", ResourceType: "setting", ResourceID: "trusted_proxy_ips"}
	for _, ip := range defaults {
		if err := st.AddTrustedProxyIP(ctx, ip, audit); err != nil {
			return err
		}
	}
	return nil
}
