package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"admin-gate/internal/config"
	"admin-gate/internal/factory"
	"admin-gate/internal/handler"
	"admin-gate/internal/util"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Initialize factory (which validates config and initializes all clients)
	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	router := setupRouter(f)

	var servers []*http.Server
	if cfg.Server.EnableTLS {
		tlsManager := f.TLSManager()
		servers = append(servers,
			&http.Server{
				Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort),
				Handler:      router,
				TLSConfig:    tlsManager.GetTLSConfig(),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			},
			// Plain HTTP answers ACME challenges and redirects everything else.
			&http.Server{
				Addr:              cfg.GetServerAddress(),
				Handler:           tlsManager.HTTPHandler(redirectToHTTPS(cfg.Server.TLSPort)),
				ReadHeaderTimeout: 5 * time.Second,
			},
		)
		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		servers = append(servers, &http.Server{
			Addr:         cfg.GetServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		})
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	if err := run(ctx, f, servers); err != nil {
		util.Error("Server stopped with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	logger := util.Get()

	sessions := &handler.SessionCookies{
		Name:   cfg.Auth.SessionCookieName,
		Secure: cfg.Server.EnableTLS,
	}
	authHandler := handler.NewAuthHandler(f.Guard(), sessions, handler.MonitorIntervals{
		Lock:    cfg.Auth.LockCountdownInterval,
		Session: cfg.Auth.SessionCheckInterval,
	}, logger)
	adminHandler := handler.NewAdminHandler(f.Guard(), sessions, logger)

	return handler.NewRouter(authHandler, adminHandler, f, handler.RouterOptions{
		RequireTLS:     cfg.Server.EnableTLS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	}, logger)
}

func redirectToHTTPS(port int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}
		if port != 443 {
			host = net.JoinHostPort(host, strconv.Itoa(port))
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

// run serves until ctx is cancelled, then shuts every server down. The gate
// monitor runs alongside for the lifetime of the process.
func run(ctx context.Context, f *factory.Factory, servers []*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return f.RunMonitor(gctx)
	})

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	util.Info("Server started successfully", util.Int("listeners", len(servers)))

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
			} else {
				util.Info("Server shutdown completed", util.String("address", srv.Addr))
			}
		}
		return nil
	})

	return g.Wait()
}
