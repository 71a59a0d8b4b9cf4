package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"bookwell.io/internal/auth"
	"bookwell.io/internal/booking"
	"bookwell.io/internal/calendar"
	"bookwell.io/internal/config"
	"bookwell.io/internal/csrf"
	"bookwell.io/internal/delegation"
	"bookwell.io/internal/httpapi"
	"bookwell.io/internal/obs"
	"bookwell.io/internal/slots"
	"bookwell.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("BOOKWELL_CONFIG"), "path to YAML config")
	flag.Parse()

	log := obs.Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	obs.Init()
	obs.SetLevel(cfg.Log.Level)
	obs.InitBuildInfo(version, commit)
	log = obs.Logger()

	store, err := pg.Open(cfg.Database.DSN, pg.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	tokens, err := auth.NewTokens(cfg.Security.TokenSecret, auth.WithIssuer(cfg.Security.TokenIssuer))
	if err != nil {
		log.Fatal().Err(err).Msg("init tokens")
	}
	guard, err := csrf.NewManager(cfg.Security.CSRFSecret, csrf.WithSecure(cfg.Production))
	if err != nil {
		log.Fatal().Err(err).Msg("init csrf")
	}

	users := store.Users()
	delegations := store.Delegations()
	builder := delegation.NewBuilder()
	resolver := delegation.NewResolver(delegations,
		delegation.WithBuilder(builder),
		delegation.WithUserFinder(users),
	)
	// No provider adapters ship with this binary, so delegation checks answer
	// 422 (no calendar provider) until a factory is registered here.
	calendars := calendar.NewRegistry()

	ready := httpapi.ReadyFunc(store.Ping)
	api := httpapi.New(httpapi.Deps{
		Ready:       ready,
		Tokens:      tokens,
		CSRF:        guard,
		Slots:       slots.NewNormalizer(store.EventTypes(), users),
		Users:       users,
		Credentials: store.Credentials(),
		Delegated:   resolver,
		Hosts:       users,
		Notes:       booking.NewNoteWriter(store.Bookings()),
		Setup:       delegation.NewSetupChecker(delegations, calendars, builder),
	}, version,
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	httpapi.NewGRPCServer(ready).Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPC.Addr).Msg("grpc listen")
	}

	go func() {
		log.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc listening")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatal().Err(err).Msg("grpc serve")
		}
	}()

	go func() {
		log.Info().Str("version", version).Str("addr", srv.Addr).Msg("starting bookwell-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	log.Info().Msg("stopped")
}
