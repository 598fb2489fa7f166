package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"deskhive.dev/internal/config"
	"deskhive.dev/internal/httpapi"
	"deskhive.dev/internal/identity"
	"deskhive.dev/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		db    *sql.DB
		store identity.Store
	)
	if cfg.DatabaseDSN != "" {
		db, err = identity.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = identity.NewPGStore(db)
	} else {
		log.Warn("no DESKHIVE_PG_DSN set, using in-memory store")
		store = identity.NewMemoryStore()
	}

	svc, err := identity.NewService(store, cfg.AuthSecret,
		identity.WithIssuer(cfg.Issuer),
		identity.WithAccessTTL(cfg.AccessTTL),
		identity.WithRefreshTTL(cfg.RefreshTTL),
		identity.WithInvitationTTL(cfg.InvitationTTL),
		identity.WithSessionCap(cfg.SessionCap),
	)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	sweeper, err := identity.NewSweeper(svc, cfg.SweepSchedule, log)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	sweeper.Start()

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(svc, probe, version, httpapi.Options{
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		MaxBodyBytes:       cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.WithField("addr", cfg.Addr).Infof("starting deskhive-identity %s", version)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewGRPCServer(probe))
		log.WithField("addr", cfg.GRPCAddr).Info("grpc health service up")
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	sweeper.Stop()
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}
