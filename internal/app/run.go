package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"hydrobloom-server/internal/config"
	httpapi "hydrobloom-server/internal/httpapi"
	"hydrobloom-server/internal/metrics"
	monitor "hydrobloom-server/internal/modules/monitor"
	monitorservice "hydrobloom-server/internal/modules/monitor/service"
	monitorviews "hydrobloom-server/internal/modules/monitor/views"
	"hydrobloom-server/internal/schedule"
	"hydrobloom-server/internal/telemetry"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	seed := cfg.SimSeed
	if !cfg.HasSimSeed {
		seed = time.Now().UnixNano()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"tickInterval", cfg.TickInterval.String(),
		"refreshDelay", cfg.RefreshDelay.String(),
		"simSeed", seed,
		"farmProfile", cfg.ProfilePath,
		"ecRange", cfg.Farm.ECRange.String(),
		"waterLow", cfg.Farm.Water.Low,
		"waterCritical", cfg.Farm.Water.Critical,
	)

	if err := monitorviews.LoadTemplates(); err != nil {
		return err
	}

	sched := schedule.NewSerial(logger)
	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(schedCtx)
	}()

	rec := metrics.New()
	sim := telemetry.NewSimulator(telemetry.NewSource(seed), nil)
	dashboard, err := monitorservice.New(sched, sim, rec, logger, monitorservice.Options{
		Farm:         cfg.Farm,
		TickInterval: cfg.TickInterval,
		RefreshDelay: cfg.RefreshDelay,
	})
	if err != nil {
		return err
	}
	if err := dashboard.Start(ctx); err != nil {
		return err
	}

	mux := httpapi.NewMux(sched, rec.Handler())
	monitor.RegisterFeature(mux, dashboard)
	srv := httpapi.NewServer(cfg, mux)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stopSimulation(dashboard, sched, stopSched, schedDone, logger)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stopping the dashboard first closes websocket subscriptions, which
	// Shutdown does not track.
	stopSimulation(dashboard, sched, stopSched, schedDone, logger)

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

func stopSimulation(dashboard *monitorservice.Dashboard, sched *schedule.Serial, stopSched context.CancelFunc, schedDone <-chan struct{}, logger *slog.Logger) {
	logger.Info("simulation stopping")
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dashboard.Stop(stopCtx); err != nil {
		logger.Error("dashboard stop", "error", err)
	}
	sched.Close()
	stopSched()
	<-schedDone
}
