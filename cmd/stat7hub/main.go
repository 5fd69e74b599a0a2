// stat7hub is the cross-world coordination hub: a WebSocket fan-out server
// with STAT7 addressing and a control-tick orchestrator.
//
// Exit codes: 0 normal shutdown, 1 configuration error, 2 bind failure,
// 3 unrecoverable internal error.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openmultiverse/stat7hub/internal/api"
	"github.com/openmultiverse/stat7hub/internal/archive"
	"github.com/openmultiverse/stat7hub/internal/hub"
	"github.com/openmultiverse/stat7hub/internal/orchestrator"
	"github.com/openmultiverse/stat7hub/pkg/config"
	"github.com/openmultiverse/stat7hub/pkg/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "stat7hub:", err)
		return 1
	}

	lg := telemetry.NewLogger(os.Stdout, "stat7hub", telemetry.ParseLevel(cfg.LogLevel))
	met := telemetry.NewMetrics()
	orch := orchestrator.New(cfg, lg, met)

	var sink *archive.Sink
	if cfg.ArchiveDriver != "" {
		sink, err = archive.Open(cfg.ArchiveDriver, cfg.ArchiveDSN, lg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "stat7hub:", err)
			return 1
		}
		defer sink.Close()
		orch.SetArchiver(sink)
	}

	h := hub.New(cfg, lg, orch)
	router := api.NewRouter(lg, orch, h, met)

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		fmt.Fprintln(os.Stderr, "stat7hub: bind:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	if sink != nil {
		go sink.Run(ctx)
	}

	lg.Info("stat7hub listening", map[string]any{
		"addr":            cfg.ListenAddr(),
		"tick_period_ms":  cfg.TickPeriodMS,
		"control_divisor": cfg.ControlTickDivisor,
		"buffer_max":      cfg.BufferMax,
		"archive":         cfg.ArchiveDriver,
	})

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		_ = orch.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		<-orchDone
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
		defer cancel()
		_ = srv.Shutdown(shCtx)
		lg.Info("shutdown complete", nil)
		return 0
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return 0
		}
		lg.Error("server failed", map[string]any{"err": err})
		return 3
	}
}
