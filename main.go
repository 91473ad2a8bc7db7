package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"ytdlapi/api"
	"ytdlapi/config"
	"ytdlapi/fetch"
	"ytdlapi/ffmpeg"
	"ytdlapi/media"
	"ytdlapi/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Media source and muxer
	ffmpegRunner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg runner: %v", err)
	}
	if bin, err := ffmpegRunner.Resolve(); err != nil {
		log.Printf("Warning: %v. Requests above %dp will fail until ffmpeg is available.", err, fetch.ProgressiveCeiling)
	} else {
		log.Printf("Using ffmpeg at %s", bin)
	}
	source := media.NewYTDLP(cfg.YTDLPBin)
	service := fetch.NewService(source, ffmpegRunner, cfg.ScratchDir())

	// 3. Task manager
	taskManager, err := task.NewManager(cfg, service)
	if err != nil {
		log.Fatalf("Failed to initialize task manager: %v", err)
	}

	// 4. Router and server
	router := api.SetupRouter(taskManager, cfg, service.SourceName())
	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)

	go func() {
		log.Printf("Server starting on %s (mode: %s, media source: %s)", srv.Addr, cfg.AuthMode, service.SourceName())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	log.Println("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := taskManager.Wait(shutdownCtx); err != nil {
		log.Printf("Running downloads did not finish before shutdown: %v", err)
	}

	log.Println("Server exiting")
}
