package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moyoez/assetlink/api"
	"github.com/moyoez/assetlink/api/models"
	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/auth"
	"github.com/moyoez/assetlink/progress"
	"github.com/moyoez/assetlink/tool"
	"github.com/moyoez/assetlink/transfer"
	"github.com/moyoez/assetlink/types"
)

func main() {
	cfg, err := tool.SetFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// initialize logger
	tool.InitLogger()
	logMode := cfg.Log
	if logMode == "" && cfg.Action != "serve" {
		// keep the progress line readable
		logMode = "prod"
	}
	tool.SetLogMode(logMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Action {
	case "serve":
		err = serve(ctx, cfg)
	case "upload":
		err = upload(ctx, cfg)
	case "download":
		err = download(ctx, cfg)
	case "probe":
		err = probe(ctx, cfg)
	}
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
}

func serve(ctx context.Context, cfg types.Config) error {
	appCfg, err := tool.LoadConfig(cfg.UseConfigPath)
	if err != nil {
		return err
	}
	tool.ApplyFlagOverrides(&appCfg, cfg)

	gate, err := auth.NewGateFromFile(appCfg.PasswordFile, appCfg.AuthAttemptsPerMinute)
	if err != nil {
		return fmt.Errorf("upload password: %w", err)
	}
	if !tool.PathExists(appCfg.AssetsDir) {
		tool.DefaultLogger.Warnf("Assets directory %s does not exist, every request will fail until it is created", appCfg.AssetsDir)
	}
	store := asset.NewStore(appCfg.AssetsDir, appCfg.ChunkSize)
	server := api.NewServer(appCfg, store, gate, models.NewUploadSlot())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("asset server startup failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	tool.DefaultLogger.Info("Shutting down asset server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func upload(ctx context.Context, cfg types.Config) error {
	if err := tool.RequireFlags("serverAddr", cfg.ServerAddr, "platform", cfg.Platform, "pwFile", cfg.PwFile,
		"uploadFile", cfg.UploadFile, "uploadName", cfg.UploadName); err != nil {
		return err
	}
	if !tool.PathExists(cfg.UploadFile) {
		return fmt.Errorf("upload file %s does not exist", cfg.UploadFile)
	}
	pw, err := tool.ReadSecretFile(cfg.PwFile)
	if err != nil {
		return err
	}

	fmt.Println("== upload ==")
	fmt.Printf("%s -> %s/%s\n", cfg.UploadFile, cfg.Platform, cfg.UploadName)
	tracker := progress.NewTracker(progress.DefaultInterval, progress.TerminalSink(os.Stdout))
	err = transfer.Upload(ctx, transfer.UploadOptions{
		ServerAddr:  cfg.ServerAddr,
		Secure:      cfg.UseTLS,
		Platform:    cfg.Platform,
		Name:        cfg.UploadName,
		Password:    pw,
		File:        cfg.UploadFile,
		ChunkSize:   cfg.ChunkSize,
		IdleTimeout: tool.DefaultConfig().IdleTimeout,
		Progress:    tracker,
	})
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Println("done")
	return nil
}

func download(ctx context.Context, cfg types.Config) error {
	if err := tool.RequireFlags("serverAddr", cfg.ServerAddr, "platform", cfg.Platform,
		"downloadName", cfg.DownloadName, "downloadDest", cfg.DownloadDest); err != nil {
		return err
	}

	fmt.Println("== download ==")
	fmt.Printf("%s/%s -> %s\n", cfg.Platform, cfg.DownloadName, cfg.DownloadDest)
	tracker := progress.NewTracker(progress.DefaultInterval, progress.TerminalSink(os.Stdout))
	err := transfer.Download(ctx, transfer.DownloadOptions{
		ServerAddr:  cfg.ServerAddr,
		Secure:      cfg.UseTLS,
		Platform:    cfg.Platform,
		Name:        cfg.DownloadName,
		Dest:        cfg.DownloadDest,
		IdleTimeout: tool.DefaultConfig().IdleTimeout,
		Progress:    tracker,
	})
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Println("done")
	return nil
}

func probe(ctx context.Context, cfg types.Config) error {
	if err := tool.RequireFlags("serverAddr", cfg.ServerAddr); err != nil {
		return err
	}
	stats, err := transfer.Probe(ctx, cfg.ServerAddr, cfg.ProbeCount)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s): %d sent, %d received, %.1f%% loss\n",
		stats.Addr, stats.IPAddr, stats.PacketsSent, stats.PacketsRecv, stats.PacketLoss)
	if stats.PacketsRecv > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n", stats.MinRtt, stats.AvgRtt, stats.MaxRtt)
	}
	return nil
}
