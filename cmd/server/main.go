package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/landrop/server/internal/config"
	"github.com/landrop/server/internal/database"
	"github.com/landrop/server/internal/guard"
	"github.com/landrop/server/internal/handlers"
	"github.com/landrop/server/internal/middleware"
	"github.com/landrop/server/internal/policy"
	"github.com/landrop/server/internal/session"
	"github.com/landrop/server/internal/store"
	"github.com/landrop/server/internal/syncer"
	"github.com/landrop/server/pkg/logger"
	"github.com/landrop/server/pkg/pairtoken"
	"github.com/landrop/server/pkg/utils"
)

var (
	flagPort         int
	flagSaveDir      string
	flagNoBrowser    bool
	flagNoTerminalQR bool
)

func main() {
	root := &cobra.Command{
		Use:   "landrop",
		Short: "LAN file transfer between your phone and this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run()
		},
	}
	root.Flags().IntVarP(&flagPort, "port", "p", 0, "port to listen on")
	root.Flags().StringVar(&flagSaveDir, "save-dir", "", "directory received files are saved to")
	root.Flags().BoolVar(&flagNoBrowser, "no-browser", false, "do not open the desktop page on startup")
	root.Flags().BoolVar(&flagNoTerminalQR, "no-terminal-qr", false, "do not print the mobile pairing QR code on startup")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagSaveDir != "" {
		cfg.SetSaveDir(flagSaveDir)
	}
	if flagNoBrowser {
		cfg.Server.OpenPage = false
	}
	if flagNoTerminalQR {
		cfg.Server.TerminalQR = false
	}

	logger.InitWithLevel(cfg.LogLevel)

	desktopURL := fmt.Sprintf("http://127.0.0.1:%d/?role=desktop", cfg.Server.Port)

	// One instance per machine. A healthy instance already on the port means
	// this launch just brings its page up and exits cleanly.
	status, err := guard.Check(cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("port %d: %w", cfg.Server.Port, err)
	}
	if status == guard.AlreadyRunning {
		logger.Info("instance_already_running", map[string]interface{}{"port": cfg.Server.Port})
		if cfg.Server.OpenPage {
			_ = handlers.OpenWithDefaultApp(desktopURL)
		}
		return nil
	}

	pairtoken.SetSecret(pairtoken.RandomSecret())
	pairtoken.StartCleanup(time.Minute)

	db, err := database.Connect(cfg.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	sessions := session.NewManager(cfg.Session.TTL)
	recordStore := store.NewRecordStore(db)
	uploadPolicy, err := policy.NewUploadPolicy(cfg.Upload.MaxBytes, config.MinUploadBytes, config.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("configuring upload limit: %w", err)
	}

	hub := syncer.NewHub(recordStore.Events())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	go sweepSessions(ctx, sessions, cfg.Session.SweepInterval)

	lanIP := utils.LANIP()
	baseURL := fmt.Sprintf("http://%s:%d", lanIP, cfg.Server.Port)

	sessionMiddleware := middleware.NewSessionMiddleware(sessions)
	rootHandler := handlers.NewRootHandler(sessions, baseURL)
	uploadHandler := handlers.NewUploadHandler(cfg, recordStore, uploadPolicy, sessions)
	downloadHandler := handlers.NewDownloadHandler(recordStore)
	recordHandler := handlers.NewRecordHandler(recordStore)
	settingsHandler := handlers.NewSettingsHandler(cfg, uploadPolicy)
	wsHandler := handlers.NewWSHandler(recordStore, hub)

	app := fiber.New(fiber.Config{
		// Bodies are consumed as a stream; the hard cap is enforced by the
		// transfer pipeline, not by buffering.
		StreamRequestBody:     true,
		BodyLimit:             int(config.MaxUploadBytes),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.RequestLogger())

	app.Get("/health", handlers.Health)

	app.Use(sessionMiddleware.Resolve)

	app.Get("/", rootHandler.Index)
	app.Get("/auth/mobile-token", middleware.RequireDesktop, rootHandler.MobileToken)

	app.Get("/records", recordHandler.List)
	app.Post("/records/:id/open-file", middleware.RequireDesktop, recordHandler.OpenFile)
	app.Post("/records/:id/open-folder", middleware.RequireDesktop, recordHandler.OpenFolder)

	app.Post("/upload", uploadHandler.Upload)
	app.Post("/upload-desktop", middleware.RequireDesktop, uploadHandler.UploadFromDesktop)
	app.Post("/upload-desktop-path", middleware.RequireDesktop, uploadHandler.RegisterDesktopPath)
	app.Get("/download/:id", downloadHandler.Download)

	app.Get("/settings", middleware.RequireDesktop, settingsHandler.Get)
	app.Get("/settings/upload-limit", middleware.RequireDesktop, settingsHandler.GetUploadLimit)
	app.Post("/settings/upload-limit", middleware.RequireDesktop, settingsHandler.SetUploadLimit)
	app.Post("/settings/save-dir", middleware.RequireDesktop, settingsHandler.SetSaveDir)
	app.Post("/settings/open-save-dir", middleware.RequireDesktop, settingsHandler.OpenSaveDir)

	app.Get("/ws", wsHandler.Upgrade, wsHandler.Serve())

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("server_starting", map[string]interface{}{
		"address":  listenAddr,
		"lan_url":  baseURL,
		"save_dir": cfg.SaveDir(),
		"data_dir": cfg.Storage.DataDir,
	})
	var mobileURL string
	if token, _, err := pairtoken.Generate(); err == nil {
		mobileURL = fmt.Sprintf("%s/?token=%s", baseURL, token)
	}
	printStartupInfo(os.Stdout, cfg, desktopURL, mobileURL)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	if cfg.Server.OpenPage {
		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = handlers.OpenWithDefaultApp(desktopURL)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("server_stopping", map[string]interface{}{"signal": sig.String()})
		cancel()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			logger.Warn("shutdown_timeout", nil)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// printStartupInfo writes the bootstrap block. The QR code encodes the
// one-time mobile pairing URL, so a phone pairs by pointing its camera at the
// terminal; headless or piped runs disable it with --no-terminal-qr.
func printStartupInfo(w io.Writer, cfg *config.Config, desktopURL, mobileURL string) {
	fmt.Fprintf(w, "landrop is running\n  desktop:  %s\n  save dir: %s\n", desktopURL, cfg.SaveDir())
	if !cfg.Server.TerminalQR || mobileURL == "" {
		fmt.Fprintln(w, "  mobile devices pair via the QR code on the desktop page")
		return
	}
	fmt.Fprintf(w, "  mobile:   %s\n\nScan in the phone browser:\n", mobileURL)
	qrterminal.GenerateWithConfig(mobileURL, qrterminal.Config{
		Level:      qrterminal.L,
		Writer:     w,
		HalfBlocks: true,
		QuietZone:  1,
	})
}

func sweepSessions(ctx context.Context, sessions *session.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := sessions.Sweep(time.Now()); removed > 0 {
				logger.Debug("sessions_swept", map[string]interface{}{"removed": removed})
			}
		}
	}
}
