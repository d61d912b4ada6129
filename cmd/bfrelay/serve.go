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

	"github.com/codefionn/bfrelay/internal/audit"
	"github.com/codefionn/bfrelay/internal/config"
	"github.com/codefionn/bfrelay/internal/consts"
	"github.com/codefionn/bfrelay/internal/diag"
	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/pidfile"
	"github.com/codefionn/bfrelay/internal/relay"
	"github.com/codefionn/bfrelay/internal/wsgate"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveHost        string
	servePort        int
	serveConsole     bool
	serveDebugAddr   string
	serveWSAddr      string
	serveCPUProfile  string
	serveHeapProfile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay server until interrupted.

The log level follows the config file while the server runs; edit
log_level and save to change it without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().BoolVar(&serveConsole, "console", false, "Also log to stderr")
	serveCmd.Flags().StringVar(&serveDebugAddr, "debug-addr", "", "Diagnostics HTTP address (overrides config)")
	serveCmd.Flags().StringVar(&serveWSAddr, "ws-addr", "", "Websocket gateway address (overrides config)")
	serveCmd.Flags().StringVar(&serveCPUProfile, "cpu-profile", "", "Write a CPU profile to this file while serving")
	serveCmd.Flags().StringVar(&serveHeapProfile, "heap-profile", "", "Write a heap profile to this file on shutdown")
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if serveConsole {
		cfg.LogConsole = true
	}
	if cmd.Flags().Changed("debug-addr") {
		cfg.DebugAddr = serveDebugAddr
	}
	if cmd.Flags().Changed("ws-addr") {
		cfg.WSAddr = serveWSAddr
	}

	if initErr := logger.Init(logger.Options{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Path:    cfg.LogPath,
		Console: cfg.LogConsole,
	}); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("bfrelay starting")
	logger.Debug("Configuration loaded: path=%s, address=%s, log_level=%s", path, cfg.Address(), cfg.LogLevel)

	if cfg.PIDFile != "" {
		pf := pidfile.New(cfg.PIDFile)
		if err := pf.Acquire(); err != nil {
			return err
		}
		defer func() {
			if rmErr := pf.Remove(); rmErr != nil {
				logger.Warn("Failed to remove pidfile: %v", rmErr)
			}
		}()
	}

	var opts []relay.ServerOption
	if cfg.AuditDBPath != "" {
		store, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, relay.WithSessionObserver(store))
		logger.Info("Recording sessions to %s", store.Path())
	}

	srv, err := relay.NewServer(cfg, opts...)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Relay listening on %s\n", srv.Addr())

	if cfg.DebugAddr != "" || serveCPUProfile != "" || serveHeapProfile != "" {
		dh := diag.NewHandler(diag.Config{
			HTTPAddr:    cfg.DebugAddr,
			CPUProfile:  serveCPUProfile,
			HeapProfile: serveHeapProfile,
		}, srv.Registry())
		if err := dh.Start(); err != nil {
			return err
		}
		defer func() {
			if stopErr := dh.Stop(); stopErr != nil {
				logger.Warn("Diagnostics shutdown: %v", stopErr)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	if cfg.WSAddr != "" {
		g.Go(func() error {
			return serveGateway(ctx, cfg.WSAddr, srv)
		})
	}
	g.Go(func() error {
		watchErr := config.Watch(ctx, path, applyReload)
		// the relay keeps running without live reload
		if watchErr != nil && !errors.Is(watchErr, context.Canceled) {
			logger.Warn("Config watch disabled: %v", watchErr)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("bfrelay stopped")
	return nil
}

// applyReload picks up log level changes from a rewritten config file.
// BFRELAY_* overrides still win over the file.
func applyReload(next *config.Config) {
	if err := next.ApplyEnv(); err != nil {
		logger.Warn("Ignoring config reload: %v", err)
		return
	}
	level := logger.ParseLevel(next.LogLevel)
	if level != logger.Global().GetLevel() {
		logger.Global().SetLevel(level)
		logger.Info("Log level changed to %s", level)
	}
}

// serveGateway runs the websocket gateway until ctx is cancelled. Attached
// sessions are closed by the relay itself.
func serveGateway(ctx context.Context, addr string, srv *relay.Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	hs := &http.Server{
		Handler:           wsgate.New(srv, nil),
		ReadHeaderTimeout: consts.Timeout5Seconds,
	}
	fmt.Fprintf(os.Stderr, "Websocket gateway listening on %s\n", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("websocket gateway: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Websocket gateway shutdown: %v", err)
	}
	return nil
}
