// Command iriscope serves the iris tracking demo: a gallery of images that
// can be clicked for detection and a live webcam view with iris rings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/iriscope/internal/app"
	"github.com/ayusman/iriscope/internal/capture"
	"github.com/ayusman/iriscope/internal/detector"
	"github.com/ayusman/iriscope/internal/gallery"
	"github.com/ayusman/iriscope/internal/logging"
	"github.com/ayusman/iriscope/internal/server"
	"github.com/ayusman/iriscope/internal/tray"
)

// Version is the application version.
const Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()

	cmd := &cobra.Command{
		Use:          "iriscope",
		Short:        "Face landmark and iris tracking demo",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyEnv(cmd.Flags(), envPrefix)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	opts.bind(cmd.Flags())

	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger, err := logging.NewLogger(opts.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	g := gallery.New()
	if dir := resolveDir(opts.ImagesDir, "images"); dir != "" {
		images, err := g.LoadDir(dir, opts.ImageWidth)
		if err != nil {
			return fmt.Errorf("load images: %w", err)
		}
		logger.Info("gallery loaded", zap.String("dir", dir), zap.Int("images", len(images)))
	}

	var camera capture.Camera
	if opts.CameraID >= 0 {
		camera = capture.NewCamera(opts.CameraID)
	}

	detCfg := opts.detectorConfig()
	a := app.New(app.Config{
		Detector: detCfg,
		Factory: func(ctx context.Context, config detector.Config) (detector.Detector, error) {
			return detector.NewMediaPipeDetector(ctx, config, opts.PythonPath, logger.Named("mediapipe"))
		},
		Gallery: g,
		Camera:  camera,
		Logger:  logger.Named("app"),
	})
	defer a.Close()

	webDir := resolveDir(opts.WebDir, "web")
	if webDir != "" {
		logger.Info("serving static files", zap.String("dir", webDir))
	}
	srv := server.New(server.Config{
		StaticDir: webDir,
		App:       a,
		Logger:    logger.Named("server"),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Start(ctx)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Run(egCtx, opts.Addr)
	})

	if !opts.Tray {
		return eg.Wait()
	}

	t := tray.New()
	t.OnToggle(func() (bool, error) {
		status, err := a.ToggleWebcam(ctx)
		return status.Running, err
	})
	t.OnOpen(func() {
		if err := openBrowser(demoURL(opts.Addr)); err != nil {
			logger.Warn("failed to open browser", zap.Error(err))
		}
	})
	t.OnQuit(cancel)

	eg.Go(func() error {
		<-egCtx.Done()
		t.Quit()
		return nil
	})

	// The tray must own the main goroutine on macOS.
	t.Run()
	cancel()
	return eg.Wait()
}

func demoURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
