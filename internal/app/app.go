// Package app owns the demo state shared by the click-to-detect and live
// webcam flows: the detector handle, its running mode, the iris snapshot and
// the blend-shape panels.
package app

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/capture"
	"github.com/ayusman/iriscope/internal/detector"
	"github.com/ayusman/iriscope/internal/gallery"
	"github.com/ayusman/iriscope/internal/overlay"
)

// Demo timing and layout constants.
const (
	// VideoWidth is the display width of the webcam view in CSS pixels.
	VideoWidth = 480
	// RefreshRate is the frame loop rate, standing in for the display refresh signal.
	RefreshRate = 60
	// IrisLogInterval is the period of the iris logger.
	IrisLogInterval = time.Second
)

// VideoSource is a playing video: it starts asynchronously, signals its first
// decoded frame and always exposes the latest frame.
type VideoSource interface {
	Start() error
	Stop() error
	Loaded() <-chan struct{}
	Current() (*capture.Frame, bool)
}

// Config holds configuration options for the application.
type Config struct {
	Detector detector.Config
	// Factory builds the detector; it runs in the background.
	Factory detector.Factory
	Gallery *gallery.Gallery
	// Camera backs the webcam flow. Nil means the machine cannot capture.
	Camera capture.Camera
	// NewSource overrides how a webcam session gets its video.
	NewSource func() VideoSource
	Clock     clock.Clock
	Logger    *zap.Logger

	VideoWidth  int
	RefreshRate int
	LogInterval time.Duration
}

// App is the demo context. One App serves one page.
type App struct {
	config  Config
	logger  *zap.Logger
	clock   clock.Clock
	started time.Time
	ctx     context.Context

	loader     *detector.Loader
	gallery    *gallery.Gallery
	imagePanel *overlay.Panel
	videoPanel *overlay.Panel
	irisLog    *IrisLogger

	// detMu serializes mode switches with the detection call that depends on them.
	detMu       sync.Mutex
	mode        detector.RunningMode
	lastVideoTs int64

	snapMu   sync.RWMutex
	snapshot *detector.IrisSnapshot

	toggleMu sync.Mutex
	camMu    sync.Mutex
	cam      webcamSession

	outMu     sync.RWMutex
	output    image.Image
	outCanvas *overlay.Canvas
}

// New creates a new App with the given configuration.
func New(config Config) *App {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Gallery == nil {
		config.Gallery = gallery.New()
	}
	if config.VideoWidth <= 0 {
		config.VideoWidth = VideoWidth
	}
	if config.RefreshRate <= 0 {
		config.RefreshRate = RefreshRate
	}
	if config.LogInterval <= 0 {
		config.LogInterval = IrisLogInterval
	}
	if config.Detector.RunningMode == "" {
		config.Detector.RunningMode = detector.ModeVideo
	}

	a := &App{
		config:     config,
		logger:     config.Logger,
		clock:      config.Clock,
		started:    config.Clock.Now(),
		ctx:        context.Background(),
		loader:     detector.NewLoader(config.Detector, config.Logger.Named("loader")),
		gallery:    config.Gallery,
		imagePanel: overlay.NewPanel(overlay.ImagePanel),
		videoPanel: overlay.NewPanel(overlay.VideoPanel),
		mode:       config.Detector.RunningMode,
		cam:        webcamSession{state: StateDisabled},
	}
	a.irisLog = NewIrisLogger(config.Clock, config.LogInterval, config.Logger.Named("iris"), a.IrisSnapshot)

	return a
}

// Start begins loading the detector in the background. ctx bounds the load
// and the lifetime of webcam sessions.
func (a *App) Start(ctx context.Context) {
	a.ctx = ctx
	a.loader.Load(ctx, a.config.Factory)
}

// Close stops the webcam flow and releases the detector.
func (a *App) Close() error {
	a.toggleMu.Lock()
	a.stopWebcam()
	a.toggleMu.Unlock()

	return a.loader.Close()
}

// Loader returns the model loader.
func (a *App) Loader() *detector.Loader {
	return a.loader
}

// DemosVisible reports whether the demo section should be shown.
func (a *App) DemosVisible() bool {
	return a.loader.IsReady()
}

// Gallery returns the clickable images.
func (a *App) Gallery() *gallery.Gallery {
	return a.gallery
}

// ImagePanel returns the blend-shape panel of the click flow.
func (a *App) ImagePanel() *overlay.Panel {
	return a.imagePanel
}

// VideoPanel returns the blend-shape panel of the webcam flow.
func (a *App) VideoPanel() *overlay.Panel {
	return a.videoPanel
}

// RunningMode returns the mode the detector is currently configured for.
func (a *App) RunningMode() detector.RunningMode {
	a.detMu.Lock()
	defer a.detMu.Unlock()
	return a.mode
}

// IrisSnapshot returns the most recent iris rings seen by the webcam flow.
// The snapshot is kept after the webcam stops.
func (a *App) IrisSnapshot() (detector.IrisSnapshot, bool) {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()

	if a.snapshot == nil {
		return detector.IrisSnapshot{}, false
	}
	return *a.snapshot, true
}

func (a *App) setIrisSnapshot(s detector.IrisSnapshot) {
	a.snapMu.Lock()
	a.snapshot = &s
	a.snapMu.Unlock()
}

// Output returns the latest composed webcam frame.
func (a *App) Output() (image.Image, bool) {
	a.outMu.RLock()
	defer a.outMu.RUnlock()
	return a.output, a.output != nil
}

// OutputCanvas returns the latest webcam overlay canvas.
func (a *App) OutputCanvas() *overlay.Canvas {
	a.outMu.RLock()
	defer a.outMu.RUnlock()
	return a.outCanvas
}

func (a *App) publishOutput(img image.Image, c *overlay.Canvas) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if img != nil {
		a.output = img
	}
	a.outCanvas = c
}

// ensureModeLocked switches the detector to mode. detMu must be held, so the
// switch completes before the dependent detection call.
func (a *App) ensureModeLocked(ctx context.Context, d detector.Detector, mode detector.RunningMode) error {
	if a.mode == mode {
		return nil
	}
	if err := d.SetRunningMode(ctx, mode); err != nil {
		return err
	}
	a.logger.Debug("running mode switched",
		zap.String("from", string(a.mode)),
		zap.String("to", string(mode)))
	a.mode = mode
	return nil
}

// nextVideoTimestamp returns milliseconds since the app started, strictly
// increasing across calls. detMu must be held.
func (a *App) nextVideoTimestamp() int64 {
	ts := a.clock.Since(a.started).Milliseconds()
	if ts <= a.lastVideoTs {
		ts = a.lastVideoTs + 1
	}
	a.lastVideoTs = ts
	return ts
}
