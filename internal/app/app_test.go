package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gocv.io/x/gocv"

	"github.com/ayusman/iriscope/internal/capture"
	"github.com/ayusman/iriscope/internal/detector"
	"github.com/ayusman/iriscope/internal/gallery"
)

// fakeSource is a VideoSource that serves a frame without a camera.
type fakeSource struct {
	mu       sync.Mutex
	startErr error
	autoLoad bool
	loaded   chan struct{}
	ts       float64
	width    int
	height   int
	hasFrame bool
	starts   int
	stops    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		autoLoad: true,
		loaded:   make(chan struct{}),
		width:    640,
		height:   480,
		hasFrame: true,
	}
}

func (s *fakeSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	if s.autoLoad {
		close(s.loaded)
	}
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSource) Loaded() <-chan struct{} { return s.loaded }

func (s *fakeSource) Current() (*capture.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFrame {
		return nil, false
	}
	return &capture.Frame{TimestampMs: s.ts, Width: s.width, Height: s.height}, true
}

func (s *fakeSource) setTimestamp(ts float64) {
	s.mu.Lock()
	s.ts = ts
	s.mu.Unlock()
}

func (s *fakeSource) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

type testEnv struct {
	app   *App
	det   *detector.MockDetector
	clock *clock.Mock
	logs  *observer.ObservedLogs
}

// newTestApp returns an App whose detector has finished loading.
func newTestApp(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	mock := clock.NewMock()
	det := detector.NewMockDetector()

	cfg.Clock = mock
	cfg.Logger = zap.New(core)
	cfg.Detector = detector.DefaultConfig()
	cfg.Factory = func(ctx context.Context, config detector.Config) (detector.Detector, error) {
		return det, nil
	}

	a := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.Start(ctx)

	select {
	case <-a.Loader().Ready():
	case <-time.After(time.Second):
		t.Fatal("detector did not load")
	}
	t.Cleanup(func() { a.Close() })

	return &testEnv{app: a, det: det, clock: mock, logs: logs}
}

// newLoadingApp returns an App whose detector never finishes loading.
func newLoadingApp(t *testing.T) (*App, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	a := New(Config{
		Clock:  clock.NewMock(),
		Logger: zap.New(core),
		Factory: func(ctx context.Context, config detector.Config) (detector.Detector, error) {
			<-release
			return nil, errors.New("cancelled")
		},
		NewSource: func() VideoSource { return newFakeSource() },
	})
	a.Start(context.Background())
	return a, logs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Defaults(t *testing.T) {
	a := New(Config{})

	if a.config.VideoWidth != VideoWidth {
		t.Errorf("VideoWidth = %d, want %d", a.config.VideoWidth, VideoWidth)
	}
	if a.config.RefreshRate != RefreshRate {
		t.Errorf("RefreshRate = %d, want %d", a.config.RefreshRate, RefreshRate)
	}
	if a.config.LogInterval != IrisLogInterval {
		t.Errorf("LogInterval = %v, want %v", a.config.LogInterval, IrisLogInterval)
	}
	if a.RunningMode() != detector.ModeVideo {
		t.Errorf("RunningMode() = %q, want %q", a.RunningMode(), detector.ModeVideo)
	}
	if a.DemosVisible() {
		t.Error("DemosVisible() = true before loading")
	}
	if _, ok := a.IrisSnapshot(); ok {
		t.Error("IrisSnapshot() ok before any detection")
	}
	if got := a.WebcamStatus(); got.State != StateDisabled || got.Running || got.Button != ButtonEnable {
		t.Errorf("WebcamStatus() = %+v, want disabled", got)
	}
}

func TestApp_DemosVisibleAfterLoad(t *testing.T) {
	env := newTestApp(t, Config{})
	if !env.app.DemosVisible() {
		t.Error("DemosVisible() = false after load")
	}
}

func TestApp_DetectImage_NotReady(t *testing.T) {
	a, logs := newLoadingApp(t)

	_, err := a.DetectImage(context.Background(), "portrait")
	if !IsNotReady(err) {
		t.Fatalf("DetectImage() error = %v, want ErrNotReady", err)
	}
	if n := logs.FilterMessage("wait for the face landmarker to load before clicking").Len(); n != 1 {
		t.Errorf("not-ready log entries = %d, want 1", n)
	}
}

func TestApp_DetectImage_UnknownImage(t *testing.T) {
	env := newTestApp(t, Config{})

	_, err := env.app.DetectImage(context.Background(), "missing")
	if !errors.Is(err, gallery.ErrImageNotFound) {
		t.Errorf("DetectImage() error = %v, want ErrImageNotFound", err)
	}
}

func TestApp_DetectImage_ReplacesOverlay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image IO")
	}

	g := gallery.New()
	path := filepath.Join(t.TempDir(), "portrait.png")
	mat := gocv.NewMatWithSize(300, 400, gocv.MatTypeCV8UC3)
	defer mat.Close()
	if !gocv.IMWrite(path, mat) {
		t.Fatal("failed to write test image")
	}
	if _, err := g.Register("portrait", path, 200); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	env := newTestApp(t, Config{Gallery: g})
	env.det.SetResult(detector.SampleResult())

	for click := 1; click <= 3; click++ {
		got, err := env.app.DetectImage(context.Background(), "portrait")
		if err != nil {
			t.Fatalf("click %d: DetectImage() error = %v", click, err)
		}
		if n := len(g.Overlays("portrait")); n != 1 {
			t.Errorf("click %d: overlays = %d, want 1", click, n)
		}
		wantRemoved := 1
		if click == 1 {
			wantRemoved = 0
		}
		if got.Removed != wantRemoved {
			t.Errorf("click %d: Removed = %d, want %d", click, got.Removed, wantRemoved)
		}
		if got.Faces() != 1 {
			t.Errorf("click %d: Faces() = %d, want 1", click, got.Faces())
		}
		if got.Overlay.Width != 400 || got.Overlay.Height != 300 {
			t.Errorf("click %d: overlay = %dx%d, want 400x300", click, got.Overlay.Width, got.Overlay.Height)
		}
		if got.Overlay.Style.Width != 200 || got.Overlay.Style.Height != 150 {
			t.Errorf("click %d: overlay style = %+v, want 200x150", click, got.Overlay.Style)
		}
	}

	if env.app.RunningMode() != detector.ModeImage {
		t.Errorf("RunningMode() = %q, want IMAGE", env.app.RunningMode())
	}
	if env.det.ModeSwitches() != 1 {
		t.Errorf("ModeSwitches() = %d, want 1", env.det.ModeSwitches())
	}
	if env.det.ImageCalls() != 3 {
		t.Errorf("ImageCalls() = %d, want 3", env.det.ImageCalls())
	}
	html := env.app.ImagePanel().HTML()
	if !strings.Contains(html, "eyeBlinkLeft") || strings.Contains(html, "jawOpen") {
		t.Errorf("image panel = %q, want eye categories only", html)
	}
	if env.app.VideoPanel().HTML() != "" {
		t.Error("video panel changed by the click flow")
	}
}

// registerBlankImage writes a black width x height image and registers it as id.
func registerBlankImage(t *testing.T, g *gallery.Gallery, id string, width, height int) {
	t.Helper()

	path := filepath.Join(t.TempDir(), id+".png")
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()
	if !gocv.IMWrite(path, mat) {
		t.Fatal("failed to write test image")
	}
	if _, err := g.Register(id, path, width); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func TestApp_DetectImage_ConcurrentClicks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image IO")
	}

	g := gallery.New()
	registerBlankImage(t, g, "portrait", 64, 48)

	env := newTestApp(t, Config{Gallery: g})
	env.det.SetResult(detector.SampleResult())

	const clicks = 8
	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.app.DetectImage(context.Background(), "portrait"); err != nil {
				t.Errorf("DetectImage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(g.Overlays("portrait")); n != 1 {
		t.Errorf("overlays after %d concurrent clicks = %d, want 1", clicks, n)
	}
	if env.det.ImageCalls() != clicks {
		t.Errorf("ImageCalls() = %d, want %d", env.det.ImageCalls(), clicks)
	}
}

func TestApp_DetectImage_FailureKeepsOverlay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image IO")
	}

	g := gallery.New()
	registerBlankImage(t, g, "portrait", 64, 48)

	env := newTestApp(t, Config{Gallery: g})
	env.det.SetResult(detector.SampleResult())

	first, err := env.app.DetectImage(context.Background(), "portrait")
	if err != nil {
		t.Fatalf("DetectImage() error = %v", err)
	}

	env.det.SetError(errors.New("inference failed"))
	if _, err := env.app.DetectImage(context.Background(), "portrait"); err == nil {
		t.Fatal("DetectImage() error = nil, want detection failure")
	}

	got := g.Overlays("portrait")
	if len(got) != 1 || got[0] != first.Overlay {
		t.Errorf("overlays after failed click = %d, want the previous one kept", len(got))
	}
}

func TestApp_DetectImage_NoFacesKeepsPanel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image IO")
	}

	g := gallery.New()
	path := filepath.Join(t.TempDir(), "empty.png")
	mat := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer mat.Close()
	if !gocv.IMWrite(path, mat) {
		t.Fatal("failed to write test image")
	}
	if _, err := g.Register("empty", path, 100); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	env := newTestApp(t, Config{Gallery: g})
	env.det.SetResult(detector.SampleResult())
	if _, err := env.app.DetectImage(context.Background(), "empty"); err != nil {
		t.Fatalf("DetectImage() error = %v", err)
	}
	before := env.app.ImagePanel().HTML()

	env.det.SetResult(&detector.Result{})
	got, err := env.app.DetectImage(context.Background(), "empty")
	if err != nil {
		t.Fatalf("DetectImage() error = %v", err)
	}
	if got.Faces() != 0 || got.PanelUpdated {
		t.Errorf("Faces() = %d, PanelUpdated = %v, want 0 and false", got.Faces(), got.PanelUpdated)
	}
	if after := env.app.ImagePanel().HTML(); after != before {
		t.Errorf("panel changed on empty result:\nbefore %q\nafter  %q", before, after)
	}
	if n := len(g.Overlays("empty")); n != 1 {
		t.Errorf("overlays = %d, want 1", n)
	}
}

func TestApp_ToggleWebcam_NotReady(t *testing.T) {
	a, logs := newLoadingApp(t)

	status, err := a.ToggleWebcam(context.Background())
	if !IsNotReady(err) {
		t.Fatalf("ToggleWebcam() error = %v, want ErrNotReady", err)
	}
	if status.Running || status.State != StateDisabled || status.Button != ButtonEnable {
		t.Errorf("status = %+v, want disabled", status)
	}
	if n := logs.FilterMessage("wait, the face landmarker is not loaded yet").Len(); n != 1 {
		t.Errorf("not-ready log entries = %d, want 1", n)
	}
}

func TestApp_ToggleWebcam_Unsupported(t *testing.T) {
	env := newTestApp(t, Config{})

	status, err := env.app.ToggleWebcam(context.Background())
	if !errors.Is(err, capture.ErrUnsupported) {
		t.Fatalf("ToggleWebcam() error = %v, want ErrUnsupported", err)
	}
	if status.Running {
		t.Error("webcam running on a machine without a camera")
	}
	if env.logs.FilterMessage("camera capture is not supported on this machine").Len() != 1 {
		t.Error("expected unsupported warning")
	}
}

func TestApp_ToggleWebcam_Lifecycle(t *testing.T) {
	src := newFakeSource()
	env := newTestApp(t, Config{NewSource: func() VideoSource { return src }})
	env.det.SetResult(detector.SampleResult())

	status, err := env.app.ToggleWebcam(context.Background())
	if err != nil {
		t.Fatalf("ToggleWebcam() error = %v", err)
	}
	if !status.Running || status.Button != ButtonDisable {
		t.Errorf("status after enable = %+v", status)
	}

	waitFor(t, "RUNNING", func() bool { return env.app.WebcamStatus().State == StateRunning })
	waitFor(t, "first detection", func() bool { return len(env.det.VideoCalls()) > 0 })

	got := env.app.WebcamStatus()
	if got.Layout == nil || got.Layout.DisplayWidth != 480 || got.Layout.DisplayHeight != 360 {
		t.Errorf("Layout = %+v, want 480x360 display", got.Layout)
	}
	if !env.app.irisLog.Active() {
		t.Error("iris logger not active while running")
	}

	status, err = env.app.ToggleWebcam(context.Background())
	if err != nil {
		t.Fatalf("ToggleWebcam() error = %v", err)
	}
	if status.Running || status.State != StateDisabled || status.Button != ButtonEnable {
		t.Errorf("status after disable = %+v", status)
	}
	if starts, stops := src.counts(); starts != 1 || stops != 1 {
		t.Errorf("source starts/stops = %d/%d, want 1/1", starts, stops)
	}
	if env.app.irisLog.Active() {
		t.Error("iris logger still active after disable")
	}
	if _, ok := env.app.IrisSnapshot(); !ok {
		t.Error("iris snapshot dropped after disable")
	}
}

func TestApp_ToggleWebcam_PermissionDenied(t *testing.T) {
	src := newFakeSource()
	src.startErr = fmt.Errorf("open camera 0: %w", capture.ErrPermissionDenied)
	env := newTestApp(t, Config{NewSource: func() VideoSource { return src }})

	if _, err := env.app.ToggleWebcam(context.Background()); err != nil {
		t.Fatalf("ToggleWebcam() error = %v", err)
	}

	waitFor(t, "DISABLED", func() bool { return !env.app.WebcamStatus().Running })

	got := env.app.WebcamStatus()
	if got.State != StateDisabled || got.Button != ButtonEnable {
		t.Errorf("status = %+v, want disabled", got)
	}
	if !strings.Contains(got.LastError, "denied") {
		t.Errorf("LastError = %q, want permission message", got.LastError)
	}
	if env.app.irisLog.Active() {
		t.Error("iris logger active after failed start")
	}

	// The failure is recoverable: a later toggle tries again.
	src.mu.Lock()
	src.startErr = nil
	src.mu.Unlock()
	if _, err := env.app.ToggleWebcam(context.Background()); err != nil {
		t.Fatalf("second ToggleWebcam() error = %v", err)
	}
	waitFor(t, "RUNNING", func() bool { return env.app.WebcamStatus().State == StateRunning })
	if got := env.app.WebcamStatus(); got.LastError != "" {
		t.Errorf("LastError = %q after successful start", got.LastError)
	}
}

func TestApp_ToggleWebcam_NoLoggerLeak(t *testing.T) {
	env := newTestApp(t, Config{NewSource: func() VideoSource { return newFakeSource() }})
	env.app.setIrisSnapshot(detector.IrisSnapshot{})

	for i := 0; i < 3; i++ {
		if _, err := env.app.ToggleWebcam(context.Background()); err != nil {
			t.Fatalf("toggle %d: error = %v", i, err)
		}
	}
	if !env.app.WebcamStatus().Running {
		t.Fatal("webcam not running after on/off/on")
	}

	env.clock.Add(IrisLogInterval)
	waitFor(t, "iris log", func() bool { return env.logs.FilterMessage("current iris").Len() >= 1 })
	time.Sleep(20 * time.Millisecond)

	if n := env.logs.FilterMessage("current iris").Len(); n != 1 {
		t.Errorf("iris log entries after one interval = %d, want 1", n)
	}
}

func TestApp_StopBeforeLoaded(t *testing.T) {
	src := newFakeSource()
	src.autoLoad = false
	env := newTestApp(t, Config{NewSource: func() VideoSource { return src }})

	if _, err := env.app.ToggleWebcam(context.Background()); err != nil {
		t.Fatalf("ToggleWebcam() error = %v", err)
	}
	if got := env.app.WebcamStatus().State; got != StateRequesting {
		t.Errorf("State = %q, want REQUESTING", got)
	}
	if _, err := env.app.ToggleWebcam(context.Background()); err != nil {
		t.Fatalf("ToggleWebcam() error = %v", err)
	}

	// A late first frame must not revive the stopped session.
	close(src.loaded)
	time.Sleep(20 * time.Millisecond)
	if got := env.app.WebcamStatus(); got.Running || got.State != StateDisabled {
		t.Errorf("status = %+v, want disabled", got)
	}
}

func TestNewLayout(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          Layout
	}{
		{"4:3", 640, 480, Layout{DisplayWidth: 480, DisplayHeight: 360, CanvasWidth: 640, CanvasHeight: 480}},
		{"rounded", 640, 481, Layout{DisplayWidth: 480, DisplayHeight: 361, CanvasWidth: 640, CanvasHeight: 481}},
		{"16:9", 1280, 720, Layout{DisplayWidth: 480, DisplayHeight: 270, CanvasWidth: 1280, CanvasHeight: 720}},
		{"portrait", 480, 640, Layout{DisplayWidth: 480, DisplayHeight: 640, CanvasWidth: 480, CanvasHeight: 640}},
		{"unknown", 0, 0, Layout{DisplayWidth: 480}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewLayout(tt.width, tt.height, VideoWidth); got != tt.want {
				t.Errorf("NewLayout() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
