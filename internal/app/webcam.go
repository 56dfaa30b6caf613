package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/capture"
	"github.com/ayusman/iriscope/internal/overlay"
)

// WebcamState is the lifecycle state of the webcam flow.
type WebcamState string

const (
	StateDisabled   WebcamState = "DISABLED"
	StateRequesting WebcamState = "REQUESTING"
	StateRunning    WebcamState = "RUNNING"
)

// Button labels for the webcam toggle.
const (
	ButtonEnable  = "ENABLE PREDICTIONS"
	ButtonDisable = "DISABLE PREDICTIONS"
)

// Layout sizes the webcam view: the display size keeps the video's aspect
// ratio at a fixed width, the canvas keeps the native resolution.
type Layout struct {
	DisplayWidth  int `json:"display_width"`
	DisplayHeight int `json:"display_height"`
	CanvasWidth   int `json:"canvas_width"`
	CanvasHeight  int `json:"canvas_height"`
}

// NewLayout computes the layout of a videoWidth x videoHeight video shown
// displayWidth CSS pixels wide.
func NewLayout(videoWidth, videoHeight, displayWidth int) Layout {
	l := Layout{
		DisplayWidth: displayWidth,
		CanvasWidth:  videoWidth,
		CanvasHeight: videoHeight,
	}
	l.DisplayHeight = overlay.ScaledHeight(displayWidth, videoWidth, videoHeight)
	return l
}

// Style returns the on-page placement of the overlay canvas.
func (l Layout) Style() overlay.Style {
	return overlay.Style{Width: l.DisplayWidth, Height: l.DisplayHeight}
}

// WebcamStatus is a snapshot of the webcam flow for the page.
type WebcamStatus struct {
	State     WebcamState `json:"state"`
	Running   bool        `json:"running"`
	Button    string      `json:"button"`
	Layout    *Layout     `json:"layout,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

type webcamSession struct {
	state   WebcamState
	running bool
	gen     uint64
	source  VideoSource
	loop    *frameLoop
	abort   chan struct{}
	layout  *Layout
	lastErr error
}

// WebcamStatus returns the current state of the webcam flow.
func (a *App) WebcamStatus() WebcamStatus {
	a.camMu.Lock()
	defer a.camMu.Unlock()
	return a.statusLocked()
}

func (a *App) statusLocked() WebcamStatus {
	s := WebcamStatus{
		State:   a.cam.state,
		Running: a.cam.running,
		Button:  ButtonEnable,
	}
	if a.cam.running {
		s.Button = ButtonDisable
	}
	if a.cam.layout != nil {
		l := *a.cam.layout
		s.Layout = &l
	}
	if a.cam.lastErr != nil {
		s.LastError = a.cam.lastErr.Error()
	}
	return s
}

// ToggleWebcam turns live prediction on or off. Turning it on requests the
// camera asynchronously; the frame loop starts once the first frame is
// decoded. The returned status reflects the state right after the toggle.
func (a *App) ToggleWebcam(ctx context.Context) (WebcamStatus, error) {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()

	if _, err := a.loader.Detector(); err != nil {
		a.logger.Info("wait, the face landmarker is not loaded yet")
		return a.WebcamStatus(), err
	}

	a.camMu.Lock()
	running := a.cam.running
	a.camMu.Unlock()

	if running {
		a.stopWebcam()
		return a.WebcamStatus(), nil
	}

	newSource := a.config.NewSource
	if newSource == nil {
		if a.config.Camera == nil {
			a.logger.Warn("camera capture is not supported on this machine")
			return a.WebcamStatus(), capture.ErrUnsupported
		}
		newSource = func() VideoSource {
			return capture.NewStream(a.config.Camera, a.clock, a.logger.Named("stream"))
		}
	}

	src := newSource()
	abort := make(chan struct{})

	a.camMu.Lock()
	a.cam.gen++
	gen := a.cam.gen
	a.cam.running = true
	a.cam.state = StateRequesting
	a.cam.lastErr = nil
	a.cam.source = src
	a.cam.abort = abort
	status := a.statusLocked()
	a.camMu.Unlock()

	a.irisLog.Start()
	go a.acquire(gen, src, abort)

	a.logger.Info("webcam requested", zap.Uint64("session", gen))
	return status, nil
}

// acquire starts the video and launches the frame loop on its first frame.
func (a *App) acquire(gen uint64, src VideoSource, abort <-chan struct{}) {
	if err := src.Start(); err != nil {
		a.failWebcam(gen, err)
		return
	}

	select {
	case <-src.Loaded():
	case <-abort:
		return
	case <-a.ctx.Done():
		return
	}

	a.camMu.Lock()
	if a.cam.gen != gen || !a.cam.running {
		a.camMu.Unlock()
		return
	}
	loop := newFrameLoop(a, gen, src)
	a.cam.loop = loop
	a.cam.state = StateRunning
	a.camMu.Unlock()

	loop.Start(a.ctx)
	a.logger.Info("webcam running", zap.Uint64("session", gen))
}

// failWebcam returns a session that could not get its camera to DISABLED
// and keeps the reason for the page.
func (a *App) failWebcam(gen uint64, err error) {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()

	a.camMu.Lock()
	if a.cam.gen != gen || !a.cam.running {
		a.camMu.Unlock()
		return
	}
	a.cam.running = false
	a.cam.state = StateDisabled
	a.cam.lastErr = err
	a.cam.source = nil
	a.cam.abort = nil
	a.camMu.Unlock()

	a.irisLog.Stop()

	if errors.Is(err, capture.ErrPermissionDenied) {
		a.logger.Warn("camera access denied", zap.Error(err))
		return
	}
	a.logger.Warn("camera could not be started", zap.Error(err))
}

// stopWebcam ends the current session, if any. The frame loop exits before
// the camera is released.
func (a *App) stopWebcam() {
	a.camMu.Lock()
	if !a.cam.running && a.cam.source == nil {
		a.camMu.Unlock()
		return
	}
	src, loop, abort := a.cam.source, a.cam.loop, a.cam.abort
	a.cam.running = false
	a.cam.state = StateDisabled
	a.cam.source = nil
	a.cam.loop = nil
	a.cam.abort = nil
	a.camMu.Unlock()

	if abort != nil {
		close(abort)
	}
	if loop != nil {
		loop.Stop()
	}
	if src != nil {
		if err := src.Stop(); err != nil {
			a.logger.Warn("failed to stop video", zap.Error(err))
		}
	}
	a.irisLog.Stop()
	a.logger.Info("webcam stopped")
}

// webcamActive reports whether session gen is still the running one.
func (a *App) webcamActive(gen uint64) bool {
	a.camMu.Lock()
	defer a.camMu.Unlock()
	return a.cam.running && a.cam.gen == gen
}

func (a *App) setLayout(l Layout) {
	a.camMu.Lock()
	a.cam.layout = &l
	a.camMu.Unlock()
}
