package app

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/capture"
	"github.com/ayusman/iriscope/internal/detector"
	"github.com/ayusman/iriscope/internal/overlay"
)

// frameLoop is the per-session webcam pipeline. Each step:
//  1. sizes the view from the current video resolution
//  2. makes sure the detector is in VIDEO mode
//  3. detects only when the video advanced since the last step
//  4. draws the iris rings of the latest result and records the snapshot
//  5. renders the video blend-shape panel
//
// The loop ends after the first step that finds its session stopped.
type frameLoop struct {
	app    *App
	gen    uint64
	source VideoSource
	gate   *FrameGate
	last   *detector.Result

	stop chan struct{}
	done chan struct{}
}

func newFrameLoop(a *App, gen uint64, src VideoSource) *frameLoop {
	return &frameLoop{
		app:    a,
		gen:    gen,
		source: src,
		gate:   NewFrameGate(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the loop in the background.
func (l *frameLoop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop ends the loop and waits for it to exit.
func (l *frameLoop) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
}

func (l *frameLoop) run(ctx context.Context) {
	defer close(l.done)

	ticker := l.app.clock.Ticker(time.Second / time.Duration(l.app.config.RefreshRate))
	defer ticker.Stop()

	for {
		if !l.step(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
		}
	}
}

// step processes the current frame and reports whether the loop should
// schedule another one.
func (l *frameLoop) step(ctx context.Context) bool {
	a := l.app

	frame, ok := l.source.Current()
	if !ok {
		return a.webcamActive(l.gen)
	}
	defer frame.Close()

	layout := NewLayout(frame.Width, frame.Height, a.config.VideoWidth)
	a.setLayout(layout)

	l.detect(ctx, frame)

	canvas := overlay.NewCanvas(layout.CanvasWidth, layout.CanvasHeight, layout.Style())
	if l.last != nil {
		for _, face := range l.last.FaceLandmarks {
			if snap, ok := face.Iris(); ok {
				a.setIrisSnapshot(snap)
			}
			canvas.DrawIrises(face)
		}
		a.videoPanel.Render(l.last.FaceBlendshapes)
	}

	a.publishOutput(l.compose(frame, canvas), canvas)

	return a.webcamActive(l.gen)
}

// detect runs video detection when the frame is new. A frame that was
// already processed keeps the previous result.
func (l *frameLoop) detect(ctx context.Context, frame *capture.Frame) {
	a := l.app

	d, err := a.loader.Detector()
	if err != nil {
		return
	}

	a.detMu.Lock()
	defer a.detMu.Unlock()

	if err := a.ensureModeLocked(ctx, d, detector.ModeVideo); err != nil {
		a.logger.Warn("failed to switch to video mode", zap.Error(err))
		return
	}
	if !l.gate.Advance(frame.TimestampMs) {
		return
	}

	result, err := d.DetectForVideo(frame.Mat, a.nextVideoTimestamp())
	if err != nil {
		a.logger.Warn("video detection failed",
			zap.Float64("timestamp_ms", frame.TimestampMs),
			zap.Error(err))
		return
	}
	l.last = result
}

func (l *frameLoop) compose(frame *capture.Frame, canvas *overlay.Canvas) image.Image {
	if frame.Mat == nil || frame.Mat.Empty() {
		return nil
	}
	img, err := frame.Mat.ToImage()
	if err != nil {
		l.app.logger.Debug("frame conversion failed", zap.Error(err))
		return nil
	}
	return overlay.Compose(img, canvas)
}
