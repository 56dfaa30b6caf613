package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/detector"
	"github.com/ayusman/iriscope/internal/logging"
	"github.com/ayusman/iriscope/internal/overlay"
)

// ImageDetection is the outcome of one click on a gallery image.
type ImageDetection struct {
	ImageID string
	Overlay *overlay.Canvas
	Result  *detector.Result
	// Removed is the number of stale overlays cleared before drawing.
	Removed int
	// PanelUpdated is false when there were no blend shapes and the image
	// panel kept its previous contents.
	PanelUpdated bool
}

// Faces returns the number of detected faces.
func (d *ImageDetection) Faces() int {
	if d.Result == nil {
		return 0
	}
	return len(d.Result.FaceLandmarks)
}

// DetectImage runs single-shot detection on a gallery image and replaces
// its overlay with the iris connectors of every detected face.
func (a *App) DetectImage(ctx context.Context, imageID string) (*ImageDetection, error) {
	logger := logging.WithOperation(a.logger, "detect image", imageID)

	d, err := a.loader.Detector()
	if err != nil {
		logger.Info("wait for the face landmarker to load before clicking")
		return nil, err
	}

	img, err := a.gallery.Get(imageID)
	if err != nil {
		return nil, err
	}

	mat, err := a.gallery.Decode(imageID)
	if err != nil {
		return nil, logging.NewOperationError("detect image", imageID, err)
	}
	defer mat.Close()

	a.detMu.Lock()
	if err := a.ensureModeLocked(ctx, d, detector.ModeImage); err != nil {
		a.detMu.Unlock()
		return nil, logging.NewOperationError("detect image", imageID, err)
	}
	result, err := d.Detect(mat)
	a.detMu.Unlock()
	if err != nil {
		return nil, logging.NewOperationError("detect image", imageID, err)
	}

	canvas := overlay.NewCanvas(img.NaturalWidth, img.NaturalHeight, overlay.Style{
		Left:   0,
		Top:    0,
		Width:  img.Width,
		Height: img.Height,
	})
	for _, face := range result.FaceLandmarks {
		canvas.DrawIrises(face)
	}

	// Stale overlays go in the same step the new one arrives, so concurrent
	// clicks on one image still leave exactly one.
	removed, err := a.gallery.ReplaceOverlay(imageID, canvas)
	if err != nil {
		return nil, err
	}
	updated := a.imagePanel.Render(result.FaceBlendshapes)

	logger.Debug("image detected",
		zap.Int("faces", len(result.FaceLandmarks)),
		zap.Int("removed_overlays", removed))

	return &ImageDetection{
		ImageID:      imageID,
		Overlay:      canvas,
		Result:       result,
		Removed:      removed,
		PanelUpdated: updated,
	}, nil
}

// IsNotReady reports whether err means the detector has not loaded.
func IsNotReady(err error) bool {
	return errors.Is(err, detector.ErrNotReady)
}
