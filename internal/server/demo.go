package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/app"
	"github.com/ayusman/iriscope/internal/capture"
	"github.com/ayusman/iriscope/internal/detector"
	"github.com/ayusman/iriscope/internal/gallery"
	"github.com/ayusman/iriscope/internal/overlay"
)

// demoHandler serves the click-to-detect and webcam endpoints.
type demoHandler struct {
	app    *app.App
	logger *zap.Logger
}

type overlayResponse struct {
	ID     string        `json:"id"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Style  overlay.Style `json:"style"`
}

type detectResponse struct {
	ImageID      string                  `json:"image_id"`
	Faces        int                     `json:"faces"`
	Removed      int                     `json:"removed_overlays"`
	Overlay      overlayResponse         `json:"overlay"`
	Irises       []detector.IrisSnapshot `json:"irises"`
	PanelUpdated bool                    `json:"panel_updated"`
	PanelHTML    string                  `json:"panel_html"`
}

func (h *demoHandler) listImages(w http.ResponseWriter, r *http.Request) {
	images := h.app.Gallery().List()
	if images == nil {
		images = []*gallery.Image{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (h *demoHandler) getImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.app.Gallery().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	http.ServeFile(w, r, img.Path)
}

func (h *demoHandler) detectImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	res, err := h.app.DetectImage(r.Context(), id)
	switch {
	case err == nil:
	case app.IsNotReady(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, gallery.ErrImageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		h.logger.Error("image detection failed", zap.String("image", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	irises := make([]detector.IrisSnapshot, 0, res.Faces())
	for _, face := range res.Result.FaceLandmarks {
		if snap, ok := face.Iris(); ok {
			irises = append(irises, snap)
		}
	}

	writeJSON(w, http.StatusOK, detectResponse{
		ImageID: res.ImageID,
		Faces:   res.Faces(),
		Removed: res.Removed,
		Overlay: overlayResponse{
			ID:     res.Overlay.ID,
			Width:  res.Overlay.Width,
			Height: res.Overlay.Height,
			Style:  res.Overlay.Style,
		},
		Irises:       irises,
		PanelUpdated: res.PanelUpdated,
		PanelHTML:    h.app.ImagePanel().HTML(),
	})
}

func (h *demoHandler) getOverlay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.app.Gallery().Get(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	overlays := h.app.Gallery().Overlays(id)
	if len(overlays) == 0 {
		writeError(w, http.StatusNotFound, "no overlay for image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := overlays[len(overlays)-1].EncodePNG(w); err != nil {
		h.logger.Warn("overlay encode failed", zap.String("image", id), zap.Error(err))
	}
}

func (h *demoHandler) getWebcam(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.WebcamStatus())
}

func (h *demoHandler) toggleWebcam(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.ToggleWebcam(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, status)
	case app.IsNotReady(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, capture.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *demoHandler) getBlendShapes(w http.ResponseWriter, r *http.Request) {
	var panel *overlay.Panel
	switch r.PathValue("panel") {
	case "image":
		panel = h.app.ImagePanel()
	case "video":
		panel = h.app.VideoPanel()
	default:
		writeError(w, http.StatusNotFound, "unknown panel")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(panel.HTML()))
}
