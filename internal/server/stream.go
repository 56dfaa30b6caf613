package server

import (
	"fmt"
	"image"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/iriscope/internal/app"
)

// streamInterval paces the MJPEG stream at about 15 FPS.
const streamInterval = 66 * time.Millisecond

// StreamHandler serves the composed webcam output as MJPEG.
type StreamHandler struct {
	app    *app.App
	logger *zap.Logger
}

// NewStreamHandler creates a new StreamHandler over the app's output.
func NewStreamHandler(a *app.App, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{app: a, logger: logger}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var last image.Image
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		img, ok := h.app.Output()
		if !ok || img == last {
			continue
		}
		last = img

		buf, err := encodeJPEG(img)
		if err != nil {
			h.logger.Debug("frame encode failed", zap.Error(err))
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		if _, err := w.Write(buf); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// encodeJPEG converts img to a BGR Mat and encodes it with OpenCV.
func encodeJPEG(img image.Image) ([]byte, error) {
	rgba, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return nil, err
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, bgr)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
