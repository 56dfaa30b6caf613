package detector

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// DefaultModelAssetPath is the float16 face landmarker bundle published by MediaPipe.
const DefaultModelAssetPath = "https://storage.googleapis.com/mediapipe-models/face_landmarker/face_landmarker/float16/1/face_landmarker.task"

// ErrWrongMode is returned when a detection call does not match the configured running mode.
var ErrWrongMode = errors.New("detection call does not match running mode")

// RunningMode selects between single-image calls and per-frame video calls.
type RunningMode string

const (
	ModeImage RunningMode = "IMAGE"
	ModeVideo RunningMode = "VIDEO"
)

// Detector defines the interface for face landmark detection implementations.
type Detector interface {
	// Detect runs single-shot detection on an image. The detector must be in ModeImage.
	Detect(img *gocv.Mat) (*Result, error)

	// DetectForVideo runs detection on a video frame captured at timestampMs.
	// The detector must be in ModeVideo and timestamps must not go backwards.
	DetectForVideo(frame *gocv.Mat, timestampMs int64) (*Result, error)

	// SetRunningMode reconfigures the detector. It returns once the new mode is active.
	SetRunningMode(ctx context.Context, mode RunningMode) error

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the face landmarker.
type Config struct {
	// ModelAssetPath is a local path or URL of the .task model bundle.
	ModelAssetPath string

	// Delegate is the preferred execution backend, "GPU" or "CPU".
	Delegate string

	// OutputFaceBlendshapes enables blend-shape scores in results.
	OutputFaceBlendshapes bool

	// RunningMode is the initial mode.
	RunningMode RunningMode

	// NumFaces is the maximum number of faces to detect.
	NumFaces int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelAssetPath:        DefaultModelAssetPath,
		Delegate:              "GPU",
		OutputFaceBlendshapes: true,
		RunningMode:           ModeVideo,
		NumFaces:              1,
	}
}
