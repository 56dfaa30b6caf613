package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results and enforces the
// running mode the way the real landmarker does.
type MockDetector struct {
	mu         sync.Mutex
	result     *Result
	err        error
	mode       RunningMode
	modeSwitch int
	imageCalls int
	videoCalls []int64
	closed     bool
}

// NewMockDetector creates a new MockDetector in video mode.
func NewMockDetector() *MockDetector {
	return &MockDetector{mode: ModeVideo}
}

// SetResult sets the result that will be returned by detection calls.
func (m *MockDetector) SetResult(r *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = r
}

// SetError sets the error that will be returned by detection calls.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured result or error.
func (m *MockDetector) Detect(img *gocv.Mat) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModeImage {
		return nil, ErrWrongMode
	}
	m.imageCalls++
	return m.respond()
}

// DetectForVideo returns the pre-configured result or error and records the timestamp.
func (m *MockDetector) DetectForVideo(frame *gocv.Mat, timestampMs int64) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModeVideo {
		return nil, ErrWrongMode
	}
	m.videoCalls = append(m.videoCalls, timestampMs)
	return m.respond()
}

// SetRunningMode records the mode switch.
func (m *MockDetector) SetRunningMode(ctx context.Context, mode RunningMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != mode {
		m.mode = mode
		m.modeSwitch++
	}
	return nil
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Mode returns the current running mode.
func (m *MockDetector) Mode() RunningMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// ModeSwitches returns how many times the running mode actually changed.
func (m *MockDetector) ModeSwitches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modeSwitch
}

// ImageCalls returns the number of Detect calls.
func (m *MockDetector) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imageCalls
}

// VideoCalls returns the timestamps passed to DetectForVideo, in call order.
func (m *MockDetector) VideoCalls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.videoCalls...)
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockDetector) respond() (*Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &Result{}, nil
	}
	return m.result, nil
}

// SampleFace returns a full face landmark set with both iris rings placed
// around (0.4, 0.4) and (0.6, 0.4). Other points sit on a coarse grid.
func SampleFace() FaceLandmarks {
	face := make(FaceLandmarks, NumFaceLandmarks)
	for i := range face {
		face[i] = Point3D{
			X: 0.25 + float64(i%20)*0.025,
			Y: 0.25 + float64(i/20)*0.02,
			Z: 0,
		}
	}

	// Ring 468..472: center then four points (right eye from the viewer's side)
	placeIris(face, 468, 0.4, 0.4)
	// Ring 473..477
	placeIris(face, 473, 0.6, 0.4)

	return face
}

func placeIris(face FaceLandmarks, center int, x, y float64) {
	const r = 0.02
	face[center] = Point3D{X: x, Y: y}
	face[center+1] = Point3D{X: x + r, Y: y}
	face[center+2] = Point3D{X: x, Y: y - r}
	face[center+3] = Point3D{X: x - r, Y: y}
	face[center+4] = Point3D{X: x, Y: y + r}
}

// SampleBlendshapes returns a blend-shape list mixing eye and non-eye categories.
func SampleBlendshapes() Classifications {
	return Classifications{Categories: []Category{
		{Index: 0, Score: 0.0001, CategoryName: "_neutral"},
		{Index: 1, Score: 0.12, CategoryName: "browDownLeft"},
		{Index: 9, Score: 0.5, CategoryName: "eyeBlinkLeft"},
		{Index: 10, Score: 0.25, CategoryName: "eyeBlinkRight"},
		{Index: 11, Score: 0.0321, CategoryName: "eyeLookDownLeft"},
		{Index: 25, Score: 0.8, CategoryName: "jawOpen"},
	}}
}

// SampleResult returns a one-face result built from SampleFace and SampleBlendshapes.
func SampleResult() *Result {
	return &Result{
		FaceLandmarks:   []FaceLandmarks{SampleFace()},
		FaceBlendshapes: []Classifications{SampleBlendshapes()},
	}
}
