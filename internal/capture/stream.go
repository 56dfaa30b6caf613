package capture

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// readRetryDelay is the pause after a failed read before trying again.
const readRetryDelay = 10 * time.Millisecond

// Frame is a decoded video frame with its playback timestamp.
type Frame struct {
	Mat         *gocv.Mat
	TimestampMs float64
	Width       int
	Height      int
}

// Close releases the frame's Mat. It is safe on a nil frame or Mat.
func (f *Frame) Close() {
	if f == nil || f.Mat == nil {
		return
	}
	f.Mat.Close()
	f.Mat = nil
}

// Stream reads a camera continuously in the background and always exposes
// the most recently decoded frame, like a playing video element.
// A Stream is single use: after Stop, create a new one.
type Stream struct {
	camera Camera
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	latest   gocv.Mat
	hasFrame bool
	ts       float64
	width    int
	height   int

	lifeMu    sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	loaded    chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
}

// NewStream creates a Stream over camera. clk may be nil for the wall clock.
func NewStream(camera Camera, clk clock.Clock, logger *zap.Logger) *Stream {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		camera: camera,
		clock:  clk,
		logger: logger,
		latest: gocv.NewMat(),
		loaded: make(chan struct{}),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start opens the camera and starts the background reader.
func (s *Stream) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.started || s.stopped {
		return nil
	}
	if err := s.camera.Open(); err != nil {
		return err
	}

	s.started = true
	s.startedAt = s.clock.Now()
	go s.read()
	return nil
}

// Loaded is closed when the first frame has been decoded.
func (s *Stream) Loaded() <-chan struct{} {
	return s.loaded
}

// Current returns a copy of the latest frame. The caller must Close it.
func (s *Stream) Current() (*Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasFrame {
		return nil, false
	}

	mat := s.latest.Clone()
	return &Frame{
		Mat:         &mat,
		TimestampMs: s.ts,
		Width:       s.width,
		Height:      s.height,
	}, true
}

// VideoSize returns the native resolution of the latest frame.
func (s *Stream) VideoSize() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Stop halts the reader and closes the camera.
func (s *Stream) Stop() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stopCh)

	if !s.started {
		s.latest.Close()
		return nil
	}
	<-s.done

	err := s.camera.Close()

	s.mu.Lock()
	s.latest.Close()
	s.hasFrame = false
	s.mu.Unlock()

	return err
}

func (s *Stream) read() {
	defer close(s.done)

	interval := time.Second / time.Duration(max(s.camera.FPS(), 1))

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		begin := s.clock.Now()
		mat, err := s.camera.ReadFrame()
		if err != nil {
			s.logger.Debug("frame read failed", zap.Error(err))
			s.clock.Sleep(readRetryDelay)
			continue
		}

		s.publish(mat)

		if elapsed := s.clock.Since(begin); elapsed < interval {
			s.clock.Sleep(interval - elapsed)
		}
	}
}

func (s *Stream) publish(mat *gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest.Close()
	s.latest = *mat
	s.ts = float64(s.clock.Since(s.startedAt)) / float64(time.Millisecond)
	s.width = mat.Cols()
	s.height = mat.Rows()

	if !s.hasFrame {
		s.hasFrame = true
		close(s.loaded)
		s.logger.Info("first video frame decoded",
			zap.Int("width", s.width),
			zap.Int("height", s.height))
	}
}
