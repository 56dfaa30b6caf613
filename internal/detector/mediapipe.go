package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const serviceScript = "face_landmarker_service.py"

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
//
// Requests are a length-prefixed JSON header followed by a length-prefixed
// JPEG payload (empty for reconfiguration). Every request is answered with
// one JSON line.
type MediaPipeDetector struct {
	config Config
	logger *zap.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	mode   RunningMode
	closed bool
}

// NewMediaPipeDetector starts the landmarker service and blocks until the
// model is loaded or ctx is done. pythonPath may be empty to auto-detect.
func NewMediaPipeDetector(ctx context.Context, config Config, pythonPath string, logger *zap.Logger) (*MediaPipeDetector, error) {
	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", serviceScript)
	}

	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	args := []string{
		scriptPath,
		"--model", config.ModelAssetPath,
		"--delegate", config.Delegate,
		"--num-faces", strconv.Itoa(config.NumFaces),
		"--running-mode", string(config.RunningMode),
	}
	if config.OutputFaceBlendshapes {
		args = append(args, "--blendshapes")
	}

	d := &MediaPipeDetector{
		config: config,
		logger: logger,
		mode:   config.RunningMode,
		cmd:    exec.Command(pythonPath, args...),
	}

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start face landmarker service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)

	logger.Info("loading face landmarker model",
		zap.String("model", config.ModelAssetPath),
		zap.String("delegate", config.Delegate))

	ready := make(chan error, 1)
	go func() {
		ready <- d.awaitReady()
	}()

	select {
	case err := <-ready:
		if err != nil {
			d.shutdown()
			return nil, err
		}
	case <-ctx.Done():
		d.shutdown()
		return nil, ctx.Err()
	}

	return d, nil
}

// Detect runs single-image detection.
func (d *MediaPipeDetector) Detect(img *gocv.Mat) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != ModeImage {
		return nil, ErrWrongMode
	}
	return d.roundTrip(request{Op: "detect"}, img)
}

// DetectForVideo runs detection on a video frame.
func (d *MediaPipeDetector) DetectForVideo(frame *gocv.Mat, timestampMs int64) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode != ModeVideo {
		return nil, ErrWrongMode
	}
	return d.roundTrip(request{Op: "detect_for_video", TimestampMs: timestampMs}, frame)
}

// SetRunningMode switches the service between image and video mode.
func (d *MediaPipeDetector) SetRunningMode(ctx context.Context, mode RunningMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode == mode {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := d.roundTrip(request{Op: "set_options", RunningMode: mode}, nil); err != nil {
		return fmt.Errorf("set running mode %s: %w", mode, err)
	}

	d.logger.Debug("running mode changed", zap.String("mode", string(mode)))
	d.mode = mode
	return nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

type request struct {
	Op          string      `json:"op"`
	TimestampMs int64       `json:"timestamp_ms,omitempty"`
	RunningMode RunningMode `json:"running_mode,omitempty"`
}

type response struct {
	Ready           bool              `json:"ready,omitempty"`
	Error           string            `json:"error,omitempty"`
	FaceLandmarks   [][]jsonPoint     `json:"face_landmarks"`
	FaceBlendshapes []Classifications `json:"face_blendshapes"`
}

type jsonPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (d *MediaPipeDetector) awaitReady() error {
	resp, err := d.readResponse()
	if err != nil {
		return fmt.Errorf("wait for model: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("load model: %s", resp.Error)
	}
	if !resp.Ready {
		return errors.New("load model: unexpected handshake")
	}
	return nil
}

func (d *MediaPipeDetector) roundTrip(req request, img *gocv.Mat) (*Result, error) {
	if d.closed || d.stdin == nil {
		return nil, errors.New("face landmarker service is not running")
	}

	header, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var payload []byte
	if img != nil {
		// Encode frame as JPEG
		buf, err := gocv.IMEncode(".jpg", *img)
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		defer buf.Close()
		payload = buf.GetBytes()
	}

	if err := writeFramed(d.stdin, header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := writeFramed(d.stdin, payload); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	resp, err := d.readResponse()
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.toResult(), nil
}

func (d *MediaPipeDetector) readResponse() (*response, error) {
	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseResponse([]byte(line))
}

func (d *MediaPipeDetector) shutdown() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.stdin = nil
	d.stdout = nil
	return err
}

// writeFramed writes a 4-byte big-endian length followed by data.
func writeFramed(w io.Writer, data []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := w.Write(length); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

func parseResponse(line []byte) (*response, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &resp, nil
}

func (r *response) toResult() *Result {
	result := &Result{
		FaceLandmarks:   make([]FaceLandmarks, len(r.FaceLandmarks)),
		FaceBlendshapes: r.FaceBlendshapes,
	}

	for i, face := range r.FaceLandmarks {
		lm := make(FaceLandmarks, len(face))
		for j, p := range face {
			lm[j] = Point3D{X: p.X, Y: p.Y, Z: p.Z}
		}
		result.FaceLandmarks[i] = lm
	}

	return result
}

func findServiceScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".iriscope", "scripts", serviceScript),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".iriscope/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
