package detector

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrNotReady is returned while the model is still loading or failed to load.
var ErrNotReady = errors.New("face landmarker is not loaded yet")

// Factory constructs a detector. It may block while the model loads.
type Factory func(ctx context.Context, config Config) (Detector, error)

// Loader constructs the detector asynchronously and gates access to it.
// A failed load is final: there is no retry.
type Loader struct {
	config  Config
	logger  *zap.Logger
	mu      sync.RWMutex
	handle  Detector
	err     error
	started bool
	ready   chan struct{}
	done    chan struct{}
}

// NewLoader creates a Loader for the given configuration.
func NewLoader(config Config, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		config: config,
		logger: logger,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Load starts constructing the detector in the background.
// Calling Load more than once has no effect.
func (l *Loader) Load(ctx context.Context, factory Factory) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go func() {
		defer close(l.done)

		d, err := factory(ctx, l.config)

		l.mu.Lock()
		defer l.mu.Unlock()

		if err != nil {
			l.err = err
			l.logger.Error("face landmarker failed to load", zap.Error(err))
			return
		}

		l.handle = d
		close(l.ready)
		l.logger.Info("face landmarker loaded",
			zap.String("running_mode", string(l.config.RunningMode)),
			zap.Int("num_faces", l.config.NumFaces))
	}()
}

// Detector returns the loaded detector, or ErrNotReady.
func (l *Loader) Detector() (Detector, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.handle == nil {
		return nil, ErrNotReady
	}
	return l.handle, nil
}

// Ready is closed once the detector is loaded. It never closes on failure.
func (l *Loader) Ready() <-chan struct{} {
	return l.ready
}

// Done is closed once loading finished, successfully or not.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// IsReady reports whether the detector is loaded.
func (l *Loader) IsReady() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}

// Err returns the load failure, if any.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Config returns the configuration the detector was created with.
func (l *Loader) Config() Config {
	return l.config
}

// Close releases the detector if it was loaded.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		return nil
	}
	err := l.handle.Close()
	l.handle = nil
	return err
}
