package app

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ayusman/iriscope/internal/detector"
)

// IrisLogger periodically logs the current iris snapshot while the webcam
// is on. At most one ticker is live at any time.
type IrisLogger struct {
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
	snapshot func() (detector.IrisSnapshot, bool)

	mu     sync.Mutex
	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// NewIrisLogger creates a stopped IrisLogger reading from snapshot.
func NewIrisLogger(clk clock.Clock, interval time.Duration, logger *zap.Logger, snapshot func() (detector.IrisSnapshot, bool)) *IrisLogger {
	return &IrisLogger{
		clock:    clk,
		interval: interval,
		logger:   logger,
		snapshot: snapshot,
	}
}

// Start begins logging. A running ticker is stopped first.
func (l *IrisLogger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()

	l.ticker = l.clock.Ticker(l.interval)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.ticker, l.stop, l.done)
}

// Stop halts logging. It is safe to call when not running.
func (l *IrisLogger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

// Active reports whether a ticker is live.
func (l *IrisLogger) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticker != nil
}

func (l *IrisLogger) stopLocked() {
	if l.ticker == nil {
		return
	}
	l.ticker.Stop()
	close(l.stop)
	<-l.done
	l.ticker = nil
}

func (l *IrisLogger) run(t *clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.logOnce()
		}
	}
}

func (l *IrisLogger) logOnce() {
	snap, ok := l.snapshot()
	if !ok {
		l.logger.Debug("no iris snapshot yet")
		return
	}
	l.logger.Info("current iris",
		zap.Any("left_iris", snap.LeftIris),
		zap.Any("right_iris", snap.RightIris))
}
