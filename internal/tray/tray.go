// Package tray provides a system tray menu for toggling live iris predictions.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Menu titles for the predictions toggle.
const (
	titleEnable  = "Enable Predictions"
	titleDisable = "Disable Predictions"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func() (running bool, err error)
	onOpen   func()
	onQuit   func()
	running  bool
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuStatus *systray.MenuItem
}

// New creates a new Tray with predictions off.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback that flips live predictions. It returns
// whether predictions are running afterwards.
func (t *Tray) OnToggle(fn func() (bool, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback function to be called when the open demo menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Iriscope")
	systray.SetTooltip("Iriscope iris tracking demo")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.running), "Toggle live iris predictions")
	systray.AddSeparator()
	t.menuStatus = systray.AddMenuItem("Status: idle", "Last toggle result")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Demo...", "Open the demo page in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Iriscope")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle runs the toggle callback and reflects its outcome in the menu.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	callback := t.onToggle
	t.mu.RUnlock()

	if callback == nil {
		return
	}

	// Call the callback outside the lock to prevent deadlocks
	running, err := callback()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = running
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(running))
	}
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(running, err))
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// IsRunning returns whether predictions were running after the last toggle.
func (t *Tray) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

func toggleTitle(running bool) string {
	if running {
		return titleDisable
	}
	return titleEnable
}

func statusTitle(running bool, err error) string {
	switch {
	case err != nil:
		return "Status: " + err.Error()
	case running:
		return "Status: predicting"
	default:
		return "Status: idle"
	}
}
