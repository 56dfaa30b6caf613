// Package gallery keeps the images that can be clicked for detection and
// the overlay canvases currently laid over them.
package gallery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/iriscope/internal/overlay"
)

// DefaultDisplayWidth is the on-page width of gallery images.
const DefaultDisplayWidth = 320

// ErrImageNotFound is returned for an unknown image id.
var ErrImageNotFound = errors.New("image not found")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Image is a clickable image with its natural and displayed size.
type Image struct {
	ID            string `json:"id"`
	Path          string `json:"-"`
	NaturalWidth  int    `json:"natural_width"`
	NaturalHeight int    `json:"natural_height"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

// Gallery holds the registered images and their overlays.
type Gallery struct {
	mu       sync.RWMutex
	images   map[string]*Image
	order    []string
	overlays map[string][]*overlay.Canvas
}

// New creates an empty gallery.
func New() *Gallery {
	return &Gallery{
		images:   make(map[string]*Image),
		overlays: make(map[string][]*overlay.Canvas),
	}
}

// Register adds an image file. displayWidth scales the displayed size while
// keeping the aspect ratio; 0 or a width larger than the image keeps the
// natural size.
func (g *Gallery) Register(id, path string, displayWidth int) (*Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode image %s", path)
	}
	naturalW, naturalH := mat.Cols(), mat.Rows()
	mat.Close()

	img := &Image{
		ID:            id,
		Path:          path,
		NaturalWidth:  naturalW,
		NaturalHeight: naturalH,
		Width:         naturalW,
		Height:        naturalH,
	}
	if displayWidth > 0 && displayWidth < naturalW {
		img.Width = displayWidth
		img.Height = overlay.ScaledHeight(displayWidth, naturalW, naturalH)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.images[id]; !exists {
		g.order = append(g.order, id)
	}
	g.images[id] = img
	return img, nil
}

// LoadDir registers every image file in dir, using the file name without
// extension as the id.
func (g *Gallery) LoadDir(dir string, displayWidth int) ([]*Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read gallery dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var images []*Image
	for _, name := range names {
		id := strings.TrimSuffix(name, filepath.Ext(name))
		img, err := g.Register(id, filepath.Join(dir, name), displayWidth)
		if err != nil {
			return images, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Get returns an image by id.
func (g *Gallery) Get(id string) (*Image, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	img, ok := g.images[id]
	if !ok {
		return nil, ErrImageNotFound
	}
	return img, nil
}

// List returns the images in registration order.
func (g *Gallery) List() []*Image {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Image, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.images[id])
	}
	return out
}

// Decode reads the image pixels. The caller must close the Mat.
func (g *Gallery) Decode(id string) (*gocv.Mat, error) {
	img, err := g.Get(id)
	if err != nil {
		return nil, err
	}

	mat := gocv.IMRead(img.Path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode image %s", img.Path)
	}
	return &mat, nil
}

// RemoveOverlays drops every overlay attached to the image and returns how
// many were removed.
func (g *Gallery) RemoveOverlays(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.overlays[id])
	delete(g.overlays, id)
	return n
}

// AttachOverlay lays a canvas over the image.
func (g *Gallery) AttachOverlay(id string, c *overlay.Canvas) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.images[id]; !ok {
		return ErrImageNotFound
	}
	g.overlays[id] = append(g.overlays[id], c)
	return nil
}

// ReplaceOverlay drops every overlay attached to the image and lays c over
// it in one step. It returns how many overlays were removed.
func (g *Gallery) ReplaceOverlay(id string, c *overlay.Canvas) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.images[id]; !ok {
		return 0, ErrImageNotFound
	}
	n := len(g.overlays[id])
	g.overlays[id] = []*overlay.Canvas{c}
	return n, nil
}

// Overlays returns the canvases currently over the image.
func (g *Gallery) Overlays(id string) []*overlay.Canvas {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*overlay.Canvas(nil), g.overlays[id]...)
}
