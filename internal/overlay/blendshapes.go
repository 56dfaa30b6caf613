package overlay

import (
	"bytes"
	"html/template"
	"strconv"
	"strings"
	"sync"

	"github.com/ayusman/iriscope/internal/detector"
)

// Panel names used by the page.
const (
	ImagePanel = "image-blend-shapes"
	VideoPanel = "video-blend-shapes"
)

// eyeFilter selects the blend shapes shown in the panel.
const eyeFilter = "eye"

var rowsTemplate = template.Must(template.New("blend-shapes").Parse(
	`{{range .}}<li class="blend-shapes-item">` +
		`<span class="blend-shapes-label">{{.Label}}</span>` +
		`<span class="blend-shapes-value" style="width: calc({{.Percent}}% - 120px)">{{.Score}}</span>` +
		`</li>
{{end}}`))

type row struct {
	Label   string
	Percent string
	Score   string
}

// EyeCategories returns the categories of the first face whose name contains "eye".
func EyeCategories(blendshapes []detector.Classifications) []detector.Category {
	if len(blendshapes) == 0 {
		return nil
	}

	var out []detector.Category
	for _, c := range blendshapes[0].Categories {
		if strings.Contains(c.CategoryName, eyeFilter) {
			out = append(out, c)
		}
	}
	return out
}

// RenderBlendShapes renders the eye blend shapes of the first face as list
// rows. It returns false when there are no blend shapes at all.
func RenderBlendShapes(blendshapes []detector.Classifications) (string, bool) {
	if len(blendshapes) == 0 {
		return "", false
	}

	cats := EyeCategories(blendshapes)
	rows := make([]row, 0, len(cats))
	for _, c := range cats {
		rows = append(rows, row{
			Label:   c.Label(),
			Percent: strconv.FormatFloat(c.Score*100, 'f', -1, 64),
			Score:   strconv.FormatFloat(c.Score, 'f', 4, 64),
		})
	}

	var buf bytes.Buffer
	if err := rowsTemplate.Execute(&buf, rows); err != nil {
		// Only reachable on a broken writer; bytes.Buffer never fails.
		return "", false
	}
	return buf.String(), true
}

// Panel is a named blend-shape list whose contents are replaced on every render.
type Panel struct {
	name string
	mu   sync.RWMutex
	html string
}

// NewPanel creates an empty panel.
func NewPanel(name string) *Panel {
	return &Panel{name: name}
}

// Name returns the panel's element id.
func (p *Panel) Name() string {
	return p.name
}

// Render replaces the panel contents. Without blend shapes the previous
// contents are kept and Render returns false.
func (p *Panel) Render(blendshapes []detector.Classifications) bool {
	html, ok := RenderBlendShapes(blendshapes)
	if !ok {
		return false
	}

	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
	return true
}

// HTML returns the current panel contents.
func (p *Panel) HTML() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.html
}
