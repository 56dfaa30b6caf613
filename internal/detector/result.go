package detector

// Category is one blend-shape score.
type Category struct {
	Index        int     `json:"index"`
	Score        float64 `json:"score"`
	CategoryName string  `json:"category_name"`
	DisplayName  string  `json:"display_name,omitempty"`
}

// Label returns the display name, falling back to the category name.
func (c Category) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.CategoryName
}

// Classifications is the blend-shape list of one face.
type Classifications struct {
	Categories []Category `json:"categories"`
}

// Result is the output of one detection call.
type Result struct {
	FaceLandmarks   []FaceLandmarks   `json:"face_landmarks"`
	FaceBlendshapes []Classifications `json:"face_blendshapes"`
}

// Empty reports whether no face was detected.
func (r *Result) Empty() bool {
	return r == nil || len(r.FaceLandmarks) == 0
}
