// Package detector provides face landmark detection interfaces and types.
package detector

// Face landmark layout of the MediaPipe face landmarker with refined irises.
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
const (
	NumFaceLandmarks = 478

	// First index of each 4-point iris ring used for the iris snapshot.
	LeftIrisStart  = 468
	RightIrisStart = 473
	IrisPoints     = 4
)

// Point3D represents a landmark in normalized image coordinates.
// X and Y are in [0,1] relative to the image size; Z is relative depth.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FaceLandmarks is the ordered landmark set of one detected face.
type FaceLandmarks []Point3D

// Connection joins two landmark indices.
type Connection struct {
	Start int
	End   int
}

// Iris connector topologies, matching FACE_LANDMARKS_LEFT_IRIS and
// FACE_LANDMARKS_RIGHT_IRIS of the MediaPipe drawing utilities.
var (
	LeftIrisConnections = []Connection{
		{474, 475}, {475, 476}, {476, 477}, {477, 474},
	}
	RightIrisConnections = []Connection{
		{469, 470}, {470, 471}, {471, 472}, {472, 469},
	}
)

// IrisSnapshot holds both iris rings of the most recently processed face.
type IrisSnapshot struct {
	LeftIris  [IrisPoints]Point3D `json:"left_iris"`
	RightIris [IrisPoints]Point3D `json:"right_iris"`
}

// Iris extracts the iris snapshot from a face.
// Returns false when the face does not carry the refined iris points.
func (f FaceLandmarks) Iris() (IrisSnapshot, bool) {
	var snap IrisSnapshot
	if len(f) < RightIrisStart+IrisPoints {
		return snap, false
	}

	copy(snap.LeftIris[:], f[LeftIrisStart:LeftIrisStart+IrisPoints])
	copy(snap.RightIris[:], f[RightIrisStart:RightIrisStart+IrisPoints])
	return snap, true
}
