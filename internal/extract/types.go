// Package extract talks to the face embedding service: it uploads an image
// and gets back one embedding per detected face. All geometry and pixel work
// happens on the service side; this package only prepares the upload and
// interprets the response.
package extract

import "fmt"

// Face is a single detected face with its embedding.
type Face struct {
	Index      int       `json:"face_index"`
	Dim        int       `json:"dim"`
	Embedding  []float32 `json:"embedding"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	Confidence float64   `json:"det_score"`
}

// Result is the extraction outcome for one image.
type Result struct {
	FacesCount int    `json:"faces_count"`
	Faces      []Face `json:"faces"`
	Model      string `json:"model"`
	Detector   string `json:"detector"`
}

// PrimaryFace returns the detection with the highest confidence, false when
// the result holds no faces. Multi-face images collapse to their most
// prominent face for query purposes.
func (r *Result) PrimaryFace() (Face, bool) {
	if r == nil || len(r.Faces) == 0 {
		return Face{}, false
	}
	best := r.Faces[0]
	for _, f := range r.Faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, true
}

// NoFaceError reports an image in which the detector found no face.
type NoFaceError struct {
	Path string
}

func (e *NoFaceError) Error() string {
	return fmt.Sprintf("no face detected in %s", e.Path)
}

// Options selects the embedding model and detector backend for one
// extraction. The zero value is not usable; callers fill it from flags or
// request fields.
type Options struct {
	Model            string
	Detector         string
	EnforceDetection bool
}
