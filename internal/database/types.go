package database

import (
	"time"
)

// Representation is a single face embedding stored in a named gallery.
// One gallery image can contribute multiple representations when the
// detector finds more than one face.
type Representation struct {
	ID         int64
	Gallery    string
	Label      string
	SourcePath string
	FaceIndex  int
	Embedding  []float32
	BBox       []float64 // [x1, y1, x2, y2] in raw pixel coordinates
	DetScore   float64
	Model      string
	Detector   string
	Dim        int
	CreatedAt  time.Time
}

// GalleryInfo summarizes one stored gallery.
type GalleryInfo struct {
	Name      string
	Model     string
	Detector  string
	Faces     int
	Labels    int
	UpdatedAt time.Time
}
