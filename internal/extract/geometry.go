package extract

import "sort"

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// DedupeFaces drops overlapping detections of the same face, keeping the
// highest-confidence one per overlap cluster. Detector backends occasionally
// report the same face twice with slightly shifted boxes; anything with IoU
// above the threshold counts as the same detection.
func DedupeFaces(faces []Face, iouThreshold float64) []Face {
	if len(faces) <= 1 {
		return faces
	}

	// Process in confidence order so the strongest detection claims the
	// region first.
	byConfidence := make([]Face, len(faces))
	copy(byConfidence, faces)
	sort.SliceStable(byConfidence, func(i, j int) bool {
		return byConfidence[i].Confidence > byConfidence[j].Confidence
	})

	kept := make([]Face, 0, len(byConfidence))
	for _, candidate := range byConfidence {
		duplicate := false
		for _, k := range kept {
			if ComputeIoU(candidate.BBox, k.BBox) >= iouThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}
