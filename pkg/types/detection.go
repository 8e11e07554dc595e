package types

import "time"

// BoundingBox is a top-left form box in original image pixel space.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area, or 0 for degenerate boxes.
func (b BoundingBox) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Detection is one retained detector output for a single tick.
type Detection struct {
	Category   string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
}

// DetectionResult is the latest detection list with its tick timestamp.
type DetectionResult struct {
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}
