package detector

import (
	"math"
	"sort"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// IoU returns the intersection-over-union of two top-left form boxes.
func IoU(a, b types.BoundingBox) float64 {
	iw := math.Max(0, math.Min(a.X+a.W, b.X+b.W)-math.Max(a.X, b.X))
	ih := math.Max(0, math.Min(a.Y+a.H, b.Y+b.H)-math.Max(a.Y, b.Y))
	intersection := iw * ih
	union := a.W*a.H + b.W*b.H - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// NMS keeps the highest-confidence box of every overlapping same-category group.
// Boxes of different categories never suppress each other. The input is not modified.
func NMS(dets []types.Detection, iouThreshold float64) []types.Detection {
	sorted := make([]types.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]types.Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].Category != sorted[i].Category {
				continue
			}
			if IoU(sorted[i].Box, sorted[j].Box) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
