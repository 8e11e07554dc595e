// Package detector turns raw YOLO-style model output into a filtered detection list.
package detector

import (
	"fmt"
	"math"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

// Decoder decodes transposed anchor-free model output (4 box features followed by one score per class).
type Decoder struct {
	Classes        []string
	InputWidth     int
	InputHeight    int
	ScoreThreshold float64
	IoUThreshold   float64
	MaxDetections  int // 0 keeps every NMS survivor
}

// Decode converts the tensor into detections in original image coordinates, ordered by confidence.
// A shape that does not match the decoder is reported as ErrMalformedTensor.
func (d *Decoder) Decode(t *RawTensor, imageWidth, imageHeight int) ([]types.Detection, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrMalformedTensor)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	numClasses := len(d.Classes)
	if t.NumFeatures != 4+numClasses {
		return nil, fmt.Errorf("%w: expected %d features (4 + %d classes), got %d",
			ErrMalformedTensor, 4+numClasses, numClasses, t.NumFeatures)
	}
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil, fmt.Errorf("%w: invalid image size %dx%d", ErrMalformedTensor, imageWidth, imageHeight)
	}
	if d.InputWidth <= 0 || d.InputHeight <= 0 {
		return nil, fmt.Errorf("%w: invalid model input size %dx%d", ErrMalformedTensor, d.InputWidth, d.InputHeight)
	}

	scaleX := float64(imageWidth) / float64(d.InputWidth)
	scaleY := float64(imageHeight) / float64(d.InputHeight)

	candidates := make([]types.Detection, 0)
	for b := 0; b < t.NumBoxes; b++ {
		best, score := -1, math.Inf(-1)
		for c := 0; c < numClasses; c++ {
			if s := t.at(4+c, b); s > score {
				best, score = c, s
			}
		}
		if best < 0 || score < d.ScoreThreshold {
			continue
		}

		cx := t.at(0, b) * scaleX
		cy := t.at(1, b) * scaleY
		w := t.at(2, b) * scaleX
		h := t.at(3, b) * scaleY

		candidates = append(candidates, types.Detection{
			Category:   d.Classes[best],
			Confidence: score,
			Box: types.BoundingBox{
				X: math.Max(0, cx-w/2),
				Y: math.Max(0, cy-h/2),
				W: w,
				H: h,
			},
		})
	}

	kept := NMS(candidates, d.IoUThreshold)
	if d.MaxDetections > 0 && len(kept) > d.MaxDetections {
		kept = kept[:d.MaxDetections]
	}
	return kept, nil
}
