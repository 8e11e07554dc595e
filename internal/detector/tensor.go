package detector

import (
	"errors"
	"fmt"
)

// ErrMalformedTensor reports a model output that violates the decoder's input contract.
var ErrMalformedTensor = errors.New("malformed tensor")

// RawTensor is a model output in transposed layout: NumFeatures rows of NumBoxes values.
// The value for feature f of anchor b is Data[f*NumBoxes+b].
type RawTensor struct {
	Data        []float32
	NumFeatures int
	NumBoxes    int
}

// NewRawTensor builds a RawTensor from a shape of [features, boxes] or [1, features, boxes].
func NewRawTensor(shape []int, data []float32) (*RawTensor, error) {
	if len(shape) == 3 {
		if shape[0] != 1 {
			return nil, fmt.Errorf("%w: batch size %d not supported", ErrMalformedTensor, shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: expected 2 or 3 dimensions, got %d", ErrMalformedTensor, len(shape))
	}
	t := &RawTensor{
		Data:        data,
		NumFeatures: shape[0],
		NumBoxes:    shape[1],
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RawTensor) validate() error {
	if t.NumFeatures <= 0 || t.NumBoxes < 0 {
		return fmt.Errorf("%w: invalid shape %dx%d", ErrMalformedTensor, t.NumFeatures, t.NumBoxes)
	}
	if len(t.Data) != t.NumFeatures*t.NumBoxes {
		return fmt.Errorf("%w: shape %dx%d needs %d values, got %d",
			ErrMalformedTensor, t.NumFeatures, t.NumBoxes, t.NumFeatures*t.NumBoxes, len(t.Data))
	}
	return nil
}

// at returns feature f of anchor b.
func (t *RawTensor) at(f, b int) float64 {
	return float64(t.Data[f*t.NumBoxes+b])
}
