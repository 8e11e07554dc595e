package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anchor is one candidate in center form plus its per-class scores.
type anchor struct {
	cx, cy, w, h float32
	scores       []float32
}

// transposed lays anchors out feature-major, the way the model emits them.
func transposed(anchors []anchor) *RawTensor {
	numFeatures := 4 + len(anchors[0].scores)
	data := make([]float32, numFeatures*len(anchors))
	for b, a := range anchors {
		features := append([]float32{a.cx, a.cy, a.w, a.h}, a.scores...)
		for f, v := range features {
			data[f*len(anchors)+b] = v
		}
	}
	return &RawTensor{Data: data, NumFeatures: numFeatures, NumBoxes: len(anchors)}
}

func newTestDecoder() *Decoder {
	return &Decoder{
		Classes:        []string{"person", "cat"},
		InputWidth:     640,
		InputHeight:    640,
		ScoreThreshold: 0.5,
		IoUThreshold:   0.45,
	}
}

func TestDecodeRescalesAndConvertsToTopLeft(t *testing.T) {
	d := newTestDecoder()
	tensor := transposed([]anchor{
		{cx: 320, cy: 320, w: 64, h: 32, scores: []float32{0.1, 0.8}},
	})

	dets, err := d.Decode(tensor, 1280, 960)
	require.NoError(t, err)
	require.Len(t, dets, 1)

	det := dets[0]
	assert.Equal(t, "cat", det.Category)
	assert.InDelta(t, 0.8, det.Confidence, 1e-6)
	// scale x = 2, scale y = 1.5
	assert.InDelta(t, 640-64, det.Box.X, 1e-6)
	assert.InDelta(t, 480-24, det.Box.Y, 1e-6)
	assert.InDelta(t, 128, det.Box.W, 1e-6)
	assert.InDelta(t, 48, det.Box.H, 1e-6)
}

func TestDecodeClampsNegativeOrigin(t *testing.T) {
	d := newTestDecoder()
	tensor := transposed([]anchor{
		{cx: 5, cy: 5, w: 20, h: 20, scores: []float32{0.9, 0.0}},
	})

	dets, err := d.Decode(tensor, 640, 640)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 0.0, dets[0].Box.X)
	assert.Equal(t, 0.0, dets[0].Box.Y)
	assert.Equal(t, 20.0, dets[0].Box.W)
}

func TestDecodeDropsLowConfidence(t *testing.T) {
	d := newTestDecoder()
	tensor := transposed([]anchor{
		{cx: 100, cy: 100, w: 10, h: 10, scores: []float32{0.2, 0.49}},
		{cx: 300, cy: 300, w: 10, h: 10, scores: []float32{0.5, 0.1}},
	})

	dets, err := d.Decode(tensor, 640, 640)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Category)
}

func TestDecodeRunsNMSPerCategory(t *testing.T) {
	d := newTestDecoder()
	tensor := transposed([]anchor{
		{cx: 5, cy: 5, w: 10, h: 10, scores: []float32{0.9, 0}},
		{cx: 6, cy: 6, w: 10, h: 10, scores: []float32{0.8, 0}},
		{cx: 5, cy: 5, w: 10, h: 10, scores: []float32{0, 0.7}},
	})

	dets, err := d.Decode(tensor, 640, 640)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "person", dets[0].Category)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, "cat", dets[1].Category)
}

func TestDecodeMaxDetections(t *testing.T) {
	d := newTestDecoder()
	d.MaxDetections = 1
	tensor := transposed([]anchor{
		{cx: 50, cy: 50, w: 10, h: 10, scores: []float32{0.6, 0}},
		{cx: 300, cy: 300, w: 10, h: 10, scores: []float32{0.95, 0}},
	})

	dets, err := d.Decode(tensor, 640, 640)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 0.95, dets[0].Confidence, 1e-6)
}

func TestDecodeNoSurvivorsIsEmptyNotError(t *testing.T) {
	d := newTestDecoder()
	tensor := transposed([]anchor{
		{cx: 50, cy: 50, w: 10, h: 10, scores: []float32{0.1, 0.1}},
	})

	dets, err := d.Decode(tensor, 640, 640)
	require.NoError(t, err)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestDecodeDeterministic(t *testing.T) {
	d := newTestDecoder()
	tensor := transposed([]anchor{
		{cx: 50, cy: 50, w: 10, h: 10, scores: []float32{0.7, 0}},
		{cx: 52, cy: 50, w: 10, h: 10, scores: []float32{0.7, 0}},
		{cx: 200, cy: 50, w: 10, h: 10, scores: []float32{0, 0.6}},
	})

	first, err := d.Decode(tensor, 640, 480)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := d.Decode(tensor, 640, 480)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecodeMalformed(t *testing.T) {
	d := newTestDecoder()

	tests := []struct {
		name   string
		tensor *RawTensor
		w, h   int
	}{
		{"nil tensor", nil, 640, 640},
		{"feature mismatch", &RawTensor{Data: make([]float32, 5*2), NumFeatures: 5, NumBoxes: 2}, 640, 640},
		{"data length mismatch", &RawTensor{Data: make([]float32, 11), NumFeatures: 6, NumBoxes: 2}, 640, 640},
		{"zero image", &RawTensor{Data: make([]float32, 12), NumFeatures: 6, NumBoxes: 2}, 0, 640},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.tensor, tt.w, tt.h)
			assert.ErrorIs(t, err, ErrMalformedTensor)
		})
	}
}

func TestNewRawTensor(t *testing.T) {
	tensor, err := NewRawTensor([]int{1, 6, 2}, make([]float32, 12))
	require.NoError(t, err)
	assert.Equal(t, 6, tensor.NumFeatures)
	assert.Equal(t, 2, tensor.NumBoxes)

	_, err = NewRawTensor([]int{2, 6, 2}, make([]float32, 24))
	assert.ErrorIs(t, err, ErrMalformedTensor)

	_, err = NewRawTensor([]int{6, 2}, make([]float32, 10))
	assert.ErrorIs(t, err, ErrMalformedTensor)

	_, err = NewRawTensor([]int{12}, make([]float32, 12))
	assert.ErrorIs(t, err, ErrMalformedTensor)
}
