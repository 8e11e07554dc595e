package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/override"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/presence"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/session"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var t0 = time.Date(2026, 5, 4, 21, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func secs(n int64) *int64 { return &n }

var ignoreMeta = cmpopts.IgnoreFields(types.SessionEvent{}, "Meta")

type sliceSink struct {
	events []types.SessionEvent
	err    error
}

func (s *sliceSink) Emit(ev types.SessionEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func testConfig() Config {
	return Config{
		Categories: map[string]presence.CategoryConfig{
			"cat":    {Threshold: 0.5, Window: 2 * time.Second},
			"person": {Threshold: 0.5, Window: time.Second},
		},
		TargetCategory:  "cat",
		SubjectCategory: "person",
		TargetPresent: session.Config{
			AlertThreshold:    10 * time.Second,
			AlertCooldown:     time.Minute,
			ClearStableWindow: 3 * time.Second,
		},
		SubjectAbsent: session.Config{
			AlertThreshold:    5 * time.Second,
			ClearStableWindow: 0,
		},
	}
}

func testDecoder() *detector.Decoder {
	return &detector.Decoder{
		Classes:        []string{"person", "cat"},
		InputWidth:     100,
		InputHeight:    100,
		ScoreThreshold: 0.25,
		IoUThreshold:   0.45,
	}
}

func det(category string, conf float64) types.Detection {
	return types.Detection{Category: category, Confidence: conf, Box: types.BoundingBox{X: 1, Y: 1, W: 10, H: 10}}
}

func TestTargetSessionLifecycle(t *testing.T) {
	sink := &sliceSink{}
	m := metrics.New()
	mon := New(testConfig(), testDecoder(), sink, nil, m)

	for i := 0; i <= 10; i++ {
		mon.HandleDetections(at(i), []types.Detection{det("cat", 0.9), det("person", 0.8)})
	}
	// cat gone from 11s; still interpolated at 11s, absent from 12s, stable at 15s
	for i := 11; i <= 16; i++ {
		mon.HandleDetections(at(i), []types.Detection{det("person", 0.8)})
	}

	want := []types.SessionEvent{
		{Type: types.EventStart, Kind: types.KindTargetPresent, OccurredAt: at(0)},
		{Type: types.EventAlert, Kind: types.KindTargetPresent, OccurredAt: at(10)},
		{Type: types.EventEnd, Kind: types.KindTargetPresent, OccurredAt: at(15), DurationSeconds: secs(12)},
	}
	if diff := cmp.Diff(want, sink.events, ignoreMeta); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, true, sink.events[2].Meta["alert_fired"])
	assert.Equal(t, uint64(1), m.EventsStart.Load())
	assert.Equal(t, uint64(1), m.EventsAlert.Load())
	assert.Equal(t, int64(0), m.OpenSessions.Load())
	assert.Equal(t, uint64(28), m.Detections.Load())
}

func TestLowConfidenceDoesNotCount(t *testing.T) {
	sink := &sliceSink{}
	mon := New(testConfig(), testDecoder(), sink, nil, nil)

	for i := 0; i < 5; i++ {
		mon.HandleDetections(at(i), []types.Detection{det("cat", 0.3), det("person", 0.9)})
	}
	assert.Empty(t, sink.events)

	snap, err := mon.SessionSnapshot(types.KindTargetPresent, at(5))
	require.NoError(t, err)
	assert.False(t, snap.Open)
}

func TestAbsenceSuppressedByOverride(t *testing.T) {
	sink := &sliceSink{}
	store := override.NewStore()
	m := metrics.New()
	mon := New(testConfig(), testDecoder(), sink, store, m)

	for i := 0; i <= 2; i++ {
		mon.HandleDetections(at(i), []types.Detection{det("person", 0.9)})
	}
	// person window is 1s, so absence qualifies from 3s
	for i := 3; i <= 5; i++ {
		mon.HandleMiss(at(i))
	}
	snap, err := mon.SessionSnapshot(types.KindSubjectAbsent, at(5))
	require.NoError(t, err)
	assert.True(t, snap.Open)
	assert.Equal(t, int64(2), snap.ElapsedSeconds)
	assert.Equal(t, int64(1), m.OpenSessions.Load())

	store.Activate("owner asleep", nil)
	for i := 6; i <= 9; i++ {
		mon.HandleMiss(at(i))
	}

	want := []types.SessionEvent{
		{Type: types.EventStart, Kind: types.KindSubjectAbsent, OccurredAt: at(3)},
		{Type: types.EventSuppressed, Kind: types.KindSubjectAbsent, OccurredAt: at(6), DurationSeconds: secs(3)},
	}
	if diff := cmp.Diff(want, sink.events, ignoreMeta); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "owner asleep", sink.events[1].Meta["reason"])
	assert.True(t, mon.LastOverride().Active)
	assert.True(t, mon.Override(at(9)).Active)
	assert.Equal(t, uint64(1), m.OverrideActive.Load())

	// releasing the override restarts evaluation from idle
	store.Deactivate()
	mon.HandleMiss(at(10))
	require.Len(t, sink.events, 3)
	assert.Equal(t, types.EventStart, sink.events[2].Type)
	assert.Equal(t, at(10), sink.events[2].OccurredAt)
}

func TestHandleTensor(t *testing.T) {
	mon := New(testConfig(), testDecoder(), &sliceSink{}, nil, nil)

	// one anchor: cx, cy, w, h, person, cat
	tensor, err := detector.NewRawTensor([]int{1, 6, 1}, []float32{50, 50, 20, 20, 0.1, 0.9})
	require.NoError(t, err)
	require.NoError(t, mon.HandleTensor(at(0), tensor, 200, 200))

	dets := mon.LastDetections()
	require.Len(t, dets, 1)
	assert.Equal(t, "cat", dets[0].Category)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, types.BoundingBox{X: 80, Y: 80, W: 40, H: 40}, dets[0].Box)

	ts, ok := mon.LastDetectionTime()
	assert.True(t, ok)
	assert.Equal(t, at(0), ts)
}

func TestMalformedTensorLeavesStateUntouched(t *testing.T) {
	sink := &sliceSink{}
	m := metrics.New()
	mon := New(testConfig(), testDecoder(), sink, nil, m)

	bad := &detector.RawTensor{Data: make([]float32, 5), NumFeatures: 5, NumBoxes: 1}
	err := mon.HandleTensor(at(0), bad, 200, 200)
	assert.ErrorIs(t, err, detector.ErrMalformedTensor)

	_, ok := mon.LastDetectionTime()
	assert.False(t, ok)
	assert.Empty(t, sink.events)
	assert.Equal(t, uint64(1), m.DecodeErrors.Load())
}

func TestMissClearsLastDetections(t *testing.T) {
	mon := New(testConfig(), testDecoder(), nil, nil, nil)
	mon.HandleDetections(at(0), []types.Detection{det("cat", 0.9)})
	require.Len(t, mon.LastDetections(), 1)

	mon.HandleMiss(at(1))
	assert.Empty(t, mon.LastDetections())

	ts, ok := mon.LastDetectionTime()
	assert.True(t, ok)
	assert.Equal(t, at(1), ts)
}

func TestLastDetectionsIsACopy(t *testing.T) {
	mon := New(testConfig(), testDecoder(), nil, nil, nil)
	mon.HandleDetections(at(0), []types.Detection{det("cat", 0.9)})

	got := mon.LastDetections()
	got[0].Category = "dog"
	assert.Equal(t, "cat", mon.LastDetections()[0].Category)
}

func TestSinkErrorsAreCounted(t *testing.T) {
	sink := &sliceSink{err: errors.New("broken pipe")}
	m := metrics.New()
	mon := New(testConfig(), testDecoder(), sink, nil, m)

	mon.HandleDetections(at(0), []types.Detection{det("cat", 0.9)})

	// target start and subject absence start
	assert.Len(t, sink.events, 2)
	assert.Equal(t, uint64(2), m.SinkErrors.Load())
}

func TestUnknownKind(t *testing.T) {
	mon := New(testConfig(), testDecoder(), nil, nil, nil)
	_, err := mon.SessionSnapshot(types.Kind("loitering"), at(0))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestPanicInsideTickReleasesLock(t *testing.T) {
	explode := true
	source := override.SourceFunc(func(time.Time) types.OverrideSignal {
		if explode {
			panic("override store unavailable")
		}
		return types.OverrideSignal{}
	})
	mon := New(testConfig(), testDecoder(), nil, source, metrics.New())

	require.Panics(t, func() { mon.HandleDetections(at(0), []types.Detection{det("cat", 0.9)}) })

	explode = false
	done := make(chan struct{})
	go func() {
		mon.HandleDetections(at(1), []types.Detection{det("cat", 0.9)})
		_ = mon.LastDetections()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor lock still held after a panicking tick")
	}

	ts, ok := mon.LastDetectionTime()
	require.True(t, ok)
	assert.Equal(t, at(1), ts)
}
