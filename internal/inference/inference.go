// Package inference runs the object detector on a frame and returns its raw output tensor.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/frame"
)

// ErrUnavailable is returned when the model server cannot produce a result.
var ErrUnavailable = errors.New("inference: model server unavailable")

// Inferencer runs the detector on one frame.
type Inferencer interface {
	Infer(ctx context.Context, f frame.Frame) (*detector.RawTensor, error)
}

// Output is the model server response body.
type Output struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// HTTPClient posts frames to a model server.
type HTTPClient struct {
	url         string
	inputWidth  int
	inputHeight int
	quality     int
	http        *http.Client
}

// NewHTTPClient creates a client that resizes each frame to the model input size before posting it.
func NewHTTPClient(url string, inputWidth, inputHeight int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:         url,
		inputWidth:  inputWidth,
		inputHeight: inputHeight,
		quality:     85,
		http:        &http.Client{Timeout: timeout},
	}
}

// Infer posts the resized frame as image/jpeg and decodes the tensor response.
func (c *HTTPClient) Infer(ctx context.Context, f frame.Frame) (*detector.RawTensor, error) {
	body, err := frame.EncodeJPEG(frame.Resize(f.Image, c.inputWidth, c.inputHeight), c.quality)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out Output
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return detector.NewRawTensor(out.Shape, out.Data)
}

// Mock implements Inferencer for tests.
type Mock struct {
	// InferFunc is called when Infer is invoked.
	InferFunc func(ctx context.Context, f frame.Frame) (*detector.RawTensor, error)
}

// Infer calls InferFunc. Without one it returns ErrUnavailable.
func (m *Mock) Infer(ctx context.Context, f frame.Frame) (*detector.RawTensor, error) {
	if m.InferFunc != nil {
		return m.InferFunc(ctx, f)
	}
	return nil, ErrUnavailable
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		InferFunc: func(context.Context, frame.Frame) (*detector.RawTensor, error) {
			return nil, err
		},
	}
}

// WithTensor returns a mock that always returns t.
func WithTensor(t *detector.RawTensor) *Mock {
	return &Mock{
		InferFunc: func(context.Context, frame.Frame) (*detector.RawTensor, error) {
			return t, nil
		},
	}
}
