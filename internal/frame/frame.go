// Package frame acquires still images for inference.
package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"
)

// Frame is one decoded image together with its original encoding.
type Frame struct {
	Image      image.Image
	JPEG       []byte
	CapturedAt time.Time
}

// Width returns the image width in pixels.
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the image height in pixels.
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// Source yields the most recent frame.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Decode builds a Frame from JPEG bytes.
func Decode(data []byte, capturedAt time.Time) (Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode jpeg: %w", err)
	}
	return Frame{Image: img, JPEG: data, CapturedAt: capturedAt}, nil
}

// MaxSnapshotBytes caps the size of a fetched snapshot.
const MaxSnapshotBytes = 16 << 20

// ErrSnapshotTooLarge is returned when a snapshot exceeds the size cap.
var ErrSnapshotTooLarge = errors.New("snapshot too large")

// HTTPSource fetches a JPEG snapshot from a camera endpoint on every call.
type HTTPSource struct {
	url      string
	client   *http.Client
	now      func() time.Time
	maxBytes int64
}

// NewHTTPSource creates a source for url. A zero timeout disables the client timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
		maxBytes: MaxSnapshotBytes,
	}
}

// Next fetches and decodes one snapshot.
func (s *HTTPSource) Next(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("fetch snapshot: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return Frame{}, fmt.Errorf("%w: more than %d bytes", ErrSnapshotTooLarge, s.maxBytes)
	}
	return Decode(data, s.now())
}

// FileSource re-reads a JPEG file on every call. The file may be replaced between calls.
type FileSource struct {
	path string
	now  func() time.Time
}

// NewFileSource creates a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: filepath.Clean(path), now: time.Now}
}

// Next reads and decodes the file.
func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Frame{}, fmt.Errorf("read frame file: %w", err)
	}
	return Decode(data, s.now())
}

// Resize scales img to exactly w x h, ignoring aspect ratio.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
