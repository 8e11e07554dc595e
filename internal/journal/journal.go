// Package journal appends session events to JSON Lines files.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var log = logger.For("Journal")

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrBufferFull       = errors.New("journal buffer full")
)

// Journal writes events to journal-YYYYMMDD_HHMMSS.jsonl while started.
type Journal struct {
	mu           sync.RWMutex
	basePath     string
	file         *os.File
	writer       *bufio.Writer
	filename     string
	recording    bool
	eventCount   uint64
	bytesWritten uint64
	startTime    time.Time
	eventChan    chan types.SessionEvent
	stopChan     chan struct{}
	wg           sync.WaitGroup
	now          func() time.Time
}

// New creates a stopped journal writing under basePath.
func New(basePath string) *Journal {
	return &Journal{
		basePath: basePath,
		now:      time.Now,
	}
}

// Start opens a new journal file.
func (j *Journal) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.recording {
		return ErrAlreadyRecording
	}
	if err := os.MkdirAll(j.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create journal dir: %w", err)
	}

	start := j.now()
	filename := fmt.Sprintf("journal-%s.jsonl", start.Format("20060102_150405"))
	file, err := os.OpenFile(filepath.Join(j.basePath, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	j.file = file
	j.writer = bufio.NewWriter(file)
	j.filename = filename
	j.recording = true
	j.eventCount = 0
	j.bytesWritten = 0
	j.startTime = start
	j.eventChan = make(chan types.SessionEvent, 64)
	j.stopChan = make(chan struct{})

	j.wg.Add(1)
	go j.writeEvents(j.eventChan, j.stopChan)

	log.Info("Started %s", filename)
	return nil
}

// Stop flushes pending events and closes the file.
func (j *Journal) Stop() error {
	j.mu.Lock()
	if !j.recording {
		j.mu.Unlock()
		return ErrNotRecording
	}
	j.recording = false
	close(j.stopChan)
	j.mu.Unlock()

	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	if err := j.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush journal: %w", err))
	}
	if err := j.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync file: %w", err))
	}
	if err := j.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close file: %w", err))
	}
	j.file = nil
	j.writer = nil

	if err := errors.Join(errs...); err != nil {
		log.Error("Stopped %s with errors: %v", j.filename, err)
		return err
	}
	log.Info("Stopped %s (%d events)", j.filename, j.eventCount)
	return nil
}

// Emit queues ev for writing. It is a no-op while stopped.
func (j *Journal) Emit(ev types.SessionEvent) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if !j.recording {
		return nil
	}
	select {
	case j.eventChan <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

func (j *Journal) writeEvents(events <-chan types.SessionEvent, stop <-chan struct{}) {
	defer j.wg.Done()

	for {
		select {
		case ev := <-events:
			j.writeEvent(ev)
		case <-stop:
			for {
				select {
				case ev := <-events:
					j.writeEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) writeEvent(ev types.SessionEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		log.Warn("Skipping unencodable event %s: %v", ev, err)
		return
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return
	}
	n, err := j.writer.Write(line)
	if err != nil {
		log.Error("Write failed: %v", err)
		return
	}
	// flush per event so a crash loses at most the buffered line
	if err := j.writer.Flush(); err != nil {
		log.Error("Flush failed: %v", err)
		return
	}
	j.bytesWritten += uint64(n)
	j.eventCount++
}

// IsRecording reports whether the journal is started.
func (j *Journal) IsRecording() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.recording
}

// Status returns the current journal status.
func (j *Journal) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var duration time.Duration
	if j.recording {
		duration = j.now().Sub(j.startTime)
	}
	return Status{
		Recording:    j.recording,
		Filename:     j.filename,
		EventCount:   j.eventCount,
		BytesWritten: j.bytesWritten,
		DurationMs:   duration.Milliseconds(),
		StartTime:    j.startTime,
	}
}

// Close stops the journal if it is running.
func (j *Journal) Close() error {
	if j.IsRecording() {
		return j.Stop()
	}
	return nil
}

// Status holds the current journal status
type Status struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	EventCount   uint64    `json:"event_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
