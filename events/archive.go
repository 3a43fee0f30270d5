package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// ArchiveTap appends every bus event to hourly zstd-compressed JSONL files
// named events-YYYY-MM-DD-HH.jsonl.zst under dir.
type ArchiveTap struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewArchiveTap creates dir if needed and starts the writer goroutine.
func NewArchiveTap(dir string, logger *zap.Logger) (*ArchiveTap, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	a := &ArchiveTap{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		queue:  make(chan Event, 1024),
		done:   make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// Offer queues e without blocking; events are dropped when the queue is full.
func (a *ArchiveTap) Offer(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
	}
}

func (a *ArchiveTap) run() {
	defer close(a.done)
	for e := range a.queue {
		if err := a.write(e); err != nil {
			a.logger.Warn("event archive write failed", zap.Error(err))
		}
	}
}

// write is only called from the run goroutine, so the file fields need no lock.
func (a *ArchiveTap) write(e Event) error {
	hour := a.now().UTC().Format("2006-01-02-15")
	if hour != a.curHour {
		if err := a.rotate(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := a.w.Write(b); err != nil {
		return err
	}
	if err := a.w.WriteByte('\n'); err != nil {
		return err
	}
	if len(a.queue) == 0 {
		// Push a complete zstd block to the file so a crash loses at
		// most the events still queued.
		if err := a.w.Flush(); err != nil {
			return err
		}
		return a.enc.Flush()
	}
	return nil
}

func (a *ArchiveTap) rotate(hour string) error {
	if err := a.closeFile(); err != nil {
		return err
	}
	f, err := os.OpenFile(a.PathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	a.f, a.enc, a.w = f, enc, bufio.NewWriterSize(enc, 64*1024)
	a.curHour = hour
	return nil
}

func (a *ArchiveTap) closeFile() error {
	var err error
	if a.w != nil {
		_ = a.w.Flush()
	}
	if a.enc != nil {
		err = a.enc.Close()
	}
	if a.f != nil {
		_ = a.f.Close()
	}
	a.f, a.enc, a.w = nil, nil, nil
	return err
}

// PathForHour returns the archive file for an hour key like 2026-01-02-15.
func (a *ArchiveTap) PathForHour(hour string) string {
	return filepath.Join(a.dir, fmt.Sprintf("events-%s.jsonl.zst", hour))
}

// Close drains the queue and finishes the current file.
func (a *ArchiveTap) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
	return a.closeFile()
}
