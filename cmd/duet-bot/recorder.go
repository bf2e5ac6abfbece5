package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"duet/internal/orchestrator"

	"github.com/sirupsen/logrus"
)

// frameSource is the data channel side of a peer. *pionpeer.Peer implements it.
type frameSource interface {
	OnMessage(fn func([]byte))
	Send(data []byte) error
}

// recorder writes the frames the counterpart sends over the data channel to a temp file
// and sends its own heartbeat frames, standing in for camera capture on a headless host.
type recorder struct {
	dir    string
	name   string
	every  time.Duration
	logger *logrus.Logger

	mu      sync.Mutex
	file    *os.File
	written int64
	started time.Time
	src     frameSource
	stop    chan struct{}
	done    chan struct{}
}

func newRecorder(dir, name string, logger *logrus.Logger) *recorder {
	return &recorder{dir: dir, name: name, every: 500 * time.Millisecond, logger: logger}
}

func (r *recorder) Start(ctx context.Context, sessionID string, peer orchestrator.Peer) error {
	src, ok := peer.(frameSource)
	if !ok {
		return fmt.Errorf("peer does not carry data frames")
	}

	file, err := os.CreateTemp(r.dir, "duet-bot-*.webm")
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}

	r.mu.Lock()
	r.file = file
	r.written = 0
	r.started = time.Now()
	r.src = src
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	src.OnMessage(r.write)
	go r.heartbeat(src, stop, done)
	return nil
}

func (r *recorder) write(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	n, err := r.file.Write(frame)
	if err == nil {
		_, err = r.file.Write([]byte{'\n'})
	}
	r.written += int64(n)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to write frame")
	}
}

func (r *recorder) heartbeat(src frameSource, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Frames sent before the channel opens are dropped.
			_ = src.Send([]byte(fmt.Sprintf("%s %d", r.name, n)))
		}
	}
}

// Stop ends the recording. An empty recording is discarded.
func (r *recorder) Stop(ctx context.Context) (*orchestrator.Recording, error) {
	r.mu.Lock()
	file, src, stop, done := r.file, r.src, r.stop, r.done
	written, started := r.written, r.started
	r.file, r.src = nil, nil
	r.mu.Unlock()

	if file == nil {
		return nil, nil
	}
	close(stop)
	<-done
	src.OnMessage(nil)

	if written == 0 {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("failed to rewind recording: %w", err)
	}
	return &orchestrator.Recording{
		Filename: "call.webm",
		Duration: int(time.Since(started).Seconds()),
		Data:     &tempFile{File: file},
	}, nil
}

// Release has no devices to free on a headless host.
func (r *recorder) Release() error {
	r.logger.Debug("Capture released")
	return nil
}

// tempFile removes itself once closed.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
