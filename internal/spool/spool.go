// Package spool implements the disk-spooled parallel->sequential
// buffer (spec.md §4.5): one producer appends newline-delimited JSON
// records to a temp file while a single tailing reader drains it,
// bridging a concurrent producer and a sequential consumer without an
// unbounded in-memory queue.
package spool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
	"github.com/data-connectors/source-klaviyo/pkg/logger"
	"github.com/data-connectors/source-klaviyo/pkg/metrics"
)

// Generator produces records to append to the spool. It returns
// io.EOF (wrapped or bare) when exhausted.
type Generator func(ctx context.Context, emit func(map[string]interface{}) error) error

const (
	// flushThreshold is the buffered-writer flush threshold (spec.md
	// §4.5 "≈64 KB").
	flushThreshold = 64 * 1024
	// readChunkSize is the fixed-size chunk process() reads at a time
	// (spec.md §4.5 "≈512 KB").
	readChunkSize = 512 * 1024
	// pollFallback is used when a filesystem watch cannot be
	// established (spec.md §9's "languages without coroutines" note
	// translated into the inotify-unavailable case).
	pollFallback = 200 * time.Millisecond
)

// Spool decouples one producer and one consumer for a single shard.
type Spool struct {
	dir    string
	path   string
	stream string

	flushThreshold int
	pollFallback   time.Duration

	mu       sync.Mutex
	isDone   bool
	writeErr error

	doneCh      chan struct{}
	startOnce   sync.Once
	processOnce sync.Once
}

// New creates a Spool backed by a uniquely-named file under dir (a
// process-owned temp directory). The file is not created until Start.
// stream labels the SpoolDepth gauge; pass "" if not meaningful (tests).
func New(dir string, stream string) *Spool {
	return NewWithOptions(dir, stream, 0, 0)
}

// NewWithOptions is New with the flush/poll tuning knobs
// (performance.spool_flush_bytes, performance.spool_poll_interval)
// exposed; a zero flushBytes or pollInterval falls back to this
// package's defaults.
func NewWithOptions(dir string, stream string, flushBytes int, pollInterval time.Duration) *Spool {
	name := "spool-" + uuid.NewString() + ".ndjson"
	if flushBytes <= 0 {
		flushBytes = flushThreshold
	}
	if pollInterval <= 0 {
		pollInterval = pollFallback
	}
	return &Spool{
		dir:            dir,
		path:           filepath.Join(dir, name),
		stream:         stream,
		flushThreshold: flushBytes,
		pollFallback:   pollInterval,
		doneCh:         make(chan struct{}),
	}
}

// Path exposes the backing file path, mainly for tests and metrics.
func (s *Spool) Path() string { return s.path }

// Start begins writing gen's records to the spool file in a background
// goroutine and returns immediately. It must be called at most once.
func (s *Spool) Start(ctx context.Context, gen Generator) {
	s.startOnce.Do(func() {
		go s.write(ctx, gen)
	})
}

func (s *Spool) write(ctx context.Context, gen Generator) {
	defer func() {
		s.mu.Lock()
		s.isDone = true
		s.mu.Unlock()
		close(s.doneCh)
	}()

	f, err := os.Create(s.path) //nolint:gosec // G304: path is process-generated, not user input
	if err != nil {
		s.fail(apperrors.Wrap(err, apperrors.ErrorTypeInternal, "spool: create file"))
		return
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, s.flushThreshold)
	emit := func(rec map[string]interface{}) error {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeCancelled, "spool: write cancelled")
		}
		buf, err := jsonpool.Marshal(rec)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeData, "spool: marshal record")
		}
		if _, err := bw.Write(buf); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "spool: write record")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "spool: write newline")
		}
		if s.stream != "" {
			metrics.SpoolDepth.WithLabelValues(s.stream).Inc()
		}
		if bw.Buffered() >= s.flushThreshold {
			return bw.Flush()
		}
		return nil
	}

	err = gen(ctx, emit)
	if flushErr := bw.Flush(); err == nil {
		err = flushErr
	}
	if err != nil && !errors.Is(err, io.EOF) {
		s.fail(err)
	}
}

func (s *Spool) fail(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// Done reports whether the writer has finished (successfully or not).
func (s *Spool) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDone
}

// DoneCh returns a channel closed once the producer goroutine started
// by Start has returned, whether it succeeded, failed, or was
// cancelled. Callers that need to learn about a producer failure
// before this spool is drained (spec.md §4.6 step 5) select on it
// alongside WriteErr.
func (s *Spool) DoneCh() <-chan struct{} {
	return s.doneCh
}

// WriteErr returns the producer's terminal error, if any.
func (s *Spool) WriteErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

// Process opens the spool file for reading and invokes emit for each
// decoded record in append order, tailing the file while the writer is
// still active. It must be called at most once and blocks until the
// writer is done and every byte (including any trailing partial line)
// has been consumed, or ctx is cancelled.
func (s *Spool) Process(ctx context.Context, emit func(map[string]interface{}) error) error {
	var retErr error
	s.processOnce.Do(func() {
		retErr = s.process(ctx, emit)
	})
	return retErr
}

func (s *Spool) process(ctx context.Context, emit func(map[string]interface{}) error) error {
	// Wait for the file to exist; Start() creates it almost immediately
	// but the reader may be scheduled first.
	var f *os.File
	for {
		var err error
		f, err = os.Open(s.path) //nolint:gosec // G304: path is process-generated
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "spool: open for read")
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeCancelled, "spool: cancelled waiting for file")
		}
	}
	defer f.Close()

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		if err := watcher.Add(s.dir); err != nil {
			logger.WithContext(ctx).Warn("spool: could not watch directory, falling back to polling",
			)
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
	}

	var partial []byte
	buf := make([]byte, readChunkSize)

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := s.consumeChunk(buf[:n], &partial, emit); err != nil {
				return err
			}
		}
		if readErr == nil {
			continue
		}
		if readErr != io.EOF {
			return apperrors.Wrap(readErr, apperrors.ErrorTypeInternal, "spool: read chunk")
		}

		// Hit EOF: if the writer is done, flush any trailing partial
		// line and finish; otherwise wait for more bytes.
		if s.Done() {
			if len(partial) > 0 {
				if err := s.emitLine(partial, emit); err != nil {
					return err
				}
			}
			return s.WriteErr()
		}

		if err := s.awaitMore(ctx, watcher); err != nil {
			return err
		}
	}
}

func (s *Spool) consumeChunk(chunk []byte, partial *[]byte, emit func(map[string]interface{}) error) error {
	data := append(*partial, chunk...)
	*partial = nil

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			*partial = append([]byte(nil), data...)
			return nil
		}
		line := data[:idx]
		data = data[idx+1:]
		if err := s.emitLine(line, emit); err != nil {
			return err
		}
	}
}

func (s *Spool) emitLine(line []byte, emit func(map[string]interface{}) error) error {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	var rec map[string]interface{}
	if err := jsonpool.Unmarshal(line, &rec); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeData, "spool: decode record")
	}
	if s.stream != "" {
		metrics.SpoolDepth.WithLabelValues(s.stream).Dec()
	}
	return emit(rec)
}

func (s *Spool) awaitMore(ctx context.Context, watcher *fsnotify.Watcher) error {
	if watcher == nil {
		select {
		case <-time.After(s.pollFallback):
			return nil
		case <-s.doneCh:
			return nil
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeCancelled, "spool: cancelled while tailing")
		}
	}

	select {
	case <-watcher.Events:
		return nil
	case <-watcher.Errors:
		return nil
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeCancelled, "spool: cancelled while tailing")
	case <-time.After(s.pollFallback):
		// Belt-and-suspenders: some filesystems deliver inotify events
		// for the directory but not for in-place appends to the file.
		return nil
	}
}

// Cleanup removes the spool file. Idempotent; errors are swallowed
// beyond IsNotExist since cleanup runs on both the success and the
// cancellation path (spec.md §3 "removed on best effort").
func (s *Spool) Cleanup() {
	_ = os.Remove(s.path)
}
