// Package message implements the NDJSON protocol (spec.md §6) that the
// "read" CLI subcommand writes to stdout: RECORD, STATE, SOURCE_STATUS
// and LOG messages, one JSON object per line, in strict emission order.
package message

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
)

// Type identifies the protocol message's top-level shape.
type Type string

const (
	TypeRecord Type = "RECORD"
	TypeState  Type = "STATE"
	TypeStatus Type = "SOURCE_STATUS"
	TypeLog    Type = "LOG"
)

// Status is the run or per-stream lifecycle state carried by a STATUS
// message (spec.md §6).
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusErrored Status = "ERRORED"
)

// LogLevel mirrors zap's level names for the LOG message's level field.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Envelope is the outer shape every protocol message shares.
type Envelope struct {
	Type   Type           `json:"type"`
	Record *RecordPayload `json:"record,omitempty"`
	State  *StatePayload  `json:"state,omitempty"`
	Status *StatusPayload `json:"status,omitempty"`
	Log    *LogPayload    `json:"log,omitempty"`
}

// RecordPayload is the RECORD message body.
type RecordPayload struct {
	Stream     string                 `json:"stream"`
	Data       map[string]interface{} `json:"data"`
	EmittedAt  int64                  `json:"emitted_at"`
}

// StatePayload is the STATE message body. Data holds either the legacy
// {streamName: {cutoff}} map or an envelope list (internal/state),
// optionally gzip+base64 compressed per CompressState (spec.md §6).
type StatePayload struct {
	Data       interface{} `json:"data"`
	Compressed bool        `json:"compressed,omitempty"`
}

// StreamStatus reports a single stream's terminal state within a STATUS
// message.
type StreamStatus struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	RecordsEmitted int64  `json:"recordsEmitted"`
}

// StatusMessage carries optional human/machine error context.
type StatusMessage struct {
	Summary string `json:"summary"`
	Code    string `json:"code"`
	Action  string `json:"action"`
	Type    string `json:"type"`
}

// StatusPayload is the SOURCE_STATUS message body.
type StatusPayload struct {
	Status  Status         `json:"status"`
	Message *StatusMessage `json:"message,omitempty"`
	Stream  *StreamStatus  `json:"stream,omitempty"`
}

// LogPayload is the LOG message body.
type LogPayload struct {
	Level      LogLevel `json:"level"`
	Message    string   `json:"message"`
	StackTrace string   `json:"stack_trace,omitempty"`
}

// Writer serializes protocol messages to stdout (or any io.Writer) as
// newline-delimited JSON, one write at a time, guarded by a mutex so
// concurrent shard producers and the sync driver never interleave a
// partial line (spec.md §6 "No other output is written to stdout").
type Writer struct {
	mu  sync.Mutex
	out *bufio.Writer
	w   io.Writer
}

// NewWriter wraps w (typically os.Stdout) for protocol message output.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: bufio.NewWriter(w), w: w}
}

func (w *Writer) writeLine(env Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, err := jsonpool.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := w.out.Write(buf); err != nil {
		return err
	}
	if err := w.out.WriteByte('\n'); err != nil {
		return err
	}
	return w.out.Flush()
}

// Record emits a RECORD message.
func (w *Writer) Record(stream string, data map[string]interface{}) error {
	return w.writeLine(Envelope{
		Type: TypeRecord,
		Record: &RecordPayload{
			Stream:    stream,
			Data:      data,
			EmittedAt: time.Now().UnixMilli(),
		},
	})
}

// State emits a STATE message, gzip+base64 compressing the payload
// unless compress is false (spec.md §6 compress_state).
func (w *Writer) State(data interface{}, compress bool) error {
	payload := &StatePayload{Data: data}
	if compress {
		encoded, err := CompressState(data)
		if err != nil {
			return err
		}
		payload.Data = encoded
		payload.Compressed = true
	}
	return w.writeLine(Envelope{Type: TypeState, State: payload})
}

// Status emits a SOURCE_STATUS message.
func (w *Writer) Status(status Status, msg *StatusMessage, stream *StreamStatus) error {
	return w.writeLine(Envelope{
		Type:   TypeStatus,
		Status: &StatusPayload{Status: status, Message: msg, Stream: stream},
	})
}

// Log emits a LOG message.
func (w *Writer) Log(level LogLevel, message, stackTrace string) error {
	return w.writeLine(Envelope{
		Type: TypeLog,
		Log:  &LogPayload{Level: level, Message: message, StackTrace: stackTrace},
	})
}

// CompressState gzip-compresses the JSON-encoded state using
// klauspost/compress/gzip and returns the result base64-encoded so it
// still round-trips through a JSON string field.
func CompressState(data interface{}) (string, error) {
	raw, err := jsonpool.Marshal(data)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return "", err
	}
	if _, err := gz.Write(raw); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// LogSink adapts a Writer to pkg/logger.ProtocolSink so the global
// logger can tee entries into this run's LOG message stream without
// pkg/logger depending on this package's LogLevel type.
type LogSink struct{ w *Writer }

// NewLogSink wraps w for attachment via logger.SetProtocolSink.
func NewLogSink(w *Writer) LogSink { return LogSink{w: w} }

// Log implements pkg/logger.ProtocolSink.
func (s LogSink) Log(level, message, stackTrace string) error {
	return s.w.Log(LogLevel(level), message, stackTrace)
}

// DecompressState reverses CompressState. No command path calls it;
// the package's tests use it to check the round trip.
func DecompressState(encoded string, out interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer gz.Close()

	decoded, err := io.ReadAll(gz)
	if err != nil {
		return err
	}
	return jsonpool.Unmarshal(decoded, out)
}
