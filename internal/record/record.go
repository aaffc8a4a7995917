// Package record stores raw frames in a msgpack recording and reads them back.
//
// File layout: a sequence of messages, each a 4-byte big-endian length
// followed by one msgpack-encoded Record.
package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/likelystudying/camera-framework/internal/capture"
)

// maxRecordSize rejects corrupt length prefixes before allocating.
const maxRecordSize = 64 << 20

// Record is one frame on disk.
type Record struct {
	Seq       uint64    `msgpack:"seq"`
	Timestamp time.Time `msgpack:"ts"`
	Width     int       `msgpack:"w"`
	Height    int       `msgpack:"h"`
	Format    string    `msgpack:"fmt"`
	TraceID   string    `msgpack:"trace_id,omitempty"`
	Data      []byte    `msgpack:"data"`
}

// FromFrame converts a frame to its on-disk form.
func FromFrame(f capture.Frame) Record {
	return Record{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format.String(),
		TraceID:   f.TraceID,
		Data:      f.Data,
	}
}

// Frame converts the record back to a frame.
func (r Record) Frame() (capture.Frame, error) {
	format, err := capture.ParsePixelFormat(r.Format)
	if err != nil {
		return capture.Frame{}, err
	}
	return capture.Frame{
		Data:      r.Data,
		Width:     r.Width,
		Height:    r.Height,
		Format:    format,
		Timestamp: r.Timestamp,
		Seq:       r.Seq,
		TraceID:   r.TraceID,
	}, nil
}

// Writer appends frames to a recording. It implements capture.Sink.
//
// Thread-safe: Save serializes on mu.
type Writer struct {
	path string

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	count  uint64
	closed bool
}

// Create truncates or creates the recording at path.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("record: create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return &Writer{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

// Save appends frame and returns the recording path. hint is ignored.
func (w *Writer) Save(frame capture.Frame, _ string) (string, error) {
	payload, err := msgpack.Marshal(FromFrame(frame))
	if err != nil {
		return "", fmt.Errorf("record: marshal frame %d: %w", frame.Seq, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", fmt.Errorf("record: %s is closed", w.path)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.buf.Write(prefix[:]); err != nil {
		return "", fmt.Errorf("record: write length prefix: %w", err)
	}
	if _, err := w.buf.Write(payload); err != nil {
		return "", fmt.Errorf("record: write frame %d: %w", frame.Seq, err)
	}
	w.count++
	return w.path, nil
}

// Count returns the number of frames written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes and closes the file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("record: flush: %w", flushErr)
	}
	return closeErr
}

// Reader iterates a recording.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	prefix [4]byte
}

// Open opens the recording at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return &Reader{r: bufio.NewReader(f), closer: f}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.r, r.prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("record: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(r.prefix[:])
	if n > maxRecordSize {
		return Record{}, fmt.Errorf("record: message of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, fmt.Errorf("record: read message (%d bytes): %w", n, err)
	}

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("record: unmarshal: %w", err)
	}
	return rec, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.closer.Close()
}
