// Package debug is a lock-free binary trace of bring-up events.
//
// Every record is:
//   - 2 bytes kind (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - source bytes
//   - message bytes
//
// Writers reserve their slot by atomically advancing the trace offset, so
// cores tracing concurrently never interleave inside a record and the file
// order is the reservation order.
package debug

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const headerSize = 16

type Kind uint16

const (
	KindInvalid Kind = iota
	KindBytes
	KindString
)

type Writer interface {
	io.WriterAt
	io.Closer
}

type sink struct {
	w Writer
}

var (
	current atomic.Pointer[sink]
	offset  atomic.Int64
)

// Open directs the trace to w. Records written before Open are dropped. The
// returned error is a warning that a previous writer was replaced.
func Open(w Writer) error {
	offset.Store(0)
	if current.Swap(&sink{w: w}) != nil {
		return fmt.Errorf("debug: already open, discarded old writer")
	}
	return nil
}

// OpenFile truncates filename and traces into it.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Memory is an in-memory trace target.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	return copy(m.data[off:], p), nil
}

func (m *Memory) Close() error { return nil }

// Bytes returns a copy of everything traced so far.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// OpenMemory traces into a fresh Memory.
func OpenMemory() (*Memory, error) {
	mem := &Memory{}
	return mem, Open(mem)
}

func Close() error {
	s := current.Swap(nil)
	offset.Store(0)
	if s != nil {
		return s.w.Close()
	}
	return nil
}

func write(kind Kind, source string, data []byte) {
	s := current.Load()
	if s == nil {
		return
	}

	size := int64(headerSize + len(source) + len(data))
	rec := make([]byte, size)
	binary.LittleEndian.PutUint16(rec[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(rec[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(rec[8:16], uint64(time.Now().UnixNano()))
	copy(rec[headerSize:], source)
	copy(rec[headerSize+len(source):], data)

	off := offset.Add(size) - size
	if _, err := s.w.WriteAt(rec, off); err != nil {
		panic(err)
	}
}

func WriteBytes(source string, data []byte) {
	write(KindBytes, source, data)
}

func Write(source string, data string) {
	write(KindString, source, []byte(data))
}

func Writef(source string, format string, args ...any) {
	write(KindString, source, fmt.Appendf(nil, format, args...))
}

// Debug writes records under a fixed source.
type Debug interface {
	WriteBytes(data []byte)
	Write(data string)
	Writef(format string, args ...any)
}

type withSource string

func (s withSource) WriteBytes(data []byte)            { WriteBytes(string(s), data) }
func (s withSource) Write(data string)                 { Write(string(s), data) }
func (s withSource) Writef(format string, args ...any) { Writef(string(s), format, args...) }

func WithSource(source string) Debug {
	return withSource(source)
}

// Record is one decoded trace entry.
type Record struct {
	Time   time.Time
	Kind   Kind
	Source string
	Data   []byte
}

var ErrCorrupt = errors.New("debug: corrupt trace")

// Each decodes the trace in r in write order and calls fn for every record.
func Each(r io.Reader, fn func(rec Record) error) error {
	var header [headerSize]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: header: %v", ErrCorrupt, err)
		}

		kind := Kind(binary.LittleEndian.Uint16(header[0:2]))
		if kind == KindInvalid {
			return fmt.Errorf("%w: invalid record kind", ErrCorrupt)
		}
		sourceLen := binary.LittleEndian.Uint16(header[2:4])
		dataLen := binary.LittleEndian.Uint32(header[4:8])
		ts := int64(binary.LittleEndian.Uint64(header[8:16]))

		body := make([]byte, int(sourceLen)+int(dataLen))
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("%w: body: %v", ErrCorrupt, err)
		}

		if err := fn(Record{
			Time:   time.Unix(0, ts),
			Kind:   kind,
			Source: string(body[:sourceLen]),
			Data:   body[sourceLen:],
		}); err != nil {
			return err
		}
	}
}

// EachFile decodes the trace written by OpenFile.
func EachFile(filename string, fn func(rec Record) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Each(f, fn)
}
