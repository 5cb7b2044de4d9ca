// Package trace records native calls in a compact binary log.
//
// Every record has a 16 byte header followed by the source and the payload:
//   - 2 bytes kind (see Kind)
//   - 2 bytes source length
//   - 4 bytes payload length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - sourceLength bytes source, the call sequence number as "call/N"
//   - payloadLength bytes payload, laid out per kind
//
// Writers claim their region by atomically advancing the file offset.
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/scalar"
)

const headerSize = 16

type Kind uint16

const (
	KindInvalid Kind = iota
	KindConfigure
	KindPush
	KindResult
	KindClean
)

func (k Kind) String() string {
	switch k {
	case KindConfigure:
		return "configure"
	case KindPush:
		return "push"
	case KindResult:
		return "result"
	case KindClean:
		return "clean"
	default:
		return "invalid"
	}
}

type Writer interface {
	io.WriterAt
	io.Closer
}

// Tracer writes call records. It satisfies ffi.Tracer.
type Tracer struct {
	w      Writer
	offset atomic.Int64
	seq    atomic.Uint64
	now    func() time.Time

	errMu sync.Mutex
	err   error
}

func Open(w Writer) *Tracer {
	return &Tracer{w: w, now: time.Now}
}

// OpenFile truncates filename and traces into it.
func OpenFile(filename string) (*Tracer, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return Open(f), nil
}

// Err returns the first write failure. Records after a failure may be lost.
func (t *Tracer) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *Tracer) Close() error {
	if err := t.w.Close(); err != nil {
		return err
	}
	return t.Err()
}

// Size returns the number of bytes written so far.
func (t *Tracer) Size() int64 { return t.offset.Load() }

func (t *Tracer) source() string {
	return "call/" + strconv.FormatUint(t.seq.Load(), 10)
}

func (t *Tracer) Configure(spec engine.CallSpec) {
	t.seq.Add(1)
	t.record(KindConfigure, encodeSpec(spec))
}

func (t *Tracer) Push(index int, arg engine.Arg) {
	t.record(KindPush, encodeArg(index, arg))
}

func (t *Tracer) Result(raw uint64, err error) {
	payload := binary.LittleEndian.AppendUint64(nil, raw)
	if err != nil {
		payload = append(payload, err.Error()...)
	}
	t.record(KindResult, payload)
}

func (t *Tracer) Clean() {
	t.record(KindClean, nil)
}

func encodeHeader(kind Kind, source string, payload []byte, ts time.Time) []byte {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(ts.UnixNano()))
	return header
}

func (t *Tracer) record(kind Kind, payload []byte) {
	source := t.source()
	buf := encodeHeader(kind, source, payload, t.now())
	buf = append(buf, source...)
	buf = append(buf, payload...)

	size := int64(len(buf))
	off := t.offset.Add(size) - size
	if _, err := t.w.WriteAt(buf, off); err != nil {
		t.errMu.Lock()
		if t.err == nil {
			t.err = fmt.Errorf("trace: write at %d: %w", off, err)
		}
		t.errMu.Unlock()
	}
}

// Configure payload: addr u64, total u32, variadic u32, fixed u32, return
// class u8, return width u8.
func encodeSpec(spec engine.CallSpec) []byte {
	b := make([]byte, 0, 22)
	b = binary.LittleEndian.AppendUint64(b, uint64(spec.Addr))
	b = binary.LittleEndian.AppendUint32(b, uint32(spec.Total))
	b = binary.LittleEndian.AppendUint32(b, uint32(spec.Variadic))
	b = binary.LittleEndian.AppendUint32(b, uint32(spec.Fixed))
	return append(b, byte(spec.ReturnClass), byte(spec.ReturnWidth))
}

// Push payload: index u32, class u8, width u8, raw u64.
func encodeArg(index int, arg engine.Arg) []byte {
	b := make([]byte, 0, 14)
	b = binary.LittleEndian.AppendUint32(b, uint32(index))
	b = append(b, byte(arg.Class), byte(arg.Width))
	return binary.LittleEndian.AppendUint64(b, arg.Raw)
}

var errShortPayload = errors.New("trace: short payload")

func decodeSpec(p []byte) (engine.CallSpec, error) {
	if len(p) < 22 {
		return engine.CallSpec{}, errShortPayload
	}
	return engine.CallSpec{
		Addr:        uintptr(binary.LittleEndian.Uint64(p[0:8])),
		Total:       int(binary.LittleEndian.Uint32(p[8:12])),
		Variadic:    int(binary.LittleEndian.Uint32(p[12:16])),
		Fixed:       int(binary.LittleEndian.Uint32(p[16:20])),
		ReturnClass: scalar.Class(p[20]),
		ReturnWidth: int(p[21]),
	}, nil
}

func decodeArg(p []byte) (int, engine.Arg, error) {
	if len(p) < 14 {
		return 0, engine.Arg{}, errShortPayload
	}
	return int(binary.LittleEndian.Uint32(p[0:4])), engine.Arg{
		Class: scalar.Class(p[4]),
		Width: int(p[5]),
		Raw:   binary.LittleEndian.Uint64(p[6:14]),
	}, nil
}
