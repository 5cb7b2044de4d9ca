package trace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinyrange/efunc/internal/engine"
)

// Record is one decoded trace entry. Only the fields of its Kind are set.
type Record struct {
	Time time.Time
	Kind Kind
	Call uint64

	Spec  engine.CallSpec // KindConfigure
	Index int             // KindPush
	Arg   engine.Arg      // KindPush
	Ret   uint64          // KindResult
	Err   string          // KindResult
}

func (r Record) String() string {
	prefix := fmt.Sprintf("%s call/%d %-9s", r.Time.Format(time.RFC3339Nano), r.Call, r.Kind)
	switch r.Kind {
	case KindConfigure:
		return prefix + " " + r.Spec.String()
	case KindPush:
		return fmt.Sprintf("%s #%d %s/%d %#x", prefix, r.Index, r.Arg.Class, r.Arg.Width, r.Arg.Raw)
	case KindResult:
		if r.Err != "" {
			return prefix + " error: " + r.Err
		}
		return fmt.Sprintf("%s %#x", prefix, r.Ret)
	default:
		return prefix
	}
}

type indexEntry struct {
	Offset   int64
	Call     uint64
	UnixNano int64
}

// Reader iterates over a trace in write order.
type Reader struct {
	r     io.ReaderAt
	index []indexEntry
}

func NewReader(r io.ReaderAt, indexReader io.ReadSeeker) (*Reader, error) {
	ret := &Reader{r: r}
	if err := ret.indexAll(indexReader); err != nil {
		return nil, fmt.Errorf("failed to index trace: %w", err)
	}
	return ret, nil
}

func NewReaderFromFile(filename string) (*Reader, io.Closer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	reader, err := NewReader(f, f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return reader, f, nil
}

func parseSource(source []byte) (uint64, error) {
	s, ok := strings.CutPrefix(string(source), "call/")
	if !ok {
		return 0, fmt.Errorf("unexpected source %q", source)
	}
	return strconv.ParseUint(s, 10, 64)
}

func (r *Reader) indexAll(reader io.ReadSeeker) error {
	var header [headerSize]byte

	br := bufio.NewReader(reader)
	offset, err := reader.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to seek to current offset: %w", err)
	}

	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read header: %w", err)
		}
		kind, sourceLength, payloadLength := decodeHeader(header)
		if kind == KindInvalid || kind > KindClean {
			return fmt.Errorf("invalid header at offset %d", offset)
		}
		source := make([]byte, sourceLength)
		if _, err := io.ReadFull(br, source); err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}
		call, err := parseSource(source)
		if err != nil {
			return err
		}
		if _, err := br.Discard(int(payloadLength)); err != nil {
			return fmt.Errorf("failed to discard payload: %w", err)
		}
		r.index = append(r.index, indexEntry{
			Offset:   offset,
			Call:     call,
			UnixNano: int64(binary.LittleEndian.Uint64(header[8:16])),
		})
		offset += headerSize + int64(sourceLength) + int64(payloadLength)
	}
	return nil
}

func decodeHeader(header [headerSize]byte) (kind Kind, sourceLength uint16, payloadLength uint32) {
	kind = Kind(binary.LittleEndian.Uint16(header[0:2]))
	sourceLength = binary.LittleEndian.Uint16(header[2:4])
	payloadLength = binary.LittleEndian.Uint32(header[4:8])
	return
}

// readAt fills p, accepting io.EOF for a read that ends the input.
func (r *Reader) readAt(p []byte, off int64) error {
	n, err := r.r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (r *Reader) header(e indexEntry) ([headerSize]byte, error) {
	var header [headerSize]byte
	err := r.readAt(header[:], e.Offset)
	return header, err
}

func (r *Reader) read(e indexEntry) (Record, error) {
	header, err := r.header(e)
	if err != nil {
		return Record{}, err
	}
	kind, sourceLength, payloadLength := decodeHeader(header)
	payload := make([]byte, payloadLength)
	if err := r.readAt(payload, e.Offset+headerSize+int64(sourceLength)); err != nil {
		return Record{}, err
	}

	rec := Record{Time: time.Unix(0, e.UnixNano), Kind: kind, Call: e.Call}
	switch kind {
	case KindConfigure:
		rec.Spec, err = decodeSpec(payload)
	case KindPush:
		rec.Index, rec.Arg, err = decodeArg(payload)
	case KindResult:
		if len(payload) < 8 {
			return Record{}, errShortPayload
		}
		rec.Ret = binary.LittleEndian.Uint64(payload[:8])
		rec.Err = string(payload[8:])
	}
	return rec, err
}

// Len returns the number of records.
func (r *Reader) Len() int { return len(r.index) }

// Each visits every record in the order it was written.
func (r *Reader) Each(fn func(Record) error) error {
	for _, e := range r.index {
		rec, err := r.read(e)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// EachCall visits the records of one call.
func (r *Reader) EachCall(call uint64, fn func(Record) error) error {
	return r.Each(func(rec Record) error {
		if rec.Call != call {
			return nil
		}
		return fn(rec)
	})
}

// Count returns the number of records of the given kind.
func (r *Reader) Count(kind Kind) (int, error) {
	n := 0
	for _, e := range r.index {
		header, err := r.header(e)
		if err != nil {
			return 0, err
		}
		if k, _, _ := decodeHeader(header); k == kind {
			n++
		}
	}
	return n, nil
}
