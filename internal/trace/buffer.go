package trace

import (
	"bytes"
	"sync"
)

// Buffer is an in-memory Writer.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if end := off + int64(len(p)); end > int64(len(b.data)) {
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}
	return copy(b.data[off:], p), nil
}

func (b *Buffer) Close() error { return nil }

// Bytes returns a copy of everything written.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Reader indexes the buffer's current contents.
func (b *Buffer) Reader() (*Reader, error) {
	data := b.Bytes()
	return NewReader(bytes.NewReader(data), bytes.NewReader(data))
}

// OpenMemory traces into a fresh Buffer.
func OpenMemory() (*Tracer, *Buffer) {
	buf := &Buffer{}
	return Open(buf), buf
}
