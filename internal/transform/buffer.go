package transform

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ErrShortRead is returned when a module's reader ends before its declared
// size was reached.
var ErrShortRead = errors.New("module ended before its declared size")

// Buffer reassembles a module's chunks. Nothing is handed on until the
// running total reaches the size the module declared up front.
type Buffer struct {
	id     string
	size   int64
	read   int64
	chunks [][]byte
	done   bool
	log    zerolog.Logger
}

func NewBuffer(id string, size int64, log zerolog.Logger) *Buffer {
	return &Buffer{id: id, size: size, log: log}
}

// Write appends chunk. It returns the complete content and true exactly
// once, on the write that reaches the declared size.
func (b *Buffer) Write(chunk []byte) ([]byte, bool) {
	if b.done {
		return nil, false
	}
	b.read += int64(len(chunk))
	b.log.Info().
		Str("module", b.id).
		Int64("read", b.read).
		Int64("size", b.size).
		Msgf("Transform(%s) %d/%d", b.id, b.read, b.size)

	if len(b.chunks) == 0 && b.read >= b.size {
		b.done = true
		return chunk, true
	}
	b.chunks = append(b.chunks, chunk)
	if b.read < b.size {
		return nil, false
	}

	b.done = true
	out := make([]byte, 0, b.read)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	return out, true
}

// Ready reports whether the content has been handed out.
func (b *Buffer) Ready() bool {
	return b.done
}

// Collect feeds r through the buffer in chunkSize reads.
func (b *Buffer) Collect(r io.Reader, chunkSize int) ([]byte, error) {
	if b.size == 0 {
		out, _ := b.Write(nil)
		return out, nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	for {
		chunk := make([]byte, chunkSize)
		n, err := r.Read(chunk)
		if n > 0 {
			if out, ok := b.Write(chunk[:n]); ok {
				return out, nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w (%d/%d bytes)", b.id, ErrShortRead, b.read, b.size)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.id, err)
		}
	}
}
