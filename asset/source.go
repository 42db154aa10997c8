package asset

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	DefaultChunkSize = 30 * 1024 * 1024 // 30mb
	MaxChunkSize     = 64 * 1024 * 1024
)

// ChunkSource reads an asset sequentially in fixed-size chunks.
type ChunkSource interface {
	// Size is the total number of bytes the source will yield.
	Size() int64
	// Next returns the next non-empty chunk, or io.EOF once the source is exhausted.
	Next() ([]byte, error)
	Close() error
}

// FileSource is a ChunkSource over any reader with a known size, usually an *os.File.
type FileSource struct {
	r         io.Reader
	size      int64
	chunkSize int
}

var _ ChunkSource = (*FileSource)(nil)

// NewSource wraps r. If r implements io.Closer it is closed by Close.
func NewSource(r io.Reader, size int64, chunkSize int) *FileSource {
	return &FileSource{r: r, size: size, chunkSize: ClampChunkSize(chunkSize)}
}

// OpenSource opens a regular file for chunked reading.
func OpenSource(path string, chunkSize int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return NewSource(f, info.Size(), chunkSize), nil
}

// ClampChunkSize maps non-positive sizes to the default and caps at MaxChunkSize.
func ClampChunkSize(n int) int {
	switch {
	case n <= 0:
		return DefaultChunkSize
	case n > MaxChunkSize:
		return MaxChunkSize
	default:
		return n
	}
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Next() ([]byte, error) {
	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

func (s *FileSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
