package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// ChunkSink receives an asset chunk by chunk. Nothing is visible at the destination
// until Commit; Abort discards everything written so far.
type ChunkSink interface {
	WriteChunk(p []byte) error
	Commit() error
	Abort() error
}

// FileSink stages writes in a hidden temp file next to the destination and renames it
// into place on Commit.
type FileSink struct {
	dest string
	tmp  *os.File
	done bool
}

var _ ChunkSink = (*FileSink)(nil)

// CreateSink prepares a staged write of dest. The directory of dest must exist.
func CreateSink(dest string) (*FileSink, error) {
	dir, base := filepath.Split(dest)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+tempBase(base)+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", dest, err)
	}
	return &FileSink{dest: dest, tmp: tmp}, nil
}

// maxTempBase keeps the temp name under NAME_MAX for destination names near it.
const maxTempBase = 64

func tempBase(base string) string {
	if len(base) <= maxTempBase {
		return base
	}
	cut := base[:maxTempBase]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func (s *FileSink) WriteChunk(p []byte) error {
	if s.done {
		return errors.New("sink already finalized")
	}
	_, err := s.tmp.Write(p)
	return err
}

func (s *FileSink) Commit() error {
	if s.done {
		return errors.New("sink already finalized")
	}
	s.done = true
	tmpName := s.tmp.Name()
	if err := s.tmp.Chmod(0o644); err != nil {
		_ = s.tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := s.tmp.Sync(); err != nil {
		_ = s.tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := s.tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.dest); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	tmpName := s.tmp.Name()
	_ = s.tmp.Close()
	return os.Remove(tmpName)
}
