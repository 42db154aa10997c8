// Package asset maps platform namespaces to directories on disk and provides chunked
// sources and staged sinks over the files inside them.
package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moyoez/assetlink/tool"
)

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrInvalidName     = errors.New("invalid asset name")
)

// Store resolves assets as <root>/<platform>/<name>. Platform directories are
// created by the operator; the store never creates namespaces.
type Store struct {
	root      string
	chunkSize int
	exists    func(path string) bool
}

func NewStore(root string, chunkSize int) *Store {
	return &Store{
		root:      root,
		chunkSize: ClampChunkSize(chunkSize),
		exists:    tool.PathExists,
	}
}

func (s *Store) Root() string { return s.root }

func (s *Store) ChunkSize() int { return s.chunkSize }

// ValidateSegment rejects anything that is not a single plain path element.
func ValidateSegment(segment string) error {
	switch {
	case segment == "", segment == ".", segment == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, segment)
	case strings.ContainsAny(segment, `/\`+"\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, segment)
	case filepath.IsAbs(segment), filepath.VolumeName(segment) != "":
		return fmt.Errorf("%w: %q", ErrInvalidName, segment)
	}
	return nil
}

// Namespace returns the directory of platform, which must already exist.
func (s *Store) Namespace(platform string) (string, error) {
	if err := ValidateSegment(platform); err != nil {
		return "", fmt.Errorf("invalid platform: %w", err)
	}
	dir := filepath.Join(s.root, platform)
	if !s.exists(dir) {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return dir, nil
}

// Path resolves platform/name without checking that the asset exists.
func (s *Store) Path(platform, name string) (string, error) {
	dir, err := s.Namespace(platform)
	if err != nil {
		return "", err
	}
	if err := ValidateSegment(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Open returns a chunked reader for an existing asset.
func (s *Store) Open(platform, name string) (ChunkSource, error) {
	path, err := s.Path(platform, name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: no file %s on server under %s", ErrAssetNotFound, name, platform)
	}
	src, err := OpenSource(path, s.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s/%s: %w", platform, name, err)
	}
	return src, nil
}

// Create stages a new version of platform/name. The current file, if any, stays
// untouched until the returned sink is committed.
func (s *Store) Create(platform, name string) (ChunkSink, error) {
	path, err := s.Path(platform, name)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s/%s is a directory", ErrInvalidName, platform, name)
	}
	sink, err := CreateSink(path)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Platforms lists the namespace directories under the root.
func (s *Store) Platforms() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	platforms := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			platforms = append(platforms, e.Name())
		}
	}
	sort.Strings(platforms)
	return platforms, nil
}
