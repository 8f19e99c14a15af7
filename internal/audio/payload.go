package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrEmptyPayload is returned when a payload carries neither bytes nor a path
var ErrEmptyPayload = errors.New("audio payload is empty")

// Payload is an addressable handle to one segment's audio.
// Exactly one of Data or Path is populated.
type Payload struct {
	Data []byte // In-memory audio
	Path string // Audio file on disk

	// Name is the filename presented to capability backends (e.g. "segment_1.wav").
	// Defaults to the base name of Path.
	Name string

	// Owned marks Path as a temporary file that Release may delete
	Owned bool
}

// NewMemoryPayload wraps an in-memory audio buffer
func NewMemoryPayload(data []byte, name string) Payload {
	return Payload{Data: data, Name: name}
}

// NewFilePayload references an audio file on disk.
// When owned is true the file is removed on Release.
func NewFilePayload(path string, owned bool) Payload {
	return Payload{Path: path, Name: filepath.Base(path), Owned: owned}
}

// Validate checks that exactly one storage form is populated
func (p Payload) Validate() error {
	hasData := len(p.Data) > 0
	hasPath := p.Path != ""
	switch {
	case hasData && hasPath:
		return fmt.Errorf("audio payload has both data and path")
	case !hasData && !hasPath:
		return ErrEmptyPayload
	}
	return nil
}

// IsFile reports whether the payload lives on disk
func (p Payload) IsFile() bool {
	return p.Path != ""
}

// Filename returns the name capability backends should see
func (p Payload) Filename() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Path != "" {
		return filepath.Base(p.Path)
	}
	return "segment.bin"
}

// Size returns the payload size in bytes
func (p Payload) Size() (int64, error) {
	if p.Path == "" {
		return int64(len(p.Data)), nil
	}
	info, err := os.Stat(p.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat audio payload: %w", err)
	}
	return info.Size(), nil
}

// Open returns a reader over the payload's audio
func (p Payload) Open() (io.ReadCloser, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Path != "" {
		f, err := os.Open(p.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio payload: %w", err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(p.Data)), nil
}

// Release frees the payload. Owned files are deleted; a file that is already
// gone is not an error.
func (p Payload) Release() error {
	if p.Path == "" || !p.Owned {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove audio payload %s: %w", p.Path, err)
	}
	return nil
}

// SpillToFile writes an in-memory payload into dir and returns an owned file
// payload. File payloads are returned unchanged.
func SpillToFile(p Payload, dir, segmentID string) (Payload, error) {
	if p.IsFile() {
		return p, nil
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return p, fmt.Errorf("failed to create spill dir: %w", err)
	}

	ext := filepath.Ext(p.Filename())
	if ext == "" {
		ext = ".bin"
	}
	name := fmt.Sprintf("segment_%s_%d%s", segmentID, time.Now().UnixMilli(), ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, p.Data, 0o644); err != nil {
		return p, fmt.Errorf("failed to spill audio payload: %w", err)
	}

	spilled := NewFilePayload(path, true)
	spilled.Name = p.Filename()
	return spilled, nil
}
