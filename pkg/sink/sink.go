// Package sink provides the shared, offset-addressed destination file that
// every worker of a transfer writes into.
package sink

import (
	"os"
	"sync"

	"rangedl/pkg/rangeerr"
)

// Sink is a file opened for random-access writes, shared across all
// workers of one transfer. WriteAt is safe for concurrent use; the mutex's
// critical section spans the seek and the write so that two workers can
// never interleave at the same offset.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens (creating if necessary) the destination file for random-access
// writes, preallocating it to size bytes so every worker's WriteAt lands
// inside the file's extent from the start.
func Open(path string, size int64) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, rangeerr.NewSinkIOError(path, "open", err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, rangeerr.NewSinkIOError(path, "truncate", err)
	}
	return &Sink{file: f, path: path}, nil
}

// WriteAt writes chunk at offset, holding the sink's mutex for the whole
// seek-then-write critical section so offset and data stay paired even
// under concurrent callers.
func (s *Sink) WriteAt(offset int64, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(offset, 0); err != nil {
		return rangeerr.NewSinkIOError(s.path, "seek", err)
	}
	if _, err := s.file.Write(chunk); err != nil {
		return rangeerr.NewSinkIOError(s.path, "write", err)
	}
	return nil
}

// Close closes the underlying file. The sink is closed once the last
// worker holding it completes or is dropped.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil {
		return rangeerr.NewSinkIOError(s.path, "close", err)
	}
	return nil
}
