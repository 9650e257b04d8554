package emit

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FileEmitter is the default broadcaster of spec.md §4.7/§6: it appends one
// JSON object per line to a file, reusing LogEmitter's JSON encoding over a
// mutex-guarded *os.File so concurrent Emit calls don't interleave lines.
type FileEmitter struct {
	mu  sync.Mutex
	f   *os.File
	log *LogEmitter
}

// NewFileEmitter opens path for appending (creating it if needed) and returns
// a FileEmitter writing JSON lines to it. Callers must call Close when done.
func NewFileEmitter(path string) (*FileEmitter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("emit: open %s: %w", path, err)
	}
	return &FileEmitter{f: f, log: NewLogEmitter(f, true)}, nil
}

func (fe *FileEmitter) Emit(event Event) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.log.Emit(event)
}

func (fe *FileEmitter) EmitBatch(_ context.Context, events []Event) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	for _, event := range events {
		fe.log.Emit(event)
	}
	return nil
}

// Flush syncs buffered writes to disk.
func (fe *FileEmitter) Flush(_ context.Context) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.f.Sync()
}

// Close releases the underlying file handle.
func (fe *FileEmitter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.f.Close()
}
