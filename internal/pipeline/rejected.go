package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/brownsville-complaints/internal/dataset"
)

// RejectedLog is the durable record of every input the run could not
// confidently process. One JSON object per line; the file is reset at
// the start of each run and appended to for its duration.
type RejectedLog struct {
	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	path    string
	entries []dataset.Rejection
}

// OpenRejectedLog creates the log file for a new run.
func OpenRejectedLog(path string) (*RejectedLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &RejectedLog{f: f, enc: json.NewEncoder(f), path: path}, nil
}

// Append records one rejection. Safe for concurrent workers.
func (l *RejectedLog) Append(r dataset.Rejection) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, r)
	return l.enc.Encode(r)
}

// Entries returns everything appended so far.
func (l *RejectedLog) Entries() []dataset.Rejection {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]dataset.Rejection, len(l.entries))
	copy(out, l.entries)
	return out
}

// Path returns the log's location for the run summary.
func (l *RejectedLog) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *RejectedLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
