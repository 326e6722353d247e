// Package daemon tracks the background API server through a record file
// holding its pid, listen address and start time.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when a live server owns the file.
var ErrAlreadyRunning = errors.New("server already running")

// Record describes a running server.
type Record struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
}

// PIDFile manages the server record on disk.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process as serving on addr.
func (p *PIDFile) Write(addr string) error {
	return p.WriteRecord(Record{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

// WriteRecord writes r, creating the parent directory if needed.
func (p *PIDFile) WriteRecord(r Record) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(p.Path, append(data, '\n'), 0o644)
}

// Read reads the record from the file.
func (p *PIDFile) Read() (Record, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("invalid PID file content: %w", err)
	}
	if r.PID <= 0 {
		return Record{}, fmt.Errorf("invalid PID file content: pid %d", r.PID)
	}
	return r, nil
}

// Acquire claims the file for the current process. A record left behind by a
// dead process is overwritten.
func (p *PIDFile) Acquire(addr string) error {
	if r, running := p.IsRunning(); running && r.PID != os.Getpid() {
		return fmt.Errorf("pid %d on %s: %w", r.PID, r.Addr, ErrAlreadyRunning)
	}
	return p.Write(addr)
}

// Remove deletes the file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
