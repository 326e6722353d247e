//go:build !windows

package daemon

import (
	"fmt"
	"syscall"
)

// IsRunning reads the record and reports whether its process is alive.
func (p *PIDFile) IsRunning() (Record, bool) {
	r, err := p.Read()
	if err != nil {
		return Record{}, false
	}
	// Signal 0 probes for the process without delivering anything.
	return r, syscall.Kill(r.PID, 0) == nil
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	r, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return syscall.Kill(r.PID, sig)
}
