package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrPIDFileNotFound is returned when the PID file doesn't exist.
var ErrPIDFileNotFound = errors.New("PID file not found")

// ProcessState is what a PID file says about the daemon.
type ProcessState int

const (
	// ProcessAbsent means there is no PID file.
	ProcessAbsent ProcessState = iota
	// ProcessStale means the recorded process is gone.
	ProcessStale
	// ProcessRunning means the recorded process is alive.
	ProcessRunning
)

// String returns the state name.
func (s ProcessState) String() string {
	switch s {
	case ProcessAbsent:
		return "absent"
	case ProcessStale:
		return "stale"
	case ProcessRunning:
		return "running"
	default:
		return "unknown"
	}
}

// PIDFile records the process ID of the daemon serving a data directory.
type PIDFile struct {
	path string
}

// NewPIDFile returns the PID file at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. The file is renamed into place so a
// reader never sees a partial PID.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return 0, ErrPIDFileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", p.path, raw)
	}
	return pid, nil
}

// Probe reads the PID file and checks the process it names. An unreadable
// PID counts as stale.
func (p *PIDFile) Probe() (int, ProcessState, error) {
	pid, err := p.Read()
	switch {
	case errors.Is(err, ErrPIDFileNotFound):
		return 0, ProcessAbsent, nil
	case err != nil:
		if _, statErr := os.Stat(p.path); statErr != nil {
			return 0, ProcessAbsent, err
		}
		return 0, ProcessStale, nil
	case processExists(pid):
		return pid, ProcessRunning, nil
	default:
		return pid, ProcessStale, nil
	}
}

// IsRunning reports whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	_, state, _ := p.Probe()
	return state == ProcessRunning
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	return nil
}

// processExists probes pid with signal 0. EPERM still means the process
// exists, just under another user.
func processExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
