package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	logx "tickler/pkg/logx"
)

// PIDFileName is the instance marker inside the cache dir. Best-effort
// duplicate detection, not a real lock.
const PIDFileName = "ticklerd.pid"

// ErrDuplicateInstance means another live process holds the marker.
var ErrDuplicateInstance = errors.New("app: another instance is already running")

func (a *App) pidPath() string { return filepath.Join(a.cacheDir, PIDFileName) }

// claimInstance writes the PID marker, refusing when an existing marker
// names a process that is still alive. A stale marker from a crashed
// run is overwritten.
func (a *App) claimInstance() error {
	path := a.pidPath()
	if b, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(b))); perr == nil && pid != os.Getpid() {
			if processAlive(pid) {
				a.log.Warn("duplicate instance detected",
					logx.Int("pid", pid), logx.String("marker", path))
				return ErrDuplicateInstance
			}
			a.log.Debug("stale instance marker", logx.Int("pid", pid))
		}
	}

	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func (a *App) releaseInstance() {
	if err := os.Remove(a.pidPath()); err != nil && !os.IsNotExist(err) {
		a.log.Debug("instance marker cleanup failed", logx.Err(err))
	}
}

// processAlive reports whether pid exists, via the null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
