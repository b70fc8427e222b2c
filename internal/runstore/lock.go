package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dataLockDirName   = ".hoard.lock"
	dataLockOwnerFile = "owner.json"
)

var ErrLocked = errors.New("data directory is locked")

// DataLock guards a data directory against a second service process.
type DataLock struct {
	lockDir string
}

type dataLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireDataLock(dataDir string) (DataLock, error) {
	target := strings.TrimSpace(dataDir)
	if target == "" {
		return DataLock{}, fmt.Errorf("data directory is required")
	}
	if err := Mkdir(target); err != nil {
		return DataLock{}, err
	}

	lockDir := filepath.Join(target, dataLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, dataLockOwnerFile)
			var owner dataLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return DataLock{}, fmt.Errorf(
					"%w: %s (pid=%d created_at=%s host=%s)",
					ErrLocked, target, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return DataLock{}, fmt.Errorf("%w: %s", ErrLocked, target)
		}
		return DataLock{}, fmt.Errorf("acquire data lock for %s: %w", target, err)
	}

	owner := dataLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, dataLockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return DataLock{}, fmt.Errorf("write data lock owner for %s: %w", target, err)
	}

	return DataLock{lockDir: lockDir}, nil
}

// BreakDataLock removes a lock left behind by a crashed process.
func BreakDataLock(dataDir string) error {
	lockDir := filepath.Join(strings.TrimSpace(dataDir), dataLockDirName)
	if err := os.RemoveAll(lockDir); err != nil {
		return fmt.Errorf("break data lock %s: %w", lockDir, err)
	}
	return nil
}

func (l DataLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, dataLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release data lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
