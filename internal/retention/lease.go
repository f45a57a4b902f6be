package retention

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"chatevents/pkg/logger"
	"chatevents/pkg/timeutil"
)

// ErrNotOwner is returned when renewing or releasing a lease held by someone else.
var ErrNotOwner = errors.New("lease not owned")

// FileLease is a cross-process lock on a data directory with an expiry.
// Two processes sharing a directory never run retention at the same time.
type FileLease struct {
	path  string
	clock timeutil.Clock
}

type leaseFile struct {
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

func NewFileLease(dir string, clock timeutil.Clock) *FileLease {
	if clock == nil {
		clock = timeutil.System()
	}
	return &FileLease{path: filepath.Join(dir, "retention.lock"), clock: clock}
}

func (l *FileLease) write(path string, lf leaseFile) error {
	b, err := json.Marshal(lf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (l *FileLease) read() (leaseFile, error) {
	var lf leaseFile
	b, err := os.ReadFile(l.path)
	if err != nil {
		return lf, err
	}
	if err := json.Unmarshal(b, &lf); err != nil {
		return lf, fmt.Errorf("parse %s: %w", l.path, err)
	}
	return lf, nil
}

// Acquire takes the lease for ttl. It returns false without error when a
// live lease is held by another owner.
func (l *FileLease) Acquire(owner string, ttl time.Duration) (bool, error) {
	now := l.clock.Now()
	tmp := l.path + "." + owner + ".tmp"
	if err := l.write(tmp, leaseFile{Owner: owner, Expires: now.Add(ttl)}); err != nil {
		return false, fmt.Errorf("write lease: %w", err)
	}
	defer os.Remove(tmp)

	// link fails if the lock exists, which makes creation atomic
	if err := os.Link(tmp, l.path); err == nil {
		logger.Debug("lease_acquired", "path", l.path, "owner", owner)
		return true, nil
	}
	existing, err := l.read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// released between our link and read; next run will retry
			return false, nil
		}
		return false, err
	}
	if existing.Owner != owner && now.Before(existing.Expires) {
		logger.Debug("lease_held", "path", l.path, "owner", existing.Owner, "expires", existing.Expires)
		return false, nil
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return false, fmt.Errorf("replace expired lease: %w", err)
	}
	logger.Info("lease_taken_over", "path", l.path, "owner", owner, "previous", existing.Owner)
	return true, nil
}

// Renew extends a lease held by owner.
func (l *FileLease) Renew(owner string, ttl time.Duration) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return ErrNotOwner
	}
	tmp := l.path + "." + owner + ".tmp"
	if err := l.write(tmp, leaseFile{Owner: owner, Expires: l.clock.Now().Add(ttl)}); err != nil {
		return fmt.Errorf("write lease: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renew lease: %w", err)
	}
	return nil
}

// Release drops a lease held by owner.
func (l *FileLease) Release(owner string) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return ErrNotOwner
	}
	return os.Remove(l.path)
}
