package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/sproutlog/sproutlog/internal/utils"
)

const (
	metadataDir = ".data"
	dbFile      = "sproutlog.db"
	lockFile    = "sproutlog.lock"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is the on-disk layout of one Sproutlog data directory: the
// sqlite database under a metadata dir, guarded by a lock file so two
// client instances never share a database.
type Workspace struct {
	Owner       string
	Root        string
	MetadataDir string
	DBPath      string

	flock *flock.Flock
}

func New(rootDir string, user string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	metaDir := filepath.Join(root, metadataDir)
	return &Workspace{
		Owner:       user,
		Root:        root,
		MetadataDir: metaDir,
		DBPath:      filepath.Join(metaDir, dbFile),
		flock:       flock.New(filepath.Join(metaDir, lockFile)),
	}, nil
}

// Setup creates the directory layout and takes the instance lock.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root, "owner", w.Owner)
	return nil
}

func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the locking process may remove the lock file
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}
