package snapshot

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/hamzaexact/sqlens/pkg/sqlerr"
)

// ErrStoreLocked is returned by Save when another process is already
// saving to the same database name.
var ErrStoreLocked = errors.New("snapshot: store is locked by another writer")

// FileStore is the conventional filesystem adapter for Store: one
// "<name>.snapshot" file per database under dir, a "<name>.lock" file
// used only for advisory locking (never read for content), and a
// manifest.yaml sidecar recording which names have been saved.
type FileStore struct {
	dir string
}

// NewFileStore opens (creating if necessary) a snapshot directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sqlerr.IOErr("creating snapshot directory %q: %v", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) snapshotPath(name string) string {
	return filepath.Join(fs.dir, name+".snapshot")
}

func (fs *FileStore) lockPath(name string) string {
	return filepath.Join(fs.dir, name+".lock")
}

func (fs *FileStore) manifestPath() string {
	return filepath.Join(fs.dir, manifestFileName)
}

func (fs *FileStore) openLock(name string) (*os.File, error) {
	f, err := os.OpenFile(fs.lockPath(name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, sqlerr.IOErr("opening lock file for %q: %v", name, err)
	}
	return f, nil
}

// Save writes data under dbName, taking the exclusive write lock for
// the duration and recording dbName in the manifest. The write itself
// goes to a temp file first and is renamed into place, so a save that
// dies mid-write never leaves a half-written snapshot visible to Load.
func (fs *FileStore) Save(dbName string, data []byte) error {
	lock, err := fs.openLock(dbName)
	if err != nil {
		return err
	}
	defer lock.Close()
	if err := lockExclusive(lock); err != nil {
		return err
	}
	defer unlockFile(lock)

	tmp := fs.snapshotPath(dbName) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return sqlerr.IOErr("writing snapshot for %q: %v", dbName, err)
	}
	if err := os.Rename(tmp, fs.snapshotPath(dbName)); err != nil {
		return sqlerr.IOErr("committing snapshot for %q: %v", dbName, err)
	}

	m, err := loadManifest(fs.manifestPath())
	if err != nil {
		return err
	}
	m.addDatabase(dbName)
	return saveManifest(fs.manifestPath(), m)
}

// Load reads the bytes last saved under dbName, taking the shared read
// lock so it waits out an in-progress Save rather than racing it.
func (fs *FileStore) Load(dbName string) ([]byte, error) {
	lock, err := fs.openLock(dbName)
	if err != nil {
		return nil, err
	}
	defer lock.Close()
	if err := lockShared(lock); err != nil {
		return nil, sqlerr.IOErr("locking snapshot for %q: %v", dbName, err)
	}
	defer unlockFile(lock)

	data, err := os.ReadFile(fs.snapshotPath(dbName))
	if os.IsNotExist(err) {
		return nil, sqlerr.IOErr("no snapshot saved for database %q", dbName)
	}
	if err != nil {
		return nil, sqlerr.IOErr("reading snapshot for %q: %v", dbName, err)
	}
	return data, nil
}

// List returns every database name recorded in the manifest.
func (fs *FileStore) List() ([]string, error) {
	m, err := loadManifest(fs.manifestPath())
	if err != nil {
		return nil, err
	}
	return m.Databases, nil
}
