package session

import (
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/goccy/go-json"
)

const (
	fileName = "session.json"
	filePerm = 0o600
	dirPerm  = 0o700
)

// FileStore keeps the session as JSON in a file only the user can read.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is the session file under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.New().Wrap(ErrStoreAccess, err)
	}
	return filepath.Join(dir, "telemetryd", fileName), nil
}

func (f *FileStore) Load() (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	errFactory := errors.New()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, errFactory.New(ErrNoSession)
		}
		return Session{}, errFactory.Wrap(ErrStoreAccess, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, errFactory.Wrap(ErrStoreAccess, err)
	}
	if s.Token == "" {
		return Session{}, errFactory.New(ErrNoSession)
	}
	return s, nil
}

func (f *FileStore) Save(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	errFactory := errors.New()

	data, err := json.Marshal(s)
	if err != nil {
		return errFactory.Wrap(ErrStoreAccess, err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return errFactory.Wrap(ErrStoreAccess, err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return errFactory.Wrap(ErrStoreAccess, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return errFactory.Wrap(ErrStoreAccess, err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(ErrStoreAccess, err)
	}
	return nil
}
