package utils

import (
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/spf13/afero"
)

type Fs struct {
	AppFs afero.Fs
}

func NewFs(appFs afero.Fs) Fs {
	return Fs{AppFs: appFs}
}

// ReplaceJSON writes data to a temp file next to filePath and renames it over filePath,
// so a failed write never truncates the previous content.
func (fs Fs) ReplaceJSON(filePath string, data interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	dir := filepath.Dir(filePath)
	if err = fs.AppFs.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("mkdir error: %w", err)
	}

	f, err := afero.TempFile(fs.AppFs, dir, filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	tmpName := f.Name()

	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		_ = fs.AppFs.Remove(tmpName)
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	if err = f.Close(); err != nil {
		_ = fs.AppFs.Remove(tmpName)
		return xerrors.Errorf("failed to close a file: %w", err)
	}

	// TempFile creates 0600
	if err = fs.AppFs.Chmod(tmpName, 0644); err != nil {
		_ = fs.AppFs.Remove(tmpName)
		return xerrors.Errorf("failed to chmod a file: %w", err)
	}

	if err = fs.AppFs.Rename(tmpName, filePath); err != nil {
		_ = fs.AppFs.Remove(tmpName)
		return xerrors.Errorf("failed to replace %s: %w", filePath, err)
	}
	return nil
}

// Exists reports whether path exists on the filesystem.
func (fs Fs) Exists(path string) (bool, error) {
	_, err := fs.AppFs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}
