package repository

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
)

type File struct {
	path string
}

var _ Slot = (*File)(nil)

// DefaultFilePath returns $XDG_CONFIG_HOME/rulesmith/<slot>.json, falling
// back to the OS user config directory
func DefaultFilePath(slot string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to get user config directory")
	}
	return filepath.Join(dir, "rulesmith", slot+".json"), nil
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (x *File) Load(ctx context.Context) ([]model.PersistedEntry, error) {
	data, err := os.ReadFile(x.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read history file", goerr.V("path", x.path))
	}
	return decode(data)
}

// Save writes to a temporary file and renames it so a crash never leaves a
// truncated snapshot
func (x *File) Save(ctx context.Context, entries []model.PersistedEntry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}

	dir := filepath.Dir(x.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return goerr.Wrap(err, "failed to create history directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(x.path)+".*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary history file", goerr.V("dir", dir))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write history file", goerr.V("path", tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close history file", goerr.V("path", tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), x.path); err != nil {
		return goerr.Wrap(err, "failed to replace history file", goerr.V("path", x.path))
	}
	return nil
}
