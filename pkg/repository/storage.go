package repository

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/adapter"
	"github.com/m-mizutani/rulesmith/pkg/model"
)

// Storage keeps the snapshot as a Cloud Storage object histories/<slot>.json
type Storage struct {
	client adapter.Storage
	key    string
}

var _ Slot = (*Storage)(nil)

func NewStorage(client adapter.Storage, slot string) *Storage {
	return &Storage{
		client: client,
		key:    path.Join("histories", slot+".json"),
	}
}

func (x *Storage) Load(ctx context.Context) ([]model.PersistedEntry, error) {
	r, err := x.client.Get(ctx, x.key)
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history object", goerr.V("key", x.key))
	}
	return decode(data)
}

func (x *Storage) Save(ctx context.Context, entries []model.PersistedEntry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}

	w, err := x.client.Put(ctx, x.key)
	if err != nil {
		return goerr.Wrap(err, "failed to open history object", goerr.V("key", x.key))
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return goerr.Wrap(err, "failed to write history object", goerr.V("key", x.key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit history object", goerr.V("key", x.key))
	}
	return nil
}
