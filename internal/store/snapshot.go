package store

import (
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// snapshotter is implemented by indexes that can be saved.
type snapshotter interface {
	Export(w io.Writer) error
	Import(r io.Reader) error
}

// catalogMetadata is the gob-encoded side table written next to the index.
type catalogMetadata struct {
	Backend    string
	Dimensions int
	NextID     uint64
	Entries    []Entry
}

// Save writes the index to path and the side table to path.meta. Each file
// is written to a temp file and renamed into place, and both writes happen
// under an exclusive lock on path.lock so concurrent savers cannot
// interleave.
func (c *Catalog) Save(path string) error {
	snap, ok := c.index.(snapshotter)
	if !ok {
		return serrors.New(serrors.ErrCodeSnapshotFailed, "index backend does not support snapshots", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return serrors.Wrapf(serrors.ErrCodeSnapshotFailed, err, "create snapshot directory")
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return serrors.Wrapf(serrors.ErrCodeSnapshotFailed, err, "lock snapshot")
	}
	defer func() { _ = lock.Unlock() }()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := writeAtomic(path, snap.Export); err != nil {
		return serrors.Wrapf(serrors.ErrCodeSnapshotFailed, err, "write index")
	}

	meta := catalogMetadata{
		Backend:    c.backend,
		Dimensions: c.index.Dimensions(),
		NextID:     c.nextID.Load(),
		Entries:    make([]Entry, 0, len(c.entries)),
	}
	for _, e := range c.entries {
		meta.Entries = append(meta.Entries, e)
	}
	err := writeAtomic(path+".meta", func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(meta)
	})
	if err != nil {
		return serrors.Wrapf(serrors.ErrCodeSnapshotFailed, err, "write metadata")
	}

	slog.Debug("catalog_saved", slog.String("path", path), slog.Int("entries", len(meta.Entries)))
	return nil
}

// LoadCatalog restores a catalog written by Save.
func LoadCatalog(path string) (*Catalog, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, serrors.Wrapf(serrors.ErrCodeSnapshotFailed, err, "lock snapshot")
	}
	defer func() { _ = lock.Unlock() }()

	var meta catalogMetadata
	if err := readFile(path+".meta", func(r io.Reader) error {
		return gob.NewDecoder(r).Decode(&meta)
	}); err != nil {
		return nil, serrors.Wrapf(serrors.ErrCodeSnapshotFailed, err, "read metadata")
	}

	index, err := NewVectorIndex(IndexConfig{Backend: meta.Backend, Dimensions: meta.Dimensions})
	if err != nil {
		return nil, err
	}
	snap, ok := index.(snapshotter)
	if !ok {
		return nil, serrors.New(serrors.ErrCodeSnapshotFailed, "index backend does not support snapshots", nil)
	}
	if err := readFile(path, snap.Import); err != nil {
		return nil, serrors.Wrapf(serrors.ErrCodeSnapshotFailed, err, "read index")
	}

	c := NewCatalog(index)
	for _, e := range meta.Entries {
		c.entries[e.ID] = e
	}
	c.nextID.Store(meta.NextID)

	if index.Len() != len(c.entries) {
		return nil, serrors.New(serrors.ErrCodeSnapshotFailed,
			fmt.Sprintf("snapshot holds %d vectors but %d entries", index.Len(), len(c.entries)), nil)
	}
	return c, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return read(f)
}
