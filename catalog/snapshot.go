package catalog

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const snapshotVersion = 1

type snapshotFile struct {
	Version int
	Entries map[string][]Record
}

// Persist serializes the full catalog.
func (c *Catalog) Persist() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshotFile{Version: snapshotVersion, Entries: c.snapshot()}); err != nil {
		return nil, errors.Wrap(err, "encode catalog snapshot")
	}
	return buf.Bytes(), nil
}

// Restore replaces the catalog content with a snapshot from Persist.
func (c *Catalog) Restore(data []byte) error {
	var snap snapshotFile
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode catalog snapshot")
	}
	if snap.Version != snapshotVersion {
		return errors.Errorf("catalog snapshot version %d, want %d", snap.Version, snapshotVersion)
	}
	c.replace(snap.Entries)
	return nil
}

// SaveFile writes the snapshot next to path and renames it into place.
func (c *Catalog) SaveFile(path string) error {
	data, err := c.Persist()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "close snapshot")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "install snapshot")
}

// LoadFile restores the catalog from path. A missing file yields an
// error satisfying errors.Is(err, fs.ErrNotExist).
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	return c.Restore(data)
}
