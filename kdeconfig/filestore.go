package kdeconfig

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// FileStore persists the keypair and self-certificate as sibling DER
// files and device records as one JSON file per device under a
// devices/ subdirectory, matching the reference layout in spec §6.
//
// Writes replace the target atomically: content is written to a
// temporary file in the same directory, then moved into place with
// os.Rename, so a crash mid-write never leaves a torn file behind.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating dir and its
// devices/ subdirectory if they don't already exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "devices"), 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) keypairPath() string     { return filepath.Join(s.dir, "private_key.der") }
func (s *FileStore) certificatePath() string { return filepath.Join(s.dir, "certificate.der") }
func (s *FileStore) devicePath(id string) string {
	return filepath.Join(s.dir, "devices", id+".json")
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readOrNotFound(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) LoadKeypair(ctx context.Context) ([]byte, error) {
	return readOrNotFound(s.keypairPath())
}

func (s *FileStore) SaveKeypair(ctx context.Context, der []byte) error {
	return atomicWrite(s.keypairPath(), der, 0o600)
}

func (s *FileStore) LoadCertificate(ctx context.Context) ([]byte, error) {
	return readOrNotFound(s.certificatePath())
}

func (s *FileStore) SaveCertificate(ctx context.Context, der []byte) error {
	return atomicWrite(s.certificatePath(), der, 0o600)
}

func (s *FileStore) SaveDevice(ctx context.Context, rec *DeviceRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.devicePath(rec.ID), data, 0o600)
}

func (s *FileStore) LoadDevice(ctx context.Context, id string) (*DeviceRecord, error) {
	data, err := readOrNotFound(s.devicePath(id))
	if err != nil {
		return nil, err
	}
	var rec DeviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) ListDevices(ctx context.Context) ([]*DeviceRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "devices"))
	if err != nil {
		return nil, err
	}

	records := make([]*DeviceRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "devices", e.Name()))
		if err != nil {
			return nil, err
		}
		var rec DeviceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, nil
}
