// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package store provides credential store implementations: a JSON file
// (the default) and PostgreSQL.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/xdg"
)

const filePerm = 0o600

// FileStore keeps every account in one JSON array on disk.
type FileStore struct {
	path string
}

var _ account.Store = (*FileStore)(nil)

// NewFileStore opens the store at path, creating its directory and an
// empty array if the file does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, oops.Code("STORE_INIT_FAILED").Errorf("store path is required")
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, oops.Code("STORE_INIT_FAILED").With("path", path).Wrap(err)
	}

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := renameio.WriteFile(path, []byte("[]\n"), filePerm); err != nil {
			return nil, oops.Code("STORE_INIT_FAILED").With("path", path).Wrap(err)
		}
	case err != nil:
		return nil, oops.Code("STORE_INIT_FAILED").With("path", path).Wrap(err)
	}

	return &FileStore{path: path}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// ListAll reads the whole collection. An empty file is an empty collection.
func (s *FileStore) ListAll(ctx context.Context) ([]account.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, oops.Code("STORE_READ_FAILED").With("path", s.path).Wrap(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []account.UserRecord{}, nil
	}

	var records []account.UserRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, oops.Code("STORE_CORRUPT").With("path", s.path).Wrap(err)
	}
	if records == nil {
		records = []account.UserRecord{}
	}
	return records, nil
}

// ReplaceAll writes the collection to a temporary file and renames it over
// the store, so readers see either the old or the new array.
func (s *FileStore) ReplaceAll(ctx context.Context, records []account.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []account.UserRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	data = append(data, '\n')

	if err := renameio.WriteFile(s.path, data, filePerm); err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	return nil
}

// Ping reports whether the backing file is readable.
func (s *FileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		return oops.Code("STORE_UNAVAILABLE").With("path", s.path).Wrap(err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() {}
