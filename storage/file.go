// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// File is a Store persisted as a single JSON document, so a session survives
// process restarts the way browser local storage does. The file is written
// with 0600 permissions inside a 0700 directory since it holds tokens.
type File struct {
	mu     sync.Mutex
	path   string
	logger hclog.Logger
}

var _ Store = (*File)(nil)

// NewFile creates a File store at path, creating its directory if needed. An
// existing file is reused.
//
// Supported options: WithLogger
func NewFile(path string, opt ...Option) (*File, error) {
	const op = "storage.NewFile"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create storage directory: %w", op, err)
	}
	f := &File{path: path, logger: opts.withLogger}
	if _, err := f.load(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}

// Path returns the file's location.
func (f *File) Path() string { return f.path }

// Get implements Store.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	const op = "File.Get"
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, key, value string) error {
	const op = "File.Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m[key] = value
	if err := f.save(m); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove implements Store.
func (f *File) Remove(_ context.Context, key string) error {
	const op = "File.Remove"
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	if err := f.save(m); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Keys implements Store.
func (f *File) Keys(_ context.Context, prefix string) ([]string, error) {
	const op = "File.Keys"
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var keys []string
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *File) load() (map[string]string, error) {
	// #nosec G304 -- the path is chosen by the operator, not a remote party
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return map[string]string{}, nil
	case err != nil:
		return nil, fmt.Errorf("unable to read %s: %w", f.path, err)
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", f.path, err)
	}
	return m, nil
}

func (f *File) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode store: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("unable to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		f.logger.Warn("unable to replace store file", "path", f.path, "error", err)
		return fmt.Errorf("unable to replace %s: %w", f.path, err)
	}
	f.logger.Trace("store file written", "path", f.path, "keys", len(m))
	return nil
}
