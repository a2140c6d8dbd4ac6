// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package osfs is the production ports.Filesystem: a direct pass-through
// to the os package, used for workspace clone bookkeeping and orphan
// detection.
package osfs

import (
	"os"
	"path/filepath"

	"github.com/steroids-dev/steroids/internal/ports"
)

// FS is the real, os-backed ports.Filesystem.
type FS struct{}

// New creates an FS.
func New() FS { return FS{} }

// Exists reports whether path refers to an existing file or directory.
func (FS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ReadDir lists the entry names directly under path.
func (FS) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// MkdirAll creates path and any missing parents.
func (FS) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// RemoveAll recursively removes path.
func (FS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Realpath resolves symlinks in path, falling back to its absolute form.
func (FS) Realpath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, nil
	}
	return resolved, nil
}

var _ ports.Filesystem = FS{}
