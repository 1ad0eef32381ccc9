// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package persist periodically snapshots a GlobalState to a single binary
// file on disk and restores it across restarts, per §4.8 of the governing
// spec.
package persist

import (
	"os"
	"path/filepath"

	"github.com/sysrecord/procstats/pkg/errors"
)

// atomicFile replaces a target path's contents via write-temp + fsync +
// rename, never leaving a partially-written file visible at path.
type atomicFile struct {
	path string
	tmp  *os.File
}

func newAtomicFile(path string) (*atomicFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.New("persist: create temp file: " + err.Error())
		}
		return nil, errors.NewRetryable("persist: create temp file: " + err.Error())
	}
	return &atomicFile{path: path, tmp: f}, nil
}

func (a *atomicFile) write(data []byte) error {
	if _, err := a.tmp.Write(data); err != nil {
		return errors.NewRetryable("persist: write temp file: " + err.Error())
	}
	return nil
}

// commit fsyncs and renames the temp file into place. On any failure it
// calls rollback to discard the temp file before returning.
func (a *atomicFile) commit() error {
	if err := a.tmp.Sync(); err != nil {
		a.rollback()
		return errors.NewRetryable("persist: fsync: " + err.Error())
	}
	if err := a.tmp.Close(); err != nil {
		a.rollback()
		return errors.NewRetryable("persist: close temp file: " + err.Error())
	}
	if err := os.Rename(a.tmp.Name(), a.path); err != nil {
		a.rollback()
		return errors.NewRetryable("persist: rename: " + err.Error())
	}
	return nil
}

// rollback discards the temp file without touching the target path.
func (a *atomicFile) rollback() {
	a.tmp.Close()
	os.Remove(a.tmp.Name())
}
