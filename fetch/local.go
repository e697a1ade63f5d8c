// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// Local fetches local paths from a file system.
type Local struct {
	// FS is the file system from which files are read. If nil, the
	// operating system's file system is used.
	FS afero.Fs
	// Dir is the directory against which relative paths are
	// resolved. If empty, relative paths are passed to FS as is
	// (for the operating system, relative to the working directory).
	Dir string
	// Home is the directory that "~" expands to. If empty, the
	// current user's home directory is used.
	Home string
}

// Path returns the file system path of the local location loc.
func (l *Local) Path(loc expr.Location) (string, error) {
	if loc.Kind != expr.Local {
		return "", errors.E("fetch", loc.String(), errors.NotSupported)
	}
	p := loc.Path
	switch {
	case strings.HasPrefix(p, "~/"):
		home := l.Home
		if home == "" {
			var err error
			if home, err = homedir.Dir(); err != nil {
				return "", errors.E("fetch", loc.String(), errors.NotExist, err)
			}
		}
		return filepath.Join(home, filepath.FromSlash(p[2:])), nil
	case strings.HasPrefix(p, "/"):
		return filepath.FromSlash(p), nil
	}
	if l.Dir == "" {
		return filepath.FromSlash(p), nil
	}
	return filepath.Join(l.Dir, filepath.FromSlash(p)), nil
}

// Fetch implements Fetcher.
func (l *Local) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	path, err := l.Path(loc)
	if err != nil {
		return nil, err
	}
	fs := l.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E("fetch", loc.String(), errors.NotExist, err)
		}
		if os.IsPermission(err) {
			return nil, errors.E("fetch", loc.String(), errors.NotAllowed, err)
		}
		return nil, errors.E("fetch", loc.String(), err)
	}
	return b, nil
}

// Env fetches environment variables.
type Env struct {
	// Lookup retrieves the value of the environment variable with
	// the given name. If nil, os.LookupEnv is used.
	Lookup func(name string) (string, bool)
}

// Fetch implements Fetcher.
func (e *Env) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	if loc.Kind != expr.Env {
		return nil, errors.E("fetch", loc.String(), errors.NotSupported)
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(loc.Path)
	if !ok {
		return nil, errors.E("fetch", loc.String(), errors.NotExist,
			errors.Errorf("environment variable %s is not set", loc.Path))
	}
	return []byte(v), nil
}
