// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cache implements the local, content-addressed store of
// resolved imports. Each entry holds the canonical encoding of an
// import's normalized, alpha-normalized content, and is named by
// that content's semantic hash: the file name is the multihash
// rendering (1220 followed by the hex SHA-256 digest). Entries are
// verified on every read and every write; a store therefore never
// returns bytes that do not hash to the requested digest.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/canon"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// Store is a directory of cache entries.
type Store struct {
	// Root is the directory containing all entries.
	Root string
	// FS is the file system on which Root resides. If nil, the
	// operating system's file system is used.
	FS afero.Fs

	Log *log.Logger

	write singleflight.Group
}

// New returns a store rooted at the given directory of the
// operating system's file system.
func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) fs() afero.Fs {
	if s.FS == nil {
		return afero.NewOsFs()
	}
	return s.FS
}

// Name returns the file name of the entry for digest d.
func Name(d digest.Digest) string {
	return canon.MultihashPrefix + d.Hex()
}

// Path returns the full path of the entry for digest d.
func (s *Store) Path(d digest.Digest) string {
	return filepath.Join(s.Root, Name(d))
}

// Contains tells whether the store holds an entry for digest d. The
// entry's content is not verified.
func (s *Store) Contains(d digest.Digest) (bool, error) {
	_, err := s.fs().Stat(s.Path(d))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.E("contains", s.Root, d, err)
	}
	return true, nil
}

// Get returns the content of the entry for digest d. Get returns an
// error flagged errors.NotExist if there is no such entry, and
// errors.Integrity if the entry's content does not hash to d.
func (s *Store) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.E("get", s.Root, d, err)
	}
	path := s.Path(d)
	b, err := afero.ReadFile(s.fs(), path)
	if err != nil {
		return nil, errors.E("get", s.Root, d, err)
	}
	if got := canon.Digester.FromBytes(b); got != d {
		return nil, errors.E("get", path, d, errors.Integrity, errors.Errorf("content has digest %v", got))
	}
	return b, nil
}

// Put stores b as the entry for digest d. Put fails with
// errors.Integrity if b does not hash to d. Storing an entry that
// already exists is a no-op; corrupt entries are replaced. The
// entry is written to a temporary file and then renamed into place,
// so that readers never observe partial entries. Concurrent Puts of
// the same digest are coalesced.
func (s *Store) Put(ctx context.Context, d digest.Digest, b []byte) error {
	if got := canon.Digester.FromBytes(b); got != d {
		return errors.E("put", s.Root, d, errors.Integrity, errors.Errorf("content has digest %v", got))
	}
	_, err, _ := s.write.Do(d.String(), func() (interface{}, error) {
		if _, err := s.Get(ctx, d); err == nil {
			return nil, nil
		} else if errors.Is(errors.Canceled, err) {
			return nil, err
		}
		fs := s.fs()
		if err := fs.MkdirAll(s.Root, 0777); err != nil {
			return nil, err
		}
		temp, err := afero.TempFile(fs, s.Root, "tmp-")
		if err != nil {
			return nil, err
		}
		defer fs.Remove(temp.Name()) // best effort; fails once renamed
		if _, err := temp.Write(b); err != nil {
			temp.Close()
			return nil, err
		}
		if err := temp.Close(); err != nil {
			return nil, err
		}
		if err := fs.Rename(temp.Name(), s.Path(d)); err != nil {
			return nil, err
		}
		s.Log.Debugf("cache: stored %v (%d bytes)", d, len(b))
		return nil, nil
	})
	if err != nil {
		return errors.E("put", s.Root, d, err)
	}
	return nil
}

// List returns the digests of all entries in the store, in
// lexicographic order. Files that are not named like entries, such
// as abandoned temporary files, are skipped. A store whose root does
// not exist is empty.
func (s *Store) List() ([]digest.Digest, error) {
	infos, err := afero.ReadDir(s.fs(), s.Root)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.E("list", s.Root, err)
	}
	var ds []digest.Digest
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasPrefix(name, canon.MultihashPrefix) {
			continue
		}
		d, err := canon.ParseDigest("sha256:" + strings.TrimPrefix(name, canon.MultihashPrefix))
		if err != nil {
			continue
		}
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Less(ds[j]) })
	return ds, nil
}
