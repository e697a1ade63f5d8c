// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/traverse"
)

func (c *Cmd) hash(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("hash", flag.ExitOnError)
		help  = `Hash resolves the expressions in the provided files and prints
their semantic hashes. Two expressions have the same semantic hash
exactly when their normal forms are equal up to the names of bound
variables.

When more than one file is given, files are hashed concurrently and
each hash is printed next to its file name. Hash exits with status 1
if any file could not be hashed.`
	)
	c.Parse(flags, args, help, "hash file...")
	if flags.NArg() == 0 {
		flags.Usage()
	}
	var (
		files   = flags.Args()
		r       = c.Resolver()
		digests = make([]digest.Digest, len(files))
		errs    = make([]error, len(files))
	)
	// Errors are reported per file; the traversal itself never fails.
	_ = traverse.Each(len(files), func(i int) error {
		e, loc, err := c.parse(ctx, r, files[i])
		if err == nil {
			digests[i], err = r.SemanticHash(ctx, e, loc)
		}
		errs[i] = err
		return nil
	})
	var failed bool
	for i, file := range files {
		switch {
		case errs[i] != nil:
			c.Errorf("%s: %v\n", file, errs[i])
			failed = true
		case len(files) == 1:
			c.Println(digests[i])
		default:
			c.Printf("%s  %s\n", digests[i], file)
		}
	}
	if failed {
		c.Exit(1)
	}
}
