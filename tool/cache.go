// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"
	"strings"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/canon"
	"github.com/grailbio/canon/cache"
	"github.com/grailbio/canon/codec"
)

func (c *Cmd) cache(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("cache", flag.ExitOnError)
		help  = `Cache inspects the local import cache. Its subcommands are:

	cache dir          print the cache directory
	cache ls           list the semantic hashes of all cached imports
	cache cat digest   print the cached expression with the given hash
	cache verify       check that every entry matches its hash

The cache holds the canonical encodings of imports that were pinned
to a semantic hash and verified against it.`
	)
	c.Parse(flags, args, help, "cache dir|ls|cat digest|verify")
	if flags.NArg() == 0 {
		flags.Usage()
	}
	dir, err := c.Config.CacheDirectory()
	if err != nil {
		c.Fatal(err)
	}
	store := cache.New(dir)
	store.Log = c.Log
	switch cmd, args := flags.Arg(0), flags.Args()[1:]; cmd {
	case "dir":
		if len(args) != 0 {
			flags.Usage()
		}
		c.Println(store.Root)
	case "ls":
		if len(args) != 0 {
			flags.Usage()
		}
		ds, err := store.List()
		if err != nil {
			c.Fatal(err)
		}
		for _, d := range ds {
			c.Println(d)
		}
	case "cat":
		if len(args) != 1 {
			flags.Usage()
		}
		d, err := parseEntry(args[0])
		if err != nil {
			c.Fatal(err)
		}
		b, err := store.Get(ctx, d)
		if err != nil {
			c.Fatal(err)
		}
		e, err := codec.Decode(b)
		if err != nil {
			c.Fatal(err)
		}
		c.Println(e)
	case "verify":
		if len(args) != 0 {
			flags.Usage()
		}
		ds, err := store.List()
		if err != nil {
			c.Fatal(err)
		}
		var bad int
		for _, d := range ds {
			if _, err := store.Get(ctx, d); err != nil {
				c.Errorln(err)
				bad++
			}
		}
		c.Log.Debugf("verified %d entries", len(ds))
		if bad > 0 {
			c.Fatalf("%d of %d entries failed verification", bad, len(ds))
		}
	default:
		flags.Usage()
	}
}

// parseEntry parses a digest given either as sha256:<hex> or as the
// name of its cache entry.
func parseEntry(s string) (digest.Digest, error) {
	if hex := strings.TrimPrefix(s, canon.MultihashPrefix); hex != s && !strings.Contains(s, ":") {
		s = "sha256:" + hex
	}
	return canon.ParseDigest(s)
}
