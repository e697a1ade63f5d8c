// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"
	"runtime"

	"github.com/grailbio/canon"
)

func (c *Cmd) version(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("version", flag.ExitOnError)
		help  = "Version displays this binary's version and the version of the canonical encoding it produces."
	)
	c.Parse(flags, args, help, "version")
	if flags.NArg() != 0 {
		flags.Usage()
	}
	c.Printf("%s (encoding %s, %s)\n", c.versionString(), canon.EncodingVersion, runtime.Version())
}
