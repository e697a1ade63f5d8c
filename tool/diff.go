// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"

	"github.com/grailbio/canon/codec"
	"github.com/grailbio/canon/expr"
	"golang.org/x/sync/errgroup"
)

func (c *Cmd) diff(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("diff", flag.ExitOnError)
		help  = `Diff resolves and normalizes the expressions in the two provided
files and prints the positions at which their alpha-normal forms
differ, one per line. Diff exits with status 1 if the expressions
differ, so that their semantic hashes differ too.`
	)
	c.Parse(flags, args, help, "diff file1 file2")
	if flags.NArg() != 2 {
		flags.Usage()
	}
	var (
		r     = c.Resolver()
		norms [2]*expr.Expr
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := range norms {
		i := i
		g.Go(func() error {
			e, err := c.load(gctx, r, flags.Arg(i))
			if err != nil {
				return err
			}
			e, err = codec.HashNormalizer(r.Normalizer).Normalize(e)
			if err != nil {
				return err
			}
			norms[i] = expr.AlphaNormalize(e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.Fatal(err)
	}
	diffs := expr.Diff(norms[0], norms[1])
	if len(diffs) == 0 {
		return
	}
	c.Println(expr.FormatDiff(diffs))
	c.Exit(1)
}
