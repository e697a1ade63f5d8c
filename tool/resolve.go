// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"
	"io/ioutil"

	"github.com/grailbio/canon/codec"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/fetch"
)

func (c *Cmd) resolve(ctx context.Context, args ...string) {
	var (
		flags     = flag.NewFlagSet("resolve", flag.ExitOnError)
		normalize = flags.Bool("normalize", false, "print the normal form of the resolved expression")
		list      = flags.Bool("list", false, "print the locations fetched during resolution instead of the expression")
		help      = `Resolve prints the expression in the provided file with each of
its imports replaced by the expression it refers to. Imports are
resolved transitively; imports pinned to a semantic hash are
verified against it.

With -list, resolve instead prints the locations that were fetched,
the file itself included, one per line. Pinned imports served from
the cache are not fetched.`
	)
	c.Parse(flags, args, help, "resolve [-normalize | -list] file")
	if flags.NArg() != 1 {
		flags.Usage()
	}
	r := c.Resolver()
	e, err := c.load(ctx, r, flags.Arg(0))
	if err != nil {
		c.Fatal(err)
	}
	if *list {
		for _, loc := range r.Fetcher.(*fetch.Counting).Locations() {
			c.Println(loc)
		}
		return
	}
	if *normalize {
		e, err = c.Config.Normalizer().Normalize(e)
		if err != nil {
			c.Fatal(err)
		}
	}
	c.Println(e)
}

func (c *Cmd) normalize(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("normalize", flag.ExitOnError)
		alpha = flags.Bool("alpha", false, "also rename bound variables to _")
		help  = `Normalize resolves the expression in the provided file and prints
its normal form, eta-reduced if so configured. With -alpha, the
alpha-normal form that is hashed is printed instead; it is never
eta-reduced.`
	)
	c.Parse(flags, args, help, "normalize [-alpha] file")
	if flags.NArg() != 1 {
		flags.Usage()
	}
	r := c.Resolver()
	e, err := c.load(ctx, r, flags.Arg(0))
	if err != nil {
		c.Fatal(err)
	}
	n := c.Config.Normalizer()
	if *alpha {
		n = codec.HashNormalizer(n)
	}
	e, err = n.Normalize(e)
	if err != nil {
		c.Fatal(err)
	}
	if *alpha {
		e = expr.AlphaNormalize(e)
	}
	c.Println(e)
}

func (c *Cmd) freeze(ctx context.Context, args ...string) {
	var (
		flags   = flag.NewFlagSet("freeze", flag.ExitOnError)
		inplace = flags.Bool("w", false, "write the result to the file instead of the standard output")
		help    = `Freeze pins each import of the expression in the provided file to
the semantic hash of the expression it refers to. Imports are not
substituted. Imports that are already pinned are verified; imports
of locations are left as they are.`
	)
	c.Parse(flags, args, help, "freeze [-w] file")
	if flags.NArg() != 1 {
		flags.Usage()
	}
	arg := flags.Arg(0)
	if *inplace && arg == "-" {
		c.Fatal("freeze: -w cannot be used with the standard input")
	}
	r := c.Resolver()
	e, loc, err := c.parse(ctx, r, arg)
	if err != nil {
		c.Fatal(err)
	}
	frozen, err := r.Freeze(ctx, e, loc)
	if err != nil {
		c.Fatal(err)
	}
	if !*inplace {
		c.Println(frozen)
		return
	}
	path, err := (&fetch.Local{Dir: c.Config.Root}).Path(loc)
	c.must(err)
	c.must(ioutil.WriteFile(path, []byte(frozen.String()+"\n"), 0644))
}
