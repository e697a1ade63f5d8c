// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"io/ioutil"

	"github.com/grailbio/canon/codec"
)

func (c *Cmd) encode(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("encode", flag.ExitOnError)
		raw   = flags.Bool("raw", false, "write the binary encoding instead of its hex rendering")
		help  = `Encode resolves the expression in the provided file and prints the
canonical binary encoding of its alpha-normal form, hex encoded. The
semantic hash of the expression is the SHA-256 digest of these bytes.`
	)
	c.Parse(flags, args, help, "encode [-raw] file")
	if flags.NArg() != 1 {
		flags.Usage()
	}
	r := c.Resolver()
	e, err := c.load(ctx, r, flags.Arg(0))
	if err != nil {
		c.Fatal(err)
	}
	b, err := codec.Canonical(r.Normalizer, e)
	if err != nil {
		c.Fatal(err)
	}
	if *raw {
		_, err := c.Stdout.Write(b)
		c.must(err)
		return
	}
	c.Println(hex.EncodeToString(b))
}

func (c *Cmd) decode(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("decode", flag.ExitOnError)
		raw   = flags.Bool("raw", false, "read the binary encoding instead of its hex rendering")
		help  = `Decode reads an encoded expression from the provided file (or, if
"-" is given, the standard input) and prints it. By default, the
input is expected to be hex encoded, as printed by encode.`
	)
	c.Parse(flags, args, help, "decode [-raw] file")
	if flags.NArg() != 1 {
		flags.Usage()
	}
	var (
		b   []byte
		err error
	)
	if arg := flags.Arg(0); arg == "-" {
		b, err = ioutil.ReadAll(c.Stdin)
	} else {
		b, err = ioutil.ReadFile(arg)
	}
	if err != nil {
		c.Fatal(err)
	}
	if !*raw {
		b, err = hex.DecodeString(string(bytes.TrimSpace(b)))
		if err != nil {
			c.Fatalf("decode: %v", err)
		}
	}
	e, err := codec.Decode(b)
	if err != nil {
		c.Fatal(err)
	}
	c.Println(e)
}
